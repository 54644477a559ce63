/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package forwarder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/numaproj/numaflow/pkg/isb"
	iswriter "github.com/numaproj/numaflow/pkg/isb/writer"
	"github.com/numaproj/numaflow/pkg/sources/generator"
	"github.com/numaproj/numaflow/pkg/sources/userdefined"
	"github.com/numaproj/numaflow/pkg/transformer"
)

// TestMain asserts that no test in this package leaks a goroutine past
// its own completion, catching cases where a spawned ack or write task
// survives a forwarder that has already returned from Run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedMessages(n int, partitions ...uint16) []isb.Message {
	if len(partitions) == 0 {
		partitions = []uint16{0}
	}
	msgs := make([]isb.Message, n)
	for i := 0; i < n; i++ {
		p := partitions[i%len(partitions)]
		offset := isb.NewIntOffset(int64(i), p)
		msgs[i] = isb.Message{
			Value:     []byte("hello"),
			Offset:    offset,
			EventTime: time.Now().UTC(),
			ID:        isb.MessageID{VertexName: "src", Offset: offset.String()},
		}
	}
	return msgs
}

// TestGeneratorToBlackholeAcrossPartitions covers scenario S1: a
// generator source spread across 5 partitions forwards messages to an
// in-memory writer, and Run returns without error once cancelled.
func TestGeneratorToBlackholeAcrossPartitions(t *testing.T) {
	partitions := []uint16{0, 1, 2, 3, 4}
	src := generator.New("gen", 0, 20, partitions, generator.WithTimeUnit(20*time.Millisecond))
	bh := iswriter.Writer(newFakeWriter(nil))

	f := New("src-vtx", 0, src, bh, 50)

	ctx, cancel := context.WithCancel(context.Background())
	src.Start(ctx)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	cancel()
	src.Stop()

	err := <-done
	assert.NoError(t, err)
}

// TestUserDefinedHundredMessagesReadAhead covers scenario S2: 100 "hello"
// messages delivered through a user-defined-style adapter, batch size 5,
// read-ahead enabled, every message acked exactly once.
func TestUserDefinedHundredMessagesReadAhead(t *testing.T) {
	msgs := seedMessages(100)
	src := userdefined.New(msgs, []uint16{0})
	bh := newFakeWriter(nil)

	f := New("src-vtx", 0, src, bh, 5, WithReadAhead(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bh.Count() == 100
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		p, _ := src.Pending(ctx)
		return p != nil && *p == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-runDone
}

// TestTransformerDropsAllMessages covers scenario S3: every message is
// tagged DROP by the transformer, so nothing reaches the writer but every
// offset still resolves (Ack) back to the source.
func TestTransformerDropsAllMessages(t *testing.T) {
	msgs := seedMessages(20)
	src := userdefined.New(msgs, []uint16{0})
	bh := newFakeWriter(nil)

	dropAll := transformer.ApplierFunc(func(_ context.Context, msg isb.Message) ([]isb.Message, error) {
		msg.Tags = append(msg.Tags, isb.DropTag)
		return []isb.Message{msg}, nil
	})
	tf := transformer.New(dropAll, 4, nil)

	f := New("src-vtx", 0, src, bh, 20, WithTransformer(tf))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		p, _ := src.Pending(ctx)
		return p != nil && *p == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, bh.Count())

	cancel()
	<-runDone
}

// TestWriterPermanentNaksEveryThird covers scenario S4: the writer
// permanently Naks every third message; those offsets are never included
// in an ack call while the rest are.
func TestWriterPermanentNaksEveryThird(t *testing.T) {
	msgs := seedMessages(9)
	src := userdefined.New(msgs, []uint16{0})

	count := 0
	bh := newFakeWriter(func(isb.Message) bool {
		count++
		return count%3 == 0
	})

	f := New("src-vtx", 0, src, bh, 9)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bh.Attempts() == 9
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(src.AckedOffsets()) == 6
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 6, bh.Count())

	cancel()
	<-runDone
}

// TestCancellationMidBatchForcesNak covers scenario S5: the context is
// cancelled before a slow writer resolves, so the in-flight entries are
// forced to Nak during shutdown drain instead of hanging forever.
func TestCancellationMidBatchForcesNak(t *testing.T) {
	msgs := seedMessages(4)
	src := userdefined.New(msgs, []uint16{0})

	block := make(chan struct{})
	bh := newBlockingWriter(block)

	f := New("src-vtx", 0, src, bh, 4)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bh.attempts() == 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	close(block)

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not shut down after cancellation")
	}
}

// TestFanOutTransformerInheritsOffsetTracking covers scenario S6: a 1->3
// fan-out transformer over a batch of 4 still resolves every original
// offset only once all three fan-out children are written.
func TestFanOutTransformerInheritsOffsetTracking(t *testing.T) {
	msgs := seedMessages(4)
	src := userdefined.New(msgs, []uint16{0})
	bh := newFakeWriter(nil)

	fanOut := transformer.ApplierFunc(func(_ context.Context, msg isb.Message) ([]isb.Message, error) {
		out := make([]isb.Message, 3)
		for i := range out {
			out[i] = msg
			out[i].Value = []byte(fmt.Sprintf("%s-%d", string(msg.Value), i))
		}
		return out, nil
	})
	tf := transformer.New(fanOut, 4, nil)

	f := New("src-vtx", 0, src, bh, 4, WithTransformer(tf))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		return bh.Count() == 12
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(src.AckedOffsets()) == 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-runDone
}
