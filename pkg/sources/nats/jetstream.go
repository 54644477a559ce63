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

// Package nats backs a vertex's source with NATS, in both its plain
// core-NATS (fire-and-forget, at-most-once) and JetStream (durable,
// pull-consumer, at-least-once) forms, using github.com/nats-io/nats.go.
package nats

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

const defaultFetchWait = 500 * time.Millisecond

// JetStreamSource reads from a JetStream stream through a durable pull
// consumer. Every delivered message is held in an in-flight map keyed by
// its own (vertex-local) offset string until Ack is called, at which
// point the underlying nats.Msg is Ack'd back to the server; a message
// never Ack'd is redelivered after the consumer's AckWait elapses.
type JetStreamSource struct {
	vertexName string
	sub        *nats.Subscription
	partition  uint16
	fetchWait  time.Duration

	mu      sync.Mutex
	pending map[string]*nats.Msg

	log *zap.SugaredLogger
}

// NewJetStreamSource creates a JetStreamSource bound to an existing pull
// subscription (created by the caller via js.PullSubscribe so connection
// and stream/consumer provisioning stay outside this adapter's concern).
func NewJetStreamSource(vertexName string, sub *nats.Subscription, partition uint16, log *zap.SugaredLogger) *JetStreamSource {
	if log == nil {
		log = logging.NewLogger()
	}
	return &JetStreamSource{
		vertexName: vertexName,
		sub:        sub,
		partition:  partition,
		fetchWait:  defaultFetchWait,
		pending:    make(map[string]*nats.Msg),
		log:        log,
	}
}

func (s *JetStreamSource) Name() string { return "nats-jetstream" }

// Read pulls up to count messages, waiting at most fetchWait for the
// first batch to arrive before returning whatever it has (possibly
// zero), the same bounded-Fetch idiom a JetStream pull consumer uses to
// avoid blocking a read cycle indefinitely.
func (s *JetStreamSource) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	msgs, err := s.sub.Fetch(int(count), nats.Context(ctx), nats.MaxWait(s.fetchWait))
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}

	out := make([]isb.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.toMessage(m))
	}
	return out, nil
}

func (s *JetStreamSource) toMessage(m *nats.Msg) isb.Message {
	meta, _ := m.Metadata()
	var seq uint64
	var ts time.Time
	if meta != nil {
		seq = meta.Sequence.Stream
		ts = meta.Timestamp
	} else {
		ts = time.Now().UTC()
	}

	offset := isb.NewIntOffset(int64(seq), s.partition)

	s.mu.Lock()
	s.pending[offset.String()] = m
	s.mu.Unlock()

	return isb.Message{
		Kind:      isb.MessageKindData,
		Value:     m.Data,
		Offset:    offset,
		EventTime: ts,
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
	}
}

func (s *JetStreamSource) Ack(_ context.Context, offsets []isb.Offset) error {
	for _, o := range offsets {
		key := o.String()
		s.mu.Lock()
		m, ok := s.pending[key]
		if ok {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if ok {
			if err := m.Ack(); err != nil {
				s.log.Errorw("failed to ack jetstream message", "error", err, "offset", key)
			}
		}
	}
	return nil
}

func (s *JetStreamSource) Pending(_ context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.pending))
	return &n, nil
}

func (s *JetStreamSource) Partitions(_ context.Context) ([]uint16, error) {
	return []uint16{s.partition}, nil
}

func (s *JetStreamSource) Ready(_ context.Context) bool {
	return s.sub.IsValid()
}
