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
	"sync"
	"sync/atomic"

	"github.com/numaproj/numaflow/pkg/isb"
)

// fakeWriter is a minimal in-memory writer.Writer, the forwarder-package
// analogue of isb/writer.Blackhole, kept local so this package's tests
// don't need to import the concrete blackhole type.
type fakeWriter struct {
	mu       sync.Mutex
	written  []isb.Message
	attempts int
	fail     func(isb.Message) bool
}

func newFakeWriter(fail func(isb.Message) bool) *fakeWriter {
	return &fakeWriter{fail: fail}
}

func (w *fakeWriter) Write(_ context.Context, msg isb.Message) <-chan isb.ReadAck {
	ch := make(chan isb.ReadAck, 1)

	// fail is evaluated under the lock: the forwarder writes a batch
	// concurrently, and fail funcs may keep unsynchronized state.
	w.mu.Lock()
	nak := w.fail != nil && w.fail(msg)
	w.attempts++
	if !nak {
		w.written = append(w.written, msg)
	}
	w.mu.Unlock()

	if nak {
		ch <- isb.Nak
	} else {
		ch <- isb.Ack
	}
	close(ch)
	return ch
}

func (w *fakeWriter) Close() error { return nil }

// Count reports how many writes succeeded (were persisted).
func (w *fakeWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

// Attempts reports how many times Write was called, including ones that
// resolved Nak.
func (w *fakeWriter) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

// blockingWriter never resolves Write until release is closed, used to
// exercise cancellation mid-batch.
type blockingWriter struct {
	release      <-chan struct{}
	attemptCount atomic.Int64
}

func newBlockingWriter(release <-chan struct{}) *blockingWriter {
	return &blockingWriter{release: release}
}

func (w *blockingWriter) Write(ctx context.Context, _ isb.Message) <-chan isb.ReadAck {
	w.attemptCount.Add(1)
	ch := make(chan isb.ReadAck, 1)
	go func() {
		defer close(ch)
		select {
		case <-w.release:
			ch <- isb.Nak
		case <-ctx.Done():
			ch <- isb.Nak
		}
	}()
	return ch
}

func (w *blockingWriter) Close() error { return nil }

func (w *blockingWriter) attempts() int64 { return w.attemptCount.Load() }
