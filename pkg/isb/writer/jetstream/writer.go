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

// Package jetstream implements the ISB writer contract on top of a NATS
// JetStream stream, the same durable transport numaflow's own
// isb/stores/jetstream package uses for inter-step buffers.
package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/isb/writer"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

const defaultRetryInterval = 100 * time.Millisecond

// Writer publishes messages onto a JetStream subject using async publish
// with per-message ack futures. The message ID is carried as the NATS
// Nats-Msg-Id header so JetStream's own duplicate window can deduplicate
// redelivered offsets, matching the ID-based dedup spec.md assigns to the
// ISB layer.
type Writer struct {
	js            nats.JetStreamContext
	subject       string
	strategy      writer.BufferFullStrategy
	retryInterval time.Duration
	log           *zap.SugaredLogger
}

// Option configures a Writer.
type Option func(*Writer)

// WithBufferFullStrategy sets the backpressure behavior when JetStream
// reports the stream is full (ErrMaxBytesExceeded/ErrNoResponders-style
// transient conditions surface as a PublishAsync error).
func WithBufferFullStrategy(s writer.BufferFullStrategy) Option {
	return func(w *Writer) { w.strategy = s }
}

// WithRetryInterval overrides the fixed interval between retries when
// strategy is RetryUntilSuccess.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Writer) { w.retryInterval = d }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(w *Writer) { w.log = log }
}

// New creates a JetStream-backed Writer publishing to subject.
func New(js nats.JetStreamContext, subject string, opts ...Option) *Writer {
	w := &Writer{
		js:            js,
		subject:       subject,
		strategy:      writer.RetryUntilSuccess,
		retryInterval: defaultRetryInterval,
		log:           logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write publishes msg and returns a channel resolving to the persistence
// outcome. Transient publish errors are retried internally according to
// the configured BufferFullStrategy; permanent failures (or a cancelled
// context under RetryUntilSuccess) resolve Nak.
func (w *Writer) Write(ctx context.Context, msg isb.Message) <-chan isb.ReadAck {
	ch := make(chan isb.ReadAck, 1)
	go w.writeWithRetry(ctx, msg, ch)
	return ch
}

func (w *Writer) writeWithRetry(ctx context.Context, msg isb.Message, ch chan<- isb.ReadAck) {
	defer close(ch)

	for {
		future, err := w.js.PublishAsync(w.subject, msg.Value, nats.MsgId(msg.ID.String()))
		if err != nil {
			if !w.retryOrNak(ctx, ch, fmt.Errorf("publish async: %w", err)) {
				return
			}
			continue
		}

		select {
		case <-future.Ok():
			ch <- isb.Ack
			return
		case pubErr := <-future.Err():
			if !w.retryOrNak(ctx, ch, pubErr) {
				return
			}
		case <-ctx.Done():
			ch <- isb.Nak
			return
		}
	}
}

// retryOrNak applies the configured BufferFullStrategy to a publish
// error. It returns true if the caller should retry the publish.
func (w *Writer) retryOrNak(ctx context.Context, ch chan<- isb.ReadAck, err error) bool {
	w.log.Errorw("jetstream write failed", "error", err, "strategy", w.strategy)

	if w.strategy == writer.DiscardLatest {
		ch <- isb.Nak
		return false
	}

	select {
	case <-ctx.Done():
		ch <- isb.Nak
		return false
	case <-time.After(w.retryInterval):
		return true
	}
}

// Close is a no-op: the Writer does not own the JetStream connection, the
// caller that constructed the JetStreamContext is responsible for it.
func (w *Writer) Close() error {
	return nil
}
