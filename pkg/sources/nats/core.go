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

package nats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// CoreSource reads from a plain (non-JetStream) NATS subject. Core NATS
// has no broker-side redelivery, so Ack is a bookkeeping no-op: once a
// message is handed to Read it is considered consumed by the server's
// definition of at-most-once delivery, and the source-side Ack only
// clears this adapter's own in-flight counter.
type CoreSource struct {
	vertexName string
	sub        *nats.Subscription
	partition  uint16

	seq     atomic.Int64
	mu      sync.Mutex
	inFlight map[string]struct{}

	log *zap.SugaredLogger
}

// NewCoreSource creates a CoreSource draining an existing subscription
// (queue or plain), created with nats.ChanSubscribe by the caller so the
// channel buffer size is the caller's call.
func NewCoreSource(vertexName string, sub *nats.Subscription, partition uint16, log *zap.SugaredLogger) *CoreSource {
	if log == nil {
		log = logging.NewLogger()
	}
	return &CoreSource{
		vertexName: vertexName,
		sub:        sub,
		partition:  partition,
		inFlight:   make(map[string]struct{}),
		log:        log,
	}
}

func (s *CoreSource) Name() string { return "nats-core" }

// Read drains up to count messages from the subscription's internal
// channel, blocking only until ctx is done or a short idle timeout
// elapses once at least nothing further is immediately available.
func (s *CoreSource) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	ch := s.sub.Msgs
	msgs := make([]isb.Message, 0, count)
	for int64(len(msgs)) < count {
		select {
		case m, ok := <-ch:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, s.toMessage(m))
		case <-ctx.Done():
			return msgs, nil
		default:
			if len(msgs) > 0 {
				return msgs, nil
			}
			select {
			case m, ok := <-ch:
				if !ok {
					return msgs, nil
				}
				msgs = append(msgs, s.toMessage(m))
			case <-ctx.Done():
				return msgs, nil
			case <-time.After(time.Millisecond):
				return msgs, nil
			}
		}
	}
	return msgs, nil
}

func (s *CoreSource) toMessage(m *nats.Msg) isb.Message {
	n := s.seq.Add(1)
	offset := isb.NewIntOffset(n, s.partition)

	s.mu.Lock()
	s.inFlight[offset.String()] = struct{}{}
	s.mu.Unlock()

	return isb.Message{
		Kind:      isb.MessageKindData,
		Value:     m.Data,
		Offset:    offset,
		EventTime: time.Now().UTC(),
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
	}
}

func (s *CoreSource) Ack(_ context.Context, offsets []isb.Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offsets {
		delete(s.inFlight, o.String())
	}
	return nil
}

func (s *CoreSource) Pending(_ context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.inFlight))
	return &n, nil
}

func (s *CoreSource) Partitions(_ context.Context) ([]uint16, error) {
	return []uint16{s.partition}, nil
}

func (s *CoreSource) Ready(_ context.Context) bool {
	return s.sub.IsValid()
}
