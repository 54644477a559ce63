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

// Package pulsar backs a vertex's source with an Apache Pulsar topic
// using github.com/apache/pulsar-client-go's shared-subscription
// consumer. A message is only acked to the broker once the offset it
// produced resolves downstream, so an un-acked message is redelivered on
// the consumer's configured ack timeout.
package pulsar

import (
	"context"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// Source reads from a Pulsar topic through a shared-subscription
// consumer. Partition assignment is whatever Pulsar's shared
// subscription hands this consumer; Source reports only the partition
// index embedded in each delivered message's MessageID, not a fixed
// ownership set (Pulsar, unlike Kafka, does not expose a rebalance
// callback through this client's Consumer interface).
type Source struct {
	vertexName string
	consumer   pulsar.Consumer

	mu      sync.Mutex
	pending map[string]pulsar.Message
	seen    map[int32]struct{}

	log *zap.SugaredLogger
}

// New creates a Pulsar Source reading topic as subscriptionName in
// Shared mode, so multiple replicas of the same vertex share the
// backlog.
func New(client pulsar.Client, topic, subscriptionName string, log *zap.SugaredLogger) (*Source, error) {
	if log == nil {
		log = logging.NewLogger()
	}
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		SubscriptionName: subscriptionName,
		Type:             pulsar.Shared,
	})
	if err != nil {
		return nil, err
	}
	return &Source{
		consumer: consumer,
		pending:  make(map[string]pulsar.Message),
		seen:     make(map[int32]struct{}),
		log:      log,
	}, nil
}

func (s *Source) Name() string { return "pulsar" }

// Read pulls up to count messages from the consumer's delivery channel,
// returning early (possibly with zero messages) on the first idle gap
// once at least one read attempt has been made.
func (s *Source) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	msgs := make([]isb.Message, 0, count)
	for int64(len(msgs)) < count {
		select {
		case cm, ok := <-s.consumer.Chan():
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, s.toMessage(cm.Message))
		case <-ctx.Done():
			return msgs, nil
		default:
			if len(msgs) > 0 {
				return msgs, nil
			}
			select {
			case cm, ok := <-s.consumer.Chan():
				if !ok {
					return msgs, nil
				}
				msgs = append(msgs, s.toMessage(cm.Message))
			case <-ctx.Done():
				return msgs, nil
			case <-time.After(time.Millisecond):
				return msgs, nil
			}
		}
	}
	return msgs, nil
}

func (s *Source) toMessage(m pulsar.Message) isb.Message {
	partition := uint16(m.ID().PartitionIdx())
	offset := isb.NewStringOffset(m.ID().String(), partition)

	s.mu.Lock()
	s.pending[offset.String()] = m
	s.seen[int32(partition)] = struct{}{}
	s.mu.Unlock()

	var keys []string
	if m.Key() != "" {
		keys = []string{m.Key()}
	}

	return isb.Message{
		Kind:      isb.MessageKindData,
		Keys:      keys,
		Value:     m.Payload(),
		Offset:    offset,
		EventTime: m.EventTime(),
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
		Headers: m.Properties(),
	}
}

// Ack acknowledges each offset's underlying Pulsar message individually;
// the client has no batched ack call.
func (s *Source) Ack(_ context.Context, offsets []isb.Offset) error {
	for _, o := range offsets {
		key := o.String()
		s.mu.Lock()
		m, ok := s.pending[key]
		if ok {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if ok {
			if err := s.consumer.Ack(m); err != nil {
				s.log.Errorw("failed to ack pulsar message", "error", err, "offset", key)
			}
		}
	}
	return nil
}

func (s *Source) Pending(_ context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.pending))
	return &n, nil
}

// Partitions returns the partition indices observed in delivered
// messages so far; Pulsar's shared-subscription consumer does not expose
// a static ownership set up front the way a Kafka consumer group does.
func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, 0, len(s.seen))
	for p := range s.seen {
		out = append(out, uint16(p))
	}
	return out, nil
}

func (s *Source) Ready(_ context.Context) bool { return true }

// Stop closes the underlying consumer.
func (s *Source) Stop() {
	s.consumer.Close()
}
