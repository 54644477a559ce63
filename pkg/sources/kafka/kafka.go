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

// Package kafka backs a vertex's source with a Kafka topic using
// github.com/IBM/sarama's consumer-group API. Offsets are only committed
// back to the broker when ack() is called, so an un-acked message is
// redelivered to the group on restart rather than silently lost.
package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// Source reads from a Kafka topic through a sarama.ConsumerGroup. A single
// Source instance represents one group member; the partitions it "owns"
// at any moment are whatever the group balancer assigned it, which can
// change across rebalances.
type Source struct {
	vertexName string
	group      sarama.ConsumerGroup
	topics     []string

	handler *groupHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *zap.SugaredLogger
}

// pendingOffset identifies a message pending ack within its claim.
type pendingOffset struct {
	session   sarama.ConsumerGroupSession
	topic     string
	partition int32
	offset    int64
}

// groupHandler implements sarama.ConsumerGroupHandler, fanning every
// claim's messages into a single channel the Source.Read drains from.
type groupHandler struct {
	mu         sync.Mutex
	partitions map[int32]struct{}

	msgCh chan *sarama.ConsumerMessage

	pendingMu sync.Mutex
	pending   map[string]pendingOffset // keyed by "<offset>-<partition>"
	sessions  map[int32]sarama.ConsumerGroupSession
}

func newGroupHandler() *groupHandler {
	return &groupHandler{
		partitions: make(map[int32]struct{}),
		msgCh:      make(chan *sarama.ConsumerMessage, 256),
		pending:    make(map[string]pendingOffset),
		sessions:   make(map[int32]sarama.ConsumerGroupSession),
	}
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitions = make(map[int32]struct{})
	for _, claim := range session.Claims() {
		for _, p := range claim {
			h.partitions[p] = struct{}{}
		}
	}
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.pendingMu.Lock()
	h.sessions[claim.Partition()] = session
	h.pendingMu.Unlock()

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.msgCh <- msg
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) ownedPartitions() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint16, 0, len(h.partitions))
	for p := range h.partitions {
		out = append(out, uint16(p))
	}
	return out
}

// New creates a Kafka Source reading topics as a member of the given
// consumer group.
func New(vertexName string, brokers []string, topics []string, groupID string, log *zap.SugaredLogger) (*Source, error) {
	if log == nil {
		log = logging.NewLogger()
	}
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	return &Source{
		vertexName: vertexName,
		group:      group,
		topics:     topics,
		handler:    newGroupHandler(),
		log:        log,
	}, nil
}

func (s *Source) Name() string { return "kafka" }

// Start begins the consumer-group session loop in the background. Sarama
// re-enters Consume on every rebalance, so the loop simply calls it in a
// tight retry until ctx is cancelled.
func (s *Source) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if cctx.Err() != nil {
				return
			}
			if err := s.group.Consume(cctx, s.topics, s.handler); err != nil {
				s.log.Errorw("kafka consumer group session ended with error", "error", err)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case err, ok := <-s.group.Errors():
				if !ok {
					return
				}
				s.log.Errorw("kafka consumer group error", "error", err)
			case <-cctx.Done():
				return
			}
		}
	}()
}

func (s *Source) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	msgs := make([]isb.Message, 0, count)
	for int64(len(msgs)) < count {
		select {
		case raw := <-s.handler.msgCh:
			msgs = append(msgs, s.toMessage(raw))
		case <-ctx.Done():
			return msgs, nil
		default:
			if len(msgs) > 0 {
				return msgs, nil
			}
			select {
			case raw := <-s.handler.msgCh:
				msgs = append(msgs, s.toMessage(raw))
			case <-ctx.Done():
				return msgs, nil
			case <-time.After(time.Millisecond):
				return msgs, nil
			}
		}
	}
	return msgs, nil
}

func (s *Source) toMessage(raw *sarama.ConsumerMessage) isb.Message {
	partition := uint16(raw.Partition)
	offset := isb.NewIntOffset(raw.Offset, partition)

	s.handler.pendingMu.Lock()
	s.handler.pending[offset.String()] = pendingOffset{
		session:   s.handler.sessions[raw.Partition],
		topic:     raw.Topic,
		partition: raw.Partition,
		offset:    raw.Offset,
	}
	s.handler.pendingMu.Unlock()

	keys := make([]string, 0, 1)
	if len(raw.Key) > 0 {
		keys = append(keys, string(raw.Key))
	}

	return isb.Message{
		Kind:      isb.MessageKindData,
		Keys:      keys,
		Value:     raw.Value,
		Offset:    offset,
		EventTime: raw.Timestamp,
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
	}
}

// Ack commits each offset's partition via the session that produced it,
// marking the message as processed so the group's committed offset
// advances past it.
func (s *Source) Ack(_ context.Context, offsets []isb.Offset) error {
	for _, o := range offsets {
		key := o.String()
		s.handler.pendingMu.Lock()
		p, ok := s.handler.pending[key]
		if ok {
			delete(s.handler.pending, key)
		}
		s.handler.pendingMu.Unlock()
		if ok && p.session != nil {
			p.session.MarkOffset(p.topic, p.partition, p.offset+1, "")
		}
	}
	return nil
}

// Pending reports the count of consumed-but-not-yet-committed messages
// tracked by this Source instance; it is a local view, not the broker's
// consumer-group lag.
func (s *Source) Pending(_ context.Context) (*int64, error) {
	s.handler.pendingMu.Lock()
	defer s.handler.pendingMu.Unlock()
	n := int64(len(s.handler.pending))
	return &n, nil
}

func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	return s.handler.ownedPartitions(), nil
}

func (s *Source) Ready(_ context.Context) bool { return true }

// Stop cancels the consumer-group session loop and closes the underlying
// group connection.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.group.Close(); err != nil {
		s.log.Errorw("error closing kafka consumer group", "error", err)
	}
}
