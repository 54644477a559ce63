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

// Package generator is an in-memory source adapter that fires a ticker
// once per time unit and emits rpu records per key in total, the same
// load-testing source numaflow ships as "tickgen". Unlike the original
// single-partition tickgen, this version round-robins its generated
// records across a configurable set of partitions so it can exercise the
// forwarder's multi-partition watermark and backpressure paths on its
// own, without a real multi-replica deployment.
package generator

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

type record struct {
	value     []byte
	key       string
	partition uint16
}

// Source is an in-memory, ticker-driven generator source.
type Source struct {
	vertexName string
	replica    int
	rpu        int
	keyCount   int32
	msgSize    int32
	timeunit   time.Duration

	partitions []uint16
	nextPart   atomic.Uint32

	srcChan chan record
	pending atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *zap.SugaredLogger
}

// Option configures a Source.
type Option func(*Source)

func WithKeyCount(n int32) Option      { return func(s *Source) { s.keyCount = n } }
func WithMsgSize(n int32) Option       { return func(s *Source) { s.msgSize = n } }
func WithTimeUnit(d time.Duration) Option { return func(s *Source) { s.timeunit = d } }
func WithLogger(log *zap.SugaredLogger) Option { return func(s *Source) { s.log = log } }

// New creates a generator Source that produces rpu records per timeunit
// tick, round-robined across partitions.
func New(vertexName string, replica int, rpu int, partitions []uint16, opts ...Option) *Source {
	if len(partitions) == 0 {
		partitions = []uint16{0}
	}
	s := &Source{
		vertexName: vertexName,
		replica:    replica,
		rpu:        rpu,
		keyCount:   1,
		msgSize:    8,
		timeunit:   time.Second,
		partitions: partitions,
		srcChan:    make(chan record, rpu*8),
		log:        logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return "generator" }

// Start begins generating records in the background; it must be called
// before the first Read. Generation stops when ctx is cancelled.
func (s *Source) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(s.timeunit)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		defer close(s.srcChan)
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				s.emit(cctx)
			}
		}
	}()
}

// emit produces one tick's worth of records (rpu * keyCount), with rpu
// capped at 10000 the same way tickgen caps its rate.
func (s *Source) emit(ctx context.Context) {
	rate := s.rpu
	if rate > 10000 {
		s.log.Infow("capping generator rate to 10000/tick", "requested", s.rpu)
		rate = 10000
	}
	for i := 0; i < rate; i++ {
		for k := int32(0); k < s.keyCount; k++ {
			key := fmt.Sprintf("key-%d-%d", s.replica, k)
			partition := s.partitions[int(s.nextPart.Add(1)-1)%len(s.partitions)]
			rec := record{
				value:     s.payload(),
				key:       key,
				partition: partition,
			}
			select {
			case <-ctx.Done():
				return
			case s.srcChan <- rec:
				s.pending.Add(1)
			}
		}
	}
}

func (s *Source) payload() []byte {
	size := s.msgSize
	if size <= 0 {
		return nil
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		s.log.Warnw("failed to generate random payload bytes", "error", err)
	}
	return b
}

// Read drains up to count pending records. It waits until count records
// have arrived, ctx is done, or generation has stopped; it applies no
// timeout of its own, so it returns a short batch only when ctx carries a
// deadline or is cancelled.
func (s *Source) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	msgs := make([]isb.Message, 0, count)
	for int64(len(msgs)) < count {
		select {
		case rec, ok := <-s.srcChan:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, s.toMessage(rec))
		case <-ctx.Done():
			return msgs, nil
		}
	}
	return msgs, nil
}

func (s *Source) toMessage(rec record) isb.Message {
	now := time.Now().UTC()
	offset := isb.NewIntOffset(now.UnixNano(), rec.partition)
	return isb.Message{
		Kind:      isb.MessageKindData,
		Keys:      []string{rec.key},
		Value:     rec.value,
		Offset:    offset,
		EventTime: now,
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
		Headers: map[string]string{"generator-id": uuid.NewString()},
	}
}

func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	return s.partitions, nil
}

// Ack has nothing to durably persist; it only decrements the pending
// counter so Pending() reflects acknowledged records.
func (s *Source) Ack(_ context.Context, offsets []isb.Offset) error {
	s.pending.Sub(int64(len(offsets)))
	return nil
}

// Pending reports the number of generated-but-not-yet-acked records.
func (s *Source) Pending(_ context.Context) (*int64, error) {
	n := s.pending.Load()
	return &n, nil
}

func (s *Source) Ready(_ context.Context) bool { return true }

// Stop cancels generation and waits for the background goroutine to
// finish closing srcChan.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
