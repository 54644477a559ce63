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

// Package source computes and publishes the source-side watermark: a
// per-partition lower bound on future event-time, lagged by a configured
// delay, advanced artificially on idle reads so stalled partitions don't
// block downstream windowed operators.
package source

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
	"github.com/numaproj/numaflow/pkg/watermark/store"
	"github.com/numaproj/numaflow/pkg/watermark/wmb"
)

// Handle computes and publishes the watermark for the set of partitions a
// source replica currently owns.
type Handle struct {
	vertexName string
	store      store.WatermarkStore
	delay      time.Duration
	idleStep   time.Duration
	log        *zap.SugaredLogger

	mu sync.Mutex
	// partitionMin holds, per partition, the minimum event-time of the
	// latest batch that carried messages for it; event-times of earlier
	// batches are not considered, whether or not they are acknowledged.
	partitionMin map[uint16]time.Time
	// lastPublished holds, per owned partition, the last watermark value
	// this handle published — used to enforce the non-decreasing
	// invariant and as the idle-advance baseline.
	lastPublished map[uint16]time.Time
}

// NewHandle creates a watermark Handle for vertexName, publishing into
// store. delay lags the computed watermark behind the true minimum
// event-time to absorb out-of-order arrival; idleStep is how far an idle
// partition's watermark advances per empty batch.
func NewHandle(vertexName string, wmStore store.WatermarkStore, delay, idleStep time.Duration, log *zap.SugaredLogger) *Handle {
	if log == nil {
		log = logging.NewLogger()
	}
	return &Handle{
		vertexName:    vertexName,
		store:         wmStore,
		delay:         delay,
		idleStep:      idleStep,
		log:           log,
		partitionMin:  make(map[uint16]time.Time),
		lastPublished: make(map[uint16]time.Time),
	}
}

// GenerateAndPublishSourceWatermark recomputes, for each partition present
// in batch, the minimum event-time of that batch and publishes the lagged
// result to the store. Called after every non-empty read.
func (h *Handle) GenerateAndPublishSourceWatermark(ctx context.Context, batch []isb.Message) error {
	if len(batch) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	batchMin := make(map[uint16]time.Time)
	for _, msg := range batch {
		p := msg.Offset.PartitionIdx()
		cur, ok := batchMin[p]
		if !ok || msg.EventTime.Before(cur) {
			batchMin[p] = msg.EventTime
		}
	}

	for p, minTime := range batchMin {
		h.partitionMin[p] = minTime
		wm := minTime.Add(-h.delay)
		if err := h.publishLocked(ctx, p, wm, false); err != nil {
			return err
		}
	}
	return nil
}

// PublishSourceIdleWatermark advances every partition in partitions by
// idleStep from its last published value, and publishes the advance
// tagged Idle. Called after every empty read (timeout with no messages)
// so that partitions without traffic don't permanently stall downstream
// windowed reducers.
func (h *Handle) PublishSourceIdleWatermark(ctx context.Context, partitions []uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range partitions {
		base, ok := h.lastPublished[p]
		if !ok {
			base = time.Unix(0, 0).UTC()
		}
		next := base.Add(h.idleStep)
		if err := h.publishLocked(ctx, p, next, true); err != nil {
			return err
		}
	}
	return nil
}

// publishLocked enforces the non-decreasing invariant before writing to
// the store; callers must hold h.mu.
func (h *Handle) publishLocked(ctx context.Context, partition uint16, wmTime time.Time, idle bool) error {
	if prev, ok := h.lastPublished[partition]; ok && wmTime.Before(prev) {
		wmTime = prev
	}
	h.lastPublished[partition] = wmTime

	value := wmb.WMB{
		Watermark: wmTime.UnixMilli(),
		Idle:      idle,
	}
	key := store.Key{Vertex: h.vertexName, Partition: partition}
	if err := h.store.Put(ctx, key, value); err != nil {
		return err
	}
	h.log.Debugw("published source watermark", "partition", partition, "watermark", wmTime, "idle", idle)
	return nil
}

// FetchSourceWatermark returns the current source watermark: the minimum
// of the last-published value across every partition this handle has
// published for. Cross-partition ordering is not guaranteed; only the
// minimum (the conservative bound) is returned.
func (h *Handle) FetchSourceWatermark() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	var min time.Time
	first := true
	for _, wmTime := range h.lastPublished {
		if first || wmTime.Before(min) {
			min = wmTime
			first = false
		}
	}
	if first {
		return time.Unix(0, 0).UTC()
	}
	return min
}
