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

// Package forwarder runs the source vertex's read -> transform -> publish
// watermark -> write -> ack loop: it calls a concrete sources.Source
// directly (Read and Partitions from the loop goroutine, Ack from one
// goroutine per batch, so adapter calls are not serialized through a
// single owner), tracks every read message through to its downstream
// write outcome via the tracker, and acknowledges resolved offsets back
// to the source with infinite retry.
package forwarder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/numaproj/numaflow/pkg/errors"
	"github.com/numaproj/numaflow/pkg/isb"
	iswriter "github.com/numaproj/numaflow/pkg/isb/writer"
	"github.com/numaproj/numaflow/pkg/metrics"
	"github.com/numaproj/numaflow/pkg/shared/logging"
	"github.com/numaproj/numaflow/pkg/sources"
	"github.com/numaproj/numaflow/pkg/tracker"
	"github.com/numaproj/numaflow/pkg/transformer"
	watermarksrc "github.com/numaproj/numaflow/pkg/watermark/source"
)

// ackRetryInterval is the fixed delay between ack retry attempts; the
// retry loop is infinite (bounded only by cancellation), matching the
// at-least-once guarantee the source contract requires.
const ackRetryInterval = 100 * time.Millisecond

// maxAckPending bounds how many messages may be in flight (read but not
// yet acked) at once when read-ahead is enabled, expressed as a multiple
// of batch size via Forwarder.maxAckTasks.
const maxAckPending = 20000

// Forwarder owns one source replica's full read/transform/write/ack loop.
type Forwarder struct {
	vertexName string
	pipeline   string
	replica    int

	source      sources.Source
	transformer *transformer.Transformer
	writer      iswriter.Writer
	watermark   *watermarksrc.Handle
	trk         *tracker.Tracker

	batchSize int64
	readAhead bool

	log *zap.SugaredLogger

	processedSinceLog int
	lastLoggedAt      time.Time
}

// Option configures a Forwarder.
type Option func(*Forwarder)

func WithPipelineName(name string) Option { return func(f *Forwarder) { f.pipeline = name } }
func WithReadAhead(b bool) Option          { return func(f *Forwarder) { f.readAhead = b } }
func WithLogger(log *zap.SugaredLogger) Option {
	return func(f *Forwarder) { f.log = log }
}

// WithWatermark attaches a source watermark handle; a Forwarder without
// one skips watermark generation and is_late stamping entirely.
func WithWatermark(h *watermarksrc.Handle) Option {
	return func(f *Forwarder) { f.watermark = h }
}

// WithTransformer attaches a batch transformer; nil means messages pass
// through unchanged.
func WithTransformer(t *transformer.Transformer) Option {
	return func(f *Forwarder) { f.transformer = t }
}

// New builds a Forwarder reading from src, writing to w, batching reads
// at batchSize.
func New(vertexName string, replica int, src sources.Source, w iswriter.Writer, batchSize int64, opts ...Option) *Forwarder {
	f := &Forwarder{
		vertexName: vertexName,
		replica:    replica,
		source:     src,
		writer:     w,
		batchSize:  batchSize,
		trk:        tracker.New(logging.NewLogger()),
		log:        logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// maxAckTasks computes the number of concurrent ack tasks permitted: when
// read-ahead is disabled, only one batch may be in flight at a time, so
// the forwarder never reads the next batch until the previous one's acks
// are all dispatched; when enabled, up to maxAckPending/batchSize batches
// may overlap.
func (f *Forwarder) maxAckTasks() int64 {
	if !f.readAhead {
		return 1
	}
	n := maxAckPending / f.batchSize
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes the read/transform/write/ack loop until ctx is cancelled.
// On return, every in-flight ack task has been given a chance to
// complete (forced to Nak if cancellation cut drain short); it never
// returns a non-nil error for cancellation itself, only for reader-fatal
// or transform-batch failures that aborted the loop early.
func (f *Forwarder) Run(ctx context.Context) error {
	ctx = logging.WithLogger(ctx, f.log)
	labels := metrics.Labels(f.pipeline, f.vertexName, f.replica)

	maxTasks := f.maxAckTasks()
	sem := semaphore.NewWeighted(maxTasks)
	f.lastLoggedAt = time.Now()

	var loopErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// context was cancelled while waiting for an ack slot.
			break loop
		}

		readStart := time.Now()
		batch, err := f.source.Read(ctx, f.batchSize)
		if err != nil {
			sem.Release(1)
			loopErr = fmt.Errorf("%w: %v", errors.ErrReaderFatal, err)
			f.log.Errorw("source read failed, stopping forwarder", "error", err)
			break loop
		}
		f.recordReadMetrics(labels, readStart, batch)

		if len(batch) == 0 {
			if f.watermark != nil {
				partitions, _ := f.source.Partitions(ctx)
				if err := f.watermark.PublishSourceIdleWatermark(ctx, partitions); err != nil {
					f.log.Errorw("failed to publish idle watermark", "error", err)
				}
			}
			sem.Release(1)
			continue
		}

		offsets := make([]isb.Offset, len(batch))
		ackChans := make([]chan isb.ReadAck, len(batch))
		for i, msg := range batch {
			ch := make(chan isb.ReadAck, 1)
			if err := f.trk.Insert(msg, ch); err != nil {
				f.log.Errorw("tracker insert failed", "error", err)
			}
			offsets[i] = msg.Offset
			ackChans[i] = ch
		}

		go f.invokeAck(ctx, readStart, offsets, ackChans, sem, labels)

		processStart := time.Now()
		transformed, err := f.transformBatch(ctx, batch, offsets)
		if err != nil {
			loopErr = err
			break loop
		}

		if f.watermark != nil {
			if err := f.watermark.GenerateAndPublishSourceWatermark(ctx, transformed); err != nil {
				f.log.Errorw("failed to publish source watermark", "error", err)
			}
			wm := f.watermark.FetchSourceWatermark()
			for i := range transformed {
				transformed[i].IsLate = transformed[i].EventTime.Before(wm)
			}
		}

		f.writeBatch(ctx, transformed)
		metrics.ReadProcessingTime.With(labels).Observe(time.Since(processStart).Seconds())
		f.logThroughput(len(transformed))
	}

	f.log.Infow("forwarder loop stopped, draining in-flight acks", "error", loopErr)
	f.trk.Shutdown(ctx)

	// Wait for every outstanding ack task to release its permit, proving
	// the drain above actually completed rather than raced the loop exit.
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sem.Acquire(drainCtx, maxTasks); err != nil {
		f.log.Errorw("timed out waiting for in-flight ack tasks to settle", "error", err)
	}
	f.log.Infow("forwarder stopped")

	return loopErr
}

// transformBatch runs the configured transformer (if any) and, on
// failure, discards every input offset via the tracker so their sources
// are Nak'd, matching the transform-batch-failure error taxonomy entry.
func (f *Forwarder) transformBatch(ctx context.Context, batch []isb.Message, inputOffsets []isb.Offset) ([]isb.Message, error) {
	if f.transformer == nil || !f.transformer.Configured() {
		return batch, nil
	}

	out, err := f.transformer.TransformBatch(ctx, batch)
	if err != nil {
		for _, offset := range inputOffsets {
			if discardErr := f.trk.Discard(offset); discardErr != nil {
				f.log.Errorw("tracker discard failed during transform-batch failure", "error", discardErr)
			}
		}
		return nil, err
	}

	// Reconcile expected signal counts: every input offset started with
	// expected=1 (set by Insert); adjust by (produced - 1) so Extend never
	// goes negative. A produced count of 0 (pure drop) leaves expected=1
	// and is resolved immediately below since nothing will ever Signal it
	// otherwise.
	produced := make(map[string]int, len(batch))
	for _, msg := range out {
		produced[msg.Offset.String()]++
	}
	for _, inputOffset := range inputOffsets {
		key := inputOffset.String()
		switch n := produced[key]; {
		case n > 1:
			if err := f.trk.Extend(inputOffset, uint32(n-1)); err != nil {
				f.log.Errorw("tracker extend failed", "error", err)
			}
		case n == 0:
			if err := f.trk.Signal(inputOffset, isb.Ack); err != nil {
				f.log.Errorw("tracker signal failed for dropped message", "error", err)
			}
		}
	}

	// Messages explicitly tagged DROP after transformation are resolved
	// the same way: Ack immediately, never written downstream.
	kept := out[:0]
	for _, msg := range out {
		if msg.Dropped() {
			if err := f.trk.Signal(msg.Offset, isb.Ack); err != nil {
				f.log.Errorw("tracker signal failed for drop-tagged message", "error", err)
			}
			continue
		}
		kept = append(kept, msg)
	}
	return kept, nil
}

// writeBatch hands every transformed message to the writer and wires its
// resolution back into the tracker under its own offset.
func (f *Forwarder) writeBatch(ctx context.Context, batch []isb.Message) {
	var wg sync.WaitGroup
	for _, msg := range batch {
		msg := msg
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := <-f.writer.Write(ctx, msg)
			if err := f.trk.Signal(msg.Offset, outcome); err != nil {
				f.log.Errorw("tracker signal failed after write", "error", err, "offset", msg.Offset.String())
			}
		}()
	}
	wg.Wait()
}

// invokeAck waits for every ack channel in the batch to resolve, then
// acks the subset that resolved Ack back to the source with infinite
// retry. It releases the semaphore permit it was handed once the ack
// attempt (successful or abandoned by cancellation) completes, which is
// what throttles the next Read when read-ahead is disabled.
func (f *Forwarder) invokeAck(ctx context.Context, batchStart time.Time, offsets []isb.Offset, ackChans []chan isb.ReadAck, sem *semaphore.Weighted, labels map[string]string) {
	defer sem.Release(1)

	toAck := make([]isb.Offset, 0, len(offsets))
	for i, ch := range ackChans {
		select {
		case outcome, ok := <-ch:
			if ok && outcome == isb.Ack {
				toAck = append(toAck, offsets[i])
			}
		case <-ctx.Done():
			// Leave unresolved offsets un-acked; the source will
			// redeliver them, which is the at-least-once contract.
		}
	}

	if len(toAck) == 0 {
		return
	}

	ackStart := time.Now()
	f.ackWithRetry(ctx, toAck)
	metrics.AckTotal.With(labels).Add(float64(len(toAck)))
	metrics.AckTime.With(labels).Observe(time.Since(ackStart).Seconds())
	metrics.AckProcessingTime.With(labels).Observe(time.Since(batchStart).Seconds())
	metrics.E2ETime.With(labels).Observe(time.Since(batchStart).Seconds())
}

// ackWithRetry calls the source's Ack with a fixed retry interval until
// it succeeds or ctx is cancelled. Errors from this path never propagate
// to the caller: the ack taxonomy treats source-ack failure as purely
// transient and retry-forever, by design of the at-least-once contract.
func (f *Forwarder) ackWithRetry(ctx context.Context, offsets []isb.Offset) {
	for {
		err := f.source.Ack(ctx, offsets)
		if err == nil {
			return
		}
		f.log.Errorw("failed to ack offsets to source, retrying", "error", err, "count", len(offsets))

		select {
		case <-ctx.Done():
			f.log.Errorw("cancellation received, abandoning ack retry", "count", len(offsets))
			return
		case <-time.After(ackRetryInterval):
		}
	}
}

func (f *Forwarder) recordReadMetrics(labels map[string]string, start time.Time, batch []isb.Message) {
	metrics.ReadTotal.With(labels).Inc()
	metrics.ReadTime.With(labels).Observe(time.Since(start).Seconds())
	metrics.ReadBatchSize.With(labels).Observe(float64(len(batch)))
	metrics.DataReadTotal.With(labels).Add(float64(len(batch)))

	var bytes int
	for _, msg := range batch {
		bytes += len(msg.Value)
	}
	metrics.ReadBytesTotal.With(labels).Add(float64(bytes))
}

func (f *Forwarder) logThroughput(n int) {
	f.processedSinceLog += n
	if time.Since(f.lastLoggedAt) >= time.Second {
		f.log.Infow("processed messages", "count", f.processedSinceLog, "at", time.Now())
		f.processedSinceLog = 0
		f.lastLoggedAt = time.Now()
	}
}

// Ready reports the source's own readiness. The transformer and the
// forwarder's own progress are not part of the check.
func (f *Forwarder) Ready(ctx context.Context) bool {
	return f.source.Ready(ctx)
}

// Close releases the writer, used by callers that stop a Forwarder
// without going through Run's own cancellation-triggered shutdown (e.g.
// tests that construct a Forwarder directly around a fake source). It
// does not wait for the tracker to drain.
func (f *Forwarder) Close() error {
	return multierr.Combine(f.writer.Close())
}
