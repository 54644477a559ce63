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

// Package transformer applies an optional, user-defined, per-message
// transformation to a batch read from the source, bounding concurrency
// and honoring cancellation the same way the forwarder's other
// suspension points do.
package transformer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"golang.org/x/sync/errgroup"

	"github.com/numaproj/numaflow/pkg/errors"
	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// Applier transforms a single message, possibly into zero, one, or many
// output messages (flat-map semantics).
type Applier interface {
	Apply(ctx context.Context, msg isb.Message) ([]isb.Message, error)
}

// ApplierFunc adapts a plain function to the Applier interface.
type ApplierFunc func(ctx context.Context, msg isb.Message) ([]isb.Message, error)

func (f ApplierFunc) Apply(ctx context.Context, msg isb.Message) ([]isb.Message, error) {
	return f(ctx, msg)
}

// Identity returns an Applier that passes each message through unchanged.
func Identity() Applier {
	return ApplierFunc(func(_ context.Context, msg isb.Message) ([]isb.Message, error) {
		return []isb.Message{msg}, nil
	})
}

// Transformer invokes an Applier over a batch with bounded concurrency.
// A nil Applier means no transformer is configured, in which case
// TransformBatch returns the input batch unchanged.
type Transformer struct {
	applier     Applier
	concurrency int64
	log         *zap.SugaredLogger
}

// New builds a Transformer. concurrency bounds how many messages in a
// batch are transformed at once; applier == nil means "no transformer
// configured".
func New(applier Applier, concurrency int64, log *zap.SugaredLogger) *Transformer {
	if log == nil {
		log = logging.NewLogger()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Transformer{applier: applier, concurrency: concurrency, log: log}
}

// Configured reports whether an Applier is present (Identity counts as
// configured).
func (t *Transformer) Configured() bool {
	return t != nil && t.applier != nil
}

// TransformBatch applies the configured Applier to every message in
// batch concurrently (bounded by t.concurrency) and returns the
// flattened outputs. Every output message inherits its originating
// input's Offset, so the caller can call tracker.Extend per original
// offset based on how many outputs it produced. Outputs are returned in
// input order, each input's own outputs contiguous.
//
// If ctx is cancelled, or any single message's Apply call returns an
// error, the whole batch fails wrapped in errors.ErrTransformBatch — the
// caller is expected to discard every input offset via tracker.Discard
// and terminate the forwarder.
func (t *Transformer) TransformBatch(ctx context.Context, batch []isb.Message) ([]isb.Message, error) {
	if !t.Configured() || len(batch) == 0 {
		return batch, nil
	}

	results := make([][]isb.Message, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(t.concurrency)

	for i, msg := range batch {
		i, msg := i, msg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("%w: %v", errors.ErrTransformBatch, err)
			}
			defer sem.Release(1)

			out, err := t.applier.Apply(gctx, msg)
			if err != nil {
				return fmt.Errorf("%w: %v", errors.ErrTransformBatch, err)
			}
			for j := range out {
				out[j].Offset = msg.Offset
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.log.Errorw("transform batch failed", "error", err)
		return nil, err
	}

	flat := make([]isb.Message, 0, len(batch))
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}
