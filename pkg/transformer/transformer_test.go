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

package transformer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	numerrors "github.com/numaproj/numaflow/pkg/errors"
	"github.com/numaproj/numaflow/pkg/isb"
)

func TestTransformBatchNilPassesThrough(t *testing.T) {
	tr := New(nil, 4, nil)
	batch := []isb.Message{{Offset: isb.NewIntOffset(1, 0)}}

	out, err := tr.TransformBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, batch, out)
	assert.False(t, tr.Configured())
}

func TestTransformBatchFanOutInheritsOffset(t *testing.T) {
	applier := ApplierFunc(func(_ context.Context, msg isb.Message) ([]isb.Message, error) {
		return []isb.Message{msg, msg, msg}, nil
	})
	tr := New(applier, 4, nil)
	batch := []isb.Message{
		{Offset: isb.NewIntOffset(1, 0)},
		{Offset: isb.NewIntOffset(2, 0)},
	}

	out, err := tr.TransformBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, out, 6)
	for _, m := range out {
		assert.Contains(t, []string{"1-0", "2-0"}, m.Offset.String())
	}
}

func TestTransformBatchDropEmitsZero(t *testing.T) {
	applier := ApplierFunc(func(_ context.Context, msg isb.Message) ([]isb.Message, error) {
		return nil, nil
	})
	tr := New(applier, 4, nil)
	batch := []isb.Message{{Offset: isb.NewIntOffset(1, 0)}}

	out, err := tr.TransformBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTransformBatchFailurePropagatesWrapped(t *testing.T) {
	boom := errors.New("boom")
	applier := ApplierFunc(func(_ context.Context, _ isb.Message) ([]isb.Message, error) {
		return nil, boom
	})
	tr := New(applier, 4, nil)
	batch := []isb.Message{{Offset: isb.NewIntOffset(1, 0)}}

	_, err := tr.TransformBatch(context.Background(), batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, numerrors.ErrTransformBatch)
}
