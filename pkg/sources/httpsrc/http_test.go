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

package httpsrc

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numaproj/numaflow/pkg/isb"
)

func TestPostEnqueuesAndReadDrains(t *testing.T) {
	src := New("my-vtx", ":0")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vertices/my-vtx", bytes.NewBufferString("hello"))
	src.handle(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := src.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", string(msgs[0].Value))

	pending, err := src.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, *pending)

	require.NoError(t, src.Ack(ctx, []isb.Offset{msgs[0].Offset}))

	pending, err = src.Pending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, *pending)
}

func TestRejectsNonPost(t *testing.T) {
	src := New("my-vtx", ":0")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/vertices/my-vtx", nil)
	src.handle(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
