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

package isb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffsetDisplay(t *testing.T) {
	intOffset := NewIntOffset(42, 1)
	assert.Equal(t, "42-1", intOffset.String())

	strOffset := NewStringOffset("abc", 2)
	assert.Equal(t, "abc-2", strOffset.String())
}

func TestOffsetCompare(t *testing.T) {
	a := NewIntOffset(1, 0)
	b := NewIntOffset(2, 0)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))

	// different partitions are not ordered against each other.
	c := NewIntOffset(1, 1)
	assert.Equal(t, 0, a.Compare(c))
	assert.False(t, a.Equal(c))
}

func TestOffsetEqualAcrossTypes(t *testing.T) {
	i := NewIntOffset(1, 0)
	s := NewStringOffset("1", 0)
	assert.False(t, i.Equal(s))
}

func TestMessageIDDisplay(t *testing.T) {
	id := MessageID{VertexName: "vertex", Offset: "123", Index: 0}
	assert.Equal(t, "vertex-123-0", id.String())
}
