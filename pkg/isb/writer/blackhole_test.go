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

package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/numaproj/numaflow/pkg/isb"
)

func TestBlackholePersistsByPartition(t *testing.T) {
	b := NewBlackhole(nil)
	ctx := context.Background()

	msg := isb.Message{Offset: isb.NewIntOffset(1, 2), Value: []byte("hello")}
	ack := <-b.Write(ctx, msg)

	assert.Equal(t, isb.Ack, ack)
	assert.Equal(t, 1, b.Count())
	assert.Equal(t, []uint16{2}, b.Partitions())
	assert.Equal(t, []isb.Message{msg}, b.Persisted(2))
}

func TestBlackholeFailFuncNaksWithoutPersisting(t *testing.T) {
	everyThird := 0
	b := NewBlackhole(func(isb.Message) bool {
		everyThird++
		return everyThird%3 == 0
	})
	ctx := context.Background()

	naks := 0
	for i := 0; i < 9; i++ {
		msg := isb.Message{Offset: isb.NewIntOffset(int64(i), 0)}
		if ack := <-b.Write(ctx, msg); ack == isb.Nak {
			naks++
		}
	}

	assert.Equal(t, 3, naks)
	assert.Equal(t, 6, b.Count())
}
