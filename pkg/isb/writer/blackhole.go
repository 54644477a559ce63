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
	"sync"

	"github.com/numaproj/numaflow/pkg/isb"
)

// FailFunc decides whether a given message should resolve Nak instead of
// being persisted; used to simulate permanent writer failures in tests.
type FailFunc func(msg isb.Message) bool

// Blackhole is an in-memory Writer that sends nothing downstream: it
// keeps every accepted message in memory, per partition, for inspection
// (or, depending on FailFunc, rejects it). It exists so the source
// forwarder can be exercised end-to-end without a real ISB deployment,
// the same role numaflow's builtin blackhole sink plays for sinks.
type Blackhole struct {
	mu        sync.Mutex
	persisted map[uint16][]isb.Message
	fail      FailFunc
}

// NewBlackhole creates a Blackhole writer. fail may be nil, in which case
// every message resolves Ack.
func NewBlackhole(fail FailFunc) *Blackhole {
	return &Blackhole{
		persisted: make(map[uint16][]isb.Message),
		fail:      fail,
	}
}

func (b *Blackhole) Write(_ context.Context, msg isb.Message) <-chan isb.ReadAck {
	ch := make(chan isb.ReadAck, 1)
	if b.fail != nil && b.fail(msg) {
		ch <- isb.Nak
		close(ch)
		return ch
	}

	b.mu.Lock()
	p := msg.Offset.PartitionIdx()
	b.persisted[p] = append(b.persisted[p], msg)
	b.mu.Unlock()

	ch <- isb.Ack
	close(ch)
	return ch
}

func (b *Blackhole) Close() error { return nil }

// Persisted returns a copy of the messages persisted for partition, for
// test assertions.
func (b *Blackhole) Persisted(partition uint16) []isb.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]isb.Message, len(b.persisted[partition]))
	copy(out, b.persisted[partition])
	return out
}

// Partitions returns the set of partitions that have received at least
// one persisted message.
func (b *Blackhole) Partitions() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint16, 0, len(b.persisted))
	for p := range b.persisted {
		out = append(out, p)
	}
	return out
}

// Count returns the total number of messages persisted across all
// partitions.
func (b *Blackhole) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, msgs := range b.persisted {
		n += len(msgs)
	}
	return n
}
