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

// Package userdefined stands in for numaflow's user-defined source gRPC
// client (pkg/sdkclient/sourcer in the full project): an external process
// implements read/ack/pending/partitions over a socket, and the vertex
// talks to it as just another Reader/Acker/LagReader. Exercising the real
// gRPC wire protocol is out of scope (spec.md places concrete adapter
// wire formats outside this repo's scope); this adapter exposes the same
// capability contract backed by an in-process queue so the forwarder can
// be driven against "a user-defined source" in tests without a socket.
package userdefined

import (
	"context"
	"sync"

	"github.com/numaproj/numaflow/pkg/isb"
)

// Source is a queue-backed stand-in for a user-defined source.
type Source struct {
	mu         sync.Mutex
	queue      []isb.Message
	unacked    map[string]struct{}
	acked      []isb.Offset
	partitions []uint16
	ready      bool
}

// New creates a Source pre-seeded with messages, owning partitions.
func New(messages []isb.Message, partitions []uint16) *Source {
	return &Source{
		queue:      append([]isb.Message(nil), messages...),
		unacked:    make(map[string]struct{}),
		partitions: partitions,
		ready:      true,
	}
}

func (s *Source) Name() string { return "user-defined" }

// Read drains up to count queued messages immediately; it never blocks,
// since the fake has no I/O to wait on — callers that need to exercise
// read-timeout behavior should wrap Read with their own deadline.
func (s *Source) Read(_ context.Context, count int64) ([]isb.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.queue))
	if n > count {
		n = count
	}
	batch := s.queue[:n]
	s.queue = s.queue[n:]

	out := make([]isb.Message, len(batch))
	for i, m := range batch {
		s.unacked[m.Offset.String()] = struct{}{}
		out[i] = m
	}
	return out, nil
}

func (s *Source) Ack(_ context.Context, offsets []isb.Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offsets {
		delete(s.unacked, o.String())
		s.acked = append(s.acked, o)
	}
	return nil
}

// AckedOffsets returns every offset acked so far, in ack order. It exists
// for tests that need to assert which offsets the forwarder chose to ack
// (e.g. after some were permanently Nak'd downstream).
func (s *Source) AckedOffsets() []isb.Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]isb.Offset(nil), s.acked...)
}

func (s *Source) Pending(_ context.Context) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.unacked))
	return &n, nil
}

func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	return s.partitions, nil
}

func (s *Source) Ready(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetReady allows tests to flip the readiness probe.
func (s *Source) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Remaining reports how many messages are still queued (not yet read).
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
