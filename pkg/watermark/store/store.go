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

// Package store defines the durable watermark store contract and an
// in-memory implementation suitable for the monovertex demo and tests.
// InMemory is the only implementation in this module; it is not durable.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/numaproj/numaflow/pkg/watermark/wmb"
)

// Key identifies one (vertex, partition) watermark slot.
type Key struct {
	Vertex    string
	Partition uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Vertex, k.Partition)
}

// WatermarkStore is a durable, non-decreasing-per-key map from (vertex,
// partition) to the most recently published WMB.
type WatermarkStore interface {
	// Put persists value for key. Implementations are not required to
	// reject an out-of-order write; monotonicity is the caller's
	// responsibility (the generator never calls Put with a value lower
	// than what it last published for the key).
	Put(ctx context.Context, key Key, value wmb.WMB) error

	// Get returns the most recently put value for key, or ok=false if
	// nothing has been published yet.
	Get(ctx context.Context, key Key) (value wmb.WMB, ok bool, err error)

	// Close releases resources held by the store. It does not delete
	// persisted data.
	Close() error
}

// InMemory is a process-local WatermarkStore backed by a mutex-guarded
// map, used by the demo binary and by tests that don't need a real
// JetStream KV bucket.
type InMemory struct {
	mu   sync.RWMutex
	data map[Key]wmb.WMB
}

// NewInMemory creates an empty in-memory watermark store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[Key]wmb.WMB)}
}

func (s *InMemory) Put(_ context.Context, key Key, value wmb.WMB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *InMemory) Get(_ context.Context, key Key) (wmb.WMB, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *InMemory) Close() error {
	return nil
}
