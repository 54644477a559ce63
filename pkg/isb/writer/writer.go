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

// Package writer defines the inter-step buffer writer contract: accept a
// transformed message, return a channel that resolves once the write is
// durably persisted (Ack) or permanently failed (Nak).
package writer

import (
	"context"

	"github.com/numaproj/numaflow/pkg/isb"
)

// BufferFullStrategy controls what a Writer does when its target buffer
// is at capacity.
type BufferFullStrategy int

const (
	// RetryUntilSuccess keeps retrying (subject to cancellation) until
	// the buffer accepts the write.
	RetryUntilSuccess BufferFullStrategy = iota
	// DiscardLatest drops the write immediately and resolves Nak.
	DiscardLatest
)

func (s BufferFullStrategy) String() string {
	switch s {
	case RetryUntilSuccess:
		return "RetryUntilSuccess"
	case DiscardLatest:
		return "DiscardLatest"
	default:
		return "Unknown"
	}
}

// Writer persists messages to the downstream inter-step buffer. It owns
// its own retry behavior for transient errors and its own backpressure
// policy (BufferFullStrategy); the forwarder never retries a write
// itself, it only forwards the resolved outcome to the tracker.
type Writer interface {
	// Write persists msg and returns a channel that receives exactly one
	// isb.ReadAck once the outcome is known, then closes.
	Write(ctx context.Context, msg isb.Message) <-chan isb.ReadAck

	// Close releases any resources the writer holds (connections, etc).
	Close() error
}
