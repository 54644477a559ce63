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

// Package sources defines the capability contract every concrete source
// adapter (generator, user-defined, Kafka, NATS, ...) satisfies. The
// forwarder is polymorphic over {Reader, Acker, LagReader}, never over a
// class hierarchy.
package sources

import (
	"context"

	"github.com/numaproj/numaflow/pkg/isb"
)

// Reader reads batches of messages and reports which partitions it owns.
type Reader interface {
	// Name identifies the adapter for logging and metrics.
	Name() string

	// Read returns up to the caller-requested count of messages. It may
	// return fewer, including zero, on timeout. It returns an error only
	// on unrecoverable adapter state.
	Read(ctx context.Context, count int64) ([]isb.Message, error)

	// Partitions lists the partition indices currently owned by this
	// reader instance.
	Partitions(ctx context.Context) ([]uint16, error)
}

// Acker acknowledges a batch of offsets. Implementations may persist the
// ack asynchronously, but must be idempotent: acking the same offset more
// than once must not error or double-count.
type Acker interface {
	Ack(ctx context.Context, offsets []isb.Offset) error
}

// LagReader reports the adapter's notion of unprocessed backlog. A nil
// result means "unknown", consumed only by the lag/pending metrics
// reporter, never by the forwarder's control flow.
type LagReader interface {
	Pending(ctx context.Context) (*int64, error)
}

// ReadyChecker reports basic liveness/readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) bool
}

// Source is the full capability set a concrete adapter must satisfy to
// back the forwarder.
type Source interface {
	Reader
	Acker
	LagReader
	ReadyChecker
}
