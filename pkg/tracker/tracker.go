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

// Package tracker binds downstream write completions back to the source
// read that produced them. One entry is held per in-flight offset; once
// every expected signal for that offset has arrived, the entry resolves a
// single-shot completion channel and is removed.
//
// A mutex-guarded map is used rather than an actor goroutine: the critical
// sections are O(1) map operations, and a plain mutex is the simplest
// thing that gives distinct offsets independent critical sections.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/errors"
	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// pollInterval is how often Shutdown re-checks the in-flight count while
// waiting for natural resolution.
const pollInterval = 10 * time.Millisecond

// entry is the bookkeeping held for one in-flight offset.
type entry struct {
	offset      isb.Offset
	sender      chan<- isb.ReadAck
	expected    uint32
	received    uint32
	disposition isb.ReadAck
	// nakLatched is true once any signal has carried Nak; it forces the
	// final disposition to Nak even if later signals carry Ack.
	nakLatched bool
}

// Tracker holds one entry per in-flight source message, correlates
// downstream persistence outcomes with the originating read, and hands
// the final disposition back through a per-message completion channel.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *zap.SugaredLogger
}

// New creates an empty Tracker.
func New(log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = logging.NewLogger()
	}
	return &Tracker{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Insert registers offset with expected_signals = 1. completion receives
// the final disposition exactly once, when the entry resolves. Inserting
// the same offset twice while the first entry is still pending is a
// programming error and panics, per the "abort immediately" invariant
// policy for programming-invariant violations.
func (t *Tracker) Insert(msg isb.Message, completion chan<- isb.ReadAck) error {
	key := msg.Offset.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		panic(fmt.Sprintf("%v: duplicate tracker insert for offset %s", errors.ErrInvariantViolation, key))
	}

	t.entries[key] = &entry{
		offset:   msg.Offset,
		sender:   completion,
		expected: 1,
	}
	return nil
}

// Extend increments the expected signal count for offset by additional,
// used when the transformer fans a single input out into N outputs; each
// fan-out child's write completion must call Signal once.
func (t *Tracker) Extend(offset isb.Offset, additional uint32) error {
	key := offset.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		// The entry may have been flushed during shutdown; this is not an
		// error the caller can act on.
		t.log.Debugw("extend on unknown offset, ignoring", "offset", key)
		return nil
	}
	e.expected += additional
	return nil
}

// Signal records a downstream completion for offset. A Nak latches the
// final disposition to Nak regardless of the order subsequent signals
// arrive in. Once received == expected, the entry resolves and is
// removed. Signalling an unknown offset is ignored — the entry may have
// already been flushed during shutdown.
func (t *Tracker) Signal(offset isb.Offset, outcome isb.ReadAck) error {
	key := offset.String()

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		t.log.Debugw("signal on unknown offset, ignoring", "offset", key)
		return nil
	}

	e.received++
	if outcome == isb.Nak {
		e.nakLatched = true
	}

	if e.received < e.expected {
		t.mu.Unlock()
		return nil
	}

	delete(t.entries, key)
	t.mu.Unlock()

	disposition := isb.Ack
	if e.nakLatched {
		disposition = isb.Nak
	}
	e.sender <- disposition
	close(e.sender)
	return nil
}

// Discard unconditionally resolves offset to Nak, used when the
// transformer fails an entire batch.
func (t *Tracker) Discard(offset isb.Offset) error {
	key := offset.String()

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.entries, key)
	t.mu.Unlock()

	e.sender <- isb.Nak
	close(e.sender)
	return nil
}

// Len reports the number of in-flight entries; used by tests and the
// shutdown path to observe drain progress.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Shutdown waits until every in-flight entry resolves naturally, or until
// ctx is done, in which case every remaining Pending entry is forced to
// Nak before returning.
func (t *Tracker) Shutdown(ctx context.Context) {
	for {
		if t.Len() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			t.forceNakAll()
			return
		case <-time.After(pollInterval):
		}
	}
}

// forceNakAll converts every remaining Pending entry to Nak; used only on
// cancellation during shutdown drain.
func (t *Tracker) forceNakAll() {
	t.mu.Lock()
	remaining := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range remaining {
		e.sender <- isb.Nak
		close(e.sender)
	}
}
