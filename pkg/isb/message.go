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
	"fmt"
	"time"
)

// DropTag is the sentinel tag that instructs the forwarder to discard a
// message after transformation without writing it downstream.
const DropTag = "U+005C__DROP__"

// MessageKind distinguishes a data payload from a watermark control
// message on the wire.
type MessageKind int32

const (
	MessageKindData MessageKind = 0
	MessageKindWMB  MessageKind = 1
)

func (k MessageKind) String() string {
	switch k {
	case MessageKindData:
		return "Data"
	case MessageKindWMB:
		return "WMB"
	default:
		return fmt.Sprintf("MessageKind(%d)", int32(k))
	}
}

// KeyValue is a single named byte value inside a metadata group.
type KeyValue struct {
	Key   string
	Value []byte
}

// KeyValueGroup is a named collection of key/value pairs, keyed by Key.
type KeyValueGroup struct {
	Group map[string]KeyValue
}

// Metadata carries vertex-to-vertex bookkeeping that rides alongside a
// message without being part of its payload.
type Metadata struct {
	PreviousVertex string
	SysMetadata    map[string]KeyValueGroup
	UserMetadata   map[string]KeyValueGroup
}

// MessageID is the stable identity of a message across read retries; the
// ISB layer uses it for deduplication.
type MessageID struct {
	VertexName string
	Offset     string
	// Index identifies which fan-out child of the original input this is.
	Index int32
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s-%s-%d", id.VertexName, id.Offset, id.Index)
}

// Message is the value-typed envelope that moves from a source, through an
// optional transformer, to the inter-step buffer. It is cheap to copy: the
// only heap-backed fields (Keys, Tags, Value, Headers) are never mutated
// in place, they are replaced wholesale.
type Message struct {
	Kind       MessageKind
	Keys       []string
	Tags       []string
	Value      []byte
	Offset     Offset
	EventTime  time.Time
	Watermark  *time.Time
	ID         MessageID
	Headers    map[string]string
	Metadata   *Metadata
	// IsLate is set by the forwarder when EventTime precedes the fetched
	// source watermark, computed downstream of the transformer.
	IsLate bool
}

// Dropped reports whether the message is tagged with the DROP sentinel.
func (m Message) Dropped() bool {
	for _, t := range m.Tags {
		if t == DropTag {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy suitable for fan-out: slices and maps are
// shared (they are treated as immutable), only the struct itself and its
// pointer fields are duplicated so that per-output mutation (e.g. IsLate,
// Watermark) doesn't alias between fan-out children.
func (m Message) Clone() Message {
	out := m
	if m.Watermark != nil {
		wm := *m.Watermark
		out.Watermark = &wm
	}
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}
