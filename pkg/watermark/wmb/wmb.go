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

// Package wmb defines the watermark value and its wire encoding, as
// exchanged through the durable watermark store.
package wmb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Watermark is a UTC instant; time.Time wrapped so call sites read
// unambiguously as watermark values rather than arbitrary timestamps.
type Watermark time.Time

// UnixMilli returns the watermark as milliseconds since epoch.
func (w Watermark) UnixMilli() int64 {
	return time.Time(w).UnixMilli()
}

// Before reports whether w happens before other.
func (w Watermark) Before(other Watermark) bool {
	return time.Time(w).Before(time.Time(other))
}

// WMB (watermark barrier) is the record persisted to the durable
// watermark store for one (vertex, partition) key: the offset it was
// computed at, the watermark value in epoch milliseconds, and whether it
// was published as an idle advance rather than a data-driven one.
type WMB struct {
	Offset    int64
	Watermark int64
	Idle      bool
}

// EncodeToBytes serializes a WMB using a fixed little-endian layout, so
// that older/newer binaries agree on the watermark store's wire format.
func EncodeToBytes(w WMB) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, w); err != nil {
		return nil, fmt.Errorf("failed to encode wmb: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeToWMB parses the fixed little-endian layout written by
// EncodeToBytes. It rejects inputs that aren't exactly the size of a WMB
// value, since a size mismatch means the payload isn't a WMB at all.
func DecodeToWMB(b []byte) (WMB, error) {
	var w WMB
	reader := bytes.NewReader(b)
	if err := binary.Read(reader, binary.LittleEndian, &w); err != nil {
		return WMB{}, fmt.Errorf("failed to decode wmb: %w", err)
	}
	if reader.Len() != 0 {
		return WMB{}, fmt.Errorf("failed to decode wmb: %d trailing bytes", reader.Len())
	}
	return w, nil
}
