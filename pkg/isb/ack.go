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

// ReadAck is the outcome carried on a tracker completion channel: whether
// a source-read message was durably persisted downstream (Ack) or should
// be redelivered by the adapter (Nak).
type ReadAck int

const (
	// Ack means the message (and, for a fan-out parent, all of its
	// children) was durably persisted.
	Ack ReadAck = iota
	// Nak means the message will not be processed further; the source
	// adapter is expected to redeliver it.
	Nak
)

func (a ReadAck) String() string {
	switch a {
	case Ack:
		return "Ack"
	case Nak:
		return "Nak"
	default:
		return "Unknown"
	}
}
