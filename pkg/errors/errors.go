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

// Package errors holds the sentinel error taxonomy shared by the
// forwarder, tracker, and source adapters.
package errors

import "errors"

var (
	// ErrReaderFatal signals that the source reader hit an unrecoverable
	// adapter error; the forwarder drains in-flight acks and exits.
	ErrReaderFatal = errors.New("source reader: unrecoverable error")

	// ErrTransformBatch signals the transformer failed an entire batch;
	// every offset in the batch is discarded (Nak) and the forwarder exits.
	ErrTransformBatch = errors.New("transformer: batch failed")

	// ErrWriterPermanent signals the ISB writer permanently failed a
	// message; it surfaces only through the tracker's completion channel,
	// never as a returned error.
	ErrWriterPermanent = errors.New("isb writer: permanent failure")

	// ErrInvariantViolation marks a programming error (e.g. duplicate
	// tracker insert) that must abort immediately rather than be handled.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Is reports whether err is, or wraps, target, delegating to the standard
// library so that sentinel comparisons work through fmt.Errorf("%w", ...)
// wrapping.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
