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

// Package httpsrc backs a vertex's source with a webhook-style HTTP
// endpoint: a POST to /vertices/<vertexName> enqueues the request body as
// one message. No
// example in the corpus pulls in a dedicated library for this — it is
// exactly what net/http's ServeMux already does — so this adapter is
// built on the standard library rather than a third-party router.
package httpsrc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/isb"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

const partitionIdx uint16 = 0

// Source accepts messages over HTTP POST and serves them to the
// forwarder through an internal channel. Delivery is at-most-once from
// the HTTP client's perspective: once a POST returns 204 the request
// body has been enqueued in-process, but a process restart
// before the message is acked loses it, matching numaflow's own
// documented caveat for this source type.
type Source struct {
	vertexName string
	srv        *http.Server

	msgCh   chan isb.Message
	pending atomic.Int64

	mu      sync.Mutex
	unacked map[string]struct{}

	log *zap.SugaredLogger
}

// Option configures a Source.
type Option func(*Source)

func WithLogger(log *zap.SugaredLogger) Option { return func(s *Source) { s.log = log } }

// New creates an HTTP Source listening on addr. It does not start
// serving until Start is called.
func New(vertexName, addr string, opts ...Option) *Source {
	s := &Source{
		vertexName: vertexName,
		msgCh:      make(chan isb.Message, 1000),
		unacked:    make(map[string]struct{}),
		log:        logging.NewLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/vertices/"+vertexName, s.handle)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Source) Name() string { return "http" }

func (s *Source) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	offset := isb.NewStringOffset(uuid.NewString(), partitionIdx)
	msg := isb.Message{
		Kind:      isb.MessageKindData,
		Value:     body,
		Offset:    offset,
		EventTime: now,
		ID: isb.MessageID{
			VertexName: s.vertexName,
			Offset:     offset.String(),
			Index:      0,
		},
		Headers: flattenHeader(r.Header),
	}

	select {
	case s.msgCh <- msg:
		s.pending.Add(1)
		s.mu.Lock()
		s.unacked[offset.String()] = struct{}{}
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "source buffer full", http.StatusServiceUnavailable)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// Start begins serving HTTP requests in the background.
func (s *Source) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("http source server exited with error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Source) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Read drains up to count queued messages. When the queue is empty it
// waits at most one millisecond (or until ctx is done) for a message
// before returning what it has, possibly nothing.
func (s *Source) Read(ctx context.Context, count int64) ([]isb.Message, error) {
	msgs := make([]isb.Message, 0, count)
	for int64(len(msgs)) < count {
		select {
		case msg := <-s.msgCh:
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, nil
		default:
			if len(msgs) > 0 {
				return msgs, nil
			}
			select {
			case msg := <-s.msgCh:
				msgs = append(msgs, msg)
			case <-ctx.Done():
				return msgs, nil
			case <-time.After(time.Millisecond):
				return msgs, nil
			}
		}
	}
	return msgs, nil
}

func (s *Source) Ack(_ context.Context, offsets []isb.Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offsets {
		if _, ok := s.unacked[o.String()]; ok {
			delete(s.unacked, o.String())
			s.pending.Sub(1)
		}
	}
	return nil
}

func (s *Source) Pending(_ context.Context) (*int64, error) {
	n := s.pending.Load()
	return &n, nil
}

func (s *Source) Partitions(_ context.Context) ([]uint16, error) {
	return []uint16{partitionIdx}, nil
}

func (s *Source) Ready(_ context.Context) bool { return true }
