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

package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// HealthChecker reports whether the component it backs is ready to serve
// traffic; the metrics server exposes it at /readyz.
type HealthChecker interface {
	Ready(ctx context.Context) bool
}

// Server exposes /metrics (the default prometheus registry) and /readyz
// (aggregated from every attached HealthChecker) over plain HTTP.
type Server struct {
	addr     string
	checkers []HealthChecker
	log      *zap.SugaredLogger
	srv      *http.Server
}

// NewServer builds a metrics Server bound to addr (e.g. ":2469"),
// aggregating readiness across every checker passed.
func NewServer(addr string, checkers ...HealthChecker) *Server {
	return &Server{addr: addr, checkers: checkers, log: logging.NewLogger()}
}

// Start begins serving in the background and returns a shutdown function
// the caller invokes to gracefully stop it.
func (s *Server) Start(ctx context.Context) (func(context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, c := range s.checkers {
			if !c.Ready(r.Context()) {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("metrics server exited unexpectedly", "error", err)
		}
	}()
	s.log.Infow("metrics server started", "addr", s.addr)

	return s.srv.Shutdown, nil
}

// Addr returns the configured listen address, mostly useful in tests
// that bind to an ephemeral port.
func (s *Server) Addr() string {
	return fmt.Sprintf("http://%s", s.addr)
}
