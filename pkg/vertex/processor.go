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

// Package vertex runs the process lifecycle of one or more already-built
// forwarder.Forwarder instances: start each forwarder in its own
// goroutine, serve /metrics and /readyz, and on cancellation wait for
// every forwarder to drain before returning.
package vertex

import (
	"context"
	"fmt"
	"sync"

	"github.com/numaproj/numaflow/pkg/forwarder"
	"github.com/numaproj/numaflow/pkg/metrics"
	"github.com/numaproj/numaflow/pkg/shared/logging"
)

// SourceProcessor owns the full set of forwarders for one vertex replica
// and the metrics server that exposes their health and instrumentation.
type SourceProcessor struct {
	VertexName  string
	Replica     int
	MetricsAddr string

	forwarders []*forwarder.Forwarder
}

// NewSourceProcessor builds a processor driving the given forwarders. A
// replica normally owns exactly one forwarder; more than one is used
// when a single process fans out across independently-partitioned
// source adapters, e.g. one forwarder per Kafka partition assignment.
func NewSourceProcessor(vertexName string, replica int, metricsAddr string, forwarders ...*forwarder.Forwarder) *SourceProcessor {
	return &SourceProcessor{
		VertexName:  vertexName,
		Replica:     replica,
		MetricsAddr: metricsAddr,
		forwarders:  forwarders,
	}
}

// Start runs every forwarder to completion or until ctx is cancelled,
// serving metrics in the background throughout. It returns once every
// forwarder has drained its in-flight acks.
func (p *SourceProcessor) Start(ctx context.Context) error {
	log := logging.FromContext(ctx).With("vertex", p.VertexName, "replica", p.Replica)
	ctx = logging.WithLogger(ctx, log)

	checkers := make([]metrics.HealthChecker, len(p.forwarders))
	for i, f := range p.forwarders {
		checkers[i] = f
	}
	ms := metrics.NewServer(p.MetricsAddr, checkers...)
	shutdownMetrics, err := ms.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	var wg sync.WaitGroup
	errs := make([]error, len(p.forwarders))
	for i, f := range p.forwarders {
		i, f := i, f
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infow("starting forwarder", "index", i)
			errs[i] = f.Run(ctx)
			log.Infow("forwarder exited", "index", i, "error", errs[i])
		}()
	}

	wg.Wait()
	log.Infow("all forwarders exited")

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
