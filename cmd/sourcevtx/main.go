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

// Command sourcevtx runs one source vertex replica: it reads from the
// in-memory generator source, publishes watermarks into an in-memory
// store, and writes to a blackhole writer, forwarding acks back to the
// source the whole time. No transformer applier is configured.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/numaproj/numaflow/pkg/forwarder"
	"github.com/numaproj/numaflow/pkg/isb/writer"
	"github.com/numaproj/numaflow/pkg/shared/logging"
	"github.com/numaproj/numaflow/pkg/sources/generator"
	"github.com/numaproj/numaflow/pkg/transformer"
	"github.com/numaproj/numaflow/pkg/vertex"
	watermarkstore "github.com/numaproj/numaflow/pkg/watermark/store"
	watermarksrc "github.com/numaproj/numaflow/pkg/watermark/source"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("numaflow")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "sourcevtx",
		Short: "Run a numaflow source vertex replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("vertex-name", "source-vertex", "name of this vertex")
	flags.Int("replica", 0, "replica index of this vertex")
	flags.Int64("batch-size", 500, "number of messages to read per batch")
	flags.Bool("read-ahead", false, "allow reading the next batch before the current one is fully acked")
	flags.String("metrics-addr", ":2469", "address to serve /metrics and /readyz on")
	flags.Int("rpu", 5, "generator source: records per time unit")
	flags.Duration("time-unit", time.Second, "generator source: tick interval")
	flags.Int("partitions", 1, "generator source: number of partitions to round-robin across")
	flags.Duration("watermark-delay", 0, "lag applied to the computed source watermark")
	flags.Duration("idle-step", 1250*time.Millisecond, "amount the watermark advances per idle read")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind flags: %v", err))
	}

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	vertexName := v.GetString("vertex-name")
	replica := v.GetInt("replica")
	batchSize := v.GetInt64("batch-size")

	log := logging.NewLogger()
	ctx = logging.WithLogger(ctx, log)

	partitions := make([]uint16, v.GetInt("partitions"))
	for i := range partitions {
		partitions[i] = uint16(i)
	}

	src := generator.New(vertexName, replica, v.GetInt("rpu"), partitions,
		generator.WithTimeUnit(v.GetDuration("time-unit")),
		generator.WithLogger(log),
	)

	wmStore := watermarkstore.NewInMemory()
	wmHandle := watermarksrc.NewHandle(vertexName, wmStore, v.GetDuration("watermark-delay"), v.GetDuration("idle-step"), log)

	w := writer.NewBlackhole(nil)

	f := forwarder.New(vertexName, replica, src, w, batchSize,
		forwarder.WithReadAhead(v.GetBool("read-ahead")),
		forwarder.WithLogger(log),
		forwarder.WithWatermark(wmHandle),
		forwarder.WithTransformer(transformer.New(nil, batchSize, log)),
	)

	proc := vertex.NewSourceProcessor(vertexName, replica, v.GetString("metrics-addr"), f)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src.Start(runCtx)
	defer src.Stop()

	return proc.Start(runCtx)
}
