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

// Package logging provides the process-wide zap logger and the
// context.Context plumbing used to pass it down the call stack.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

var baseLogger = newBaseLogger()

func newBaseLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	logger, err := cfg.Build()
	if err != nil {
		// Logging setup should never fail in practice; fall back to a
		// no-op logger rather than panic on an ambient concern.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// NewLogger returns the shared process-wide base SugaredLogger, used by
// components that need a logger before a context is available (e.g.
// during option construction).
func NewLogger() *zap.SugaredLogger {
	return baseLogger
}

// WithLogger returns a new context carrying logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger stashed by WithLogger, falling back to
// the base process logger if none was set.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return baseLogger
}
