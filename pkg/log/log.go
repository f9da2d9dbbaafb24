/*
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

// Package log wraps go.uber.org/zap behind a context-carried accessor:
// the engine installs one logger on the context it runs with, and every
// component retrieves it with FromContext instead of holding a logger
// field of its own.
package log

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// NewProduction returns a zap-backed sugared logger configured for
// structured, leveled output.
func NewProduction(simName string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().With("sim_name", simName)
}

// NewDevelopment returns a more verbose, human-readable logger, useful for
// interactively driving the engine.
func NewDevelopment(simName string) *zap.SugaredLogger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().With("sim_name", simName)
}

// WithLogger installs logger on ctx for retrieval via FromContext.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger installed by WithLogger, or a no-op logger
// if none was installed -- components must never panic for want of a
// logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && logger != nil {
		return logger
	}
	return zap.NewNop().Sugar()
}
