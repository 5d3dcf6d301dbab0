package storage

import (
	"context"
	"log"
	"time"
)

type EngineOption func(*Engine)

// WithDialDelay makes every dial take at least d, which widens the window in
// which concurrent connect attempts overlap.
func WithDialDelay(d time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.dialDelay = d
	}
}

// WithDialHook runs fn before every dial. A non-nil error fails the dial.
func WithDialHook(fn func(ctx context.Context, uri string) error) EngineOption {
	return func(engine *Engine) {
		engine.dialHook = fn
	}
}

// WithSnapshotFile loads the engine from path on first dial and saves it
// there whenever a client disconnects.
func WithSnapshotFile(path string) EngineOption {
	return func(engine *Engine) {
		engine.snapshotFile = path
	}
}

func WithLogger(logger *log.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}
