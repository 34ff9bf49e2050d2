// Package logging provides categorized logging for the coordination core.
// Each subsystem logs under its own category so operators can raise or
// lower verbosity per concern. Output goes through a shared zap core.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // startup and shutdown
	CategoryGraph    Category = "graph"    // task graph mutations
	CategoryDeps     Category = "deps"     // dependency engine, inference
	CategoryAssign   Category = "assign"   // assignment decisions
	CategoryLease    Category = "lease"    // lease grant/renew/expiry
	CategoryProgress Category = "progress" // progress, blockers, completions
	CategoryContext  Category = "context"  // context assembly
	CategoryDiag     Category = "diag"     // diagnostics runs
	CategoryProvider Category = "provider" // kanban provider calls
	CategoryOracle   Category = "oracle"   // AI oracle calls and fallbacks
	CategoryStore    Category = "store"    // persistence
	CategoryRegistry Category = "registry" // agent registry
	CategoryWorker   Category = "worker"   // background workers
)

var (
	mu          sync.RWMutex
	root        = zap.NewNop()
	sugared     = map[Category]*zap.SugaredLogger{}
	atomicLevel *zap.AtomicLevel
)

// Initialize installs the process-wide logger. Called once at startup;
// before that every call is a no-op, so tests stay silent by default.
func Initialize(level string, development bool) error {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = logger
	sugared = map[Category]*zap.SugaredLogger{}
	atomicLevel = &cfg.Level
	mu.Unlock()
	return nil
}

// SetLogger replaces the root logger. Used by tests that capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	sugared = map[Category]*zap.SugaredLogger{}
	atomicLevel = nil
}

// SetLevelText parses and applies a level name (debug, info, warn, error).
// Safe to call from the config watcher; a no-op before Initialize.
func SetLevelText(level string) {
	mu.Lock()
	defer mu.Unlock()
	if atomicLevel == nil {
		return
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	atomicLevel.SetLevel(lvl)
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	s := root.Sugar().Named(string(cat))
	sugared[cat] = s
	return s
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
