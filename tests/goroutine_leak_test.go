// Package tests holds cross-package regression tests that don't belong to
// any single internal/pkg package (spec-wide invariants rather than
// unit-level ones). Grounded on the teacher's tests/goroutine_leak_test.go,
// which ran goleak against its internal/app.App entrypoint; adapted here to
// production.Engine, which replaces that entrypoint in this repo.
package tests

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"

	"github.com/hie-engine/runtime-core/internal/production"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// TestEngineStartStopLeavesNoGoroutines deploys an empty production,
// starts and stops it, and verifies every goroutine the engine spawns
// (per-item runners, hot-reload watchers, control-plane servers) winds
// down cleanly. An empty item list still exercises Deploy/Start/Stop's
// bookkeeping goroutines without depending on a live adapter connection.
func TestEngineStartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/fsnotify/fsnotify.(*Watcher).readEvents"),
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.(*Logger).Writer"),
	)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)

	engine := production.NewEngine(nil, production.NewRuleRegistry(), nil, logger)

	cfg := &types.ProductionConfig{ProjectID: "goroutine-leak-test"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Deploy(ctx, cfg); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := engine.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
