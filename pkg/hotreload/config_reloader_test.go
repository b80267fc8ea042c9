package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func writeProductionYAML(t *testing.T, path, projectID string) {
	t.Helper()
	doc := "project_id: " + projectID + "\nname: demo\nitems:\n  - name: svc-adt\n    kind: service\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestConfigReloaderDisabledNeverWatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "production.yaml")
	writeProductionYAML(t, path, "proj-1")

	cr, err := NewConfigReloader(types.HotReloadConfig{Enabled: false}, path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cr.Start())
	assert.True(t, cr.IsHealthy())
	assert.NoError(t, cr.Stop())
}

func TestConfigReloaderDetectsFileChangeAndInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "production.yaml")
	writeProductionYAML(t, path, "proj-1")

	applied := make(chan *types.ProductionConfig, 1)
	cr, err := NewConfigReloader(types.HotReloadConfig{Enabled: true, DebounceInterval: 20 * time.Millisecond}, path, func(ctx context.Context, cfg *types.ProductionConfig) error {
		applied <- cfg
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, cr.Start())
	defer cr.Stop()

	writeProductionYAML(t, path, "proj-2")

	select {
	case cfg := <-applied:
		assert.Equal(t, "proj-2", cfg.ProjectID)
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback was never invoked")
	}

	stats := cr.GetStats()
	assert.Equal(t, int64(1), stats.SuccessfulReloads)
}

func TestTriggerReloadForcesImmediateReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "production.yaml")
	writeProductionYAML(t, path, "proj-1")

	var gotCfg *types.ProductionConfig
	cr, err := NewConfigReloader(types.HotReloadConfig{Enabled: true}, path, func(ctx context.Context, cfg *types.ProductionConfig) error {
		gotCfg = cfg
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, cr.Start())
	defer cr.Stop()

	require.NoError(t, cr.TriggerReload())
	require.NotNil(t, gotCfg)
	assert.Equal(t, "proj-1", gotCfg.ProjectID)
}

func TestTriggerReloadDisabledReturnsError(t *testing.T) {
	cr, err := NewConfigReloader(types.HotReloadConfig{Enabled: false}, "unused.yaml", nil, nil)
	require.NoError(t, err)
	assert.Error(t, cr.TriggerReload())
}
