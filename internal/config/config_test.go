package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func TestApplyDefaultsFillsProductionAndItemFields(t *testing.T) {
	cfg := &types.ProductionConfig{
		Items: []types.ItemConfig{{Name: "svc-adt", ClassName: "hl7-service"}},
	}

	applyDefaults(cfg)

	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 8080, cfg.Control.Port)
	assert.Equal(t, "none", cfg.Tracing.Exporter)

	item := cfg.Items[0]
	assert.Equal(t, 1, item.PoolSize)
	assert.Equal(t, types.ExecThreadPool, item.ExecutionMode)
	assert.Equal(t, types.QueueFIFO, item.QueueType)
	assert.Equal(t, types.RestartOnFailure, item.RestartPolicy)
	assert.True(t, item.Enabled)
}

func TestApplyDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := &types.ProductionConfig{
		Metrics: types.MetricsConfig{Port: 1234},
		Items:   []types.ItemConfig{{Name: "op-a", ClassName: "hl7-operation", PoolSize: 4}},
	}

	applyDefaults(cfg)

	assert.Equal(t, 1234, cfg.Metrics.Port)
	assert.Equal(t, 4, cfg.Items[0].PoolSize)
}

func TestValidateConfigRequiresProjectID(t *testing.T) {
	cfg := &types.ProductionConfig{}
	err := ValidateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigRejectsDuplicateItemNames(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{
			{Name: "svc-adt", Kind: types.HostKindService},
			{Name: "svc-adt", Kind: types.HostKindService},
		},
	}
	err := ValidateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigRejectsUnknownKind(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items:     []types.ItemConfig{{Name: "x", Kind: "bogus"}},
	}
	err := ValidateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigRejectsMalformedReplyCodeActions(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{{
			Name: "op-a",
			Kind: types.HostKindOperation,
			Host: types.HostSettings{ReplyCodeActions: ":?A"},
		}},
	}
	err := ValidateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfigAcceptsWellFormedProduction(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{
			{Name: "svc-adt", Kind: types.HostKindService},
			{Name: "op-a", Kind: types.HostKindOperation, Host: types.HostSettings{ReplyCodeActions: ":*=S"}},
		},
	}
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsFileAdapterPathTraversal(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{{
			Name:    "op-file",
			Kind:    types.HostKindOperation,
			Adapter: types.AdapterConfig{Kind: "file", FilePath: "/data/../etc/passwd"},
		}},
	}
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsHTTPAdapterPrivateURL(t *testing.T) {
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{{
			Name:    "op-http",
			Kind:    types.HostKindOperation,
			Adapter: types.AdapterConfig{Kind: "http", URL: "http://127.0.0.1:9999/receive"},
		}},
	}
	assert.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigAcceptsValidFileAdapterPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := &types.ProductionConfig{
		ProjectID: "proj-1",
		Items: []types.ItemConfig{{
			Name:    "op-file",
			Kind:    types.HostKindOperation,
			Adapter: types.AdapterConfig{Kind: "file", FilePath: dir},
		}},
	}
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigReadsYAMLFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "production.yaml")
	yamlDoc := "project_id: proj-1\nname: demo\nitems:\n  - name: svc-adt\n    kind: service\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", cfg.ProjectID)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	require.Len(t, cfg.Items, 1)
	assert.Equal(t, types.HostKindService, cfg.Items[0].Kind)
}

func TestLoadConfigMissingFileReturnsConfigError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
