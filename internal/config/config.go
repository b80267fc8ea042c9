// Package config loads and validates the production configuration tree
// (spec §6.2): one YAML document carrying the production-level settings
// plus the list of item configs, each describing one host and its
// adapter/settings sub-trees.
//
// Grounded on the teacher's internal/config.LoadConfig pipeline: load file
// -> apply defaults -> apply environment overrides -> validate, generalized
// from the teacher's flat app config to the nested ProductionConfig/
// ItemConfig tree spec §6.2 defines.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hie-engine/runtime-core/internal/hosts"
	"github.com/hie-engine/runtime-core/pkg/errors"
	"github.com/hie-engine/runtime-core/pkg/security"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// LoadConfig loads a ProductionConfig from configFile, applying defaults
// and environment overrides, then validates the result. A missing or
// empty configFile yields a pure-default, zero-item configuration, which
// ValidateConfig will reject (a production needs at least a project_id).
func LoadConfig(configFile string) (*types.ProductionConfig, error) {
	config := &types.ProductionConfig{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			return nil, errors.ConfigErr("load_config", err.Error())
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

func loadConfigFile(filename string, config *types.ProductionConfig) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyDefaults fills in every field a production can legitimately leave
// unset, matching the teacher's applyDefaults approach of mutating in
// place after the file load so explicit YAML values always win.
func applyDefaults(config *types.ProductionConfig) {
	if config.Metrics.Port == 0 {
		config.Metrics.Port = 9090
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	if config.Control.Port == 0 {
		config.Control.Port = 8080
	}

	if config.HotReload.DebounceInterval == 0 {
		config.HotReload.DebounceInterval = 2 * time.Second
	}

	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = "none"
	}
	if config.Tracing.SamplerRatio == 0 {
		config.Tracing.SamplerRatio = 1.0
	}

	if config.DeadLetters.Directory == "" {
		config.DeadLetters.Directory = "/var/lib/hie-engine/dead-letters"
	}
	if config.DeadLetters.QueueSize == 0 {
		config.DeadLetters.QueueSize = 1000
	}
	if config.DeadLetters.FlushInterval == 0 {
		config.DeadLetters.FlushInterval = 5 * time.Second
	}

	if config.Persistence.Directory == "" {
		config.Persistence.Directory = "/var/lib/hie-engine/queue-snapshots"
	}

	if config.Monitoring.CheckInterval == 0 {
		config.Monitoring.CheckInterval = 30 * time.Second
	}

	if config.Cleanup.CheckInterval == 0 {
		config.Cleanup.CheckInterval = 10 * time.Minute
	}
	if config.Cleanup.CriticalSpaceThreshold == 0 {
		config.Cleanup.CriticalSpaceThreshold = 5
	}
	if config.Cleanup.WarningSpaceThreshold == 0 {
		config.Cleanup.WarningSpaceThreshold = 15
	}

	for i := range config.Items {
		applyItemDefaults(&config.Items[i])
	}
}

func applyItemDefaults(item *types.ItemConfig) {
	if item.PoolSize == 0 {
		item.PoolSize = 1
	}
	if item.ExecutionMode == "" {
		item.ExecutionMode = types.ExecThreadPool
	}
	if item.QueueType == "" {
		item.QueueType = types.QueueFIFO
	}
	if item.QueueSize == 0 {
		item.QueueSize = 1000
	}
	if item.OverflowStrategy == "" {
		item.OverflowStrategy = types.OverflowBlock
	}
	if item.RestartPolicy == "" {
		item.RestartPolicy = types.RestartOnFailure
	}
	if item.MaxRestarts == 0 {
		item.MaxRestarts = 5
	}
	if item.RestartDelay == 0 {
		item.RestartDelay = time.Second
	}
	if item.MessagingPattern == "" {
		item.MessagingPattern = types.PatternAsyncReliable
	}
	if !item.Enabled && item.ClassName != "" {
		// Absence of an explicit `enabled: false` in YAML unmarshals to the
		// zero value; a configured item is enabled unless told otherwise.
		item.Enabled = true
	}
}

// applyEnvironmentOverrides lets a small, deliberately narrow set of
// production-wide knobs be set from the environment, the way the
// teacher's applyEnvironmentOverrides lets deployment tooling override
// individual fields without rewriting the YAML. Per-item settings are not
// overridable this way — a production's item list is a deploy-time
// artifact, not a runtime knob.
func applyEnvironmentOverrides(config *types.ProductionConfig) {
	config.ProjectID = getEnvString("HIE_PROJECT_ID", config.ProjectID)
	config.Name = getEnvString("HIE_PRODUCTION_NAME", config.Name)
	config.Metrics.Port = getEnvInt("HIE_METRICS_PORT", config.Metrics.Port)
	config.Control.Port = getEnvInt("HIE_CONTROL_PORT", config.Control.Port)
	config.Control.Enabled = getEnvBool("HIE_CONTROL_ENABLED", config.Control.Enabled)
	config.Tracing.Endpoint = getEnvString("HIE_TRACING_ENDPOINT", config.Tracing.Endpoint)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// ValidateConfig checks a production's structural invariants before
// Deploy ever sees it (spec §7: a ConfigError aborts Deploy, the item
// never reaches Running). Mirrors the teacher's ConfigValidator shape —
// accumulate every violation, then report them together — but over the
// ProductionConfig/ItemConfig tree instead of the teacher's flat app
// config.
func ValidateConfig(config *types.ProductionConfig) error {
	v := &validator{input: security.NewInputValidator(security.DefaultValidationConfig())}

	if config.ProjectID == "" {
		v.fail("project_id is required")
	}

	seen := make(map[string]bool, len(config.Items))
	for _, item := range config.Items {
		v.validateItem(item, seen)
	}

	return v.result()
}

type validator struct {
	errs  []string
	input *security.InputValidator
}

func (v *validator) fail(format string, args ...interface{}) {
	v.errs = append(v.errs, fmt.Sprintf(format, args...))
}

func (v *validator) validateItem(item types.ItemConfig, seen map[string]bool) {
	if item.Name == "" {
		v.fail("item with class %q has no name", item.ClassName)
		return
	}
	if seen[item.Name] {
		v.fail("duplicate item name %q", item.Name)
	}
	seen[item.Name] = true

	switch item.Kind {
	case types.HostKindService, types.HostKindProcess, types.HostKindOperation:
	default:
		v.fail("item %q: unknown kind %q", item.Name, item.Kind)
	}

	if item.PoolSize < 0 {
		v.fail("item %q: pool_size must be >= 0", item.Name)
	}
	if item.QueueSize < 0 {
		v.fail("item %q: queue_size must be >= 0", item.Name)
	}

	if item.Kind == types.HostKindOperation && item.Host.ReplyCodeActions != "" {
		if _, err := hosts.ParseReplyCodeActions(item.Host.ReplyCodeActions); err != nil {
			v.fail("item %q: invalid reply_code_actions: %v", item.Name, err)
		}
	}

	v.validateAdapterPaths(item)
}

// validateAdapterPaths rejects a file adapter's configured paths up front
// (spec §7: ConfigError aborts Deploy) rather than letting a traversal or
// blocked-directory path surface as a runtime permission error once the
// item is already Running.
func (v *validator) validateAdapterPaths(item types.ItemConfig) {
	if item.Adapter.Kind != "file" {
		if item.Adapter.Kind == "http" && item.Adapter.URL != "" {
			if _, err := v.input.ValidateURL(item.Adapter.URL); err != nil {
				v.fail("item %q: invalid adapter url: %v", item.Name, err)
			}
		}
		return
	}

	for fieldName, path := range map[string]string{
		"file_path":    item.Adapter.FilePath,
		"work_path":    item.Adapter.WorkPath,
		"archive_path": item.Adapter.ArchivePath,
		"error_path":   item.Adapter.ErrorPath,
	} {
		if path == "" {
			continue
		}
		if err := v.input.ValidatePath(path); err != nil {
			v.fail("item %q: invalid adapter %s: %v", item.Name, fieldName, err)
		}
	}
}

func (v *validator) result() error {
	if len(v.errs) == 0 {
		return nil
	}
	msg := v.errs[0]
	for _, e := range v.errs[1:] {
		msg += "; " + e
	}
	return errors.ConfigErr("validate_config", msg)
}
