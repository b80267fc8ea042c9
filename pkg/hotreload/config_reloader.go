// Package hotreload watches a production's config file and triggers
// Engine.Reload on change, fulfilling spec §6.3's hot-reload requirement
// (HotReloadConfig.Enabled/WatchFiles/DebounceInterval).
package hotreload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/config"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// ConfigReloader watches a production's config file and its declared
// watch_files, debounces bursts of filesystem events, and reloads when
// the file's content actually changed (hash comparison, not mtime alone).
type ConfigReloader struct {
	cfg        types.HotReloadConfig
	logger     *logrus.Logger
	configFile string

	currentHash string
	watcher     *fsnotify.Watcher
	watchedFiles map[string]bool

	onReload func(ctx context.Context, newCfg *types.ProductionConfig) error

	currentConfig atomic.Value // *types.ProductionConfig

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	stats Stats
}

// Stats reports the reloader's own health, exposed via the control plane.
type Stats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReloadTime    time.Time `json:"last_reload_time"`
	LastSuccessTime   time.Time `json:"last_success_time"`
	LastError         string    `json:"last_error,omitempty"`
	FilesWatched      int       `json:"files_watched"`
	IsWatching        bool      `json:"is_watching"`
}

// NewConfigReloader builds a reloader for configFile. onReload is called
// with the freshly loaded and validated config whenever a watched file
// changes; it is expected to call Engine.Reload.
func NewConfigReloader(cfg types.HotReloadConfig, configFile string, onReload func(ctx context.Context, newCfg *types.ProductionConfig) error, logger *logrus.Logger) (*ConfigReloader, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if !cfg.Enabled {
		return &ConfigReloader{cfg: cfg, logger: logger, configFile: configFile, onReload: onReload}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	cr := &ConfigReloader{
		cfg:          cfg,
		logger:       logger,
		configFile:   configFile,
		onReload:     onReload,
		watcher:      watcher,
		watchedFiles: make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := cr.updateConfigHash(); err != nil {
		logger.WithError(err).Warn("failed to calculate initial config hash")
	}

	return cr, nil
}

// Start begins watching the config file and its declared companions.
func (cr *ConfigReloader) Start() error {
	if !cr.cfg.Enabled {
		cr.logger.Info("hot reload disabled")
		return nil
	}
	if cr.running.Load() {
		return fmt.Errorf("config reloader already running")
	}

	if err := cr.setupFileWatching(); err != nil {
		return fmt.Errorf("setup file watching: %w", err)
	}

	cr.wg.Add(1)
	go cr.watchFileChanges()

	cr.running.Store(true)
	cr.stats.IsWatching = true
	cr.logger.WithFields(logrus.Fields{
		"config_file":   cr.configFile,
		"files_watched": len(cr.watchedFiles),
	}).Info("config reloader started")
	return nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (cr *ConfigReloader) Stop() error {
	if !cr.running.Load() {
		return nil
	}
	cr.running.Store(false)
	cr.stats.IsWatching = false
	cr.cancel()
	if cr.watcher != nil {
		cr.watcher.Close()
	}
	cr.wg.Wait()
	cr.logger.Info("config reloader stopped")
	return nil
}

func (cr *ConfigReloader) setupFileWatching() error {
	if err := cr.addFileToWatch(cr.configFile); err != nil {
		return fmt.Errorf("watch main config file: %w", err)
	}
	for _, file := range cr.cfg.WatchFiles {
		if err := cr.addFileToWatch(file); err != nil {
			cr.logger.WithError(err).WithField("file", file).Warn("failed to watch additional file")
		}
	}
	configDir := filepath.Dir(cr.configFile)
	if err := cr.watcher.Add(configDir); err != nil {
		cr.logger.WithError(err).WithField("directory", configDir).Warn("failed to watch config directory")
	}
	return nil
}

func (cr *ConfigReloader) addFileToWatch(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if cr.watchedFiles[absPath] {
		return nil
	}
	if err := cr.watcher.Add(absPath); err != nil {
		return fmt.Errorf("add file to watcher: %w", err)
	}
	cr.watchedFiles[absPath] = true
	cr.stats.FilesWatched = len(cr.watchedFiles)
	return nil
}

func (cr *ConfigReloader) watchFileChanges() {
	defer cr.wg.Done()

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	pendingReload := false

	for {
		select {
		case <-cr.ctx.Done():
			return

		case event, ok := <-cr.watcher.Events:
			if !ok {
				return
			}
			if cr.shouldProcessEvent(event) {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(cr.cfg.DebounceInterval)
				pendingReload = true
			}

		case err, ok := <-cr.watcher.Errors:
			if !ok {
				return
			}
			cr.logger.WithError(err).Error("file watcher error")

		case <-debounceTimer.C:
			if pendingReload {
				pendingReload = false
				if err := cr.performReload(); err != nil {
					cr.logger.WithError(err).Error("config reload failed")
				}
			}
		}
	}
}

func (cr *ConfigReloader) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}

	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}

	if absPath == cr.configFile || cr.watchedFiles[absPath] {
		return true
	}

	if filepath.Dir(absPath) == filepath.Dir(cr.configFile) {
		ext := filepath.Ext(absPath)
		return ext == ".yaml" || ext == ".yml"
	}
	return false
}

func (cr *ConfigReloader) performReload() error {
	startTime := time.Now()
	cr.stats.TotalReloads++
	cr.stats.LastReloadTime = startTime

	newConfig, err := config.LoadConfig(cr.configFile)
	if err != nil {
		cr.stats.FailedReloads++
		cr.stats.LastError = err.Error()
		return fmt.Errorf("load new config: %w", err)
	}

	if cr.onReload != nil {
		if err := cr.onReload(cr.ctx, newConfig); err != nil {
			cr.stats.FailedReloads++
			cr.stats.LastError = err.Error()
			return fmt.Errorf("apply config changes: %w", err)
		}
	}

	cr.currentConfig.Store(newConfig)
	if err := cr.updateConfigHash(); err != nil {
		cr.logger.WithError(err).Warn("failed to update config hash")
	}

	cr.stats.SuccessfulReloads++
	cr.stats.LastSuccessTime = time.Now()
	cr.stats.LastError = ""

	cr.logger.WithField("reload_time", time.Since(startTime)).Info("config reload completed")
	return nil
}

func (cr *ConfigReloader) calculateConfigHash() (string, error) {
	file, err := os.Open(cr.configFile)
	if err != nil {
		return "", fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("calculate hash: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (cr *ConfigReloader) updateConfigHash() error {
	hash, err := cr.calculateConfigHash()
	if err != nil {
		return err
	}
	cr.currentHash = hash
	return nil
}

// GetCurrentConfig returns the most recently loaded config, or nil if
// none has loaded yet.
func (cr *ConfigReloader) GetCurrentConfig() *types.ProductionConfig {
	if c := cr.currentConfig.Load(); c != nil {
		return c.(*types.ProductionConfig)
	}
	return nil
}

// GetStats returns the reloader's current stats snapshot.
func (cr *ConfigReloader) GetStats() Stats {
	return cr.stats
}

// IsHealthy reports whether the reloader is working as configured.
func (cr *ConfigReloader) IsHealthy() bool {
	if !cr.cfg.Enabled {
		return true
	}
	if !cr.running.Load() {
		return false
	}
	if _, err := os.Stat(cr.configFile); err != nil {
		return false
	}
	return true
}

// TriggerReload forces an immediate reload outside the file-watch path,
// used by the control plane's /reload route.
func (cr *ConfigReloader) TriggerReload() error {
	if !cr.cfg.Enabled {
		return fmt.Errorf("config reloader is disabled")
	}
	cr.logger.Info("manual config reload triggered")
	return cr.performReload()
}
