// Package persistence snapshots a host's residual queued envelopes to disk
// when it stops, and restores them the next time that host is deployed
// and started, so a planned restart or redeploy does not silently drop
// in-flight work sitting in a Reliable Queue.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/types"
)

// Config controls where host queue snapshots are written.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// QueueDrainer is satisfied by any host whose Reliable Queue can be
// snapshotted — both internal/hosts.RoutingProcess and .OutboundOperation
// embed *internal/hostruntime.Host, which exposes DrainQueue directly.
type QueueDrainer interface {
	DrainQueue() []*types.Envelope
}

// Store persists and restores one host's queue snapshot as a single JSON
// file per host, the way the teacher's BatchPersistence writes one JSON
// file per pending batch under its configured directory.
type Store struct {
	cfg    Config
	logger *logrus.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats summarizes the store's activity, exposed via the control plane.
type Stats struct {
	Snapshots int64 `json:"snapshots"`
	Restores  int64 `json:"restores"`
	Errors    int64 `json:"errors"`
}

// snapshot is the on-disk representation of one host's residual queue.
type snapshot struct {
	HostName  string            `json:"host_name"`
	SavedAt   time.Time         `json:"saved_at"`
	Envelopes []*types.Envelope `json:"envelopes"`
}

// NewStore builds a snapshot store. Directory defaults to "./queue_state".
func NewStore(cfg Config, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Directory == "" {
		cfg.Directory = "./queue_state"
	}
	return &Store{cfg: cfg, logger: logger}
}

func (s *Store) path(hostName string) string {
	return filepath.Join(s.cfg.Directory, hostName+".json")
}

// Snapshot drains host's queue and writes it to disk. Called from the
// Production Engine's Stop/ScaleHost/Reload paths, after the host has
// stopped accepting new work but before its queue is discarded.
func (s *Store) Snapshot(host QueueDrainer, hostName string) error {
	if !s.cfg.Enabled {
		return nil
	}
	envs := host.DrainQueue()
	if len(envs) == 0 {
		os.Remove(s.path(hostName))
		return nil
	}

	if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
		s.recordError()
		return fmt.Errorf("create persistence directory: %w", err)
	}

	data, err := json.Marshal(snapshot{HostName: hostName, SavedAt: time.Now(), Envelopes: envs})
	if err != nil {
		s.recordError()
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}

	if err := os.WriteFile(s.path(hostName), data, 0o644); err != nil {
		s.recordError()
		return fmt.Errorf("write queue snapshot: %w", err)
	}

	s.mu.Lock()
	s.stats.Snapshots++
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"host": hostName, "envelopes": len(envs)}).Info("queue snapshot written")
	return nil
}

// Restore loads hostName's last snapshot, if any, and removes the file —
// a restored snapshot is consumed exactly once, at the restart that picks
// it back up (spec has no replay-on-every-deploy requirement).
func (s *Store) Restore(ctx context.Context, hostName string) ([]*types.Envelope, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}

	data, err := os.ReadFile(s.path(hostName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("read queue snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.recordError()
		return nil, fmt.Errorf("unmarshal queue snapshot: %w", err)
	}

	os.Remove(s.path(hostName))

	s.mu.Lock()
	s.stats.Restores++
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"host": hostName, "envelopes": len(snap.Envelopes)}).Info("queue snapshot restored")
	return snap.Envelopes, nil
}

func (s *Store) recordError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// GetStats returns a snapshot of the store's counters.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
