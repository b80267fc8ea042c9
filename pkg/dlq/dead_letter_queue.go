// Package dlq implements the dead-letter sink spec §7 describes for an
// envelope whose retries are exhausted or whose Nack(requeue=false) never
// gets another attempt: "a dead-lettered envelope creates one terminal
// error header and an insert into a dead-letter sink (name/location out
// of scope; the sink is a degenerate host)". Sink implements types.Host so
// it registers like any other host, but its ProcessFunc has no adapter and
// no onward routing — it only persists.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/queue"
	"github.com/hie-engine/runtime-core/pkg/types"
)

// Config controls where and how dead-lettered envelopes are persisted.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Directory   string        `yaml:"directory"`
	QueueSize   int           `yaml:"queue_size"`
	MaxFileSize int64         `yaml:"max_file_size_mb"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Entry is one dead-lettered envelope, recorded with the reason it landed
// here (spec §4.2 Nack/overflow discard reasons).
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Reason     string          `json:"reason"`
	Envelope   *types.Envelope `json:"envelope"`
}

// Sink is the dead-letter sink: a buffered channel drains into an
// append-only, size-rotated JSON-lines file, the way the teacher's
// DeadLetterQueue.processingLoop/writeEntry/rotateFile work, minus the
// teacher's automatic reprocessing and alert-webhook machinery — nothing
// in spec §7 calls for automatic replay or paging, only a durable record.
type Sink struct {
	name   string
	cfg    Config
	logger *logrus.Logger

	queue chan Entry
	file  *os.File

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Stats summarizes the sink's activity, exposed via the control plane.
type Stats struct {
	TotalEntries   int64 `json:"total_entries"`
	EntriesWritten int64 `json:"entries_written"`
	WriteErrors    int64 `json:"write_errors"`
}

// NewSink builds a dead-letter sink named name. It does nothing until
// Start is called.
func NewSink(name string, cfg Config, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.Directory == "" {
		cfg.Directory = "./dlq"
	}
	return &Sink{name: name, cfg: cfg, logger: logger, queue: make(chan Entry, cfg.QueueSize)}
}

// Name satisfies types.Host.
func (s *Sink) Name() string { return s.name }

// Kind satisfies types.Host. A dead-letter sink behaves like an Outbound
// Operation with no adapter: it only receives, never emits.
func (s *Sink) Kind() types.HostKind { return types.HostKindOperation }

// State satisfies types.Host.
func (s *Sink) State() types.HostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return types.HostCreated
	}
	return types.HostRunning
}

// Start opens the dead-letter directory/file and begins draining entries.
func (s *Sink) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.WithField("sink", s.name).Info("dead-letter sink disabled")
		return nil
	}
	if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
		return fmt.Errorf("create dlq directory: %w", err)
	}
	if err := s.createNewFile(); err != nil {
		return fmt.Errorf("create initial dlq file: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.processingLoop()

	s.logger.WithFields(logrus.Fields{"sink": s.name, "directory": s.cfg.Directory}).Info("dead-letter sink started")
	return nil
}

// Stop drains the remaining queued entries and closes the file.
func (s *Sink) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.drainRemaining()

	s.mu.Lock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.mu.Unlock()
	return nil
}

// Pause/Resume are no-ops — a dead-letter sink has no worker pool to pause,
// it only ever drains its own channel.
func (s *Sink) Pause() error  { return nil }
func (s *Sink) Resume() error { return nil }

// Enqueue records env as dead-lettered with reason "enqueue" (satisfies
// types.Host for direct registry delivery; Record is the typed entry
// point queue.DiscardFunc callers should use instead).
func (s *Sink) Enqueue(ctx context.Context, env *types.Envelope) error {
	s.Record(env, "enqueue")
	return nil
}

// Record enqueues one dead-lettered envelope for persistence. It never
// blocks: a full internal queue drops the entry and counts a write error,
// matching the teacher's "queue full, drop and log" behavior — a
// dead-letter sink must never itself become a source of backpressure.
func (s *Sink) Record(env *types.Envelope, reason string) {
	if !s.cfg.Enabled {
		return
	}
	entry := Entry{Timestamp: time.Now(), Reason: reason, Envelope: env}
	select {
	case s.queue <- entry:
		s.mu.Lock()
		s.stats.TotalEntries++
		s.mu.Unlock()
	default:
		s.logger.WithField("sink", s.name).Warn("dead-letter queue full, dropping entry")
		s.mu.Lock()
		s.stats.WriteErrors++
		s.mu.Unlock()
	}
}

// DiscardFunc adapts Record to pkg/queue.DiscardFunc, so a host's Reliable
// Queue can route its Nack/overflow discards straight into this sink.
func (s *Sink) DiscardFunc() queue.DiscardFunc {
	return func(env *types.Envelope, reason string) { s.Record(env, reason) }
}

func (s *Sink) processingLoop() {
	defer s.wg.Done()
	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case entry := <-s.queue:
			s.writeEntry(entry)
		case <-flush.C:
			s.flushFile()
		}
	}
}

func (s *Sink) drainRemaining() {
	for {
		select {
		case entry := <-s.queue:
			s.writeEntry(entry)
		default:
			return
		}
	}
}

func (s *Sink) writeEntry(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		s.stats.WriteErrors++
		return
	}
	if s.shouldRotateFileLocked() {
		s.rotateFileLocked()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal dead-letter entry")
		s.stats.WriteErrors++
		return
	}
	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		s.logger.WithError(err).Error("failed to write dead-letter entry")
		s.stats.WriteErrors++
		return
	}
	s.stats.EntriesWritten++
}

func (s *Sink) flushFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Sync()
	}
}

func (s *Sink) shouldRotateFileLocked() bool {
	if s.file == nil {
		return true
	}
	info, err := s.file.Stat()
	if err != nil {
		return true
	}
	return info.Size() >= s.cfg.MaxFileSize*1024*1024
}

func (s *Sink) rotateFileLocked() {
	if s.file != nil {
		s.file.Close()
	}
	if err := s.createNewFileLocked(); err != nil {
		s.logger.WithError(err).Error("failed to create new dead-letter file")
	}
}

func (s *Sink) createNewFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createNewFileLocked()
}

func (s *Sink) createNewFileLocked() error {
	filename := fmt.Sprintf("%s_%d.jsonl", s.name, time.Now().UnixNano())
	path := filepath.Join(s.cfg.Directory, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// GetStats returns a snapshot of the sink's counters.
func (s *Sink) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
