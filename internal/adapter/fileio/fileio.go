// Package fileio implements the File inbound and outbound adapters (spec
// §4.1, AdapterConfig.Kind == "file"): polling pickup of whole files with
// atomic work/archive/error staging, and atomic rename-on-write for
// outbound delivery.
//
// Grounded on the teacher's internal/monitors/file_monitor.go (poll vs.
// follow semantics, per-file goroutine, structured logrus logging) adapted
// from line-tailing to whole-file pickup, since an HL7 file service
// consumes one message per file rather than one message per line.
package fileio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/pkg/types"
)

// Config configures a File adapter from the adapter.* settings sub-tree.
type Config struct {
	FilePath         string
	FileSpec         string
	PollInterval     time.Duration
	ArchivePath      string
	WorkPath         string
	ErrorPath        string
	FilenameTemplate string
	Overwrite        bool
}

// FromAdapterConfig builds Config from the generic AdapterConfig sub-tree.
func FromAdapterConfig(cfg types.AdapterConfig) Config {
	return Config{
		FilePath:         cfg.FilePath,
		FileSpec:         cfg.FileSpec,
		PollInterval:     cfg.PollInterval,
		ArchivePath:      cfg.ArchivePath,
		WorkPath:         cfg.WorkPath,
		ErrorPath:        cfg.ErrorPath,
		FilenameTemplate: cfg.FilenameTemplate,
		Overwrite:        cfg.Overwrite,
	}
}

// Inbound polls FilePath for files matching FileSpec, stages each one into
// WorkPath before handing it to onFrame, then routes it to ArchivePath or
// ErrorPath depending on the outcome.
type Inbound struct {
	cfg    Config
	logger *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbound builds a polling file pickup adapter from cfg.
func NewInbound(cfg Config, logger *logrus.Logger) *Inbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.FileSpec == "" {
		cfg.FileSpec = "*"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Inbound{cfg: cfg, logger: logger}
}

func (in *Inbound) Start(ctx context.Context, onFrame types.OnFrameFunc) error {
	for _, dir := range []string{in.cfg.WorkPath, in.cfg.ArchivePath, in.cfg.ErrorPath} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fileio: create %s: %w", dir, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.mu.Lock()
	in.cancel = cancel
	in.done = make(chan struct{})
	in.mu.Unlock()

	in.logger.WithFields(logrus.Fields{
		"component":     "file_inbound",
		"path":          in.cfg.FilePath,
		"spec":          in.cfg.FileSpec,
		"poll_interval": in.cfg.PollInterval,
	}).Info("polling for inbound files")

	go in.pollLoop(runCtx, onFrame)
	return nil
}

func (in *Inbound) pollLoop(ctx context.Context, onFrame types.OnFrameFunc) {
	defer close(in.done)

	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.scanOnce(ctx, onFrame)
		}
	}
}

func (in *Inbound) scanOnce(ctx context.Context, onFrame types.OnFrameFunc) {
	matches, err := filepath.Glob(filepath.Join(in.cfg.FilePath, in.cfg.FileSpec))
	if err != nil {
		in.logger.WithError(err).Warn("fileio: glob failed")
		return
	}

	for _, path := range matches {
		in.processFile(ctx, path, onFrame)
	}
}

func (in *Inbound) processFile(ctx context.Context, path string, onFrame types.OnFrameFunc) {
	name := filepath.Base(path)
	workPath := path
	if in.cfg.WorkPath != "" {
		workPath = filepath.Join(in.cfg.WorkPath, name)
		if err := os.Rename(path, workPath); err != nil {
			// Another poller or the file's writer still owns it; try again next tick.
			return
		}
	}

	raw, err := os.ReadFile(workPath)
	if err != nil {
		in.logger.WithError(err).WithField("file", name).Warn("fileio: read failed")
		in.finish(workPath, name, false)
		return
	}

	_, err = onFrame(ctx, raw, types.FrameMeta{Filename: name})
	in.finish(workPath, name, err == nil)
	if err != nil {
		in.logger.WithError(err).WithField("file", name).Warn("fileio: frame handler error")
	}
}

func (in *Inbound) finish(workPath, name string, success bool) {
	dest := in.cfg.ArchivePath
	if !success {
		dest = in.cfg.ErrorPath
	}
	if dest == "" {
		os.Remove(workPath)
		return
	}
	if err := os.Rename(workPath, filepath.Join(dest, name)); err != nil {
		in.logger.WithError(err).WithField("file", name).Warn("fileio: stage to final path failed")
	}
}

func (in *Inbound) Stop(ctx context.Context) error {
	in.mu.Lock()
	cancel := in.cancel
	done := in.done
	in.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound writes each envelope's raw bytes to FilePath under a generated
// filename, writing to a temp file first so readers never see a partial
// write (spec §4.4.3 Outbound Operation driver).
type Outbound struct {
	cfg    Config
	logger *logrus.Logger
	seq    uint64
	mu     sync.Mutex
}

// NewOutbound builds a file-drop adapter from cfg.
func NewOutbound(cfg Config, logger *logrus.Logger) *Outbound {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Outbound{cfg: cfg, logger: logger}
}

func (out *Outbound) Connect(ctx context.Context) error {
	return os.MkdirAll(out.cfg.FilePath, 0o755)
}

func (out *Outbound) Disconnect(ctx context.Context) error { return nil }

func (out *Outbound) Send(ctx context.Context, raw []byte) ([]byte, error) {
	out.mu.Lock()
	out.seq++
	seq := out.seq
	out.mu.Unlock()

	name := out.filename(seq)
	finalPath := filepath.Join(out.cfg.FilePath, name)

	if !out.cfg.Overwrite {
		if _, err := os.Stat(finalPath); err == nil {
			return nil, fmt.Errorf("fileio: %s already exists", finalPath)
		}
	}

	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("fileio: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("fileio: rename into place: %w", err)
	}

	return nil, nil
}

// filename expands the configured template, substituting {seq} and
// {timestamp}; an empty template falls back to a sequence-numbered name.
func (out *Outbound) filename(seq uint64) string {
	tmpl := out.cfg.FilenameTemplate
	if tmpl == "" {
		tmpl = "msg-{seq}.out"
	}
	now := time.Now().UTC()
	replaced := strings.ReplaceAll(tmpl, "{seq}", strconv.FormatUint(seq, 10))
	replaced = strings.ReplaceAll(replaced, "{timestamp}", now.Format("20060102150405"))
	return replaced
}
