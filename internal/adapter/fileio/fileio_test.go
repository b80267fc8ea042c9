package fileio

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

func TestInboundArchivesSuccessfullyProcessedFile(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	work := filepath.Join(root, "work")
	archive := filepath.Join(root, "archive")
	require.NoError(t, os.MkdirAll(in, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(in, "msg1.hl7"), []byte("MSH|..."), 0o644))

	cfg := Config{FilePath: in, FileSpec: "*.hl7", PollInterval: 20 * time.Millisecond, WorkPath: work, ArchivePath: archive}
	adapter := NewInbound(cfg, nil)

	var got []byte
	require.NoError(t, adapter.Start(context.Background(), func(ctx context.Context, raw []byte, meta types.FrameMeta) ([]byte, error) {
		got = raw
		return nil, nil
	}))
	defer adapter.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(archive, "msg1.hl7"))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "MSH|...", string(got))
}

func TestInboundRoutesFailedFileToErrorPath(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	work := filepath.Join(root, "work")
	errDir := filepath.Join(root, "error")
	require.NoError(t, os.MkdirAll(in, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(in, "bad.hl7"), []byte("broken"), 0o644))

	cfg := Config{FilePath: in, FileSpec: "*.hl7", PollInterval: 20 * time.Millisecond, WorkPath: work, ErrorPath: errDir}
	adapter := NewInbound(cfg, nil)

	require.NoError(t, adapter.Start(context.Background(), func(ctx context.Context, raw []byte, meta types.FrameMeta) ([]byte, error) {
		return nil, assertErr
	}))
	defer adapter.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(errDir, "bad.hl7"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

var assertErr = simpleErr("boom")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func TestOutboundWritesAtomicallyAndRejectsOverwrite(t *testing.T) {
	root := t.TempDir()
	cfg := Config{FilePath: root, FilenameTemplate: "out-{seq}.hl7"}
	out := NewOutbound(cfg, nil)

	require.NoError(t, out.Connect(context.Background()))

	_, err := out.Send(context.Background(), []byte("hello"))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, "out-1.hl7"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = os.Stat(filepath.Join(root, "out-1.hl7.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestOutboundOverwriteAllowsReplace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "out-1.hl7"), []byte("old"), 0o644))

	cfg := Config{FilePath: root, FilenameTemplate: "out-{seq}.hl7", Overwrite: true}
	out := NewOutbound(cfg, nil)

	_, err := out.Send(context.Background(), []byte("new"))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, "out-1.hl7"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}
