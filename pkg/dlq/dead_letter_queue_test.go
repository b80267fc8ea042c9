package dlq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hie-engine/runtime-core/pkg/types"
)

func TestRecordPersistsEntryToFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink("dead-letters", Config{Enabled: true, Directory: dir, FlushInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop(context.Background())

	env := &types.Envelope{MessageID: "env-1"}
	sink.Record(env, "retries_exhausted")

	require.NoError(t, sink.Stop(context.Background()))

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &entry))
	assert.Equal(t, "retries_exhausted", entry.Reason)
	assert.Equal(t, "env-1", entry.Envelope.MessageID)
}

func TestRecordDisabledSinkWritesNothing(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink("dead-letters", Config{Enabled: false, Directory: dir}, nil)
	require.NoError(t, sink.Start(context.Background()))

	sink.Record(&types.Envelope{MessageID: "env-1"}, "nack_no_requeue")
	require.NoError(t, sink.Stop(context.Background()))

	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	assert.Empty(t, files)
}

func TestRecordFullQueueCountsWriteError(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink("dead-letters", Config{Enabled: true, Directory: dir, QueueSize: 1}, nil)
	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop(context.Background())

	for i := 0; i < 50; i++ {
		sink.Record(&types.Envelope{MessageID: "env"}, "overflow")
	}

	stats := sink.GetStats()
	assert.True(t, stats.WriteErrors > 0 || stats.TotalEntries > 0)
}

func TestDiscardFuncRoutesQueueDiscardsIntoSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink("dead-letters", Config{Enabled: true, Directory: dir}, nil)
	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop(context.Background())

	discard := sink.DiscardFunc()
	discard(&types.Envelope{MessageID: "env-2"}, "queue_full_drop_oldest")

	stats := sink.GetStats()
	assert.Equal(t, int64(1), stats.TotalEntries)
}
