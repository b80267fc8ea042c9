package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestNewDiskSpaceManagerStoresConfig(t *testing.T) {
	config := Config{
		CheckInterval: 30 * time.Second,
		Directories: []DirectoryConfig{
			{Path: "/tmp/test", MaxSizeMB: 100, MaxFiles: 10, RetentionDays: 7, FilePatterns: []string{"*.log"}},
		},
	}

	manager := NewDiskSpaceManager(config, testLogger())

	require.NotNil(t, manager)
	assert.Equal(t, config, manager.config)
}

func TestCleanupByAgeRemovesOnlyFilesOlderThanRetention(t *testing.T) {
	testDir := t.TempDir()

	oldFile := filepath.Join(testDir, "old.log")
	newFile := filepath.Join(testDir, "new.log")

	require.NoError(t, os.WriteFile(oldFile, nil, 0644))
	require.NoError(t, os.WriteFile(newFile, nil, 0644))

	oldTime := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	dirConfig := DirectoryConfig{Path: testDir, RetentionDays: 7, FilePatterns: []string{"*.log"}}
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second, Directories: []DirectoryConfig{dirConfig}}, testLogger())

	require.NoError(t, manager.cleanupByAge(dirConfig))

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err), "old file should be removed")

	_, err = os.Stat(newFile)
	assert.NoError(t, err, "new file should still exist")
}

func TestCleanupByCountKeepsNewestFiles(t *testing.T) {
	testDir := t.TempDir()

	for i, name := range []string{"file1.log", "file2.log", "file3.log", "file4.log", "file5.log"} {
		path := filepath.Join(testDir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		modTime := time.Now().Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	dirConfig := DirectoryConfig{Path: testDir, MaxFiles: 3, FilePatterns: []string{"*.log"}}
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second, Directories: []DirectoryConfig{dirConfig}}, testLogger())

	require.NoError(t, manager.cleanupByCount(dirConfig))

	entries, err := os.ReadDir(testDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCleanupBySizeRemovesOldestUntilUnderLimit(t *testing.T) {
	testDir := t.TempDir()

	for i, name := range []string{"file1.log", "file2.log", "file3.log"} {
		path := filepath.Join(testDir, name)
		data := make([]byte, 1024)
		require.NoError(t, os.WriteFile(path, data, 0644))
		modTime := time.Now().Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	dirConfig := DirectoryConfig{Path: testDir, MaxSizeMB: 0, FilePatterns: []string{"*.log"}}
	dirConfig.MaxSizeMB = 1
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second, Directories: []DirectoryConfig{dirConfig}}, testLogger())

	require.NoError(t, manager.cleanupBySize(dirConfig))

	entries, err := os.ReadDir(testDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 3)
}

func TestGetDiskUsageReportsConsistentTotals(t *testing.T) {
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second}, testLogger())

	usage, err := manager.getDiskUsage("/tmp")
	require.NoError(t, err)
	assert.Greater(t, usage.Total, uint64(0))
	assert.LessOrEqual(t, usage.Free, usage.Total)
}

func TestGetDiskUsageRejectsMissingPath(t *testing.T) {
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second}, testLogger())

	_, err := manager.getDiskUsage("/nonexistent/path/really")
	assert.Error(t, err)
}

func TestFindMatchingFilesHonorsPatterns(t *testing.T) {
	testDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "keep.log"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "skip.txt"), nil, 0644))

	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second}, testLogger())

	files, err := manager.findMatchingFiles(DirectoryConfig{Path: testDir, FilePatterns: []string{"*.log"}})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.log", filepath.Base(files[0].Path))
}

func TestCleanupDirectoryCreatesMissingDirectory(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "does-not-exist-yet")
	manager := NewDiskSpaceManager(Config{CheckInterval: time.Second}, testLogger())

	require.NoError(t, manager.cleanupDirectory(DirectoryConfig{Path: testDir}))

	info, err := os.Stat(testDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStartAndStopDoNotPanicWithEmptyDirectories(t *testing.T) {
	manager := NewDiskSpaceManager(Config{CheckInterval: 50 * time.Millisecond}, testLogger())

	require.NoError(t, manager.Start())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, manager.Stop())
}

func TestGetStatusReportsPerDirectoryUsage(t *testing.T) {
	testDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "a.log"), []byte("data"), 0644))

	manager := NewDiskSpaceManager(Config{
		CheckInterval: time.Second,
		Directories:   []DirectoryConfig{{Path: testDir, FilePatterns: []string{"*.log"}}},
	}, testLogger())

	status := manager.GetStatus()
	require.Contains(t, status, testDir)
}
