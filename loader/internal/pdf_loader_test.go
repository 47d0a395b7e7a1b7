package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"askpdf/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWatcher(t *testing.T) (*Watcher, *clock) {
	t.Helper()
	root := t.TempDir()
	w, err := NewWatcher(config.LoaderConfig{
		SourceDir:      filepath.Join(root, "inbox"),
		ArchiveDir:     filepath.Join(root, "archive"),
		BadDir:         filepath.Join(root, "bad"),
		MonitoringTime: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	c := &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	w.now = c.now
	return w, c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewWatcherCreatesDirectories(t *testing.T) {
	w, _ := newTestWatcher(t)
	for _, dir := range []string{w.cfg.SourceDir, w.cfg.ArchiveDir, w.cfg.BadDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestScanWaitsForStableFiles(t *testing.T) {
	w, c := newTestWatcher(t)
	a := writeFile(t, w.cfg.SourceDir, "a.pdf", "one")
	writeFile(t, w.cfg.SourceDir, ".partial", "skip")

	ready, err := w.Scan()
	require.NoError(t, err)
	assert.Empty(t, ready, "first sighting")

	c.advance(2 * time.Second)
	ready, err = w.Scan()
	require.NoError(t, err)
	assert.Empty(t, ready, "not stable long enough")

	c.advance(4 * time.Second)
	ready, err = w.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ready)

	c.advance(time.Minute)
	ready, err = w.Scan()
	require.NoError(t, err)
	assert.Empty(t, ready, "already processing")

	w.Release([]string{a})
	ready, err = w.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ready)
}

func TestScanRestartsTimerWhenFileChanges(t *testing.T) {
	w, c := newTestWatcher(t)
	a := writeFile(t, w.cfg.SourceDir, "a.txt", "one")

	_, err := w.Scan()
	require.NoError(t, err)

	c.advance(6 * time.Second)
	writeFile(t, w.cfg.SourceDir, "a.txt", "one two three")
	ready, err := w.Scan()
	require.NoError(t, err)
	assert.Empty(t, ready)

	c.advance(6 * time.Second)
	ready, err = w.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ready)
}

func TestScanForgetsRemovedFiles(t *testing.T) {
	w, _ := newTestWatcher(t)
	a := writeFile(t, w.cfg.SourceDir, "a.pdf", "one")

	_, err := w.Scan()
	require.NoError(t, err)
	require.NoError(t, os.Remove(a))
	_, err = w.Scan()
	require.NoError(t, err)

	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()
	assert.Empty(t, w.fileFirstSeen)
}

func TestMoveToArchiveAddsSuffixOnClash(t *testing.T) {
	w, _ := newTestWatcher(t)

	first, err := w.MoveToArchive(writeFile(t, w.cfg.SourceDir, "report.pdf", "v1"), FileArchived)
	require.NoError(t, err)
	second, err := w.MoveToArchive(writeFile(t, w.cfg.SourceDir, "report.pdf", "v2"), FileArchived)
	require.NoError(t, err)
	bad, err := w.MoveToArchive(writeFile(t, w.cfg.SourceDir, "broken.pdf", "x"), FileBad)
	require.NoError(t, err)

	day := filepath.Join(w.cfg.ArchiveDir, "2025-03-14")
	assert.Equal(t, filepath.Join(day, "report.pdf"), first)
	assert.Equal(t, filepath.Join(day, "report_1.pdf"), second)
	assert.Equal(t, filepath.Join(w.cfg.BadDir, "2025-03-14", "broken.pdf"), bad)

	entries, err := os.ReadDir(w.cfg.SourceDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	archived, err := w.ArchivedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, archived)
}

func TestLoadDocumentKeepsIDForPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "hello")

	a, err := LoadDocument(path)
	require.NoError(t, err)
	writeFile(t, dir, "notes.txt", "hello again")
	b, err := LoadDocument(path)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "notes.txt", b.Name)
	assert.Equal(t, path, b.SourcePath)
	assert.Equal(t, "hello again", string(b.Data))

	_, err = LoadDocument(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestWatchFileSendsBatches(t *testing.T) {
	w, _ := newTestWatcher(t)
	w.cfg.MonitoringTime = time.Nanosecond
	w.now = time.Now
	a := writeFile(t, w.cfg.SourceDir, "a.pdf", "one")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string)
	go w.WatchFile(ctx, batches)

	select {
	case batch := <-batches:
		assert.Equal(t, []string{a}, batch)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch received")
	}
}
