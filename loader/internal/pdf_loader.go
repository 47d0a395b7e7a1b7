package internal

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"askpdf/config"
	"askpdf/extractor"
	"askpdf/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FileState int

const (
	FileArchived FileState = iota
	FileBad
)

type seen struct {
	at      time.Time
	size    int64
	modTime time.Time
}

// Watcher reports files in the source directory once they have stayed
// unchanged for MonitoringTime.
type Watcher struct {
	cfg    config.LoaderConfig
	logger *zap.Logger
	now    func() time.Time

	fileMutex       sync.Mutex
	fileFirstSeen   map[string]seen
	filesProcessing map[string]bool
}

func NewWatcher(cfg config.LoaderConfig, logger *zap.Logger) (*Watcher, error) {
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:             cfg,
		logger:          logger.Named("watcher"),
		now:             time.Now,
		fileFirstSeen:   make(map[string]seen),
		filesProcessing: make(map[string]bool),
	}, nil
}

// WatchFile polls the source directory and sends each batch of ready files.
// It returns when ctx is done.
func (w *Watcher) WatchFile(ctx context.Context, batches chan<- []string) {
	w.logger.Info("start monitoring folder", zap.String("dir", w.cfg.SourceDir))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped")
			return
		case <-ticker.C:
			ready, err := w.Scan()
			if err != nil {
				w.logger.Error("error while reading source directory", zap.Error(err))
				continue
			}
			if len(ready) == 0 {
				continue
			}
			select {
			case batches <- ready:
			case <-ctx.Done():
				w.Release(ready)
				return
			}
		}
	}
}

// Scan does one pass over the source directory. Returned files are marked as
// processing until Release or Done is called for them.
func (w *Watcher) Scan() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		return nil, err
	}

	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()

	now := w.now()
	current := make(map[string]bool, len(entries))
	var ready []string

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, e.Name())
		current[path] = true

		if w.filesProcessing[path] {
			continue
		}

		prev, exists := w.fileFirstSeen[path]
		if !exists || prev.size != info.Size() || !prev.modTime.Equal(info.ModTime()) {
			if !exists {
				w.logger.Info("new file detected", zap.String("file", path))
			}
			w.fileFirstSeen[path] = seen{at: now, size: info.Size(), modTime: info.ModTime()}
			continue
		}

		if now.Sub(prev.at) < w.cfg.MonitoringTime {
			w.logger.Debug("file is not ready yet", zap.String("file", path))
			continue
		}
		w.filesProcessing[path] = true
		ready = append(ready, path)
	}

	for path := range w.fileFirstSeen {
		if !current[path] {
			delete(w.fileFirstSeen, path)
			delete(w.filesProcessing, path)
			w.logger.Info("file removed from tracking", zap.String("file", path))
		}
	}

	sort.Strings(ready)
	return ready, nil
}

// Release makes files eligible again on a later scan, keeping their stable
// time.
func (w *Watcher) Release(paths []string) {
	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()
	for _, p := range paths {
		delete(w.filesProcessing, p)
	}
}

// Done forgets files that left the source directory.
func (w *Watcher) Done(paths []string) {
	w.fileMutex.Lock()
	defer w.fileMutex.Unlock()
	for _, p := range paths {
		delete(w.filesProcessing, p)
		delete(w.fileFirstSeen, p)
	}
}

// ArchivedFiles lists every supported file under the archive directory.
func (w *Watcher) ArchivedFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.cfg.ArchiveDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && extractor.Supported(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// LoadDocument reads a file from disk. The document id is derived from the
// path so the same file keeps its id across rebuilds.
func LoadDocument(path string) (types.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.Document{}, fmt.Errorf("file does not exist: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, err
	}
	return types.Document{
		ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(filepath.ToSlash(path))),
		Name:       filepath.Base(path),
		SourcePath: path,
		Data:       data,
		ModTime:    info.ModTime(),
	}, nil
}

// MoveToArchive moves a file into a dated folder of the archive or bad
// directory and returns its new path. Name clashes get a numeric suffix.
func (w *Watcher) MoveToArchive(path string, state FileState) (string, error) {
	root := w.cfg.ArchiveDir
	if state == FileBad {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(path))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(path, destPath); err != nil {
		// Rename fails across devices; fall back to copy and remove.
		if err := copyFile(path, destPath); err != nil {
			return "", fmt.Errorf("error moving file: %w", err)
		}
		if err := os.Remove(path); err != nil {
			return "", err
		}
	}

	w.logger.Info("file moved", zap.String("from", path), zap.String("to", destPath))
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
