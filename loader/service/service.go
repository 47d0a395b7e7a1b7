package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"askpdf/loader/internal"
	"askpdf/ragerr"
	"askpdf/types"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Ingester interface {
	Ingest(ctx context.Context, handle string, docs []types.Document) (*types.IngestReport, error)
}

// Service rebuilds the index from the archive plus newly dropped files each
// time the watcher reports a batch.
type Service struct {
	logger   *zap.Logger
	watcher  *internal.Watcher
	ingester Ingester
	handle   string
}

func New(w *internal.Watcher, ing Ingester, handle string, logger *zap.Logger) *Service {
	return &Service{
		logger:   logger.Named("loader"),
		watcher:  w,
		ingester: ing,
		handle:   handle,
	}
}

// Run blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	batches := make(chan []string, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(batches)
		s.watcher.WatchFile(ctx, batches)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range batches {
			if err := s.Process(ctx, batch); err != nil {
				s.logger.Error("batch failed", zap.Strings("files", batch), zap.Error(err))
			}
		}
	}()

	<-ctx.Done()
	s.logger.Info("received shutdown signal, shutting down gracefully")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all goroutines stopped")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("timeout waiting for goroutines to stop")
	}
}

// Process ingests the archived corpus together with batch. New files go to
// the archive on success. A file that fails on its own, new or archived, goes
// to the bad directory and the rebuild is retried without it. Transient
// failures leave the files in place for the next scan.
func (s *Service) Process(ctx context.Context, batch []string) error {
	pending := batch
	for len(pending) > 0 {
		docs, bad := s.load(pending)
		for _, path := range bad {
			_ = s.reject(path)
		}
		pending = without(pending, bad...)
		if len(pending) == 0 {
			return nil
		}

		archived, err := s.watcher.ArchivedFiles()
		if err != nil {
			s.watcher.Release(pending)
			return err
		}
		corpus, unreadable := s.load(archived)
		for _, path := range unreadable {
			_ = s.reject(path)
		}
		corpus = append(corpus, docs...)

		report, err := s.ingester.Ingest(ctx, s.handle, corpus)
		if err == nil {
			s.logger.Info("index rebuilt",
				zap.String("handle", report.Handle),
				zap.Int("documents", report.Documents),
				zap.Int("chunks", report.Chunks),
				zap.String("took", report.Took),
			)
			s.archive(pending)
			return nil
		}

		culprit := sourceOf(corpus, ragerr.DocumentIDOf(err))
		if culprit == "" || ragerr.IsRetryable(err) || errors.Is(err, context.Canceled) {
			s.watcher.Release(pending)
			return err
		}

		s.logger.Warn("file rejected by ingest", zap.String("file", culprit), zap.Error(err))
		if rerr := s.reject(culprit); rerr != nil {
			s.watcher.Release(pending)
			return err
		}
		pending = without(pending, culprit)
	}
	return nil
}

func (s *Service) load(paths []string) ([]types.Document, []string) {
	var (
		docs []types.Document
		bad  []string
	)
	for _, path := range paths {
		doc, err := internal.LoadDocument(path)
		if err != nil {
			s.logger.Warn("cannot read file", zap.String("file", path), zap.Error(err))
			bad = append(bad, path)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, bad
}

func (s *Service) archive(paths []string) {
	for _, path := range paths {
		if _, err := s.watcher.MoveToArchive(path, internal.FileArchived); err != nil {
			s.logger.Error("error archiving file", zap.String("file", path), zap.Error(err))
		}
	}
	s.watcher.Done(paths)
}

func (s *Service) reject(path string) error {
	_, err := s.watcher.MoveToArchive(path, internal.FileBad)
	if err != nil {
		s.logger.Error("error moving file to bad", zap.String("file", path), zap.Error(err))
	}
	s.watcher.Done([]string{path})
	return err
}

// sourceOf maps a document id back to the file it was loaded from.
func sourceOf(docs []types.Document, id string) string {
	if id == "" {
		return ""
	}
	for _, d := range docs {
		if d.ID.String() == id {
			return d.SourcePath
		}
	}
	return ""
}

func without(paths []string, drop ...string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		skip := false
		for _, d := range drop {
			if p == d {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, p)
		}
	}
	return out
}
