package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/jobs"
)

// JobSubmitter starts extraction jobs for dropped files.
type JobSubmitter interface {
	Start(ctx context.Context, req jobs.StartRequest) (*jobs.StartResult, error)
}

// Service turns files appearing in a drop directory into extraction jobs.
// Files are deduplicated by content hash so a rename or a re-emitted
// filesystem event never submits the same text twice.
type Service struct {
	submitter JobSubmitter
	cfg       common.IngestConfig
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]int64 // content hash -> job id
}

func NewService(submitter JobSubmitter, cfg common.IngestConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
		seen:      make(map[string]int64),
	}
}

// Run watches the configured drop directory until ctx is cancelled. Existing
// files are picked up on start; failures on individual files are logged and
// skipped so one bad file never stops the watcher.
func (s *Service) Run(ctx context.Context) error {
	evCh, errCh, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{s.cfg.WatchDir},
		InitialScan: true,
		Debounce:    s.cfg.Debounce,
	})
	if err != nil {
		return err
	}
	s.logger.Info("ingest.watch.start", "dir", s.cfg.WatchDir, "collection_id", s.cfg.CollectionID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-evCh:
			if !ok {
				return nil
			}
			if _, _, err := s.IngestFile(ctx, path); err != nil {
				s.logger.Warn("ingest.file.failed", "path", path, "error", err)
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				s.logger.Error("ingest.watch.error", "error", err)
			}
		}
	}
}

// IngestFile submits one file as an extraction job. When the file's content
// was already submitted the original job ID is returned with dedup=true and
// no new job is created.
func (s *Service) IngestFile(ctx context.Context, path string) (int64, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return 0, false, common.ValidationError("file is empty")
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	s.mu.Lock()
	if jobID, ok := s.seen[key]; ok {
		s.mu.Unlock()
		s.logger.Info("ingest.file.dedup", "path", path, "job_id", jobID)
		return jobID, true, nil
	}
	s.mu.Unlock()

	res, err := s.submitter.Start(ctx, jobs.StartRequest{
		Text:         string(data),
		CollectionID: s.cfg.CollectionID,
		RequesterID:  s.cfg.RequesterID,
	})
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	s.seen[key] = res.JobID
	s.mu.Unlock()

	s.logger.Info("ingest.file.ok", "path", path, "job_id", res.JobID, "bytes", len(data))
	return res.JobID, false, nil
}
