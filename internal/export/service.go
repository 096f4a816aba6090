package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lorekeep/entity-extractor/internal/repository"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	jobs       repository.JobRepository
	candidates repository.CandidateRepository
	matches    repository.MatchRepository
	logger     *slog.Logger
}

func NewService(jobs repository.JobRepository, candidates repository.CandidateRepository, matches repository.MatchRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, candidates: candidates, matches: matches, logger: logger}
}

// CandidatesXLSX returns an XLSX workbook (as bytes) with every candidate of
// the given job, one row per candidate, plus its duplicate-match count so a
// reviewer can triage offline.
func (s *Service) CandidatesXLSX(ctx context.Context, jobID int64) ([]byte, error) {
	start := time.Now()

	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}

	cands, err := s.candidates.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	dupCounts, err := s.matches.CountsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("query match counts: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Candidates"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Name",
		"Type",
		"Status",
		"Confidence",
		"Aliases",
		"Description",
		"Chunk",
		"Offset",
		"Duplicate Matches",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, c := range cands {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, c.Name)
		write(2, string(c.EntityType))
		write(3, string(c.Status))
		write(4, c.Confidence)
		write(5, strings.Join(c.Aliases, "; "))
		write(6, truncate(c.Description, 140))
		write(7, c.ChunkIndex)
		write(8, c.CharOffset)
		write(9, dupCounts[c.ID])

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 28) // name
	_ = f.SetColWidth(sheet, "B", "C", 14) // type, status
	_ = f.SetColWidth(sheet, "E", "E", 36) // aliases
	_ = f.SetColWidth(sheet, "F", "F", 48) // description

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", jobID,
		"rows", len(cands),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
