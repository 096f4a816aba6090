package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/dedup"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/llm"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

type fakeJobs struct {
	repository.JobRepository
	mu        sync.Mutex
	job       *entity.ExtractionJob
	text      string
	claimOK   bool
	processed int
	tokens    int
	cost      float64
	retries   int
	completed bool
	failed    bool
	failMsg   string
	cancelled bool
}

func (f *fakeJobs) StartProcessing(ctx context.Context, id int64) (bool, error) {
	return f.claimOK, nil
}

func (f *fakeJobs) GetByID(ctx context.Context, id int64) (*entity.ExtractionJob, error) {
	return f.job, nil
}

func (f *fakeJobs) GetSourceText(ctx context.Context, id int64) (string, error) {
	return f.text, nil
}

func (f *fakeJobs) IncrementProcessed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed++
	return nil
}

func (f *fakeJobs) AddUsage(ctx context.Context, id int64, tokens int, costUSD float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens += tokens
	f.cost += costUSD
	return nil
}

func (f *fakeJobs) AddRetries(ctx context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries += n
	return nil
}

func (f *fakeJobs) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	return true, nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id int64, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
	f.failMsg = message
	return true, nil
}

func (f *fakeJobs) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	won := !f.cancelled
	f.cancelled = true
	return won, nil
}

type fakeCandidates struct {
	repository.CandidateRepository
	mu       sync.Mutex
	stored   map[int][]*entity.EntityCandidate
	calls    map[int]int
	failFor  map[int]int
	dupMarks map[int64]int64
}

func newFakeCandidates() *fakeCandidates {
	return &fakeCandidates{
		stored:   make(map[int][]*entity.EntityCandidate),
		calls:    make(map[int]int),
		failFor:  make(map[int]int),
		dupMarks: make(map[int64]int64),
	}
}

func (f *fakeCandidates) ReplaceChunkCandidates(ctx context.Context, jobID int64, chunkIndex int, cands []*entity.EntityCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[chunkIndex]++
	if f.failFor[chunkIndex] > 0 {
		f.failFor[chunkIndex]--
		return common.PersistenceError("write rejected", nil)
	}
	for i, c := range cands {
		c.ID = int64(chunkIndex*100 + i + 1)
		c.JobID = jobID
		c.ChunkIndex = chunkIndex
	}
	f.stored[chunkIndex] = cands
	return nil
}

func (f *fakeCandidates) ListByJob(ctx context.Context, jobID int64) ([]*entity.EntityCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	indexes := make([]int, 0, len(f.stored))
	for idx := range f.stored {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	var out []*entity.EntityCandidate
	for _, idx := range indexes {
		out = append(out, f.stored[idx]...)
	}
	return out, nil
}

func (f *fakeCandidates) MarkDuplicate(ctx context.Context, id, duplicateOfID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dupMarks[id] = duplicateOfID
	return nil
}

type fakeMatches struct {
	repository.MatchRepository
	mu       sync.Mutex
	inserted []*entity.DuplicateMatch
}

func (f *fakeMatches) InsertMatches(ctx context.Context, matches []*entity.DuplicateMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, matches...)
	return nil
}

type fakeEntities struct {
	repository.EntityRepository
	corpus []*entity.CorpusEntity
}

func (f *fakeEntities) ListByCollection(ctx context.Context, collectionID int64) ([]*entity.CorpusEntity, error) {
	return f.corpus, nil
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []int
	results map[int]*llm.ExtractResult
	errs    map[int]error
	onCall  func(chunkIndex int)
}

func (f *fakeExtractor) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.ExtractResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.ChunkIndex)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(req.ChunkIndex)
	}
	res := f.results[req.ChunkIndex]
	if res == nil {
		res = &llm.ExtractResult{Attempts: 1}
	}
	if err := f.errs[req.ChunkIndex]; err != nil {
		return res, err
	}
	return res, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pendingCandidate(name string) *entity.EntityCandidate {
	return &entity.EntityCandidate{
		Name:       name,
		EntityType: constants.EntityTypePerson,
		Confidence: 80,
		Status:     constants.CandidateStatusPending,
	}
}

type harness struct {
	jobs       *fakeJobs
	candidates *fakeCandidates
	matches    *fakeMatches
	entities   *fakeEntities
	extractor  *fakeExtractor
	processor  *Processor
}

// newHarness wires a processor over fakes. The source text chunks into two
// sentences of five runes each at chunk size 5.
func newHarness(extractor *fakeExtractor) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := &fakeJobs{
		job:     &entity.ExtractionJob{ID: 1, CollectionID: 7, ChunkSize: 5, TotalChunks: 2, Status: constants.JobStatusPending},
		text:    "One. Two.",
		claimOK: true,
	}
	candidates := newFakeCandidates()
	matches := &fakeMatches{}
	entities := &fakeEntities{}
	detector := dedup.NewDetector(dedup.Config{}, nil, logger)

	extract := NewExtractStage(jobs, candidates, extractor, 2, logger)
	dedupStage := NewDedupStage(candidates, matches, entities, detector, logger)
	return &harness{
		jobs:       jobs,
		candidates: candidates,
		matches:    matches,
		entities:   entities,
		extractor:  extractor,
		processor:  NewProcessor(logger, jobs, extract, dedupStage),
	}
}

func TestProcessorHappyPath(t *testing.T) {
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Usage: llm.Usage{InputTokens: 100, OutputTokens: 20}, CostUSD: 0.01, Attempts: 1},
			1: {Candidates: []*entity.EntityCandidate{pendingCandidate("Winterfell")}, Usage: llm.Usage{InputTokens: 90, OutputTokens: 10}, CostUSD: 0.02, Attempts: 2},
		},
	}
	h := newHarness(extractor)

	err := h.processor.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, h.jobs.completed)
	assert.False(t, h.jobs.failed)
	assert.Equal(t, 2, h.jobs.processed)
	assert.Equal(t, 220, h.jobs.tokens)
	assert.InDelta(t, 0.03, h.jobs.cost, 1e-9)
	assert.Equal(t, 1, h.jobs.retries, "second attempt on chunk 1 counts as one retry")

	require.Len(t, h.candidates.stored[0], 1)
	require.Len(t, h.candidates.stored[1], 1)
	assert.Equal(t, int64(1), h.candidates.stored[0][0].JobID)
}

func TestProcessorScreensDuplicates(t *testing.T) {
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Attempts: 1},
			1: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Attempts: 1},
		},
	}
	h := newHarness(extractor)
	h.entities.corpus = []*entity.CorpusEntity{{ID: 50, CollectionID: 7, Name: "Jon Snow"}}

	err := h.processor.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, h.matches.inserted, 2, "both candidates match the corpus entity")
	for _, m := range h.matches.inserted {
		assert.Equal(t, int64(50), m.EntityID)
		assert.Equal(t, constants.MatchMethodExact, m.Method)
		assert.Equal(t, 100, m.Score)
	}

	first := h.candidates.stored[0][0].ID
	second := h.candidates.stored[1][0].ID
	assert.Equal(t, map[int64]int64{second: first}, h.candidates.dupMarks,
		"later candidate is flagged as an intra-job duplicate of the earlier one")
}

func TestProcessorChunkFailureKeepsPartialResults(t *testing.T) {
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Usage: llm.Usage{InputTokens: 80, OutputTokens: 0}, CostUSD: 0.005, Attempts: 3},
			1: {Candidates: []*entity.EntityCandidate{pendingCandidate("Winterfell")}, Attempts: 1},
		},
		errs: map[int]error{
			0: common.PermanentProviderError("openai response malformed after retry", errors.New("bad json")),
		},
	}
	h := newHarness(extractor)

	err := h.processor.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, common.CodeChunkFailure, common.CodeOf(err))

	assert.True(t, h.jobs.failed)
	assert.False(t, h.jobs.completed)
	assert.Contains(t, h.jobs.failMsg, "chunk 0")

	assert.Equal(t, 2, h.extractor.callCount(), "remaining chunks still run after a failure")
	assert.Len(t, h.candidates.stored[1], 1, "partial results stay visible")
	assert.Equal(t, 2, h.jobs.processed)
	assert.Equal(t, 80, h.jobs.tokens, "failed calls still bill their tokens")
	assert.Equal(t, 2, h.jobs.retries)
}

func TestProcessorSkipsWhenClaimLost(t *testing.T) {
	extractor := &fakeExtractor{}
	h := newHarness(extractor)
	h.jobs.claimOK = false

	err := h.processor.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, extractor.callCount())
	assert.False(t, h.jobs.completed)
	assert.False(t, h.jobs.failed)
}

func TestProcessorCancelledBeforeDispatch(t *testing.T) {
	extractor := &fakeExtractor{}
	h := newHarness(extractor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.processor.Run(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, extractor.callCount())
	assert.False(t, h.jobs.completed)
	assert.False(t, h.jobs.failed)
	assert.True(t, h.jobs.cancelled, "row lands terminal even when cancel came from shutdown")
}

func TestProcessorTimeoutMarksJobFailed(t *testing.T) {
	extractor := &fakeExtractor{}
	h := newHarness(extractor)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := h.processor.Run(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, h.jobs.failed)
	assert.Equal(t, "processing timed out", h.jobs.failMsg)
	assert.False(t, h.jobs.cancelled)
}

func TestProcessorCancelMidJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Attempts: 1},
		},
		onCall: func(chunkIndex int) {
			if chunkIndex == 0 {
				cancel()
			}
		},
	}
	h := newHarness(extractor)

	err := h.processor.Run(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.jobs.completed)
	assert.False(t, h.jobs.failed)
	assert.True(t, h.jobs.cancelled)
	assert.Empty(t, h.matches.inserted, "dedup never runs for a cancelled job")
}

func TestExtractStageRetriesPersistenceOnce(t *testing.T) {
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Attempts: 1},
			1: {Candidates: []*entity.EntityCandidate{pendingCandidate("Winterfell")}, Attempts: 1},
		},
	}
	h := newHarness(extractor)
	h.candidates.failFor[0] = 1

	err := h.processor.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, h.candidates.calls[0], "first write fails, the retry lands")
	assert.True(t, h.jobs.completed)
}

func TestExtractStagePersistenceExhaustedFailsJob(t *testing.T) {
	extractor := &fakeExtractor{
		results: map[int]*llm.ExtractResult{
			0: {Candidates: []*entity.EntityCandidate{pendingCandidate("Jon Snow")}, Attempts: 1},
			1: {Candidates: []*entity.EntityCandidate{pendingCandidate("Winterfell")}, Attempts: 1},
		},
	}
	h := newHarness(extractor)
	h.candidates.failFor[0] = 2

	err := h.processor.Run(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, common.CodeChunkFailure, common.CodeOf(err))
	assert.True(t, h.jobs.failed)
	assert.Equal(t, 2, h.candidates.calls[0])
	assert.Len(t, h.candidates.stored[1], 1)
}
