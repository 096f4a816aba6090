package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/jobs"
	"github.com/lorekeep/entity-extractor/internal/repository"
)

type fakeExtractionSvc struct {
	lastStart   jobs.StartRequest
	startRes    *jobs.StartResult
	startErr    error
	estimate    entity.Estimate
	estimateErr error
	progress    *entity.Progress
	progressErr error
	cancelled   []int64
	cancelJob   *entity.ExtractionJob
	cancelErr   error
}

func (f *fakeExtractionSvc) Start(ctx context.Context, req jobs.StartRequest) (*jobs.StartResult, error) {
	f.lastStart = req
	return f.startRes, f.startErr
}

func (f *fakeExtractionSvc) Estimate(ctx context.Context, req jobs.StartRequest) (entity.Estimate, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeExtractionSvc) GetProgress(ctx context.Context, jobID int64) (*entity.Progress, error) {
	return f.progress, f.progressErr
}

func (f *fakeExtractionSvc) Cancel(ctx context.Context, jobID int64) (*entity.ExtractionJob, error) {
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelJob, f.cancelErr
}

type fakeReviewSvc struct {
	reviewed   []int64
	decision   constants.ReviewDecision
	reviewErr  error
	matches    []*entity.DuplicateMatch
	matchesErr error
	resolved   [][2]int64
	resolveErr error
}

func (f *fakeReviewSvc) Review(ctx context.Context, ids []int64, decision constants.ReviewDecision, reviewerID int64) (int, error) {
	if f.reviewErr != nil {
		return 0, f.reviewErr
	}
	f.reviewed = ids
	f.decision = decision
	return len(ids), nil
}

func (f *fakeReviewSvc) Duplicates(ctx context.Context, candidateID int64) ([]*entity.DuplicateMatch, error) {
	return f.matches, f.matchesErr
}

func (f *fakeReviewSvc) Resolve(ctx context.Context, candidateID, entityID int64, d constants.Disposition, reviewerID int64) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, [2]int64{candidateID, entityID})
	return nil
}

type fakeMaterializer struct {
	created []int64
	err     error
	lastIDs []int64
}

func (f *fakeMaterializer) Materialize(ctx context.Context, jobID int64, ids []int64, reviewerID int64) ([]int64, error) {
	f.lastIDs = ids
	return f.created, f.err
}

type fakeExporter struct {
	data []byte
	err  error
}

func (f *fakeExporter) CandidatesXLSX(ctx context.Context, jobID int64) ([]byte, error) {
	return f.data, f.err
}

type fakeCandidateRepo struct {
	repository.CandidateRepository
	lastFilter  entity.CandidateFilter
	lastPage    int
	lastPerPage int
	page        *entity.CandidatePage
}

func (f *fakeCandidateRepo) List(ctx context.Context, jobID int64, filter entity.CandidateFilter, page, perPage int) (*entity.CandidatePage, error) {
	f.lastFilter = filter
	f.lastPage = page
	f.lastPerPage = perPage
	return f.page, nil
}

type fakeEntityRepo struct {
	repository.EntityRepository
	results []*entity.CorpusEntity
}

func (f *fakeEntityRepo) Search(ctx context.Context, collectionID int64, query string, limit int) ([]*entity.CorpusEntity, error) {
	return f.results, nil
}

type harness struct {
	extractions *fakeExtractionSvc
	reviews     *fakeReviewSvc
	material    *fakeMaterializer
	exporter    *fakeExporter
	candidates  *fakeCandidateRepo
	entities    *fakeEntityRepo
	healthErr   error
	router      chi.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		extractions: &fakeExtractionSvc{},
		reviews:     &fakeReviewSvc{},
		material:    &fakeMaterializer{},
		exporter:    &fakeExporter{},
		candidates:  &fakeCandidateRepo{page: &entity.CandidatePage{Candidates: []*entity.EntityCandidate{}}},
		entities:    &fakeEntityRepo{},
	}
	hd := &handler{
		extractions:  h.extractions,
		reviews:      h.reviews,
		materializer: h.material,
		exporter:     h.exporter,
		candidates:   h.candidates,
		entities:     h.entities,
		health:       func(ctx context.Context) error { return h.healthErr },
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.router = newRouter(common.ServerConfig{RequestTimeout: 5 * time.Second}, hd)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartExtraction(t *testing.T) {
	h := newHarness(t)
	h.extractions.startRes = &jobs.StartResult{
		JobID:    41,
		Estimate: entity.Estimate{Chunks: 3, Tokens: 3200, CostUSD: 0.0145},
	}

	rec := h.do(t, http.MethodPost, "/api/extractions", map[string]any{
		"text":          "Jon Snow rode north.",
		"collection_id": 7,
		"requester_id":  3,
		"chunk_size":    2000,
		"provider":      "openai",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 41, body["job_id"])
	assert.Equal(t, "Jon Snow rode north.", h.extractions.lastStart.Text)
	assert.Equal(t, int64(7), h.extractions.lastStart.CollectionID)
	assert.Equal(t, 2000, h.extractions.lastStart.ChunkSize)
}

func TestStartExtractionValidationError(t *testing.T) {
	h := newHarness(t)
	h.extractions.startErr = common.ValidationError("text is required")

	rec := h.do(t, http.MethodPost, "/api/extractions", map[string]any{"collection_id": 7})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, string(common.CodeValidation), body.Code)
}

func TestStartExtractionBadJSON(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/extractions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEstimateExtraction(t *testing.T) {
	h := newHarness(t)
	h.extractions.estimate = entity.Estimate{Chunks: 2, Tokens: 1800, CostUSD: 0.009}

	rec := h.do(t, http.MethodPost, "/api/extractions/estimate", map[string]any{
		"text":          "some text",
		"collection_id": 7,
		"requester_id":  3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[entity.Estimate](t, rec)
	assert.Equal(t, 2, body.Chunks)
}

func TestGetProgress(t *testing.T) {
	h := newHarness(t)
	h.extractions.progress = &entity.Progress{
		JobID:           9,
		Status:          constants.JobStatusProcessing,
		ProcessedChunks: 2,
		TotalChunks:     5,
	}

	rec := h.do(t, http.MethodGet, "/api/extractions/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[entity.Progress](t, rec)
	assert.Equal(t, constants.JobStatusProcessing, body.Status)
	assert.Equal(t, 5, body.TotalChunks)
}

func TestGetProgressNotFound(t *testing.T) {
	h := newHarness(t)
	h.extractions.progressErr = common.NotFoundError("job not found")

	rec := h.do(t, http.MethodGet, "/api/extractions/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProgressBadID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/extractions/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelExtraction(t *testing.T) {
	h := newHarness(t)
	h.extractions.cancelJob = &entity.ExtractionJob{ID: 9, Status: constants.JobStatusCancelled}

	rec := h.do(t, http.MethodPost, "/api/extractions/9/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{9}, h.extractions.cancelled)
}

func TestListCandidatesFilterParsing(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/extractions/9/candidates?page=2&per_page=10&type=person&status=pending&min_confidence=80", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, h.candidates.lastPage)
	assert.Equal(t, 10, h.candidates.lastPerPage)
	require.NotNil(t, h.candidates.lastFilter.EntityType)
	assert.Equal(t, constants.EntityTypePerson, *h.candidates.lastFilter.EntityType)
	require.NotNil(t, h.candidates.lastFilter.Status)
	assert.Equal(t, constants.CandidateStatusPending, *h.candidates.lastFilter.Status)
	require.NotNil(t, h.candidates.lastFilter.MinConfidence)
	assert.Equal(t, 80, *h.candidates.lastFilter.MinConfidence)
}

func TestListCandidatesRejectsUnknownType(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/extractions/9/candidates?type=dragon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/extractions/9/candidates?status=limbo", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/extractions/9/candidates?min_confidence=150", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewCandidates(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/candidates/review", map[string]any{
		"candidate_ids": []int64{1, 2, 3},
		"decision":      "approve",
		"reviewer_id":   42,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]int](t, rec)
	assert.Equal(t, 3, body["updated_count"])
	assert.Equal(t, constants.ReviewDecisionApprove, h.reviews.decision)
}

func TestReviewCandidatesStateConflict(t *testing.T) {
	h := newHarness(t)
	h.reviews.reviewErr = common.StateError("candidate 3 is materialized")

	rec := h.do(t, http.MethodPost, "/api/candidates/review", map[string]any{
		"candidate_ids": []int64{3},
		"decision":      "approve",
		"reviewer_id":   42,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMaterialize(t *testing.T) {
	h := newHarness(t)
	h.material.created = []int64{100, 101}

	rec := h.do(t, http.MethodPost, "/api/extractions/9/materialize", map[string]any{
		"candidate_ids": []int64{1, 2},
		"reviewer_id":   42,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string][]int64](t, rec)
	assert.Equal(t, []int64{100, 101}, body["created_entity_ids"])
	assert.Equal(t, []int64{1, 2}, h.material.lastIDs)
}

func TestMaterializeConflictBody(t *testing.T) {
	h := newHarness(t)
	h.material.err = &common.MaterializationError{
		CandidateID:   2,
		CandidateName: "Jon Snow",
		Reason:        "slug conflict could not be resolved",
	}

	rec := h.do(t, http.MethodPost, "/api/extractions/9/materialize", map[string]any{
		"candidate_ids": []int64{1, 2},
		"reviewer_id":   42,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody[materializationBody](t, rec)
	assert.Equal(t, string(common.CodeMaterialization), body.Code)
	assert.Equal(t, int64(2), body.CandidateID)
	assert.Equal(t, "Jon Snow", body.CandidateName)
	assert.Equal(t, "slug conflict could not be resolved", body.Reason)
}

func TestListDuplicates(t *testing.T) {
	h := newHarness(t)
	h.reviews.matches = []*entity.DuplicateMatch{
		{CandidateID: 1, EntityID: 50, Score: 100, Method: constants.MatchMethodExact},
	}

	rec := h.do(t, http.MethodGet, "/api/candidates/1/duplicates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string][]*entity.DuplicateMatch](t, rec)
	require.Len(t, body["matches"], 1)
	assert.Equal(t, int64(50), body["matches"][0].EntityID)
}

func TestResolveDuplicate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/candidates/1/duplicates/resolve", map[string]any{
		"entity_id":   50,
		"disposition": "merged",
		"reviewer_id": 42,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][2]int64{{1, 50}}, h.reviews.resolved)
}

func TestSearchEntities(t *testing.T) {
	h := newHarness(t)
	h.entities.results = []*entity.CorpusEntity{{ID: 50, Name: "Jon Snow"}}

	rec := h.do(t, http.MethodGet, "/api/entities/search?collection_id=7&q=jon", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string][]*entity.CorpusEntity](t, rec)
	require.Len(t, body["entities"], 1)
	assert.Equal(t, "Jon Snow", body["entities"][0].Name)
}

func TestSearchEntitiesRequiresParams(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/entities/search?q=jon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/entities/search?collection_id=7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCandidates(t *testing.T) {
	h := newHarness(t)
	h.exporter.data = []byte("workbook-bytes")

	rec := h.do(t, http.MethodGet, "/api/extractions/9/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "candidates-job-9.xlsx")
	assert.Equal(t, "workbook-bytes", rec.Body.String())
}

func TestExportCandidatesUnsupportedFormat(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/extractions/9/export?format=csv", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.healthErr = errors.New("connection refused")
	rec = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
