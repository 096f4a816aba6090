package server

import (
	"fmt"
	"net/http"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
	"github.com/lorekeep/entity-extractor/internal/jobs"
)

type startExtractionRequest struct {
	Text         string `json:"text"`
	CollectionID int64  `json:"collection_id"`
	RequesterID  int64  `json:"requester_id"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
}

func (req startExtractionRequest) toStartRequest() jobs.StartRequest {
	return jobs.StartRequest{
		Text:         req.Text,
		CollectionID: req.CollectionID,
		RequesterID:  req.RequesterID,
		ChunkSize:    req.ChunkSize,
		Provider:     req.Provider,
		Model:        req.Model,
	}
}

func (h *handler) startExtraction(w http.ResponseWriter, r *http.Request) {
	var req startExtractionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.extractions.Start(r.Context(), req.toStartRequest())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *handler) estimateExtraction(w http.ResponseWriter, r *http.Request) {
	var req startExtractionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	est, err := h.extractions.Estimate(r.Context(), req.toStartRequest())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *handler) getProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	progress, err := h.extractions.GetProgress(r.Context(), jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) cancelExtraction(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	job, err := h.extractions.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	filter, page, perPage, err := candidateQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.candidates.List(r.Context(), jobID, filter, page, perPage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func candidateQuery(r *http.Request) (entity.CandidateFilter, int, int, error) {
	var filter entity.CandidateFilter

	page, err := queryInt(r, "page", 1)
	if err != nil {
		return filter, 0, 0, err
	}
	perPage, err := queryInt(r, "per_page", constants.DefaultPerPage)
	if err != nil {
		return filter, 0, 0, err
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		et, ok := constants.CanonicalizeEntityType(raw)
		if !ok {
			return filter, 0, 0, common.ValidationErrorf("unknown entity type: %q", raw)
		}
		filter.EntityType = &et
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !constants.IsValidCandidateStatus(raw) {
			return filter, 0, 0, common.ValidationErrorf("unknown candidate status: %q", raw)
		}
		status := constants.CandidateStatus(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		minConf, err := queryInt(r, "min_confidence", 0)
		if err != nil {
			return filter, 0, 0, err
		}
		if minConf < 0 || minConf > 100 {
			return filter, 0, 0, common.ValidationErrorf("min_confidence out of range: %d", minConf)
		}
		filter.MinConfidence = &minConf
	}

	return filter, page, perPage, nil
}

type materializeRequest struct {
	CandidateIDs []int64 `json:"candidate_ids"`
	ReviewerID   int64   `json:"reviewer_id"`
}

func (h *handler) materialize(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req materializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	created, err := h.materializer.Materialize(r.Context(), jobID, req.CandidateIDs, req.ReviewerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"created_entity_ids": created})
}

func (h *handler) exportCandidates(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if format := r.URL.Query().Get("format"); format != "" && format != "xlsx" {
		writeError(w, r, h.logger, common.ValidationErrorf("unsupported export format: %q", format))
		return
	}

	data, err := h.exporter.CandidatesXLSX(r.Context(), jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("candidates-job-%d.xlsx", jobID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
