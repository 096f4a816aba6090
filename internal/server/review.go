package server

import (
	"net/http"

	"github.com/lorekeep/entity-extractor/constants"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

type reviewRequest struct {
	CandidateIDs []int64 `json:"candidate_ids"`
	Decision     string  `json:"decision"`
	ReviewerID   int64   `json:"reviewer_id"`
}

func (h *handler) reviewCandidates(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	updated, err := h.reviews.Review(r.Context(), req.CandidateIDs, constants.ReviewDecision(req.Decision), req.ReviewerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated_count": updated})
}

func (h *handler) listDuplicates(w http.ResponseWriter, r *http.Request) {
	candidateID, err := pathID(r, "candidateID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	matches, err := h.reviews.Duplicates(r.Context(), candidateID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if matches == nil {
		matches = []*entity.DuplicateMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

type resolveRequest struct {
	EntityID    int64  `json:"entity_id"`
	Disposition string `json:"disposition"`
	ReviewerID  int64  `json:"reviewer_id"`
}

func (h *handler) resolveDuplicate(w http.ResponseWriter, r *http.Request) {
	candidateID, err := pathID(r, "candidateID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	err = h.reviews.Resolve(r.Context(), candidateID, req.EntityID, constants.Disposition(req.Disposition), req.ReviewerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
