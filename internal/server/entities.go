package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lorekeep/entity-extractor/internal/common"
	"github.com/lorekeep/entity-extractor/internal/entity"
)

const defaultSearchLimit = 20

func (h *handler) searchEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	collectionID, err := strconv.ParseInt(q.Get("collection_id"), 10, 64)
	if err != nil || collectionID <= 0 {
		writeError(w, r, h.logger, common.ValidationError("collection_id is required"))
		return
	}
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, r, h.logger, common.ValidationError("q is required"))
		return
	}
	limit, err := queryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	results, err := h.entities.Search(r.Context(), collectionID, query, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if results == nil {
		results = []*entity.CorpusEntity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": results})
}
