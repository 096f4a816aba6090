package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lorekeep/entity-extractor/internal/common"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// materializationBody names the candidate that aborted the batch so the
// client can surface it without parsing the message.
type materializationBody struct {
	Code          string `json:"code"`
	Error         string `json:"error"`
	CandidateID   int64  `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
	Reason        string `json:"reason"`
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return common.ValidationErrorf("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("http.request.failed",
			"request_id", common.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}

	var me *common.MaterializationError
	if errors.As(err, &me) {
		writeJSON(w, status, materializationBody{
			Code:          string(common.CodeMaterialization),
			Error:         me.Error(),
			CandidateID:   me.CandidateID,
			CandidateName: me.CandidateName,
			Reason:        me.Reason,
		})
		return
	}
	writeJSON(w, status, errorBody{Code: string(common.CodeOf(err)), Error: err.Error()})
}

// pathID parses the named chi URL parameter as a positive int64.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.ValidationErrorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.ValidationErrorf("invalid %s: %q", name, raw)
	}
	return n, nil
}
