package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"schoolbell/internal/auth"
	"schoolbell/internal/authoring"
	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

// ErrorResponse is the error shape of every API error.
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorFields(w, status, code, message, nil)
}

func writeErrorFields(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	resp := ErrorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Fields = fields
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors to statuses. Anything unrecognized is a
// 500 and is logged; its text is not sent to the client.
func writeServiceError(w http.ResponseWriter, log logx.Logger, err error) {
	var (
		fe schedule.FieldErrors
		ie *schedule.InputError
	)
	switch {
	case errors.As(err, &fe):
		writeErrorFields(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid input", fe)
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", ie.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, authoring.ErrForeignSchedule):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
	default:
		log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
