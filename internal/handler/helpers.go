package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/supportdesk/internal/chaterr"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/middleware"
	"github.com/supportdesk/internal/model"
	"github.com/supportdesk/internal/repository"
	"github.com/supportdesk/internal/ws"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

// conflictResponse is the 409 body of a create that found an open conversation.
type conflictResponse struct {
	Error          string `json:"error"`
	ConversationID string `json:"conversationId"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// writeDomainError maps repository, relay and taxonomy errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	var exists *repository.ExistsError
	switch {
	case errors.As(err, &exists):
		writeJSON(w, http.StatusConflict, conflictResponse{Error: "conversation already exists", ConversationID: exists.ExistingID})
	case chaterr.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case chaterr.IsRejected(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ws.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		logger.Errorf("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
