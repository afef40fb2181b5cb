// ABOUTME: JSON response helpers and error classification for the HTTP API
// ABOUTME: Validation errors map to 400, missing records to 404, everything else to 500

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/entropy-chat/internal/conversation"
	"github.com/2389/entropy-chat/internal/store"
	"github.com/2389/entropy-chat/internal/vault"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorCodes maps specific sentinels to machine-readable codes, most specific first.
var errorCodes = []struct {
	err  error
	code string
}{
	{store.ErrCountMismatch, "count_mismatch"},
	{store.ErrUnknownID, "unknown_id"},
	{store.ErrDuplicateID, "duplicate_id"},
	{store.ErrEmptyName, "empty_name"},
	{store.ErrNameTooLong, "name_too_long"},
	{store.ErrEmptyAttribute, "empty_attribute"},
	{store.ErrNoUpdateFields, "no_update_fields"},
	{store.ErrEmptyContent, "empty_content"},
	{store.ErrInvalidRole, "invalid_role"},
	{store.ErrEmptyID, "empty_id"},
	{conversation.ErrEmptyPrompt, "empty_prompt"},
	{conversation.ErrMissingConversationID, "missing_conversation_id"},
	{vault.ErrEmptyKey, "empty_api_key"},
	{store.ErrSpaceNotFound, "space_not_found"},
	{store.ErrConversationNotFound, "conversation_not_found"},
	{store.ErrSettingNotFound, "setting_not_found"},
	{store.ErrValidation, "invalid"},
	{store.ErrNotFound, "not_found"},
}

// classify returns the status and code for err.
func classify(err error) (int, string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, vault.ErrEmptyKey):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		return status, "internal"
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return status, ec.code
		}
	}
	return status, "invalid"
}

// writeJSON writes v as the JSON response body.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// sendError classifies err and writes it. Internal errors are logged and
// reported without detail.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, status, code, "internal server error")
		return
	}
	g.sendJSONError(w, status, code, err.Error())
}

// decodeJSON reads the request body into v, replying 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

const maxBodyBytes = 1 << 20
