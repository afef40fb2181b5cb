// ABOUTME: HTTP API handlers for spaces, conversations, messages, settings and credentials
// ABOUTME: JSON in and out; mutating routes honour Idempotency-Key

package gateway

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/2389/entropy-chat/internal/store"
)

// CreateSpaceRequest is the JSON request body for POST /api/spaces.
type CreateSpaceRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// UpdateSpaceRequest is the JSON request body for PATCH /api/spaces/{id}.
// An absent field is left alone; color or icon set to null is cleared.
type UpdateSpaceRequest struct {
	Name  *string        `json:"name"`
	Color optionalString `json:"color"`
	Icon  optionalString `json:"icon"`
}

// ReorderRequest is the JSON request body of the reorder routes.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Title   string `json:"title,omitempty"`
	SpaceID string `json:"spaceId,omitempty"`
}

// PinRequest is the JSON request body for POST /api/conversations/{id}/pin.
type PinRequest struct {
	Pinned *bool `json:"pinned"`
}

// MoveRequest is the JSON request body for POST /api/conversations/{id}/move.
type MoveRequest struct {
	SpaceID string `json:"spaceId"`
}

// InsertMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type InsertMessageRequest struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	TokensUsed *int   `json:"tokensUsed,omitempty"`
}

// SettingRequest is the JSON request body for PUT /api/settings/{key}.
type SettingRequest struct {
	Value string `json:"value"`
}

// SettingResponse is the JSON response for the settings routes.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CredentialRequest is the JSON request body for PUT /api/credentials.
type CredentialRequest struct {
	APIKey string `json:"apiKey"`
}

// CredentialStatusResponse is the JSON response for GET /api/credentials.
// The key itself is never returned.
type CredentialStatusResponse struct {
	Configured bool `json:"configured"`
}

// optionalString distinguishes an absent JSON field from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// nullString converts to the store's update form: nil leaves the column,
// an invalid NullString clears it.
func (o optionalString) nullString() *sql.NullString {
	if !o.Set {
		return nil
	}
	if o.Value == nil {
		return &sql.NullString{}
	}
	return &sql.NullString{String: *o.Value, Valid: true}
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/spaces", g.handleListSpaces)
	mux.HandleFunc("POST /api/spaces", g.idempotent(g.handleCreateSpace))
	mux.HandleFunc("PUT /api/spaces/order", g.idempotent(g.handleReorderSpaces))
	mux.HandleFunc("GET /api/spaces/{id}", g.handleGetSpace)
	mux.HandleFunc("PATCH /api/spaces/{id}", g.idempotent(g.handleUpdateSpace))
	mux.HandleFunc("PUT /api/spaces/{id}/pinned-order", g.idempotent(g.handleReorderPinned))

	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("POST /api/conversations", g.idempotent(g.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/pin", g.idempotent(g.handlePinConversation))
	mux.HandleFunc("POST /api/conversations/{id}/move", g.idempotent(g.handleMoveConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", g.idempotent(g.handleInsertMessage))
	mux.HandleFunc("GET /api/conversations/{id}/events", g.handleConversationEvents)
	mux.HandleFunc("GET /api/conversations/{id}/transcript", g.handleTranscript)

	mux.HandleFunc("POST /api/streams", g.handleStartStream)
	mux.HandleFunc("GET /api/streams/{id}", g.handleStreamStatus)
	mux.HandleFunc("DELETE /api/streams/{id}", g.handleCancelStream)

	mux.HandleFunc("GET /api/settings/{key}", g.handleGetSetting)
	mux.HandleFunc("PUT /api/settings/{key}", g.idempotent(g.handleSetSetting))

	mux.HandleFunc("GET /api/credentials", g.handleCredentialStatus)
	mux.HandleFunc("PUT /api/credentials", g.idempotent(g.handleSetCredential))
}

// handleListSpaces handles GET /api/spaces.
func (g *Gateway) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := g.store.ListSpaces(r.Context())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, spaces)
}

// handleGetSpace handles GET /api/spaces/{id}.
func (g *Gateway) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	space, err := g.store.GetSpace(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, space)
}

// handleCreateSpace handles POST /api/spaces.
func (g *Gateway) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var req CreateSpaceRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	space, err := g.store.CreateSpace(r.Context(), store.SpaceInput{
		Name:  req.Name,
		Color: req.Color,
		Icon:  req.Icon,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, space)
}

// handleUpdateSpace handles PATCH /api/spaces/{id}.
func (g *Gateway) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	var req UpdateSpaceRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	space, err := g.store.UpdateSpace(r.Context(), r.PathValue("id"), store.SpaceUpdate{
		Name:  req.Name,
		Color: req.Color.nullString(),
		Icon:  req.Icon.nullString(),
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, space)
}

// handleReorderSpaces handles PUT /api/spaces/order.
func (g *Gateway) handleReorderSpaces(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if err := g.store.ReorderSpaces(r.Context(), req.IDs); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReorderPinned handles PUT /api/spaces/{id}/pinned-order.
func (g *Gateway) handleReorderPinned(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if err := g.store.ReorderPinnedConversations(r.Context(), r.PathValue("id"), req.IDs); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListConversations(r.Context())
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	g.writeJSON(w, http.StatusOK, convs)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleCreateConversation handles POST /api/conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	conv, err := g.store.CreateConversation(r.Context(), store.ConversationInput{
		Title:   req.Title,
		SpaceID: req.SpaceID,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, conv)
}

// handlePinConversation handles POST /api/conversations/{id}/pin.
func (g *Gateway) handlePinConversation(w http.ResponseWriter, r *http.Request) {
	var req PinRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if req.Pinned == nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid", "pinned is required")
		return
	}
	conv, err := g.store.PinConversation(r.Context(), r.PathValue("id"), *req.Pinned)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleMoveConversation handles POST /api/conversations/{id}/move.
func (g *Gateway) handleMoveConversation(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	conv, err := g.store.MoveConversationToSpace(r.Context(), r.PathValue("id"), req.SpaceID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleListMessages handles GET /api/conversations/{id}/messages.
// An unknown conversation has no messages rather than being an error.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.store.ListMessagesByConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleInsertMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleInsertMessage(w http.ResponseWriter, r *http.Request) {
	var req InsertMessageRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	id := r.PathValue("id")
	// Check first so a dangling id is a 404, not a foreign key failure
	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		g.sendError(w, r, err)
		return
	}
	msg, err := g.store.InsertMessage(r.Context(), store.MessageInput{
		ConversationID: id,
		Role:           store.Role(req.Role),
		Content:        req.Content,
		Model:          req.Model,
		TokensUsed:     req.TokensUsed,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleTranscript handles GET /api/conversations/{id}/transcript.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := g.exporter.Export(r.Context(), id, w); err != nil {
		g.logger.Error("failed to render transcript", "conversation_id", id, "error", err)
	}
}

// handleGetSetting handles GET /api/settings/{key}.
func (g *Gateway) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := g.store.GetSetting(r.Context(), key)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, SettingResponse{Key: key, Value: value})
}

// handleSetSetting handles PUT /api/settings/{key}.
func (g *Gateway) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	key := r.PathValue("key")
	if err := g.store.SetSetting(r.Context(), key, req.Value); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, SettingResponse{Key: key, Value: req.Value})
}

// handleCredentialStatus handles GET /api/credentials.
func (g *Gateway) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, CredentialStatusResponse{Configured: g.vault.HasKey(r.Context())})
}

// handleSetCredential handles PUT /api/credentials.
func (g *Gateway) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if err := g.vault.SetAPIKey(r.Context(), req.APIKey); err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, CredentialStatusResponse{Configured: true})
}
