// ABOUTME: HTTP handlers for live streams: start, cancel, status and SSE event delivery
// ABOUTME: Events go to the conversation broadcaster and, on request, straight down the start response

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/entropy-chat/internal/conversation"
)

const streamSinkBuffer = 256

// StartStreamRequest is the JSON request body for POST /api/streams.
type StartStreamRequest struct {
	ConversationID string `json:"conversationId"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
}

// StartStreamResponse is the JSON response for POST /api/streams.
type StartStreamResponse struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
}

// StreamOverflowEvent tells an SSE client that deltas were dropped because it
// read too slowly. The saved reply named by the following done event is complete.
type StreamOverflowEvent struct {
	RequestID     string `json:"requestId"`
	DroppedEvents int    `json:"droppedEvents"`
}

// StreamStatusResponse is the JSON response for GET /api/streams/{id}.
type StreamStatusResponse struct {
	RequestID string `json:"requestId"`
	Phase     string `json:"phase"`
}

// wantsEventStream reports whether the client asked for SSE.
func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// setSSEHeaders prepares w for an event stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// handleStartStream handles POST /api/streams.
//
// Events always go to the conversation's broadcaster. With
// "Accept: text/event-stream" the response itself streams them too, starting
// with a "started" event and ending after the terminal event. A client too slow
// to keep up loses deltas but still gets the terminal event, preceded by an
// "overflow" event counting what was dropped. Otherwise the
// reply is 202 with the request id.
//
// A client disconnecting from the stream does not cancel it; use
// DELETE /api/streams/{id}.
func (g *Gateway) handleStartStream(w http.ResponseWriter, r *http.Request) {
	if !wantsEventStream(r) {
		g.idempotent(g.startStreamAsync)(w, r)
		return
	}

	var req StartStreamRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	// Check streaming support before starting (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	sink := conversation.NewChanSink(streamSinkBuffer)
	defer sink.Close()

	requestID, err := g.manager.Start(r.Context(), conversation.StartRequest{
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Model:          req.Model,
	}, conversation.Tee(sink, g.broadcaster))
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	g.writeSSEEvent(w, "started", StartStreamResponse{RequestID: requestID, ConversationID: req.ConversationID})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			g.logger.Debug("stream client disconnected", "request_id", requestID)
			return
		case e := <-sink.Events():
			if e.Terminal() {
				if n := sink.Dropped(); n > 0 {
					g.logger.Warn("stream client lagged, deltas dropped", "request_id", requestID, "dropped", n)
					g.writeSSEEvent(w, "overflow", StreamOverflowEvent{RequestID: requestID, DroppedEvents: n})
				}
			}
			g.writeSSEEvent(w, string(e.Kind), e)
			flusher.Flush()
			if e.Terminal() {
				return
			}
		}
	}
}

// startStreamAsync starts a stream whose events only reach subscribers.
func (g *Gateway) startStreamAsync(w http.ResponseWriter, r *http.Request) {
	var req StartStreamRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	requestID, err := g.manager.Start(r.Context(), conversation.StartRequest{
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Model:          req.Model,
	}, g.broadcaster)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusAccepted, StartStreamResponse{RequestID: requestID, ConversationID: req.ConversationID})
}

// handleStreamStatus handles GET /api/streams/{id}.
func (g *Gateway) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	phase, ok := g.manager.Status(id)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "stream_not_found", "stream not found")
		return
	}
	g.writeJSON(w, http.StatusOK, StreamStatusResponse{RequestID: id, Phase: phase.String()})
}

// handleCancelStream handles DELETE /api/streams/{id}. Unknown or finished
// ids are accepted too; cancellation is fire-and-forget.
func (g *Gateway) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	g.manager.Cancel(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleConversationEvents handles GET /api/conversations/{id}/events.
// It subscribes to the conversation and relays every stream event until the
// client goes away or the server shuts down.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	convID := r.PathValue("id")
	if _, err := g.store.GetConversation(r.Context(), convID); err != nil {
		g.sendError(w, r, err)
		return
	}

	events, _ := g.broadcaster.Subscribe(r.Context(), convID)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(e.Kind), e)
			flusher.Flush()
		}
	}
}
