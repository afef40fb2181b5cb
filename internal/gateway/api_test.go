// ABOUTME: Tests for the HTTP API handlers
// ABOUTME: Verifies routing, status mapping, idempotent replays and SSE streaming

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/entropy-chat/internal/conversation"
	"github.com/2389/entropy-chat/internal/store"
)

func startRequest(convID, prompt string) conversation.StartRequest {
	return conversation.StartRequest{ConversationID: convID, Prompt: prompt}
}

// doRequest runs one request through the gateway's handler.
func doRequest(t *testing.T, gw *Gateway, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func createConversation(t *testing.T, gw *Gateway, body string) *store.Conversation {
	t.Helper()
	rec := doRequest(t, gw, http.MethodPost, "/api/conversations", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*store.Conversation](t, rec)
}

func TestAPI_Spaces(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodGet, "/api/spaces", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	spaces := decode[[]*store.Space](t, rec)
	require.Len(t, spaces, 1)
	assert.Equal(t, store.DefaultSpaceID, spaces[0].ID)

	rec = doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"  Work  ","color":"#ff0000"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	work := decode[*store.Space](t, rec)
	assert.Equal(t, "Work", work.Name)
	assert.Equal(t, 1, work.SortOrder)
	require.NotNil(t, work.Color)

	// Explicit null clears color, absent icon is untouched
	rec = doRequest(t, gw, http.MethodPatch, "/api/spaces/"+work.ID, `{"name":"Job","color":null}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[*store.Space](t, rec)
	assert.Equal(t, "Job", updated.Name)
	assert.Nil(t, updated.Color)

	rec = doRequest(t, gw, http.MethodPut, "/api/spaces/order", `{"ids":["`+work.ID+`","`+store.DefaultSpaceID+`"]}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/api/spaces/"+store.DefaultSpaceID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[*store.Space](t, rec).SortOrder)
}

func TestAPI_ErrorMapping(t *testing.T) {
	gw := newTestGateway(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"blank space name", http.MethodPost, "/api/spaces", `{"name":"   "}`, http.StatusBadRequest, "empty_name"},
		{"long space name", http.MethodPost, "/api/spaces", `{"name":"` + strings.Repeat("x", 65) + `"}`, http.StatusBadRequest, "name_too_long"},
		{"empty color", http.MethodPost, "/api/spaces", `{"name":"A","color":" "}`, http.StatusBadRequest, "empty_attribute"},
		{"no update fields", http.MethodPatch, "/api/spaces/" + store.DefaultSpaceID, `{}`, http.StatusBadRequest, "no_update_fields"},
		{"unknown space", http.MethodGet, "/api/spaces/nope", "", http.StatusNotFound, "space_not_found"},
		{"reorder count", http.MethodPut, "/api/spaces/order", `{"ids":[]}`, http.StatusBadRequest, "count_mismatch"},
		{"reorder duplicate", http.MethodPut, "/api/spaces/order", `{"ids":["space_general","space_general"]}`, http.StatusBadRequest, "count_mismatch"},
		{"reorder unknown", http.MethodPut, "/api/spaces/order", `{"ids":["ghost"]}`, http.StatusBadRequest, "unknown_id"},
		{"unknown conversation", http.MethodGet, "/api/conversations/nope", "", http.StatusNotFound, "conversation_not_found"},
		{"conversation in unknown space", http.MethodPost, "/api/conversations", `{"spaceId":"ghost"}`, http.StatusNotFound, "space_not_found"},
		{"pin without flag", http.MethodPost, "/api/conversations/x/pin", `{}`, http.StatusBadRequest, "invalid"},
		{"bad json", http.MethodPost, "/api/spaces", `{`, http.StatusBadRequest, "invalid_json"},
		{"missing setting", http.MethodGet, "/api/settings/theme", "", http.StatusNotFound, "setting_not_found"},
		{"blank api key", http.MethodPut, "/api/credentials", `{"apiKey":"  "}`, http.StatusBadRequest, "empty_api_key"},
		{"empty prompt", http.MethodPost, "/api/streams", `{"conversationId":"c","prompt":" "}`, http.StatusBadRequest, "empty_prompt"},
		{"missing conversation id", http.MethodPost, "/api/streams", `{"prompt":"hi"}`, http.StatusBadRequest, "missing_conversation_id"},
		{"unknown stream", http.MethodGet, "/api/streams/nope", "", http.StatusNotFound, "stream_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, gw, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			errResp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantCode, errResp.Code)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestAPI_ReorderDuplicateWithMatchingCount(t *testing.T) {
	gw := newTestGateway(t, nil)
	doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"Work"}`, nil)

	rec := doRequest(t, gw, http.MethodPut, "/api/spaces/order", `{"ids":["space_general","space_general"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_id", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_ConversationPinAndMove(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"Work"}`, nil)
	work := decode[*store.Space](t, rec)

	a := createConversation(t, gw, `{"title":"A"}`)
	b := createConversation(t, gw, `{"title":"B"}`)
	assert.Equal(t, store.DefaultSpaceID, a.SpaceID)

	for _, c := range []*store.Conversation{a, b} {
		rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+c.ID+"/pin", `{"pinned":true}`, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = doRequest(t, gw, http.MethodPut, "/api/spaces/"+store.DefaultSpaceID+"/pinned-order", `{"ids":["`+b.ID+`","`+a.ID+`"]}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+a.ID, "", nil)
	got := decode[*store.Conversation](t, rec)
	require.NotNil(t, got.PinnedOrder)
	assert.Equal(t, 2, *got.PinnedOrder)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+b.ID+"/move", `{"spaceId":"`+work.ID+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[*store.Conversation](t, rec)
	assert.Equal(t, work.ID, moved.SpaceID)
	require.NotNil(t, moved.PinnedOrder)
	assert.Equal(t, 1, *moved.PinnedOrder)

	// a compacted to 1 in the source space
	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+a.ID, "", nil)
	got = decode[*store.Conversation](t, rec)
	require.NotNil(t, got.PinnedOrder)
	assert.Equal(t, 1, *got.PinnedOrder)

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]*store.Conversation](t, rec), 2)
}

func TestAPI_Messages(t *testing.T) {
	gw := newTestGateway(t, nil)
	conv := createConversation(t, gw, `{}`)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"role":"system","content":"  be brief  "}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "be brief", decode[*store.Message](t, rec).Content)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"role":"robot","content":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_role", decode[ErrorResponse](t, rec).Code)

	rec = doRequest(t, gw, http.MethodPost, "/api/conversations/ghost/messages", `{"role":"user","content":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_SettingsAndCredentials(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodPut, "/api/settings/theme", `{"value":"dark"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, gw, http.MethodGet, "/api/settings/theme", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SettingResponse{Key: "theme", Value: "dark"}, decode[SettingResponse](t, rec))

	rec = doRequest(t, gw, http.MethodGet, "/api/credentials", "", nil)
	assert.False(t, decode[CredentialStatusResponse](t, rec).Configured)

	rec = doRequest(t, gw, http.MethodPut, "/api/credentials", `{"apiKey":"sk-live"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-live")

	rec = doRequest(t, gw, http.MethodGet, "/api/credentials", "", nil)
	assert.True(t, decode[CredentialStatusResponse](t, rec).Configured)
}

func TestAPI_IdempotentReplay(t *testing.T) {
	gw := newTestGateway(t, nil)
	header := http.Header{idempotencyHeader: []string{"create-1"}}

	first := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"Work"}`, header)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	second := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"Work"}`, header)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// Only one space was created
	rec := doRequest(t, gw, http.MethodGet, "/api/spaces", "", nil)
	assert.Len(t, decode[[]*store.Space](t, rec), 2)

	// A different key runs again
	third := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":"Work"}`, http.Header{idempotencyHeader: []string{"create-2"}})
	require.Equal(t, http.StatusCreated, third.Code)
	assert.NotEqual(t, decode[*store.Space](t, first).ID, decode[*store.Space](t, third).ID)
}

func TestAPI_IdempotentReplaysClientErrors(t *testing.T) {
	gw := newTestGateway(t, nil)
	header := http.Header{idempotencyHeader: []string{"bad-1"}}

	first := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":""}`, header)
	require.Equal(t, http.StatusBadRequest, first.Code)

	second := doRequest(t, gw, http.MethodPost, "/api/spaces", `{"name":""}`, header)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
}

func TestAPI_StreamAsync(t *testing.T) {
	gw := newTestGateway(t, nil)
	conv := createConversation(t, gw, `{}`)
	require.NoError(t, gw.vault.SetAPIKey(context.Background(), "sk-test"))

	events, _ := gw.broadcaster.Subscribe(t.Context(), conv.ID)

	rec := doRequest(t, gw, http.MethodPost, "/api/streams", `{"conversationId":"`+conv.ID+`","prompt":"hi"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[StartStreamResponse](t, rec)
	assert.NotEmpty(t, started.RequestID)
	assert.Equal(t, conv.ID, started.ConversationID)

	var kinds []conversation.EventKind
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e := <-events:
			assert.Equal(t, started.RequestID, e.RequestID)
			kinds = append(kinds, e.Kind)
			done = e.Terminal()
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []conversation.EventKind{conversation.EventDelta, conversation.EventDelta, conversation.EventDone}, kinds)

	gw.manager.Wait()
	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "", nil)
	msgs := decode[[]*store.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, body io.Reader, stop func(sseEvent) bool) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			if stop(cur) {
				return events
			}
			cur = sseEvent{}
		}
	}
	return events
}

func TestAPI_StreamSSE(t *testing.T) {
	gw := newTestGateway(t, nil)
	conv := createConversation(t, gw, `{}`)
	require.NoError(t, gw.vault.SetAPIKey(context.Background(), "sk-test"))

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/streams",
		strings.NewReader(`{"conversationId":"`+conv.ID+`","prompt":"hi","model":"gpt-4o"}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body, func(e sseEvent) bool { return e.name == "done" || e.name == "error" })
	require.Len(t, events, 4)
	assert.Equal(t, "started", events[0].name)
	assert.Equal(t, "delta", events[1].name)
	assert.JSONEq(t, `{"requestId":`+jsonField(t, events[0].data, "requestId")+`,"conversationId":"`+conv.ID+`","delta":"Hel"}`, events[1].data)
	assert.Equal(t, "done", events[3].name)

	var done struct {
		MessageID *string `json:"messageId"`
		Cancelled bool    `json:"cancelled"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[3].data), &done))
	assert.NotNil(t, done.MessageID)
	assert.False(t, done.Cancelled)
}

// jsonField returns the raw JSON of one field in data.
func jsonField(t *testing.T, data, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(data), &m))
	return string(m[field])
}

func TestAPI_StreamWithoutKeyReportsErrorEvent(t *testing.T) {
	gw := newTestGateway(t, nil)
	conv := createConversation(t, gw, `{}`)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/streams",
		strings.NewReader(`{"conversationId":"`+conv.ID+`","prompt":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSE(t, resp.Body, func(e sseEvent) bool { return e.name == "done" || e.name == "error" })
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].name)
	assert.Contains(t, events[1].data, conversation.ErrNoCredential.Error())
}

func TestAPI_CancelStreamAndEventsEndpoint(t *testing.T) {
	p := &scriptedProvider{chunks: []string{"Hel", "lo"}, gate: make(chan struct{})}
	gw := newTestGateway(t, p)
	conv := createConversation(t, gw, `{}`)
	require.NoError(t, gw.vault.SetAPIKey(context.Background(), "sk-test"))

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	// Subscribe over HTTP first
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subReq, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/conversations/"+conv.ID+"/events", nil)
	require.NoError(t, err)
	subResp, err := http.DefaultClient.Do(subReq)
	require.NoError(t, err)
	defer subResp.Body.Close()
	require.Equal(t, http.StatusOK, subResp.StatusCode)
	assert.Eventually(t, func() bool { return gw.broadcaster.Subscribers(conv.ID) == 1 }, time.Second, 10*time.Millisecond)

	rec := doRequest(t, gw, http.MethodPost, "/api/streams", `{"conversationId":"`+conv.ID+`","prompt":"hi"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	requestID := decode[StartStreamResponse](t, rec).RequestID

	p.gate <- struct{}{}
	assert.Eventually(t, func() bool {
		phase, ok := gw.manager.Status(requestID)
		return ok && phase == conversation.PhaseStreaming
	}, time.Second, 10*time.Millisecond)

	rec = doRequest(t, gw, http.MethodGet, "/api/streams/"+requestID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streaming", decode[StreamStatusResponse](t, rec).Phase)

	rec = doRequest(t, gw, http.MethodDelete, "/api/streams/"+requestID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	events := readSSE(t, subResp.Body, func(e sseEvent) bool { return e.name == "done" || e.name == "error" })
	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].name)
	assert.Equal(t, "done", events[1].name)
	assert.Contains(t, events[1].data, `"cancelled":true`)
	assert.Contains(t, events[1].data, `"messageId":null`)

	// Cancelling again is harmless
	rec = doRequest(t, gw, http.MethodDelete, "/api/streams/"+requestID, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_EventsUnknownConversation(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/ghost/events", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Transcript(t *testing.T) {
	gw := newTestGateway(t, nil)
	conv := createConversation(t, gw, `{"title":"Notes"}`)
	doRequest(t, gw, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"role":"user","content":"**bold**"}`, nil)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations/"+conv.ID+"/transcript", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<strong>bold</strong>")

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/ghost/transcript", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClassify(t *testing.T) {
	status, code := classify(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)

	status, code = classify(store.ErrValidation)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid", code)

	status, code = classify(store.ErrConversationNotFound)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "conversation_not_found", code)
}

func TestAPI_EmptyListsAreArrays(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodGet, "/api/conversations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doRequest(t, gw, http.MethodGet, "/api/conversations/nope/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
