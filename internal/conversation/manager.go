// ABOUTME: Stream manager running one provider completion per request id
// ABOUTME: Persists the user turn first, relays deltas, saves the reply and emits one terminal event

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/entropy-chat/internal/provider"
	"github.com/2389/entropy-chat/internal/store"
)

// ErrNoCredential is reported when no provider API key is configured
var ErrNoCredential = errors.New("OpenAI API key is not configured")

// Start rejects malformed requests synchronously with these
var (
	ErrMissingConversationID = fmt.Errorf("%w: conversation id is required", store.ErrValidation)
	ErrEmptyPrompt           = fmt.Errorf("%w: prompt cannot be empty", store.ErrValidation)
)

const unknownStreamError = "Unknown provider stream error."

// Store is what the manager needs from persistence
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	InsertMessage(ctx context.Context, in store.MessageInput) (*store.Message, error)
	TouchConversation(ctx context.Context, id, model string) error
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Credentials exposes the provider API key. APIKey returns "" when no key is
// configured and an error only for unreadable stored data.
type Credentials interface {
	APIKey(ctx context.Context) (string, error)
}

// State is the cancellation state of a session
type State int32

const (
	StateActive State = iota
	StateCancelRequested
	StateTerminal
)

// Phase is the lifecycle position of a session
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseStreaming
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// StartRequest describes one chat turn
type StartRequest struct {
	ConversationID string
	Prompt         string
	// Model overrides the configured default when non-blank
	Model string
}

// Config configures a Manager
type Config struct {
	DefaultModel string
}

type session struct {
	id             string
	conversationID string
	sink           Sink
	cancel         context.CancelFunc
	state          atomic.Int32
	phase          atomic.Int32
}

func (s *session) cancelRequested() bool {
	return State(s.state.Load()) == StateCancelRequested
}

// Manager owns the registry of active stream sessions
type Manager struct {
	store        Store
	creds        Credentials
	provider     provider.Provider
	defaultModel string
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewManager creates a stream manager
func NewManager(st Store, creds Credentials, prov provider.Provider, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = store.DefaultModel
	}
	return &Manager{
		store:        st,
		creds:        creds,
		provider:     prov,
		defaultModel: model,
		logger:       logger.With("component", "stream"),
		sessions:     make(map[string]*session),
	}
}

// Start registers a session and runs it in the background. It returns the
// request id immediately; every later outcome, including configuration and
// not-found failures, arrives at sink as events.
//
// The session outlives ctx's cancellation but keeps its values.
func (m *Manager) Start(ctx context.Context, req StartRequest, sink Sink) (string, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return "", ErrMissingConversationID
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if sink == nil {
		sink = DiscardSink
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		id:             uuid.New().String(),
		conversationID: req.ConversationID,
		sink:           sink,
		cancel:         cancel,
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(sessCtx, sess, req)

	m.logger.Debug("stream started", "request_id", sess.id, "conversation_id", req.ConversationID)
	return sess.id, nil
}

// Cancel asks a running session to stop. Unknown or finished request ids are
// ignored. The session itself emits the terminal event.
func (m *Manager) Cancel(requestID string) {
	m.mu.Lock()
	sess, ok := m.sessions[requestID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if sess.state.CompareAndSwap(int32(StateActive), int32(StateCancelRequested)) {
		sess.cancel()
		m.logger.Debug("stream cancel requested", "request_id", requestID)
	}
}

// Status returns the phase of an active session
func (m *Manager) Status(requestID string) (Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[requestID]
	if !ok {
		return 0, false
	}
	return Phase(sess.phase.Load()), true
}

// Active returns the number of registered sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Wait blocks until every session goroutine has exited
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels every active session and waits for them to finish or for
// ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drives one session to its terminal event. Removal from the registry is
// the last thing it does.
func (m *Manager) run(ctx context.Context, sess *session, req StartRequest) {
	defer m.wg.Done()
	defer m.remove(sess)
	defer sess.cancel()

	messageID, err := m.stream(ctx, sess, req)

	cancelled := errors.Is(err, errCancelled) ||
		sess.cancelRequested() ||
		(err != nil && ctx.Err() != nil)

	switch {
	case cancelled:
		sess.phase.Store(int32(PhaseCancelled))
		m.emit(sess, Event{Kind: EventDone, Cancelled: true})
		m.logger.Info("stream cancelled", "request_id", sess.id, "conversation_id", sess.conversationID)

	case err != nil:
		sess.phase.Store(int32(PhaseFailed))
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = unknownStreamError
		}
		m.emit(sess, Event{Kind: EventError, Error: msg})
		m.logger.Warn("stream failed", "request_id", sess.id, "conversation_id", sess.conversationID, "error", err)

	default:
		sess.phase.Store(int32(PhaseCompleted))
		m.emit(sess, Event{Kind: EventDone, MessageID: messageID})
		m.logger.Info("stream completed", "request_id", sess.id, "conversation_id", sess.conversationID, "saved", messageID != nil)
	}
	sess.state.Store(int32(StateTerminal))
}

// errCancelled marks a stream stopped by Cancel between chunks
var errCancelled = errors.New("stream cancelled")

// stream performs the provider call and returns the id of the saved assistant
// message, nil when the reply was blank.
func (m *Manager) stream(ctx context.Context, sess *session, req StartRequest) (*string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = m.defaultModel
	}

	apiKey, err := m.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	if _, err := m.store.GetConversation(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	if _, err := m.store.InsertMessage(ctx, store.MessageInput{
		ConversationID: req.ConversationID,
		Role:           store.RoleUser,
		Content:        req.Prompt,
		Model:          model,
	}); err != nil {
		return nil, fmt.Errorf("saving prompt: %w", err)
	}
	if err := m.store.TouchConversation(ctx, req.ConversationID, model); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	history, err := m.store.ListMessagesByConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	messages := make([]provider.Message, len(history))
	for i, msg := range history {
		messages[i] = provider.Message{Role: string(msg.Role), Content: msg.Content}
	}

	stream, err := m.provider.Stream(ctx, provider.Request{
		Model:    model,
		APIKey:   apiKey,
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	sess.phase.Store(int32(PhaseStreaming))

	var reply strings.Builder
	for {
		if sess.cancelRequested() {
			return nil, errCancelled
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if sess.cancelRequested() {
			return nil, errCancelled
		}
		reply.WriteString(chunk)
		m.emit(sess, Event{Kind: EventDelta, Delta: chunk})
	}

	// A cancel that lands after this point is too late to matter
	if !sess.state.CompareAndSwap(int32(StateActive), int32(StateTerminal)) {
		return nil, errCancelled
	}

	if strings.TrimSpace(reply.String()) == "" {
		return nil, nil
	}

	persistCtx := context.WithoutCancel(ctx)
	msg, err := m.store.InsertMessage(persistCtx, store.MessageInput{
		ConversationID: req.ConversationID,
		Role:           store.RoleAssistant,
		Content:        reply.String(),
		Model:          model,
	})
	if err != nil {
		return nil, fmt.Errorf("saving reply: %w", err)
	}
	if err := m.store.TouchConversation(persistCtx, req.ConversationID, model); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	return &msg.ID, nil
}

func (m *Manager) emit(sess *session, e Event) {
	e.RequestID = sess.id
	e.ConversationID = sess.conversationID
	if !sess.sink.Deliver(e) {
		m.logger.Debug("event dropped by sink", "request_id", sess.id, "kind", e.Kind)
	}
}

func (m *Manager) remove(sess *session) {
	m.mu.Lock()
	delete(m.sessions, sess.id)
	m.mu.Unlock()
}
