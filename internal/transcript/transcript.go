// ABOUTME: Renders a conversation as a standalone HTML transcript
// ABOUTME: Message bodies are Markdown converted with goldmark; raw HTML in them is not passed through

package transcript

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/entropy-chat/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var page = template.Must(template.ParseFS(templateFS, "templates/transcript.html"))

const untitled = "Untitled conversation"

// Source is what the exporter reads
type Source interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetSpace(ctx context.Context, id string) (*store.Space, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]*store.Message, error)
}

type pageData struct {
	Title      string
	Space      string
	Model      string
	ExportedAt string
	Messages   []messageData
}

type messageData struct {
	ID        string
	Role      string
	Model     string
	Timestamp string
	Body      template.HTML
}

// Exporter writes conversation transcripts
type Exporter struct {
	source Source
	md     goldmark.Markdown
	now    func() time.Time
}

// NewExporter creates an exporter reading from source
func NewExporter(source Source) *Exporter {
	return &Exporter{
		source: source,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:    time.Now,
	}
}

// Export writes the HTML transcript of conversationID to w
func (e *Exporter) Export(ctx context.Context, conversationID string, w io.Writer) error {
	conv, err := e.source.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	space, err := e.source.GetSpace(ctx, conv.SpaceID)
	if err != nil {
		return fmt.Errorf("loading space: %w", err)
	}
	messages, err := e.source.ListMessagesByConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	data := pageData{
		Title:      untitled,
		Space:      space.Name,
		Model:      conv.Model,
		ExportedAt: e.now().UTC().Format(time.RFC3339),
		Messages:   make([]messageData, 0, len(messages)),
	}
	if conv.Title != nil && *conv.Title != "" {
		data.Title = *conv.Title
	}

	for _, msg := range messages {
		body, err := e.render(msg.Content)
		if err != nil {
			return fmt.Errorf("rendering message %s: %w", msg.ID, err)
		}
		md := messageData{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339),
			Body:      body,
		}
		if msg.Model != nil {
			md.Model = *msg.Model
		}
		data.Messages = append(data.Messages, md)
	}

	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}
	return nil
}

// render converts Markdown to HTML. goldmark omits raw HTML unless the
// unsafe renderer option is set, so the output is safe to embed.
func (e *Exporter) render(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil //nolint:gosec // goldmark escapes raw HTML by default
}
