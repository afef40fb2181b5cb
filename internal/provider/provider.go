// ABOUTME: Language-model provider contract consumed by the stream manager
// ABOUTME: A Stream yields text chunks lazily and returns io.EOF when the completion ends

package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoAPIKey is returned when a request carries no credential
var ErrNoAPIKey = errors.New("provider api key is not configured")

// Message is one entry of the conversation history sent as context
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one streaming completion
type Request struct {
	Model    string
	APIKey   string
	Messages []Message
}

// Stream is a lazy sequence of text chunks. Recv blocks until the next chunk
// is available and returns io.EOF after the last one. Cancelling the context
// passed to Provider.Stream unblocks Recv with the context's error.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider opens streaming completions
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// APIError is a non-2xx response from the provider
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}
