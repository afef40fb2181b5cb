// ABOUTME: OpenAI-compatible chat completions client streaming over SSE
// ABOUTME: Outbound requests are paced by a token-bucket limiter

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public OpenAI API endpoint
const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI client
type OpenAIConfig struct {
	BaseURL string
	// HeaderTimeout bounds the wait for response headers. The body of a
	// stream is not subject to it.
	HeaderTimeout time.Duration
	// RequestsPerSecond and Burst configure the limiter. Zero disables it.
	RequestsPerSecond float64
	Burst             int
	// HTTPClient overrides the client built from the fields above
	HTTPClient *http.Client
}

// OpenAI streams completions from an OpenAI-compatible endpoint
type OpenAI struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAI creates a client
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.HeaderTimeout > 0 {
			transport.ResponseHeaderTimeout = cfg.HeaderTimeout
		}
		client = &http.Client{Transport: transport}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAI{
		baseURL: baseURL,
		http:    client,
		limiter: limiter,
		logger:  logger.With("component", "provider"),
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Stream starts a streaming chat completion.
func (c *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	if req.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := parseAPIError(resp.StatusCode, data)
		c.logger.Warn("completion request rejected", "status", resp.StatusCode, "model", req.Model, "error", apiErr.Message)
		return nil, apiErr
	}

	c.logger.Debug("completion stream opened", "model", req.Model, "messages", len(req.Messages), "latency", time.Since(start))
	return &sseStream{body: resp.Body, reader: newSSEReader(resp.Body)}, nil
}

func parseAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var wrapper struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error.Message != "" {
		apiErr.Message = wrapper.Error.Message
		if wrapper.Error.Code != nil {
			apiErr.Code = fmt.Sprint(wrapper.Error.Code)
		} else {
			apiErr.Code = wrapper.Error.Type
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// sseStream adapts an SSE response body to Stream
type sseStream struct {
	body   io.ReadCloser
	reader *sseReader
	done   bool
}

func (s *sseStream) Recv() (string, error) {
	for !s.done {
		_, data, err := s.reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				break
			}
			return "", fmt.Errorf("reading stream: %w", err)
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			s.done = true
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}
		if chunk.Error != nil {
			return "", &APIError{Status: http.StatusOK, Code: chunk.Error.Type, Message: chunk.Error.Message}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
