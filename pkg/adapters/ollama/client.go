// Package ollama implements ports.LanguageModel over the Ollama chat API.
package ollama

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

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"
	DefaultTimeout = 2 * time.Minute
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// Streaming chunks look like {"message": {"content": "..."}, "done": false}.
type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// Client talks to an Ollama server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

var _ ports.LanguageModel = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithBaseURL points the client at another server.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the model used when a call does not name one.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithHTTPClient replaces the HTTP client (and with it the request timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client with DefaultBaseURL, DefaultModel and DefaultTimeout.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends prompt as the system message followed by the conversation history
// and returns the concatenated streamed answer. An empty answer is an error.
func (c *Client) Complete(ctx context.Context, history []domain.Message, prompt string, opts ports.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	req := chatRequest{Model: model, Stream: true}
	if opts.Temperature > 0 {
		req.Options = map[string]any{"temperature": opts.Temperature}
	}
	if len(history) == 0 {
		req.Messages = []chatMessage{{Role: "user", Content: prompt}}
	} else {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: prompt})
		for _, m := range history {
			req.Messages = append(req.Messages, chatMessage{Role: chatRole(m.Role), Content: m.Content})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var answer strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk chatChunk
		if err := decoder.Decode(&chunk); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return "", fmt.Errorf("decoding ollama response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		answer.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(answer.String())
	c.logger.Debug("Model call finished", "model", model, "duration", time.Since(started), "chars", len(text))
	if text == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}

func chatRole(r domain.Role) string {
	switch r {
	case domain.RoleHuman:
		return "user"
	case domain.RoleSystem:
		return "system"
	default:
		return "assistant"
	}
}
