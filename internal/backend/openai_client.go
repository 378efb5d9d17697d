package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
	maxEventSize  = 1024 * 1024
)

// OpenAIOptions configures an OpenAIClient
type OpenAIOptions struct {
	Name              string // Backend identifier (openai, grok)
	APIKey            string
	EnvVar            string
	Model             string
	SystemInstruction string
	BaseURL           string // e.g. https://api.openai.com/v1
	HTTPClient        *http.Client
}

// OpenAIClient implements Client for OpenAI-compatible chat completion
// endpoints. The API is stateless, so the client keeps the conversation.
type OpenAIClient struct {
	opts       OpenAIOptions
	logger     *slog.Logger
	httpClient *http.Client

	mu         sync.Mutex
	history    []OpenAIMessage
	generation uint64
}

// NewOpenAIClient creates an OpenAI-compatible client
func NewOpenAIClient(opts OpenAIOptions, logger *slog.Logger) *OpenAIClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0} // No timeout for SSE streams
	}
	logger.Info("created openai-compatible client", "name", opts.Name, "url", opts.BaseURL, "model", opts.Model)
	return &OpenAIClient{
		opts:       opts,
		logger:     logger,
		httpClient: httpClient,
	}
}

// Name returns the backend identifier
func (c *OpenAIClient) Name() string {
	return c.opts.Name
}

// Model returns the configured model
func (c *OpenAIClient) Model() string {
	return c.opts.Model
}

// StartNewChat clears the conversation history
func (c *OpenAIClient) StartNewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.generation++
	c.logger.Info("chat reset", "backend", c.opts.Name)
}

// SendMessageStream posts the conversation with stream enabled and yields
// each content delta.
func (c *OpenAIClient) SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		if c.opts.APIKey == "" {
			c.logger.Error("API key is missing from environment variables", "env", c.opts.EnvVar)
			yield("", &ConfigurationError{Backend: c.opts.Name, EnvVar: c.opts.EnvVar})
			return
		}

		user := OpenAIMessage{Role: "user", Content: text}
		messages, generation := c.requestMessages(user)

		resp, err := c.post(ctx, messages)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		var reply strings.Builder
		fragments := 0
		err = readEvents(resp.Body, func(chunk OpenAIStreamChunk) bool {
			content := chunk.Content()
			if content == "" {
				return true
			}
			fragments++
			reply.WriteString(content)
			return yield(content, nil)
		})
		if errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			c.logger.Error("error reading stream", "backend", c.opts.Name, "error", err, "fragments", fragments)
			yield("", &StreamError{Backend: c.opts.Name, Fragments: fragments, Err: err})
			return
		}

		c.mu.Lock()
		if generation == c.generation {
			c.history = append(c.history, user, OpenAIMessage{Role: "assistant", Content: reply.String()})
		}
		c.mu.Unlock()
	})
}

// requestMessages builds the request history: system instruction, prior
// turns, then the new user message.
func (c *OpenAIClient) requestMessages(user OpenAIMessage) ([]OpenAIMessage, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	messages := make([]OpenAIMessage, 0, len(c.history)+2)
	if c.opts.SystemInstruction != "" {
		messages = append(messages, OpenAIMessage{Role: "system", Content: c.opts.SystemInstruction})
	}
	messages = append(messages, c.history...)
	messages = append(messages, user)
	return messages, c.generation
}

func (c *OpenAIClient) post(ctx context.Context, messages []OpenAIMessage) (*http.Response, error) {
	jsonData, err := json.Marshal(OpenAIRequest{
		Model:    c.opts.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, &StreamError{Backend: c.opts.Name, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := strings.TrimSuffix(c.opts.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &StreamError{Backend: c.opts.Name, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &StreamError{Backend: c.opts.Name, Err: fmt.Errorf("failed to send request: %w", err)}
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := fmt.Errorf("API error: %s - %s", resp.Status, errorMessage(resp.Body))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &ConfigurationError{Backend: c.opts.Name, EnvVar: c.opts.EnvVar, Err: apiErr}
	}
	return nil, &StreamError{Backend: c.opts.Name, Err: apiErr}
}

func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return "unreadable body"
	}
	var parsed OpenAIErrorResponse
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// errStopped is returned by readEvents when the callback asked to stop.
var errStopped = errors.New("stopped by consumer")

// readEvents parses a server-sent event stream, calling fn for each data
// payload until "[DONE]" or EOF.
func readEvents(r io.Reader, fn func(OpenAIStreamChunk) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue // blank separators, comments, event/id fields
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == sseDone {
			return nil
		}

		var chunk OpenAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("failed to unmarshal stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if !fn(chunk) {
			return errStopped
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
