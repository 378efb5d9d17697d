package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/thezentroai/Zentro-AI/internal/config"
)

// GeminiOptions configures a GeminiClient
type GeminiOptions struct {
	APIKey            string
	EnvVar            string // Where the key comes from, for error messages
	Model             string
	SystemInstruction string
	BaseURL           string // Optional endpoint override
}

// GeminiClient implements Client on top of a genai chat session
type GeminiClient struct {
	opts   GeminiOptions
	logger *slog.Logger

	mu     sync.Mutex
	client *genai.Client
	chat   *genai.Chat
}

// NewGeminiClient creates a Gemini client. No connection is made until the
// first send.
func NewGeminiClient(opts GeminiOptions, logger *slog.Logger) *GeminiClient {
	if opts.EnvVar == "" {
		opts.EnvVar = config.EnvGeminiKey
	}
	logger.Info("created gemini client", "model", opts.Model)
	return &GeminiClient{
		opts:   opts,
		logger: logger,
	}
}

// Name returns the backend identifier
func (c *GeminiClient) Name() string {
	return config.BackendGemini
}

// Model returns the configured model
func (c *GeminiClient) Model() string {
	return c.opts.Model
}

// StartNewChat drops the active chat session
func (c *GeminiClient) StartNewChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat = nil
	c.logger.Info("gemini chat reset")
}

// activeChat returns the current chat session, creating the API client and
// the session on first use.
func (c *GeminiClient) activeChat(ctx context.Context) (*genai.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chat != nil {
		return c.chat, nil
	}

	if c.opts.APIKey == "" {
		c.logger.Error("API key is missing from environment variables", "env", c.opts.EnvVar)
		return nil, &ConfigurationError{Backend: c.Name(), EnvVar: c.opts.EnvVar}
	}

	if c.client == nil {
		cc := &genai.ClientConfig{
			APIKey:  c.opts.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if c.opts.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.opts.BaseURL}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, &ConfigurationError{
				Backend: c.Name(),
				EnvVar:  c.opts.EnvVar,
				Err:     fmt.Errorf("failed to create GenAI client: %w", err),
			}
		}
		c.client = client
	}

	var genCfg *genai.GenerateContentConfig
	if c.opts.SystemInstruction != "" {
		genCfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(c.opts.SystemInstruction, genai.RoleUser),
		}
	}

	chat, err := c.client.Chats.Create(ctx, c.opts.Model, genCfg, nil)
	if err != nil {
		return nil, &StreamError{Backend: c.Name(), Err: fmt.Errorf("failed to create chat: %w", err)}
	}
	c.chat = chat
	c.logger.Info("gemini chat created", "model", c.opts.Model)
	return chat, nil
}

// SendMessageStream sends text and yields the text of each response chunk.
func (c *GeminiClient) SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		chat, err := c.activeChat(ctx)
		if err != nil {
			yield("", err)
			return
		}

		fragments := 0
		for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				c.logger.Error("error sending message", "error", err, "fragments", fragments)
				yield("", c.classify(err, fragments))
				return
			}
			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			fragments++
			if !yield(chunk, nil) {
				return
			}
		}
		c.logger.Debug("gemini stream finished", "fragments", fragments)
	})
}

// classify turns an API failure into a ConfigurationError when the service
// rejected the credential and into a StreamError otherwise.
func (c *GeminiClient) classify(err error, fragments int) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden || isKeyRejection(apiErr.Message) {
			return &ConfigurationError{Backend: c.Name(), EnvVar: c.opts.EnvVar, Err: err}
		}
	} else if isKeyRejection(err.Error()) {
		return &ConfigurationError{Backend: c.Name(), EnvVar: c.opts.EnvVar, Err: err}
	}
	return &StreamError{Backend: c.Name(), Fragments: fragments, Err: err}
}

func isKeyRejection(msg string) bool {
	return strings.Contains(msg, "API key not valid") || strings.Contains(msg, "API_KEY_INVALID")
}
