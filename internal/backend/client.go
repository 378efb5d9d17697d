package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/thezentroai/Zentro-AI/internal/config"
)

// Client is a streaming conversation with a remote text-generation service.
type Client interface {
	// StartNewChat drops the remote conversation state. The next send
	// lazily opens a fresh one.
	StartNewChat()

	// SendMessageStream sends text on the active conversation and yields
	// response fragments in arrival order. The sequence can be ranged once.
	SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error]

	// Name returns the backend identifier
	Name() string

	// Model returns the model the backend talks to
	Model() string
}

// ErrStreamConsumed is yielded when a fragment sequence is ranged twice.
var ErrStreamConsumed = errors.New("stream already consumed")

// ConfigurationError reports a missing or rejected credential.
type ConfigurationError struct {
	Backend string
	EnvVar  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid credentials (%s): %v", e.Backend, e.EnvVar, e.Err)
	}
	return fmt.Sprintf("%s: API key not found, set %s", e.Backend, e.EnvVar)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// StreamError reports a transport or service failure. Fragments is the
// number of fragments delivered before the failure.
type StreamError struct {
	Backend   string
	Fragments int
	Err       error
}

func (e *StreamError) Error() string {
	if e.Fragments > 0 {
		return fmt.Sprintf("%s: stream failed after %d fragments: %v", e.Backend, e.Fragments, e.Err)
	}
	return fmt.Sprintf("%s: stream failed: %v", e.Backend, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// New creates the client for cfg.Backend. A missing key is not an error
// here; it is reported by the first send.
func New(cfg config.Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	key, env := cfg.APIKey()
	switch cfg.Backend {
	case config.BackendGemini:
		return NewGeminiClient(GeminiOptions{
			APIKey:            key,
			EnvVar:            env,
			Model:             cfg.Model,
			SystemInstruction: cfg.SystemInstruction,
			BaseURL:           cfg.BaseURL,
		}, logger), nil
	case config.BackendOpenAI, config.BackendGrok:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[cfg.Backend]
		}
		return NewOpenAIClient(OpenAIOptions{
			Name:              cfg.Backend,
			APIKey:            key,
			EnvVar:            env,
			Model:             cfg.Model,
			SystemInstruction: cfg.SystemInstruction,
			BaseURL:           baseURL,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

var defaultBaseURLs = map[string]string{
	config.BackendOpenAI: "https://api.openai.com/v1",
	config.BackendGrok:   "https://api.x.ai/v1",
}

// once wraps seq so that ranging it a second time yields ErrStreamConsumed.
func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}
