package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"housesim/internal/domain"
)

var (
	// ErrMalformedResponse marks a 2xx reply whose body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response body")
	// ErrEmptyResponse marks a well-formed reply that carried no completion.
	ErrEmptyResponse = errors.New("empty completion")
	// ErrModel marks an error reported by the model server itself.
	ErrModel = errors.New("model error")
)

type Provider interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error)
}

// StatusError is returned for non-2xx HTTP replies.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

type Config struct {
	Provider         string
	OllamaBaseURL    string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	AnthropicBaseURL string
	AnthropicAPIKey  string
}

func NewProvider(cfg Config) (Provider, error) {
	// Per-attempt deadlines come from the caller's context; this is only a ceiling.
	client := &http.Client{Timeout: 60 * time.Second}

	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(client, cfg.OllamaBaseURL), nil
	case "openai":
		return NewOpenAIProvider(client, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	case "claude":
		return NewClaudeProvider(client, cfg.AnthropicBaseURL, cfg.AnthropicAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
