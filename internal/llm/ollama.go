package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"housesim/internal/domain"
)

// OllamaProvider talks to a /api/generate style text-completion endpoint.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
}

func NewOllamaProvider(client *http.Client, baseURL string) *OllamaProvider {
	return &OllamaProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	payload := ollamaRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.NumPredict,
			Stop:        req.Stop,
		},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return domain.CompletionResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(buf))
	if err != nil {
		return domain.CompletionResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.CompletionResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CompletionResponse{}, err
	}
	if resp.StatusCode >= 300 {
		return domain.CompletionResponse{}, &StatusError{Provider: "ollama", Code: resp.StatusCode, Body: string(body)}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.CompletionResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Error != "" {
		return domain.CompletionResponse{}, fmt.Errorf("%w: %s", ErrModel, parsed.Error)
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return domain.CompletionResponse{}, ErrEmptyResponse
	}
	return domain.CompletionResponse{Text: parsed.Response, Model: parsed.Model}, nil
}
