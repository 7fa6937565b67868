package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"housesim/internal/domain"
)

func TestOllamaProviderRequestAndResponse(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path=%s, want /api/generate", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3","response":"{\"messages_to\":[],\"actions\":[],\"explain\":\"ok\"}","done":true}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.Client(), srv.URL+"/")
	resp, err := p.Complete(context.Background(), domain.CompletionRequest{
		Model:       "llama3",
		Prompt:      "hello",
		Temperature: 0.3,
		NumPredict:  256,
		Stop:        []string{"\n\n\n"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "llama3" || resp.Text == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got["stream"] != false || got["prompt"] != "hello" || got["model"] != "llama3" {
		t.Fatalf("unexpected payload: %v", got)
	}
	opts, ok := got["options"].(map[string]any)
	if !ok || opts["num_predict"] != float64(256) || opts["temperature"] != 0.3 {
		t.Fatalf("unexpected options: %v", got["options"])
	}
}

func TestOllamaProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{
			name:   "non-2xx",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Code == http.StatusBadGateway
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   "<html>",
			check:  func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
		{
			name:   "empty completion",
			status: http.StatusOK,
			body:   `{"response":"  ","done":true}`,
			check:  func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name:   "model error",
			status: http.StatusOK,
			body:   `{"error":"model not found"}`,
			check:  func(err error) bool { return errors.Is(err, ErrModel) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(srv.Client(), srv.URL).Complete(context.Background(), domain.CompletionRequest{Model: "m", Prompt: "p"})
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScriptedProviderCyclesPerDevice(t *testing.T) {
	p := NewScriptedProvider(map[string][]string{"lamp": {"a", "b"}}, "")
	want := []string{"a", "b", "a"}
	for i, w := range want {
		resp, err := p.Complete(context.Background(), domain.CompletionRequest{DeviceID: "lamp"})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if resp.Text != w {
			t.Fatalf("call %d: got=%s want=%s", i, resp.Text, w)
		}
	}
	if _, err := p.Complete(context.Background(), domain.CompletionRequest{DeviceID: "fan"}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err=%v, want ErrEmptyResponse", err)
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "nope"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := NewProvider(Config{Provider: "ollama", OllamaBaseURL: "http://localhost:11434"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
