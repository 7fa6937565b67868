package llm

import (
	"context"
	"sync"

	"housesim/internal/domain"
)

// ScriptedProvider replays canned completions per device, cycling through
// each device's list. It makes seeded runs independent of any model server.
type ScriptedProvider struct {
	mu       sync.Mutex
	replies  map[string][]string
	fallback string
	next     map[string]int
}

func NewScriptedProvider(replies map[string][]string, fallback string) *ScriptedProvider {
	cp := make(map[string][]string, len(replies))
	for id, r := range replies {
		cp[id] = append([]string(nil), r...)
	}
	return &ScriptedProvider{replies: cp, fallback: fallback, next: map[string]int{}}
}

func (p *ScriptedProvider) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.CompletionResponse{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.replies[req.DeviceID]
	if len(list) == 0 {
		if p.fallback == "" {
			return domain.CompletionResponse{}, ErrEmptyResponse
		}
		return domain.CompletionResponse{Text: p.fallback, Model: "scripted"}, nil
	}
	i := p.next[req.DeviceID]
	p.next[req.DeviceID] = i + 1
	return domain.CompletionResponse{Text: list[i%len(list)], Model: "scripted"}, nil
}
