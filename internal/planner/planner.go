// Package planner turns a device's context into a validated AgentStep by
// asking an external reasoning endpoint, and falls back to a safe step when
// the endpoint misbehaves.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"housesim/internal/domain"
	"housesim/internal/llm"
)

type Config struct {
	Enabled     bool
	Model       string
	Temperature float64
	NumPredict  int
	Stop        []string
	Timeout     time.Duration
	MaxRetries  int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Model:       "llama3.1:8b",
		Temperature: 0.4,
		NumPredict:  384,
		Timeout:     8 * time.Second,
		MaxRetries:  2,
		Backoff:     300 * time.Millisecond,
	}
}

type Planner struct {
	cfg      Config
	provider llm.Provider
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config, provider llm.Provider, logger *slog.Logger) *Planner {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.NumPredict <= 0 {
		cfg.NumPredict = defaults.NumPredict
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		stats:    Stats{Failures: map[ErrorKind]int64{}},
	}
}

// WorstCaseLatency bounds how long Plan can take for one device.
func (p *Planner) WorstCaseLatency() time.Duration {
	total := p.cfg.Timeout * time.Duration(p.cfg.MaxRetries+1)
	for i := 1; i <= p.cfg.MaxRetries; i++ {
		total += p.cfg.Backoff * time.Duration(i)
	}
	return total
}

// Plan always returns a schema-valid step. Failures are absorbed into a
// fallback step whose explanation names the reason.
func (p *Planner) Plan(ctx context.Context, actx domain.AgentContext) domain.AgentStep {
	if !p.cfg.Enabled || p.provider == nil {
		p.recordFallback(nil)
		return Fallback(actx, "planning disabled")
	}

	prompt := BuildPrompt(actx)
	var lastErr *Error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			p.recordRetry()
			if err := sleepContext(ctx, p.cfg.Backoff*time.Duration(attempt)); err != nil {
				lastErr = newError(KindTimeout, "cancelled during backoff", err)
				break
			}
		}

		start := time.Now()
		step, err := p.attempt(ctx, actx.Device.ID, prompt)
		p.recordLatency(time.Since(start))
		if err == nil {
			p.recordSuccess()
			return step
		}

		lastErr = err
		p.recordFailure(err.Kind)
		p.logger.Warn("planner attempt failed",
			"device_id", actx.Device.ID,
			"attempt", attempt+1,
			"kind", string(err.Kind),
			"error", err,
		)
		if !err.Retryable() {
			break
		}
	}

	p.recordFallback(lastErr)
	reason := "planning failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return Fallback(actx, reason)
}

func (p *Planner) attempt(ctx context.Context, deviceID, prompt string) (domain.AgentStep, *Error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.provider.Complete(callCtx, domain.CompletionRequest{
		Model:       p.cfg.Model,
		Prompt:      prompt,
		Temperature: p.cfg.Temperature,
		NumPredict:  p.cfg.NumPredict,
		Stop:        p.cfg.Stop,
		DeviceID:    deviceID,
	})
	if err != nil {
		return domain.AgentStep{}, classifyProviderError(err)
	}

	raw, err := ExtractJSON(resp.Text)
	if err != nil {
		return domain.AgentStep{}, asPlannerError(err)
	}
	step, err := ParseStep(raw)
	if err != nil {
		return domain.AgentStep{}, asPlannerError(err)
	}
	return step, nil
}

const fallbackPrefix = "fallback: "

// Fallback picks the first available action with empty args, or idle.
func Fallback(actx domain.AgentContext, reason string) domain.AgentStep {
	name := "idle"
	if len(actx.AvailableActions) > 0 {
		name = actx.AvailableActions[0]
	}
	return domain.AgentStep{
		MessagesTo: []domain.ProposedMessage{},
		Actions:    []domain.ProposedAction{{Name: name, Args: map[string]any{}}},
		Explain:    fallbackPrefix + reason,
	}
}

// IsFallback reports whether a step was produced by Fallback.
func IsFallback(step domain.AgentStep) bool {
	return strings.HasPrefix(step.Explain, fallbackPrefix)
}

func asPlannerError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return newError(KindParse, "unexpected parse failure", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
