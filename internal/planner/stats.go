package planner

import "time"

const latencyAlpha = 0.2

// Stats is advisory call accounting; nothing in the control flow reads it.
type Stats struct {
	Calls        int64               `json:"calls"`
	Successes    int64               `json:"successes"`
	Fallbacks    int64               `json:"fallbacks"`
	Retries      int64               `json:"retries"`
	Failures     map[ErrorKind]int64 `json:"failures"`
	AvgLatencyMS float64             `json:"avg_latency_ms"`
	LastError    string              `json:"last_error,omitempty"`
}

func (p *Planner) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.stats
	out.Failures = make(map[ErrorKind]int64, len(p.stats.Failures))
	for k, v := range p.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

func (p *Planner) recordLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms := float64(d) / float64(time.Millisecond)
	if p.stats.Calls == 0 {
		p.stats.AvgLatencyMS = ms
	} else {
		p.stats.AvgLatencyMS += latencyAlpha * (ms - p.stats.AvgLatencyMS)
	}
	p.stats.Calls++
}

func (p *Planner) recordSuccess() {
	p.mu.Lock()
	p.stats.Successes++
	p.mu.Unlock()
}

func (p *Planner) recordRetry() {
	p.mu.Lock()
	p.stats.Retries++
	p.mu.Unlock()
}

func (p *Planner) recordFailure(kind ErrorKind) {
	p.mu.Lock()
	p.stats.Failures[kind]++
	p.mu.Unlock()
}

func (p *Planner) recordFallback(err *Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Fallbacks++
	if err != nil {
		p.stats.LastError = err.Error()
	}
}
