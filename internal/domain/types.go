package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type PeerSummary struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Room     string       `json:"room"`
	Category string       `json:"category,omitempty"`
	Status   DeviceStatus `json:"status"`
}

// AgentContext is everything a planner sees about one device for one tick.
type AgentContext struct {
	Device           DeviceSpec       `json:"device"`
	Room             RoomState        `json:"room"`
	Policies         Policies         `json:"policies"`
	Inbox            []InboundMessage `json:"inbox,omitempty"`
	AvailableActions []string         `json:"available_actions"`
	TimeSec          float64          `json:"time_sec"`
	Tick             uint64           `json:"tick"`
	Peers            []PeerSummary    `json:"peers,omitempty"`
}

type ProposedMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type ProposedAction struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Float reads a numeric argument. JSON numbers, ints and numeric strings are
// accepted; NaN and infinities are not.
func (a ProposedAction) Float(key string) (float64, bool) {
	v, ok := a.Args[key]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (a ProposedAction) String(key string) (string, bool) {
	v, ok := a.Args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AgentStep is the wire contract with the reasoning service.
type AgentStep struct {
	MessagesTo []ProposedMessage `json:"messages_to"`
	Actions    []ProposedAction  `json:"actions"`
	Explain    string            `json:"explain"`
}

func (s AgentStep) Clone() AgentStep {
	out := AgentStep{Explain: s.Explain}
	out.MessagesTo = append([]ProposedMessage(nil), s.MessagesTo...)
	out.Actions = make([]ProposedAction, len(s.Actions))
	for i, a := range s.Actions {
		args := make(map[string]any, len(a.Args))
		for k, v := range a.Args {
			args[k] = v
		}
		out.Actions[i] = ProposedAction{Name: a.Name, Args: args}
	}
	return out
}

type Proposal struct {
	DeviceID string    `json:"device_id"`
	Step     AgentStep `json:"step"`
}

type ApprovedAction struct {
	DeviceID string         `json:"device_id"`
	Action   ProposedAction `json:"action"`
}

type ConflictResolution struct {
	Winner      string             `json:"winner"`
	Loser       string             `json:"loser"`
	Rule        string             `json:"rule"`
	Utilities   map[string]float64 `json:"utilities"`
	Explanation string             `json:"explanation"`
}

type RuleFiring struct {
	PackID      string           `json:"pack_id"`
	RuleID      string           `json:"rule_id"`
	Hard        bool             `json:"hard"`
	Stripped    []ApprovedAction `json:"stripped,omitempty"`
	Explanation string           `json:"explanation"`
}

type MediationResult struct {
	Approved    []ApprovedAction     `json:"approved"`
	Resolutions []ConflictResolution `json:"resolutions"`
	Log         []WorldEvent         `json:"log"`
	RuleFirings []RuleFiring         `json:"rule_firings"`
}

// CompletionRequest is sent to the reasoning endpoint.
type CompletionRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	NumPredict  int
	Stop        []string
	// DeviceID lets scripted providers answer per device; remote providers ignore it.
	DeviceID string
}

type CompletionResponse struct {
	Text  string
	Model string
}
