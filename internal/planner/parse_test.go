package planner

import (
	"errors"
	"strings"
	"testing"

	"housesim/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "inline fence", input: "```{\"a\":1}```", want: `{"a":1}`},
		{name: "prose around", input: "Here you go: {\"a\":{\"b\":2}} hope it helps {\"c\":3}", want: `{"a":{"b":2}}`},
		{name: "braces in strings", input: `{"explain":"use } and { carefully \" ok"}`, want: `{"explain":"use } and { carefully \" ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got=%s want=%s", got, tt.want)
			}
		})
	}
}

func TestExtractJSONFailures(t *testing.T) {
	for _, input := range []string{"no object here", `{"a": {"b": 1}`} {
		_, err := ExtractJSON(input)
		var pe *Error
		if !errors.As(err, &pe) || pe.Kind != KindParse {
			t.Fatalf("input %q: err=%v, want parse error", input, err)
		}
	}
}

func TestParseStepValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    ErrorKind
		message string
	}{
		{name: "invalid json", raw: `{"messages_to": [,]}`, kind: KindParse},
		{name: "messages not array", raw: `{"messages_to":{},"actions":[],"explain":""}`, kind: KindValidation, message: "messages_to"},
		{name: "actions missing", raw: `{"messages_to":[],"explain":""}`, kind: KindValidation, message: "actions"},
		{name: "explain not string", raw: `{"messages_to":[],"actions":[],"explain":3}`, kind: KindValidation, message: "explain"},
		{name: "message without content", raw: `{"messages_to":[{"to":"a"}],"actions":[],"explain":""}`, kind: KindValidation, message: "messages_to[0]"},
		{name: "action without args", raw: `{"messages_to":[],"actions":[{"name":"cool"}],"explain":""}`, kind: KindValidation, message: "actions[0]"},
		{name: "action without name", raw: `{"messages_to":[],"actions":[{"args":{}}],"explain":""}`, kind: KindValidation, message: "actions[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStep(tt.raw)
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("err=%v, want *Error", err)
			}
			if pe.Kind != tt.kind {
				t.Fatalf("kind=%s, want %s", pe.Kind, tt.kind)
			}
			if tt.message != "" && !strings.Contains(pe.Msg, tt.message) {
				t.Fatalf("msg=%q, want mention of %q", pe.Msg, tt.message)
			}
		})
	}
}

func TestParseStepValid(t *testing.T) {
	step, err := ParseStep(`{"messages_to":[],"actions":[{"name":" set_brightness ","args":{"level":40}}],"explain":"dim for evening"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Actions[0].Name != "set_brightness" {
		t.Fatalf("name=%q", step.Actions[0].Name)
	}
	if step.Explain != "dim for evening" {
		t.Fatalf("explain=%q", step.Explain)
	}
}

func TestBuildPromptContents(t *testing.T) {
	actx := testContext()
	actx.Inbox = []domain.InboundMessage{
		{From: "a", Content: "m1"}, {From: "b", Content: "m2"}, {From: "c", Content: "m3"},
		{From: "d", Content: "m4"}, {From: "e", Content: "m5"},
	}
	actx.Peers = []domain.PeerSummary{{ID: "lamp", Name: "Lamp", Room: "living_room", Status: domain.StatusIdle}}
	actx.Policies = domain.Policies{
		Priorities: []string{"safety", "comfort"},
		QuietHours: &domain.HourWindow{StartHour: 22, EndHour: 7},
	}
	actx.Device.Instructions = "Never drop below 19C."

	prompt := BuildPrompt(actx)
	for _, want := range []string{"Smart AC", "comfort (0.70)", "temperature: 24.0", "cool, heat", "lamp", "safety > comfort", "quiet hours", "Never drop below 19C.", `"messages_to"`, "08:00"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "m1") {
		t.Fatalf("prompt should keep only the last 4 inbound messages")
	}
	if !strings.Contains(prompt, "m5") {
		t.Fatalf("prompt missing newest message")
	}
}
