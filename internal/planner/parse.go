package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"housesim/internal/domain"
)

// ExtractJSON pulls the first balanced {...} object out of a model reply,
// ignoring code fences and any prose around it.
func ExtractJSON(text string) (string, error) {
	cleaned := stripFences(text)
	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", newError(KindParse, "no json object in completion", nil)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", newError(KindParse, "unbalanced json object in completion", nil)
}

var fenceReplacer = strings.NewReplacer("```json", "", "```JSON", "", "```", "")

func stripFences(text string) string {
	return strings.TrimSpace(fenceReplacer.Replace(text))
}

// ParseStep decodes and validates an AgentStep. Malformed JSON is a parse
// error; well-formed JSON with the wrong shape is a validation error.
func ParseStep(raw string) (domain.AgentStep, error) {
	var top map[string]any
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return domain.AgentStep{}, newError(KindParse, "invalid json", err)
	}
	return ValidateStep(top)
}

func ValidateStep(top map[string]any) (domain.AgentStep, error) {
	msgs, ok := top["messages_to"].([]any)
	if !ok {
		return domain.AgentStep{}, newError(KindValidation, "messages_to must be an array", nil)
	}
	acts, ok := top["actions"].([]any)
	if !ok {
		return domain.AgentStep{}, newError(KindValidation, "actions must be an array", nil)
	}
	explain, ok := top["explain"].(string)
	if !ok {
		return domain.AgentStep{}, newError(KindValidation, "explain must be a string", nil)
	}

	step := domain.AgentStep{
		MessagesTo: make([]domain.ProposedMessage, 0, len(msgs)),
		Actions:    make([]domain.ProposedAction, 0, len(acts)),
		Explain:    explain,
	}
	for i, item := range msgs {
		m, ok := item.(map[string]any)
		if !ok {
			return domain.AgentStep{}, newError(KindValidation, fmt.Sprintf("messages_to[%d] must be an object", i), nil)
		}
		to, okTo := m["to"].(string)
		content, okContent := m["content"].(string)
		if !okTo || !okContent {
			return domain.AgentStep{}, newError(KindValidation, fmt.Sprintf("messages_to[%d] needs string to and content", i), nil)
		}
		step.MessagesTo = append(step.MessagesTo, domain.ProposedMessage{To: to, Content: content})
	}
	for i, item := range acts {
		a, ok := item.(map[string]any)
		if !ok {
			return domain.AgentStep{}, newError(KindValidation, fmt.Sprintf("actions[%d] must be an object", i), nil)
		}
		name, okName := a["name"].(string)
		args, okArgs := a["args"].(map[string]any)
		if !okName || strings.TrimSpace(name) == "" || !okArgs {
			return domain.AgentStep{}, newError(KindValidation, fmt.Sprintf("actions[%d] needs name and args", i), nil)
		}
		step.Actions = append(step.Actions, domain.ProposedAction{Name: strings.TrimSpace(name), Args: args})
	}
	return step, nil
}
