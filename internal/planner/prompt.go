package planner

import (
	"fmt"
	"strings"

	"housesim/internal/domain"
)

const maxPromptInbox = 4

// BuildPrompt renders an AgentContext into the instruction text sent to the
// reasoning endpoint.
func BuildPrompt(actx domain.AgentContext) string {
	dev := actx.Device
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are %s (id %s), a smart home device in room %s.\n", nonEmpty(dev.Name, dev.ID), dev.ID, nonEmpty(actx.Room.ID, dev.Room)))
	if dev.CommStyle != "" {
		sb.WriteString(fmt.Sprintf("Communication style: %s.\n", dev.CommStyle))
	}
	sb.WriteString(fmt.Sprintf("Simulated time: %s (tick %d).\n\n", clockString(actx.TimeSec), actx.Tick))

	sb.WriteString("Goals (weight):\n")
	if len(dev.Goals) == 0 {
		sb.WriteString("- none\n")
	}
	for _, g := range dev.Goals {
		sb.WriteString(fmt.Sprintf("- %s (%.2f)\n", g.Name, g.Weight))
	}
	if len(dev.Constraints) > 0 {
		sb.WriteString("Constraints: " + strings.Join(dev.Constraints, ", ") + "\n")
	}

	r := actx.Room
	sb.WriteString("\nRoom snapshot:\n")
	sb.WriteString(fmt.Sprintf("- temperature: %.1f C\n- light: %.0f\n- noise: %.0f\n- humidity: %.0f%%\n- mood: %.2f\n", r.Temperature, r.Light, r.Noise, r.Humidity, r.Mood))

	sb.WriteString("\nAvailable actions: ")
	if len(actx.AvailableActions) == 0 {
		sb.WriteString("idle")
	} else {
		sb.WriteString(strings.Join(actx.AvailableActions, ", "))
	}
	sb.WriteString("\n")

	inbox := actx.Inbox
	if len(inbox) > maxPromptInbox {
		inbox = inbox[len(inbox)-maxPromptInbox:]
	}
	sb.WriteString("\nRecent messages:\n")
	if len(inbox) == 0 {
		sb.WriteString("- none\n")
	}
	for _, m := range inbox {
		sb.WriteString(fmt.Sprintf("- from %s: %s\n", m.From, m.Content))
	}

	sb.WriteString("\nOther devices:\n")
	if len(actx.Peers) == 0 {
		sb.WriteString("- none\n")
	}
	for _, p := range actx.Peers {
		sb.WriteString(fmt.Sprintf("- %s (%s) in %s, status %s\n", p.ID, nonEmpty(p.Name, p.Category), p.Room, p.Status))
	}

	sb.WriteString("\nHousehold policy:\n")
	if len(actx.Policies.Priorities) > 0 {
		sb.WriteString("- priorities: " + strings.Join(actx.Policies.Priorities, " > ") + "\n")
	}
	if q := actx.Policies.QuietHours; q != nil {
		sb.WriteString(fmt.Sprintf("- quiet hours: %02.0f:00-%02.0f:00, keep lights and fans low\n", q.StartHour, q.EndHour))
	}
	if actx.Policies.Limits.MaxPowerKw > 0 {
		sb.WriteString(fmt.Sprintf("- max power draw: %.1f kW\n", actx.Policies.Limits.MaxPowerKw))
	}

	if strings.TrimSpace(dev.Instructions) != "" {
		sb.WriteString("\nDevice instructions:\n")
		sb.WriteString(strings.TrimSpace(dev.Instructions))
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with ONLY a JSON object, no prose and no code fences:\n")
	sb.WriteString(`{"messages_to":[{"to":"<device id>","content":"<text>"}],"actions":[{"name":"<available action>","args":{}}],"explain":"<one sentence>"}`)
	sb.WriteString("\nUse empty arrays when you have nothing to send or do.\n")
	return sb.String()
}

func clockString(timeSec float64) string {
	h := domain.HourOfDay(timeSec)
	hour := int(h)
	minute := int((h - float64(hour)) * 60)
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
