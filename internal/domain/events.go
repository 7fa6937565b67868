package domain

const (
	EventAction             = "action"
	EventActionFailed       = "action_failed"
	EventActionBlocked      = "action_blocked"
	EventConflictResolution = "conflict_resolution"
	EventCooperation        = "cooperation"
	EventRuleFired          = "rule_fired"
	EventRuleNudge          = "rule_nudge"
	EventAlarm              = "alarm"
	EventMessage            = "message"
	EventMessageDropped     = "message_dropped"
	EventMessageBlocked     = "message_blocked"
	EventHumanImpact        = "human_impact"
	EventDirector           = "director"
	EventSystemError        = "system_error"
	EventPlannerFallback    = "planner_fallback"
)

// WorldEvent is one append-only log entry.
type WorldEvent struct {
	Tick        uint64         `json:"tick"`
	Time        float64        `json:"time"`
	Room        string         `json:"room,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	Kind        string         `json:"kind"`
	Data        map[string]any `json:"data,omitempty"`
	Description string         `json:"description,omitempty"`
}

// NewEvent stamps an event with the world's current tick and time.
func (w *WorldState) NewEvent(kind, room, deviceID, description string, data map[string]any) WorldEvent {
	return WorldEvent{
		Tick:        w.Tick,
		Time:        w.TimeSec,
		Room:        room,
		DeviceID:    deviceID,
		Kind:        kind,
		Data:        data,
		Description: description,
	}
}
