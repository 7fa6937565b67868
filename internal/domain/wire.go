package domain

// CapabilityReport is published by a device (or its emulator) to announce the
// actions it can currently perform.
type CapabilityReport struct {
	DeviceID string   `json:"device_id"`
	Version  int64    `json:"version"`
	Actions  []string `json:"actions"`
}

// ControlCommand drives the simulation over the message bus.
type ControlCommand struct {
	RequestID string  `json:"request_id"`
	Command   string  `json:"command"`
	Speed     float64 `json:"speed,omitempty"`
	DeviceID  string  `json:"device_id,omitempty"`
}

const (
	CommandStart   = "start"
	CommandPause   = "pause"
	CommandStep    = "step"
	CommandSpeed   = "speed"
	CommandSafe    = "safe"
	CommandRelease = "release"
)

type ControlResult struct {
	RequestID string       `json:"request_id"`
	OK        bool         `json:"ok"`
	Error     string       `json:"error,omitempty"`
	Events    []WorldEvent `json:"events,omitempty"`
}
