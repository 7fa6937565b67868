package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"housesim/internal/domain"
)

const (
	maxRecentEvents = 50
	maxLogs         = 200
)

type consoleState struct {
	mu        sync.Mutex
	deviceID  string
	actions   []string
	version   int64
	recent    []domain.WorldEvent
	counts    map[string]int
	lastTick  uint64
	updatedAt time.Time
	logs      []string
}

// The starting version is the launch time so a restarted console is never
// behind the report it left in the directory.
func newConsoleState(deviceID string, actions []string) *consoleState {
	return &consoleState{
		deviceID: deviceID,
		actions:  append([]string(nil), actions...),
		version:  time.Now().UnixMilli(),
		counts:   map[string]int{},
	}
}

func (s *consoleState) record(events []domain.WorldEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.counts[e.Kind]++
		if e.Tick > s.lastTick {
			s.lastTick = e.Tick
		}
		s.appendLogLocked(fmt.Sprintf("[tick %d] %s %s", e.Tick, e.Kind, e.Description))
	}
	s.recent = append(s.recent, events...)
	if len(s.recent) > maxRecentEvents {
		s.recent = append([]domain.WorldEvent(nil), s.recent[len(s.recent)-maxRecentEvents:]...)
	}
	s.updatedAt = time.Now()
}

// setActions bumps the report version so the directory accepts the change.
func (s *consoleState) setActions(actions []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append([]string(nil), actions...)
	s.version++
	return s.version
}

func (s *consoleState) appendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLogLocked(line)
}

func (s *consoleState) appendLogLocked(line string) {
	s.logs = append(s.logs, line)
	if len(s.logs) > maxLogs {
		s.logs = append([]string(nil), s.logs[len(s.logs)-maxLogs:]...)
	}
}

type consoleSnapshot struct {
	DeviceID  string              `json:"device_id"`
	Actions   []string            `json:"actions"`
	Version   int64               `json:"version"`
	LastTick  uint64              `json:"last_tick"`
	Counts    map[string]int      `json:"counts"`
	Recent    []domain.WorldEvent `json:"recent"`
	UpdatedAt time.Time           `json:"updated_at"`
	Logs      []string            `json:"logs"`
}

func (s *consoleState) snapshot() consoleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return consoleSnapshot{
		DeviceID:  s.deviceID,
		Actions:   append([]string(nil), s.actions...),
		Version:   s.version,
		LastTick:  s.lastTick,
		Counts:    counts,
		Recent:    append([]domain.WorldEvent(nil), s.recent...),
		UpdatedAt: s.updatedAt,
		Logs:      append([]string(nil), s.logs...),
	}
}

func (s *consoleState) summary() string {
	snap := s.snapshot()
	kinds := make([]string, 0, len(snap.Counts))
	for k := range snap.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, snap.Counts[k]))
	}
	return fmt.Sprintf("device=%s tick=%d %s", snap.DeviceID, snap.LastTick, strings.Join(parts, " "))
}

// parseCommand turns a console line into a control command. safe and
// release default to the console's own device.
func parseCommand(line, self string) (domain.ControlCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return domain.ControlCommand{}, fmt.Errorf("empty command")
	}
	cmd := domain.ControlCommand{Command: strings.ToLower(fields[0])}
	switch cmd.Command {
	case domain.CommandStart, domain.CommandPause, domain.CommandStep:
		if len(fields) != 1 {
			return domain.ControlCommand{}, fmt.Errorf("%s takes no arguments", cmd.Command)
		}
	case domain.CommandSpeed:
		if len(fields) != 2 {
			return domain.ControlCommand{}, fmt.Errorf("usage: speed <factor>")
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || v <= 0 {
			return domain.ControlCommand{}, fmt.Errorf("speed must be a positive number")
		}
		cmd.Speed = v
	case domain.CommandSafe, domain.CommandRelease:
		switch len(fields) {
		case 1:
			cmd.DeviceID = self
		case 2:
			cmd.DeviceID = fields[1]
		default:
			return domain.ControlCommand{}, fmt.Errorf("usage: %s [device_id]", cmd.Command)
		}
	default:
		return domain.ControlCommand{}, fmt.Errorf("unknown command: %s", fields[0])
	}
	return cmd, nil
}
