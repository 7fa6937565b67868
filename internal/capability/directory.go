// Package capability keeps the live view of which actions each connected
// device reports it can perform.
package capability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type DeviceState struct {
	DeviceID    string
	Version     int64
	Actions     []string
	Online      bool
	LastUpdated time.Time
}

type Directory struct {
	mu   sync.RWMutex
	data map[string]DeviceState
	ttl  time.Duration
	now  func() time.Time
}

func NewDirectory(ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Directory{
		data: make(map[string]DeviceState),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetActions records a capability report. Once a device has sent a versioned
// report, older or unversioned reports are ignored.
func (d *Directory) SetActions(deviceID string, version int64, actions []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.data[deviceID]
	if current.Version > 0 && version > 0 && version < current.Version {
		return
	}
	if current.Version > 0 && version == 0 {
		return
	}
	if version == 0 {
		version = current.Version
	}

	d.data[deviceID] = DeviceState{
		DeviceID:    deviceID,
		Version:     version,
		Actions:     cleanActions(actions),
		Online:      true,
		LastUpdated: d.now(),
	}
}

func cleanActions(actions []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func (d *Directory) SetOnline(deviceID string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.data[deviceID]
	state.DeviceID = deviceID
	state.Online = online
	state.LastUpdated = d.now()
	d.data[deviceID] = state
}

func (d *Directory) GetState(deviceID string) (DeviceState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.data[deviceID]
	if !ok || d.isExpired(state) {
		return DeviceState{}, false
	}
	out := state
	out.Actions = append([]string(nil), state.Actions...)
	return out, true
}

// Actions returns the reported action list of an online device. The order is
// the device's own, so its first action stays the planner's fallback.
func (d *Directory) Actions(deviceID string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.data[deviceID]
	if !ok || !state.Online || d.isExpired(state) || len(state.Actions) == 0 {
		return nil, false
	}
	return append([]string(nil), state.Actions...), true
}

// ListOnline returns the live devices in id order.
func (d *Directory) ListOnline() []DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DeviceState, 0, len(d.data))
	for _, state := range d.data {
		if strings.TrimSpace(state.DeviceID) == "" {
			continue
		}
		if !state.Online || d.isExpired(state) {
			continue
		}
		item := state
		item.Actions = append([]string(nil), state.Actions...)
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (d *Directory) isExpired(state DeviceState) bool {
	if d.ttl <= 0 {
		return false
	}
	return d.now().Sub(state.LastUpdated) > d.ttl
}
