package domain

import (
	"math"
	"sort"
	"strings"
)

type DeviceStatus string

const (
	StatusIdle     DeviceStatus = "idle"
	StatusActing   DeviceStatus = "acting"
	StatusConflict DeviceStatus = "conflict"
	StatusSafe     DeviceStatus = "safe"
)

type RoomState struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	Light       float64  `json:"light" yaml:"light"`
	Noise       float64  `json:"noise" yaml:"noise"`
	Humidity    float64  `json:"humidity" yaml:"humidity"`
	Mood        float64  `json:"mood" yaml:"mood"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
}

func (r RoomState) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Variable reads a room variable by name. Unknown names report false.
func (r RoomState) Variable(name string) (float64, bool) {
	switch name {
	case VarTemperature:
		return r.Temperature, true
	case VarLight:
		return r.Light, true
	case VarNoise:
		return r.Noise, true
	case VarHumidity:
		return r.Humidity, true
	case VarMood:
		return r.Mood, true
	}
	return 0, false
}

const (
	VarTemperature = "temperature"
	VarLight       = "light"
	VarNoise       = "noise"
	VarHumidity    = "humidity"
	VarMood        = "mood"
	VarPower       = "power"
)

type Goal struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// DeviceSpec is fixed for the session once personality jitter has been applied.
type DeviceSpec struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Room         string   `json:"room" yaml:"room"`
	Category     string   `json:"category,omitempty" yaml:"category"`
	Goals        []Goal   `json:"goals" yaml:"goals"`
	Constraints  []string `json:"constraints,omitempty" yaml:"constraints"`
	Sensors      []string `json:"sensors,omitempty" yaml:"sensors"`
	Actuators    []string `json:"actuators" yaml:"actuators"`
	CommStyle    string   `json:"comm_style,omitempty" yaml:"comm_style"`
	Phase        int      `json:"phase" yaml:"phase"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions"`
}

// IsClimate reports whether the device drives room temperature and is
// therefore subject to minimum on-time.
func (d DeviceSpec) IsClimate() bool {
	if strings.EqualFold(d.Category, "climate") {
		return true
	}
	for _, a := range d.Actuators {
		switch a {
		case "cool", "heat", "set_temperature", "adjust_temperature":
			return true
		}
	}
	return false
}

// NormalizeGoals rescales weights so they sum to 1. Non-positive totals leave
// the goals untouched.
func NormalizeGoals(goals []Goal) []Goal {
	total := 0.0
	for _, g := range goals {
		if g.Weight > 0 {
			total += g.Weight
		}
	}
	out := make([]Goal, len(goals))
	copy(out, goals)
	if total <= 0 {
		return out
	}
	for i := range out {
		if out[i].Weight < 0 {
			out[i].Weight = 0
		}
		out[i].Weight /= total
	}
	return out
}

// Personality is the random draw that gives each device its own character.
type Personality interface {
	Normal(mean, stddev float64) float64
	IntRange(lo, hi int) int
}

// Personalize scales every goal weight by 1+N(0,jitter), floors it at 0.01
// and normalizes. A nil phase draws one from [0, phases). Draws happen in
// goal order then phase, so a seeded source yields the same device.
func Personalize(goals []Goal, jitter float64, phase *int, phases int, src Personality) ([]Goal, int) {
	out := make([]Goal, len(goals))
	for i, g := range goals {
		weight := g.Weight
		if jitter > 0 {
			weight *= 1 + src.Normal(0, jitter)
		}
		if weight < 0.01 || math.IsNaN(weight) {
			weight = 0.01
		}
		out[i] = Goal{Name: g.Name, Weight: weight}
	}
	if phase != nil {
		return NormalizeGoals(out), *phase
	}
	if phases <= 0 {
		phases = 4
	}
	return NormalizeGoals(out), src.IntRange(0, phases-1)
}

type InboundMessage struct {
	From    string  `json:"from"`
	Content string  `json:"content"`
	Tick    uint64  `json:"tick"`
	Latency float64 `json:"latency_ms"`
}

// DeviceRuntime is the live instance of a device. Defaults is the scratch
// bag the applicator uses for inertia state (brightness, fan speed, on-since
// tick, ...).
type DeviceRuntime struct {
	Spec         DeviceSpec         `json:"spec"`
	Room         string             `json:"room"`
	Memory       map[string]string  `json:"memory,omitempty"`
	Inbox        []InboundMessage   `json:"inbox,omitempty"`
	LastProposal *AgentStep         `json:"last_proposal,omitempty"`
	Status       DeviceStatus       `json:"status"`
	Defaults     map[string]float64 `json:"defaults,omitempty"`
}

const maxInbox = 16

func NewDeviceRuntime(spec DeviceSpec) *DeviceRuntime {
	return &DeviceRuntime{
		Spec:     spec,
		Room:     spec.Room,
		Memory:   map[string]string{},
		Status:   StatusIdle,
		Defaults: map[string]float64{},
	}
}

func (d *DeviceRuntime) Deliver(msg InboundMessage) {
	d.Inbox = append(d.Inbox, msg)
	if len(d.Inbox) > maxInbox {
		d.Inbox = append([]InboundMessage(nil), d.Inbox[len(d.Inbox)-maxInbox:]...)
	}
}

// RecentInbox returns at most n of the newest inbound messages, oldest first.
func (d *DeviceRuntime) RecentInbox(n int) []InboundMessage {
	if n <= 0 || len(d.Inbox) == 0 {
		return nil
	}
	start := len(d.Inbox) - n
	if start < 0 {
		start = 0
	}
	return append([]InboundMessage(nil), d.Inbox[start:]...)
}

func (d *DeviceRuntime) Scratch(key string, fallback float64) float64 {
	if d.Defaults == nil {
		return fallback
	}
	if v, ok := d.Defaults[key]; ok {
		return v
	}
	return fallback
}

func (d *DeviceRuntime) SetScratch(key string, v float64) {
	if d.Defaults == nil {
		d.Defaults = map[string]float64{}
	}
	d.Defaults[key] = v
}

// HourWindow is a half-open [StartHour, EndHour) range on a 24h clock that
// may wrap past midnight.
type HourWindow struct {
	StartHour float64 `json:"start_hour" yaml:"start_hour"`
	EndHour   float64 `json:"end_hour" yaml:"end_hour"`
}

func (w HourWindow) Contains(hour float64) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

type ResourceLimits struct {
	MaxPowerKw       float64 `json:"max_power_kw" yaml:"max_power_kw"`
	MaxBandwidthMbps float64 `json:"max_bandwidth_mbps,omitempty" yaml:"max_bandwidth_mbps"`
}

type CommPair struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type Policies struct {
	Priorities  []string           `json:"priorities,omitempty" yaml:"priorities"`
	QuietHours  *HourWindow        `json:"quiet_hours,omitempty" yaml:"quiet_hours"`
	Limits      ResourceLimits     `json:"limits" yaml:"limits"`
	CommAllow   []CommPair         `json:"comm_allow,omitempty" yaml:"comm_allow"`
	RulePacks   []RulePack         `json:"rule_packs,omitempty" yaml:"rule_packs"`
	SoftWeights map[string]float64 `json:"soft_weights,omitempty" yaml:"soft_weights"`
}

// CommAllowed checks the allow-list. An empty list allows every pair and "*"
// matches any device.
func (p Policies) CommAllowed(from, to string) bool {
	if len(p.CommAllow) == 0 {
		return true
	}
	for _, pair := range p.CommAllow {
		if (pair.From == "*" || pair.From == from) && (pair.To == "*" || pair.To == to) {
			return true
		}
	}
	return false
}

func (p Policies) InQuietHours(hour float64) bool {
	return p.QuietHours != nil && p.QuietHours.Contains(hour)
}

type Resources struct {
	PowerKw        float64 `json:"power_kw" yaml:"power_kw"`
	PowerCapKw     float64 `json:"power_cap_kw" yaml:"power_cap_kw"`
	PowerRegen     float64 `json:"power_regen" yaml:"power_regen"`
	BandwidthMbps  float64 `json:"bandwidth_mbps" yaml:"bandwidth_mbps"`
	BandwidthCap   float64 `json:"bandwidth_cap" yaml:"bandwidth_cap"`
	BandwidthRegen float64 `json:"bandwidth_regen" yaml:"bandwidth_regen"`
	PrivacyBudget  float64 `json:"privacy_budget" yaml:"privacy_budget"`
	PrivacyCap     float64 `json:"privacy_cap" yaml:"privacy_cap"`
	PrivacyRegen   float64 `json:"privacy_regen" yaml:"privacy_regen"`
}

// PowerDrawKw is the share of the supply currently consumed.
func (r Resources) PowerDrawKw() float64 {
	return math.Max(0, r.PowerCapKw-r.PowerKw)
}

func (r *Resources) ConsumePower(kw float64) {
	r.PowerKw = Clamp(r.PowerKw-kw, 0, r.PowerCapKw)
}

func (r *Resources) ConsumeBandwidth(mbps float64) {
	r.BandwidthMbps = Clamp(r.BandwidthMbps-mbps, 0, r.BandwidthCap)
}

func (r *Resources) ConsumePrivacy(v float64) {
	r.PrivacyBudget = Clamp(r.PrivacyBudget-v, 0, r.PrivacyCap)
}

type SensorReading struct {
	Temperature float64 `json:"temperature"`
	Light       float64 `json:"light"`
	Noise       float64 `json:"noise"`
	Humidity    float64 `json:"humidity"`
}

// OccupantSlot places the simulated human in a room for part of the day.
type OccupantSlot struct {
	Hours HourWindow `json:"hours" yaml:"hours"`
	Room  string     `json:"room" yaml:"room"`
}

// WorldState is the aggregate root threaded through a tick. Only the
// scheduler mutates it, on a single goroutine.
type WorldState struct {
	TimeSec          float64                   `json:"time_sec"`
	Tick             uint64                    `json:"tick"`
	Rooms            map[string]*RoomState     `json:"rooms"`
	Devices          map[string]*DeviceRuntime `json:"devices"`
	Policies         Policies                  `json:"policies"`
	Resources        Resources                 `json:"resources"`
	Harmony          float64                   `json:"harmony"`
	Sensors          map[string]SensorReading  `json:"sensors,omitempty"`
	Events           []WorldEvent              `json:"events"`
	Running          bool                      `json:"running"`
	Speed            float64                   `json:"speed"`
	Seed             uint32                    `json:"seed"`
	Occupant         []OccupantSlot            `json:"occupant,omitempty"`
	LastActivityTick uint64                    `json:"last_activity_tick"`
	// Jitter is the goal-weight spread applied to devices created at runtime.
	Jitter float64 `json:"jitter"`
}

func NewWorldState() *WorldState {
	return &WorldState{
		Rooms:   map[string]*RoomState{},
		Devices: map[string]*DeviceRuntime{},
		Sensors: map[string]SensorReading{},
		Harmony: 0.7,
		Speed:   1,
	}
}

// HourOfDay converts simulated seconds to a fractional hour in [0,24).
func HourOfDay(timeSec float64) float64 {
	h := math.Mod(timeSec/3600, 24)
	if h < 0 {
		h += 24
	}
	return h
}

func (w *WorldState) Hour() float64 {
	return HourOfDay(w.TimeSec)
}

// OccupantRoom returns the room the simulated human is in right now, or ""
// when the schedule has no slot for this hour.
func (w *WorldState) OccupantRoom() string {
	h := w.Hour()
	for _, slot := range w.Occupant {
		if slot.Hours.Contains(h) {
			return slot.Room
		}
	}
	return ""
}

func (w *WorldState) SortedDeviceIDs() []string {
	ids := make([]string, 0, len(w.Devices))
	for id := range w.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *WorldState) SortedRoomIDs() []string {
	ids := make([]string, 0, len(w.Rooms))
	for id := range w.Rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *WorldState) AddDevice(spec DeviceSpec) *DeviceRuntime {
	rt := NewDeviceRuntime(spec)
	w.Devices[spec.ID] = rt
	return rt
}

func (w *WorldState) RemoveDevice(id string) {
	delete(w.Devices, id)
}

func (w *WorldState) AppendEvents(events ...WorldEvent) {
	w.Events = append(w.Events, events...)
}

// TrimEvents keeps the newest max entries.
func (w *WorldState) TrimEvents(max int) {
	if max <= 0 || len(w.Events) <= max {
		return
	}
	w.Events = append([]WorldEvent(nil), w.Events[len(w.Events)-max:]...)
}

// Clone deep-copies the state for readers outside the tick goroutine.
func (w *WorldState) Clone() *WorldState {
	out := *w
	out.Rooms = make(map[string]*RoomState, len(w.Rooms))
	for id, r := range w.Rooms {
		rc := *r
		rc.Tags = append([]string(nil), r.Tags...)
		out.Rooms[id] = &rc
	}
	out.Devices = make(map[string]*DeviceRuntime, len(w.Devices))
	for id, d := range w.Devices {
		dc := *d
		dc.Memory = make(map[string]string, len(d.Memory))
		for k, v := range d.Memory {
			dc.Memory[k] = v
		}
		dc.Defaults = make(map[string]float64, len(d.Defaults))
		for k, v := range d.Defaults {
			dc.Defaults[k] = v
		}
		dc.Inbox = append([]InboundMessage(nil), d.Inbox...)
		if d.LastProposal != nil {
			step := d.LastProposal.Clone()
			dc.LastProposal = &step
		}
		out.Devices[id] = &dc
	}
	out.Sensors = make(map[string]SensorReading, len(w.Sensors))
	for id, s := range w.Sensors {
		out.Sensors[id] = s
	}
	out.Events = append([]WorldEvent(nil), w.Events...)
	out.Occupant = append([]OccupantSlot(nil), w.Occupant...)
	return &out
}

// Clamp maps NaN to lo.
func Clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
