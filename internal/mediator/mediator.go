// Package mediator turns the proposals of one tick into an approved action
// set: it resolves conflicting proposals, applies rule-pack governance and
// enforces quiet hours and the power ceiling.
package mediator

import (
	"fmt"
	"log/slog"

	"housesim/internal/domain"
	"housesim/internal/rng"
)

type Config struct {
	// Below this much available power, high-power actions in the same room
	// collide with each other.
	LowPowerThresholdKw float64
	DefaultSoftWeight   float64
	SafetyBonus         float64
	OutOfBandBonus      float64
	SafeTempMin         float64
	SafeTempMax         float64
	TieBreak            float64

	LoudBrightness float64
	LoudFanSpeed   float64
	LoudVolume     float64
}

func DefaultConfig() Config {
	return Config{
		LowPowerThresholdKw: 1.0,
		DefaultSoftWeight:   0.5,
		SafetyBonus:         0.3,
		OutOfBandBonus:      0.2,
		SafeTempMin:         18,
		SafeTempMax:         26,
		TieBreak:            0.01,
		LoudBrightness:      60,
		LoudFanSpeed:        2,
		LoudVolume:          40,
	}
}

type Mediator struct {
	cfg    Config
	rng    *rng.Source
	logger *slog.Logger
}

// New builds a mediator. The random source is only drawn from inside
// Mediate, so it must not be shared with another goroutine.
func New(cfg Config, src *rng.Source, logger *slog.Logger) *Mediator {
	defaults := DefaultConfig()
	if cfg.DefaultSoftWeight <= 0 {
		cfg.DefaultSoftWeight = defaults.DefaultSoftWeight
	}
	if cfg.SafeTempMax <= cfg.SafeTempMin {
		cfg.SafeTempMin = defaults.SafeTempMin
		cfg.SafeTempMax = defaults.SafeTempMax
	}
	if cfg.LoudBrightness <= 0 {
		cfg.LoudBrightness = defaults.LoudBrightness
	}
	if cfg.LoudFanSpeed <= 0 {
		cfg.LoudFanSpeed = defaults.LoudFanSpeed
	}
	if cfg.LoudVolume <= 0 {
		cfg.LoudVolume = defaults.LoudVolume
	}
	if src == nil {
		src = rng.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mediator{cfg: cfg, rng: src, logger: logger}
}

type capability uint8

const (
	capTemperature capability = 1 << iota
	capBrightness
	capHighPower
)

type entry struct {
	proposal domain.Proposal
	room     string
	caps     capability
}

// Mediate produces the approved action set for one tick. For a fixed random
// state and a fixed proposal order the result is identical across runs.
func (m *Mediator) Mediate(proposals []domain.Proposal, world *domain.WorldState) domain.MediationResult {
	res := domain.MediationResult{
		Approved:    []domain.ApprovedAction{},
		Resolutions: []domain.ConflictResolution{},
		Log:         []domain.WorldEvent{},
		RuleFirings: []domain.RuleFiring{},
	}

	entries := make([]entry, 0, len(proposals))
	for _, p := range proposals {
		dev, ok := world.Devices[p.DeviceID]
		if !ok {
			res.Log = append(res.Log, world.NewEvent(domain.EventActionFailed, "", p.DeviceID,
				fmt.Sprintf("proposal from unknown device %s skipped", p.DeviceID),
				map[string]any{"reason": "unknown_device"}))
			continue
		}
		entries = append(entries, entry{proposal: p, room: dev.Room, caps: capabilitiesOf(p.Step.Actions)})
	}

	lowPower := world.Resources.PowerKw < m.cfg.LowPowerThresholdKw
	for _, group := range groupEntries(entries, lowPower) {
		winner := group[0]
		if len(group) > 1 {
			winner = m.resolve(group, world, &res)
		}
		for _, a := range winner.proposal.Step.Actions {
			res.Approved = append(res.Approved, domain.ApprovedAction{DeviceID: winner.proposal.DeviceID, Action: a})
		}
	}

	m.applyRules(world, &res)
	m.enforceQuietHours(world, &res)
	m.enforcePowerLimit(world, &res)
	return res
}

func capabilitiesOf(actions []domain.ProposedAction) capability {
	var c capability
	for _, a := range actions {
		if domain.IsTemperatureAction(a.Name) {
			c |= capTemperature
		}
		if domain.IsBrightnessAction(a.Name) {
			c |= capBrightness
		}
		if domain.IsHighPower(a.Name) {
			c |= capHighPower
		}
	}
	return c
}

func conflicts(a, b entry, lowPower bool) bool {
	if a.room != b.room {
		return false
	}
	shared := a.caps & b.caps
	if shared&(capTemperature|capBrightness) != 0 {
		return true
	}
	return lowPower && shared&capHighPower != 0
}

// groupEntries makes one ordered pass: an entry joins the first existing
// group holding a member it conflicts with, otherwise it starts a new group.
// Groups are never merged, so an entry spanning two capabilities is only
// weighed against the first group it meets. If it wins there, its other
// actions can still be approved next to another group's winner in the same
// room.
func groupEntries(entries []entry, lowPower bool) [][]entry {
	var groups [][]entry
	for _, e := range entries {
		placed := false
		for gi := range groups {
			for _, member := range groups[gi] {
				if conflicts(member, e, lowPower) {
					groups[gi] = append(groups[gi], e)
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, []entry{e})
		}
	}
	return groups
}

func (m *Mediator) resolve(group []entry, world *domain.WorldState, res *domain.MediationResult) entry {
	scores := make([]utility, len(group))
	utilities := make(map[string]float64, len(group))
	best := 0
	for i, e := range group {
		scores[i] = m.score(e, world)
		utilities[e.proposal.DeviceID] = scores[i].Total
		if scores[i].Total > scores[best].Total {
			best = i
		}
	}

	winner := group[best]
	for i, e := range group {
		if i == best {
			continue
		}
		rule, why := explainWin(scores[best], scores[i])
		explanation := fmt.Sprintf("%s won over %s in %s: %s (utility %.3f vs %.3f)",
			winner.proposal.DeviceID, e.proposal.DeviceID, winner.room, why, scores[best].Total, scores[i].Total)
		res.Resolutions = append(res.Resolutions, domain.ConflictResolution{
			Winner:      winner.proposal.DeviceID,
			Loser:       e.proposal.DeviceID,
			Rule:        rule,
			Utilities:   copyUtilities(utilities),
			Explanation: explanation,
		})
		res.Log = append(res.Log, world.NewEvent(domain.EventConflictResolution, winner.room, winner.proposal.DeviceID, explanation, map[string]any{
			"winner":    winner.proposal.DeviceID,
			"loser":     e.proposal.DeviceID,
			"rule":      rule,
			"utilities": copyUtilities(utilities),
			"dropped":   actionNames(e.proposal.Step.Actions),
		}))
	}
	m.logger.Debug("conflict resolved", "room", winner.room, "winner", winner.proposal.DeviceID, "size", len(group))
	return winner
}

func copyUtilities(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func actionNames(actions []domain.ProposedAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Name)
	}
	return out
}

func (m *Mediator) enforceQuietHours(world *domain.WorldState, res *domain.MediationResult) {
	if !world.Policies.InQuietHours(world.Hour()) {
		return
	}
	kept := res.Approved[:0]
	for _, a := range res.Approved {
		if m.isLoud(a, world) {
			res.Log = append(res.Log, world.NewEvent(domain.EventActionBlocked, roomOf(world, a.DeviceID), a.DeviceID,
				fmt.Sprintf("%s blocked for %s during quiet hours", a.Action.Name, a.DeviceID),
				map[string]any{"action": a.Action.Name, "reason": "quiet_hours"}))
			continue
		}
		kept = append(kept, a)
	}
	res.Approved = kept
}

// isLoud flags brightness, fan and sound requests above the quiet-hour
// thresholds.
func (m *Mediator) isLoud(a domain.ApprovedAction, world *domain.WorldState) bool {
	switch a.Action.Name {
	case domain.ActSetBrightness:
		v, ok := a.Action.FirstFloat(domain.ArgLevel...)
		return ok && v > m.cfg.LoudBrightness
	case domain.ActBrighten:
		amount, ok := a.Action.FirstFloat(domain.ArgAmount...)
		if !ok {
			return false
		}
		current := 0.0
		if dev, ok := world.Devices[a.DeviceID]; ok {
			current = dev.Scratch("brightness", 0)
		}
		return current+amount > m.cfg.LoudBrightness
	case domain.ActSetFanSpeed:
		v, ok := a.Action.FirstFloat(domain.ArgSpeed...)
		return ok && v > m.cfg.LoudFanSpeed
	case domain.ActPlaySound:
		v, ok := a.Action.FirstFloat(domain.ArgVolume...)
		return ok && v > m.cfg.LoudVolume
	}
	return false
}

func (m *Mediator) enforcePowerLimit(world *domain.WorldState, res *domain.MediationResult) {
	limit := world.Policies.Limits.MaxPowerKw
	draw := world.Resources.PowerDrawKw()
	if limit <= 0 || draw <= limit {
		return
	}
	kept := res.Approved[:0]
	for _, a := range res.Approved {
		if domain.IsHighPower(a.Action.Name) {
			res.Log = append(res.Log, world.NewEvent(domain.EventActionBlocked, roomOf(world, a.DeviceID), a.DeviceID,
				fmt.Sprintf("%s blocked for %s: power draw %.2f kW exceeds %.2f kW", a.Action.Name, a.DeviceID, draw, limit),
				map[string]any{"action": a.Action.Name, "reason": "power_limit", "draw_kw": draw, "max_kw": limit}))
			continue
		}
		kept = append(kept, a)
	}
	res.Approved = kept
}

func roomOf(world *domain.WorldState, deviceID string) string {
	if dev, ok := world.Devices[deviceID]; ok {
		return dev.Room
	}
	return ""
}
