package mediator

import (
	"strings"

	"housesim/internal/domain"
)

type utility struct {
	Goals     float64
	Safety    float64
	OutOfBand float64
	TieBreak  float64
	Total     float64
}

// score draws exactly one tie-break value per call, so the random stream
// only depends on group sizes and order.
func (m *Mediator) score(e entry, world *domain.WorldState) utility {
	var u utility
	dev := world.Devices[e.proposal.DeviceID]
	for _, g := range dev.Spec.Goals {
		u.Goals += g.Weight * m.softWeight(world.Policies.SoftWeights, g.Name)
		if isSafetyGoal(g.Name) {
			u.Safety = m.cfg.SafetyBonus
		}
	}
	if room, ok := world.Rooms[e.room]; ok {
		if room.Temperature < m.cfg.SafeTempMin || room.Temperature > m.cfg.SafeTempMax {
			u.OutOfBand = m.cfg.OutOfBandBonus
		}
	}
	u.TieBreak = m.rng.Float64() * m.cfg.TieBreak
	u.Total = u.Goals + u.Safety + u.OutOfBand + u.TieBreak
	return u
}

// softWeight looks up the policy weight for a goal by exact name, then by
// any of its aliases.
func (m *Mediator) softWeight(weights map[string]float64, goal string) float64 {
	if len(weights) == 0 {
		return m.cfg.DefaultSoftWeight
	}
	name := strings.ToLower(strings.TrimSpace(goal))
	if w, ok := weights[name]; ok {
		return w
	}
	for _, alias := range domain.GoalAliases(name) {
		if w, ok := weights[alias]; ok {
			return w
		}
	}
	return m.cfg.DefaultSoftWeight
}

func isSafetyGoal(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "safe") || domain.CanonicalGoal(n) == "safety"
}

// explainWin names the component that decided a pairwise outcome.
func explainWin(winner, loser utility) (rule, why string) {
	switch {
	case winner.Safety > loser.Safety:
		return "safety_priority", "safety-related goal takes precedence"
	case winner.Goals-loser.Goals > 1e-9:
		return "goal_utility", "higher weighted goal utility"
	case winner.Goals+winner.Safety+winner.OutOfBand > loser.Goals+loser.Safety+loser.OutOfBand:
		return "goal_utility", "higher combined utility"
	default:
		return "tie_break", "scores tied, settled by seeded tie-break"
	}
}
