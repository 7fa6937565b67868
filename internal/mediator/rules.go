package mediator

import (
	"fmt"
	"math"
	"sort"

	"housesim/internal/domain"
)

// applyRules evaluates every active rule of every active pack, highest
// priority first within a pack. Hard rules strip approved actions whose
// projected effect breaks the rule's bounds; soft rules only explain.
func (m *Mediator) applyRules(world *domain.WorldState, res *domain.MediationResult) {
	hour := world.Hour()
	for _, pack := range world.Policies.RulePacks {
		if !pack.Active {
			continue
		}
		for _, rule := range orderedRules(pack.Rules) {
			rooms := scopedRooms(world, rule)
			if !ruleHolds(rule, rooms, hour) {
				continue
			}
			if rule.Hard {
				m.applyHardRule(world, pack, rule, rooms, res)
			} else {
				m.applySoftRule(world, pack, rule, res)
			}
		}
	}
}

func orderedRules(rules []domain.WorldRule) []domain.WorldRule {
	out := make([]domain.WorldRule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func ruleHolds(rule domain.WorldRule, rooms []*domain.RoomState, hour float64) bool {
	if rule.When != nil && !conditionHolds(*rule.When, rooms, hour) {
		return false
	}
	if rule.If != nil && !conditionHolds(*rule.If, rooms, hour) {
		return false
	}
	if rule.Unless != nil && conditionHolds(*rule.Unless, rooms, hour) {
		return false
	}
	return true
}

// conditionHolds is a conjunction over the set fields. Averages with no rooms
// in scope never hold.
func conditionHolds(c domain.Condition, rooms []*domain.RoomState, hour float64) bool {
	if c.Hours != nil && !c.Hours.Contains(hour) {
		return false
	}
	if c.AvgTempAbove != nil || c.AvgTempBelow != nil {
		avg, ok := average(rooms, domain.VarTemperature)
		if !ok {
			return false
		}
		if c.AvgTempAbove != nil && !(avg > *c.AvgTempAbove) {
			return false
		}
		if c.AvgTempBelow != nil && !(avg < *c.AvgTempBelow) {
			return false
		}
	}
	if c.AvgLightAbove != nil || c.AvgLightBelow != nil {
		avg, ok := average(rooms, domain.VarLight)
		if !ok {
			return false
		}
		if c.AvgLightAbove != nil && !(avg > *c.AvgLightAbove) {
			return false
		}
		if c.AvgLightBelow != nil && !(avg < *c.AvgLightBelow) {
			return false
		}
	}
	if c.RoomTag != "" {
		tagged := false
		for _, r := range rooms {
			if r.HasTag(c.RoomTag) {
				tagged = true
				break
			}
		}
		if !tagged {
			return false
		}
	}
	return true
}

func average(rooms []*domain.RoomState, variable string) (float64, bool) {
	if len(rooms) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, r := range rooms {
		v, _ := r.Variable(variable)
		sum += v
	}
	return sum / float64(len(rooms)), true
}

// scopedRooms returns the rooms a rule's predicates are evaluated over, in
// id order.
func scopedRooms(world *domain.WorldState, rule domain.WorldRule) []*domain.RoomState {
	switch rule.Scope {
	case domain.ScopeRoom:
		if r, ok := world.Rooms[rule.Target]; ok {
			return []*domain.RoomState{r}
		}
		return nil
	case domain.ScopeDevice:
		dev, ok := world.Devices[rule.Target]
		if !ok {
			return nil
		}
		if r, ok := world.Rooms[dev.Room]; ok {
			return []*domain.RoomState{r}
		}
		return nil
	default:
		ids := world.SortedRoomIDs()
		out := make([]*domain.RoomState, 0, len(ids))
		for _, id := range ids {
			out = append(out, world.Rooms[id])
		}
		return out
	}
}

func inScope(world *domain.WorldState, rule domain.WorldRule, a domain.ApprovedAction) bool {
	switch rule.Scope {
	case domain.ScopeRoom:
		return roomOf(world, a.DeviceID) == rule.Target
	case domain.ScopeDevice:
		return a.DeviceID == rule.Target
	default:
		return true
	}
}

func (m *Mediator) applyHardRule(world *domain.WorldState, pack domain.RulePack, rule domain.WorldRule, rooms []*domain.RoomState, res *domain.MediationResult) {
	var stripped []domain.ApprovedAction
	kept := res.Approved[:0]
	for _, a := range res.Approved {
		if inScope(world, rule, a) {
			if p, ok := project(world, a, rule.Then.Variable); ok && violates(rule.Then, p) {
				stripped = append(stripped, a)
				continue
			}
		}
		kept = append(kept, a)
	}
	res.Approved = kept

	observedBreach := false
	if avg, ok := observed(world, rooms, rule.Then.Variable); ok {
		observedBreach = outOfBounds(rule.Then, avg)
	}
	if len(stripped) == 0 && !observedBreach {
		return
	}

	explanation := ruleExplanation(rule)
	if len(stripped) > 0 {
		explanation = fmt.Sprintf("%s; removed %d action(s)", explanation, len(stripped))
	}
	firing := domain.RuleFiring{
		PackID:      pack.ID,
		RuleID:      rule.ID,
		Hard:        true,
		Stripped:    stripped,
		Explanation: explanation,
	}
	res.RuleFirings = append(res.RuleFirings, firing)

	room := ""
	if rule.Scope == domain.ScopeRoom {
		room = rule.Target
	}
	res.Log = append(res.Log, world.NewEvent(domain.EventRuleFired, room, "", explanation, map[string]any{
		"pack_id":  pack.ID,
		"rule_id":  rule.ID,
		"hard":     true,
		"variable": rule.Then.Variable,
		"stripped": len(stripped),
	}))
	for _, a := range stripped {
		res.Log = append(res.Log, world.NewEvent(domain.EventActionBlocked, roomOf(world, a.DeviceID), a.DeviceID,
			fmt.Sprintf("%s from %s removed by rule %s", a.Action.Name, a.DeviceID, rule.ID),
			map[string]any{"action": a.Action.Name, "reason": "hard_rule", "rule_id": rule.ID}))
	}
	if rule.Then.Alarm != "" {
		res.Log = append(res.Log, world.NewEvent(domain.EventAlarm, room, "", rule.Then.Alarm, map[string]any{
			"pack_id": pack.ID,
			"rule_id": rule.ID,
		}))
	}
}

// applySoftRule logs advice when an approved action touches the governed
// variable. The action list is left untouched.
func (m *Mediator) applySoftRule(world *domain.WorldState, pack domain.RulePack, rule domain.WorldRule, res *domain.MediationResult) {
	var touched []string
	for _, a := range res.Approved {
		if !inScope(world, rule, a) {
			continue
		}
		if _, ok := project(world, a, rule.Then.Variable); ok {
			touched = append(touched, a.DeviceID)
		}
	}
	if len(touched) == 0 {
		return
	}
	explanation := ruleExplanation(rule)
	res.RuleFirings = append(res.RuleFirings, domain.RuleFiring{
		PackID:      pack.ID,
		RuleID:      rule.ID,
		Hard:        false,
		Explanation: explanation,
	})
	room := ""
	if rule.Scope == domain.ScopeRoom {
		room = rule.Target
	}
	res.Log = append(res.Log, world.NewEvent(domain.EventRuleNudge, room, "", explanation, map[string]any{
		"pack_id":  pack.ID,
		"rule_id":  rule.ID,
		"variable": rule.Then.Variable,
		"devices":  touched,
		"hint":     rule.Then.ActionHint,
	}))
}

func ruleExplanation(rule domain.WorldRule) string {
	if rule.Explain != "" {
		return rule.Explain
	}
	name := rule.Name
	if name == "" {
		name = rule.ID
	}
	return fmt.Sprintf("rule %s governs %s", name, rule.Then.Variable)
}

type projection struct {
	Value  float64
	Change float64
}

func violates(t domain.Transform, p projection) bool {
	if outOfBounds(t, p.Value) {
		return true
	}
	return t.Delta != nil && math.Abs(p.Change) > math.Abs(*t.Delta)
}

func outOfBounds(t domain.Transform, v float64) bool {
	if t.Min != nil && v < *t.Min {
		return true
	}
	return t.Max != nil && v > *t.Max
}

// observed is the current value of a variable averaged over the scoped rooms.
func observed(world *domain.WorldState, rooms []*domain.RoomState, variable string) (float64, bool) {
	if variable == domain.VarPower {
		return world.Resources.PowerDrawKw(), true
	}
	return average(rooms, variable)
}

// project estimates where an action would push a variable if applied in
// full. Actions that do not touch the variable report false.
func project(world *domain.WorldState, a domain.ApprovedAction, variable string) (projection, bool) {
	dev, ok := world.Devices[a.DeviceID]
	if !ok {
		return projection{}, false
	}
	room, ok := world.Rooms[dev.Room]
	if !ok && variable != domain.VarPower {
		return projection{}, false
	}
	act := a.Action

	switch variable {
	case domain.VarTemperature:
		cur := room.Temperature
		switch act.Name {
		case domain.ActSetTemperature:
			if v, ok := act.FirstFloat(domain.ArgTarget...); ok {
				return projection{Value: v, Change: v - cur}, true
			}
		case domain.ActCool:
			if d, ok := act.FirstFloat(domain.ArgDelta...); ok {
				return projection{Value: cur - math.Abs(d), Change: -math.Abs(d)}, true
			}
		case domain.ActHeat, domain.ActBoostHeat:
			if d, ok := act.FirstFloat(domain.ArgDelta...); ok {
				return projection{Value: cur + math.Abs(d), Change: math.Abs(d)}, true
			}
		case domain.ActAdjustTemperature:
			if d, ok := act.FirstFloat(domain.ArgDelta...); ok {
				return projection{Value: cur + d, Change: d}, true
			}
		case domain.ActSetFanSpeed:
			if s, ok := act.FirstFloat(domain.ArgSpeed...); ok {
				return projection{Value: cur - 0.05*s, Change: -0.05 * s}, true
			}
		}
	case domain.VarLight:
		cur := room.Light
		switch act.Name {
		case domain.ActSetBrightness:
			if v, ok := act.FirstFloat(domain.ArgLevel...); ok {
				return projection{Value: v, Change: v - cur}, true
			}
		case domain.ActDim, domain.ActBrighten:
			amount, ok := act.FirstFloat(domain.ArgAmount...)
			if !ok {
				return projection{}, false
			}
			if act.Name == domain.ActDim {
				amount = -math.Abs(amount)
			} else {
				amount = math.Abs(amount)
			}
			return projection{Value: cur + amount, Change: amount}, true
		}
	case domain.VarNoise:
		cur := room.Noise
		switch act.Name {
		case domain.ActPlaySound:
			if v, ok := act.FirstFloat(domain.ArgVolume...); ok {
				next := math.Max(cur, v)
				return projection{Value: next, Change: next - cur}, true
			}
		case domain.ActSetFanSpeed, domain.ActVacuum, domain.ActRunDryer:
			level := 3.0
			if act.Name == domain.ActSetFanSpeed {
				s, ok := act.FirstFloat(domain.ArgSpeed...)
				if !ok {
					return projection{}, false
				}
				level = s
			}
			return projection{Value: cur + 5*level, Change: 5 * level}, true
		}
	case domain.VarHumidity:
		if act.Name == domain.ActSetHumidity {
			if v, ok := act.FirstFloat(domain.ArgHumidity...); ok {
				return projection{Value: v, Change: v - room.Humidity}, true
			}
		}
	case domain.VarMood:
		if act.Name == domain.ActSetColor {
			return projection{Value: room.Mood + colorMoodNudge, Change: colorMoodNudge}, true
		}
	case domain.VarPower:
		cost := domain.PowerCostKw(act.Name)
		if cost <= 0 {
			return projection{}, false
		}
		draw := world.Resources.PowerDrawKw()
		return projection{Value: draw + cost, Change: cost}, true
	}
	return projection{}, false
}

const colorMoodNudge = 0.05
