package applicator

import (
	"fmt"

	"housesim/internal/domain"
)

type ImpactClass string

const (
	ImpactHelp    ImpactClass = "help"
	ImpactHarm    ImpactClass = "harm"
	ImpactNeutral ImpactClass = "neutral"
)

// ClassifyImpact compares distances to the occupant's target before and
// after a change. Moves smaller than epsilon either way are neutral.
func ClassifyImpact(before, after, target, epsilon float64) ImpactClass {
	gain := abs(before-target) - abs(after-target)
	switch {
	case gain > epsilon:
		return ImpactHelp
	case gain < -epsilon:
		return ImpactHarm
	default:
		return ImpactNeutral
	}
}

// LightTarget is the light level the occupant wants at a given hour.
func (a *Applicator) LightTarget(hour float64) float64 {
	switch {
	case hour >= 7 && hour < 18:
		return a.cfg.DayLight
	case hour >= 18 && hour < 22:
		return a.cfg.EveningLight
	default:
		return a.cfg.NightLight
	}
}

type impactSpec struct {
	variable string
	target   float64
	epsilon  float64
}

func (a *Applicator) impactSpecs(hour float64) []impactSpec {
	eps := a.cfg.ImpactEpsilonLv / a.cfg.Sensitivity
	return []impactSpec{
		{variable: domain.VarTemperature, target: a.cfg.TargetTempC, epsilon: a.cfg.ImpactEpsilonC / a.cfg.Sensitivity},
		{variable: domain.VarLight, target: a.LightTarget(hour), epsilon: eps},
		{variable: domain.VarNoise, target: a.cfg.TargetNoise, epsilon: eps},
		{variable: domain.VarHumidity, target: a.cfg.HumidityBaseline, epsilon: eps},
		{variable: domain.VarMood, target: 1, epsilon: a.cfg.MoodNudge / 10 / a.cfg.Sensitivity},
	}
}

// humanImpact emits one classification per variable the action changed,
// but only when the occupant is in the acting device's room.
func (a *Applicator) humanImpact(world *domain.WorldState, dev *domain.DeviceRuntime, before, after domain.RoomState) []domain.WorldEvent {
	occupied := world.OccupantRoom()
	if occupied == "" || occupied != dev.Room {
		return nil
	}
	var events []domain.WorldEvent
	for _, spec := range a.impactSpecs(world.Hour()) {
		b, _ := before.Variable(spec.variable)
		v, _ := after.Variable(spec.variable)
		if b == v {
			continue
		}
		class := ClassifyImpact(b, v, spec.target, spec.epsilon)
		events = append(events, world.NewEvent(domain.EventHumanImpact, dev.Room, dev.Spec.ID,
			fmt.Sprintf("%s change by %s was %s for the occupant", spec.variable, dev.Spec.ID, class),
			map[string]any{
				"variable": spec.variable,
				"before":   b,
				"after":    v,
				"target":   spec.target,
				"class":    string(class),
			}))
	}
	return events
}
