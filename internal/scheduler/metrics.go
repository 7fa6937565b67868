package scheduler

import (
	"fmt"

	"housesim/internal/domain"
	"housesim/internal/rng"
)

// Harmony counts cooperation against conflict over the newest window of
// events and moves a fraction of the way toward their ratio.
func (s *Scheduler) updateHarmony(w *domain.WorldState) {
	events := w.Events
	if len(events) > s.cfg.HarmonyWindow {
		events = events[len(events)-s.cfg.HarmonyWindow:]
	}
	coop, conflict := 0, 0
	for _, e := range events {
		switch e.Kind {
		case domain.EventMessage, domain.EventCooperation:
			coop++
		case domain.EventConflictResolution, domain.EventActionBlocked:
			conflict++
		case domain.EventHumanImpact:
			switch e.Data["class"] {
			case "help":
				coop++
			case "harm":
				conflict++
			}
		}
	}
	target := w.Harmony
	if total := coop + conflict; total > 0 {
		target = float64(coop) / float64(total)
	}
	noise := s.rng.BoundedNormal(s.cfg.HarmonyNoiseSD, 3*s.cfg.HarmonyNoiseSD)
	w.Harmony = domain.Clamp(w.Harmony+(target-w.Harmony)*s.cfg.HarmonyRate+noise, 0, 1)
}

// updateSensors derives noisy readings from ground truth.
func (s *Scheduler) updateSensors(w *domain.WorldState) {
	if w.Sensors == nil {
		w.Sensors = map[string]domain.SensorReading{}
	}
	for _, id := range w.SortedRoomIDs() {
		r := w.Rooms[id]
		w.Sensors[id] = domain.SensorReading{
			Temperature: r.Temperature + s.rng.Normal(0, s.cfg.SensorNoiseTemp),
			Light:       domain.Clamp(r.Light+s.rng.Normal(0, s.cfg.SensorNoiseLevel), 0, 100),
			Noise:       domain.Clamp(r.Noise+s.rng.Normal(0, s.cfg.SensorNoiseLevel), 0, 100),
			Humidity:    domain.Clamp(r.Humidity+s.rng.Normal(0, s.cfg.SensorNoiseLevel), 0, 100),
		}
	}
}

type directorScript struct {
	name        string
	description string
	weight      float64
	apply       func(r *domain.RoomState)
}

var directorScripts = []directorScript{
	{name: "window_opened", description: "someone opened a window in %s", weight: 3, apply: func(r *domain.RoomState) {
		r.Temperature -= 1
		r.Noise += 8
	}},
	{name: "sunbeam", description: "the sun broke through the clouds over %s", weight: 2, apply: func(r *domain.RoomState) {
		r.Light += 20
		r.Temperature += 0.5
	}},
	{name: "guest_arrived", description: "a guest arrived in %s", weight: 1, apply: func(r *domain.RoomState) {
		r.Noise += 25
		r.Mood += 0.1
	}},
	{name: "kettle_boiled", description: "a kettle boiled in %s", weight: 2, apply: func(r *domain.RoomState) {
		r.Humidity += 8
		r.Noise += 10
	}},
	{name: "cloud_cover", description: "clouds darkened %s", weight: 2, apply: func(r *domain.RoomState) {
		r.Light -= 15
	}},
}

// maybeDirect injects one scripted disturbance when nothing has happened for
// DirectorQuietTicks ticks.
// A LastActivityTick ahead of Tick, as in a hand-edited snapshot, counts as
// activity now.
func (s *Scheduler) maybeDirect(w *domain.WorldState) {
	if w.LastActivityTick > w.Tick {
		w.LastActivityTick = w.Tick
		return
	}
	if w.Tick-w.LastActivityTick < s.cfg.DirectorQuietTicks {
		return
	}
	rooms := w.SortedRoomIDs()
	if len(rooms) == 0 {
		return
	}
	weights := make([]float64, len(directorScripts))
	for i, d := range directorScripts {
		weights[i] = d.weight
	}
	script, err := rng.WeightedChoice(s.rng, directorScripts, weights)
	if err != nil {
		s.logger.Warn("director pick failed", "error", err)
		return
	}
	roomID := rooms[s.rng.IntRange(0, len(rooms)-1)]
	r := w.Rooms[roomID]
	script.apply(r)
	r.Temperature = domain.Clamp(r.Temperature, s.cfg.Applicator.SafetyMinC, s.cfg.Applicator.SafetyMaxC)
	r.Light = domain.Clamp(r.Light, 0, 100)
	r.Noise = domain.Clamp(r.Noise, 0, 100)
	r.Humidity = domain.Clamp(r.Humidity, 0, 100)
	r.Mood = domain.Clamp(r.Mood, -1, 1)

	w.LastActivityTick = w.Tick
	w.AppendEvents(w.NewEvent(domain.EventDirector, roomID, "", fmt.Sprintf(script.description, roomID),
		map[string]any{"script": script.name}))
}
