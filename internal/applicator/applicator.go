// Package applicator applies approved actions to the world with physical
// constraints: ramp limits, minimum on-times, tweens, resource consumption
// and human impact classification.
package applicator

import (
	"errors"
	"fmt"
	"log/slog"

	"housesim/internal/domain"
	"housesim/internal/rng"
)

type Config struct {
	MaxTempStep  float64
	TempNoiseSD  float64
	TempNoiseMax float64
	SafetyMinC   float64
	SafetyMaxC   float64
	MinOnTicks   uint64

	BrightnessStep float64
	FirmnessStep   float64
	SizeStep       float64
	SizeMin        float64
	SizeMax        float64
	HumidityStep   float64
	MoodNudge      float64
	FanCoolingC    float64
	FanPowerKw     float64
	MaxFanSpeed    float64

	MessageDropProb     float64
	MessageLatencyMinMS float64
	MessageLatencyMaxMS float64
	MessageBandwidth    float64
	MessagePrivacyCost  float64

	AmbientC         float64
	TempDrift        float64
	LightDecay       float64
	NoiseDecay       float64
	HumidityBaseline float64
	HumidityRelax    float64
	MoodDecay        float64
	EnvNoiseSD       float64

	PowerRegen     float64
	BandwidthRegen float64
	PrivacyRegen   float64

	// Human impact. The epsilon band per variable is its base divided by
	// Sensitivity, so a more sensitive occupant notices smaller changes.
	Sensitivity     float64
	TargetTempC     float64
	TargetNoise     float64
	DayLight        float64
	EveningLight    float64
	NightLight      float64
	ImpactEpsilonC  float64
	ImpactEpsilonLv float64
}

func DefaultConfig() Config {
	return Config{
		MaxTempStep:  0.5,
		TempNoiseSD:  0.02,
		TempNoiseMax: 0.05,
		SafetyMinC:   15,
		SafetyMaxC:   30,
		MinOnTicks:   3,

		BrightnessStep: 10,
		FirmnessStep:   5,
		SizeStep:       0.1,
		SizeMin:        0.5,
		SizeMax:        2.0,
		HumidityStep:   2,
		MoodNudge:      0.05,
		FanCoolingC:    0.05,
		FanPowerKw:     0.1,
		MaxFanSpeed:    5,

		MessageDropProb:     0.05,
		MessageLatencyMinMS: 50,
		MessageLatencyMaxMS: 300,
		MessageBandwidth:    0.5,
		MessagePrivacyCost:  0.002,

		AmbientC:         20,
		TempDrift:        0.02,
		LightDecay:       0.05,
		NoiseDecay:       0.9,
		HumidityBaseline: 45,
		HumidityRelax:    0.05,
		MoodDecay:        0.95,
		EnvNoiseSD:       0.1,

		PowerRegen:     0.2,
		BandwidthRegen: 5,
		PrivacyRegen:   0.01,

		Sensitivity:     1,
		TargetTempC:     21.5,
		TargetNoise:     10,
		DayLight:        70,
		EveningLight:    40,
		NightLight:      5,
		ImpactEpsilonC:  0.05,
		ImpactEpsilonLv: 1,
	}
}

type Applicator struct {
	cfg      Config
	rng      *rng.Source
	logger   *slog.Logger
	handlers map[string]handler
}

func New(cfg Config, src *rng.Source, logger *slog.Logger) *Applicator {
	if cfg.MaxTempStep <= 0 {
		cfg = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if cfg.SafetyMaxC <= cfg.SafetyMinC {
			cfg.SafetyMinC = defaults.SafetyMinC
			cfg.SafetyMaxC = defaults.SafetyMaxC
		}
		if cfg.BrightnessStep <= 0 {
			cfg.BrightnessStep = defaults.BrightnessStep
		}
		if cfg.Sensitivity <= 0 {
			cfg.Sensitivity = defaults.Sensitivity
		}
		if cfg.MessageLatencyMaxMS < cfg.MessageLatencyMinMS {
			cfg.MessageLatencyMaxMS = cfg.MessageLatencyMinMS
		}
	}
	if src == nil {
		src = rng.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Applicator{cfg: cfg, rng: src, logger: logger}
	a.handlers = a.dispatchTable()
	return a
}

// errNoMagnitude marks an action whose args carry nothing to apply. Fallback
// steps produce these and they are skipped silently.
var errNoMagnitude = errors.New("action has no magnitude")

type handler func(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error)

// batch carries per-call bookkeeping. Temperature budget is shared by every
// action touching the same room in one Apply call.
type batch struct {
	world      *domain.WorldState
	tempBudget map[string]float64
}

func (b *batch) takeTempBudget(room string, want, limit float64) float64 {
	used := b.tempBudget[room]
	left := limit - used
	if left <= 0 {
		return 0
	}
	step := domain.Clamp(want, -left, left)
	if step < 0 {
		b.tempBudget[room] = used - step
	} else {
		b.tempBudget[room] = used + step
	}
	return step
}

// Apply mutates the world in place. A failing action is logged as
// action_failed and the rest of the batch still runs.
func (a *Applicator) Apply(world *domain.WorldState, approved []domain.ApprovedAction) []domain.WorldEvent {
	b := &batch{world: world, tempBudget: map[string]float64{}}
	var events []domain.WorldEvent
	for _, item := range approved {
		events = append(events, a.applyOne(b, item)...)
	}
	return events
}

func (a *Applicator) applyOne(b *batch, item domain.ApprovedAction) (events []domain.WorldEvent) {
	world := b.world
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("action panicked", "device_id", item.DeviceID, "action", item.Action.Name, "panic", r)
			events = []domain.WorldEvent{a.failed(world, item, "", fmt.Errorf("panic: %v", r))}
		}
	}()

	dev, ok := world.Devices[item.DeviceID]
	if !ok {
		return []domain.WorldEvent{a.failed(world, item, "", fmt.Errorf("unknown device %s", item.DeviceID))}
	}
	h, ok := a.handlers[item.Action.Name]
	if !ok {
		return []domain.WorldEvent{a.failed(world, item, dev.Room, fmt.Errorf("unknown action %q", item.Action.Name))}
	}
	room, ok := world.Rooms[dev.Room]
	if !ok {
		return []domain.WorldEvent{a.failed(world, item, dev.Room, fmt.Errorf("device room %s does not exist", dev.Room))}
	}

	before := *room
	out, err := h(b, dev, room, item.Action)
	if errors.Is(err, errNoMagnitude) {
		return nil
	}
	if err != nil {
		return []domain.WorldEvent{a.failed(world, item, dev.Room, err)}
	}
	out = append(out, a.humanImpact(world, dev, before, *room)...)
	return out
}

func (a *Applicator) failed(world *domain.WorldState, item domain.ApprovedAction, room string, err error) domain.WorldEvent {
	return world.NewEvent(domain.EventActionFailed, room, item.DeviceID,
		fmt.Sprintf("%s from %s failed: %v", item.Action.Name, item.DeviceID, err),
		map[string]any{"action": item.Action.Name, "error": err.Error()})
}

func actionEvent(world *domain.WorldState, dev *domain.DeviceRuntime, act domain.ProposedAction, description string, data map[string]any) domain.WorldEvent {
	if data == nil {
		data = map[string]any{}
	}
	data["action"] = act.Name
	return world.NewEvent(domain.EventAction, dev.Room, dev.Spec.ID, description, data)
}

func (a *Applicator) consumePower(world *domain.WorldState, name string, fraction float64) float64 {
	kw := domain.PowerCostKw(name) * fraction
	if kw <= 0 {
		return 0
	}
	world.Resources.ConsumePower(kw)
	return kw
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
