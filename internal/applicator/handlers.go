package applicator

import (
	"fmt"
	"strings"

	"housesim/internal/domain"
)

// Scratch keys kept on DeviceRuntime.Defaults.
const (
	keyOn               = "on"
	keyOnSince          = "on_since"
	keyBrightness       = "brightness"
	keyBrightnessTarget = "brightness_target"
	keyFirmness         = "firmness"
	keyFirmnessTarget   = "firmness_target"
	keySize             = "size"
	keySizeTarget       = "size_target"
	keyFanSpeed         = "fan_speed"
	keyHumidityTarget   = "humidity_target"
)

func (a *Applicator) dispatchTable() map[string]handler {
	return map[string]handler{
		domain.ActSetTemperature:    a.temperature,
		domain.ActCool:              a.temperature,
		domain.ActHeat:              a.temperature,
		domain.ActBoostHeat:         a.temperature,
		domain.ActAdjustTemperature: a.temperature,
		domain.ActTurnOn:            a.turnOn,
		domain.ActTurnOff:           a.turnOff,
		domain.ActSetBrightness:     a.brightness,
		domain.ActDim:               a.brightness,
		domain.ActBrighten:          a.brightness,
		domain.ActSetColor:          a.color,
		domain.ActSetFirmness:       a.firmness,
		domain.ActResize:            a.resize,
		domain.ActSetFanSpeed:       a.fanSpeed,
		domain.ActSetHumidity:       a.humidity,
		domain.ActPlaySound:         a.playSound,
		domain.ActSendMessage:       a.sendMessage,
		domain.ActRunDryer:          a.appliance,
		domain.ActOven:              a.appliance,
		domain.ActCharge:            a.appliance,
		domain.ActVacuum:            a.appliance,
		domain.ActIdle:              noop,
		domain.ActWait:              noop,
		domain.ActNoop:              noop,
	}
}

func noop(*batch, *domain.DeviceRuntime, *domain.RoomState, domain.ProposedAction) ([]domain.WorldEvent, error) {
	return nil, nil
}

// requestedTempChange converts a temperature action into a signed change
// relative to the current room temperature.
func requestedTempChange(act domain.ProposedAction, current float64) (float64, bool) {
	switch act.Name {
	case domain.ActSetTemperature:
		target, ok := act.FirstFloat(domain.ArgTarget...)
		return target - current, ok
	case domain.ActCool:
		d, ok := act.FirstFloat(domain.ArgDelta...)
		return -abs(d), ok
	case domain.ActHeat, domain.ActBoostHeat:
		d, ok := act.FirstFloat(domain.ArgDelta...)
		return abs(d), ok
	default:
		return act.FirstFloat(domain.ArgDelta...)
	}
}

func (a *Applicator) temperature(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	requested, ok := requestedTempChange(act, room.Temperature)
	if !ok {
		return nil, errNoMagnitude
	}

	ramped := b.takeTempBudget(room.ID, requested, a.cfg.MaxTempStep)
	noise := a.rng.BoundedNormal(a.cfg.TempNoiseSD, a.cfg.TempNoiseMax)
	before := room.Temperature
	room.Temperature = domain.Clamp(before+ramped+noise, a.cfg.SafetyMinC, a.cfg.SafetyMaxC)

	a.markOn(b.world, dev)
	power := a.consumePower(b.world, act.Name, abs(ramped)/a.cfg.MaxTempStep)

	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s changed %s temperature by %+.2fC (requested %+.2fC)", dev.Spec.ID, room.ID, ramped, requested),
		map[string]any{
			"requested_delta": requested,
			"applied_delta":   ramped,
			"noise":           noise,
			"temperature":     room.Temperature,
			"power_kw":        power,
		})}, nil
}

func (a *Applicator) markOn(world *domain.WorldState, dev *domain.DeviceRuntime) {
	if dev.Scratch(keyOn, 0) == 1 {
		return
	}
	dev.SetScratch(keyOn, 1)
	dev.SetScratch(keyOnSince, float64(world.Tick))
}

func (a *Applicator) turnOn(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	if dev.Scratch(keyOn, 0) == 1 {
		return nil, nil
	}
	a.markOn(b.world, dev)
	a.consumePower(b.world, act.Name, 1)
	return []domain.WorldEvent{actionEvent(b.world, dev, act, fmt.Sprintf("%s switched on", dev.Spec.ID), nil)}, nil
}

// turnOff honours the minimum on-time of climate devices. An early request
// is blocked and logged, not queued.
func (a *Applicator) turnOff(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	if dev.Scratch(keyOn, 0) != 1 {
		return nil, nil
	}
	onFor := b.world.Tick - uint64(dev.Scratch(keyOnSince, 0))
	if dev.Spec.IsClimate() && onFor < a.cfg.MinOnTicks {
		return []domain.WorldEvent{b.world.NewEvent(domain.EventActionBlocked, dev.Room, dev.Spec.ID,
			fmt.Sprintf("%s must stay on for %d ticks (on for %d)", dev.Spec.ID, a.cfg.MinOnTicks, onFor),
			map[string]any{"action": act.Name, "reason": "min_on_time", "on_ticks": onFor})}, nil
	}
	dev.SetScratch(keyOn, 0)
	dev.SetScratch(keyFanSpeed, 0)
	dev.SetScratch(keyBrightnessTarget, 0)
	return []domain.WorldEvent{actionEvent(b.world, dev, act, fmt.Sprintf("%s switched off", dev.Spec.ID),
		map[string]any{"on_ticks": onFor})}, nil
}

func (a *Applicator) brightness(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	current := dev.Scratch(keyBrightness, 0)
	var target float64
	switch act.Name {
	case domain.ActSetBrightness:
		v, ok := act.FirstFloat(domain.ArgLevel...)
		if !ok {
			return nil, errNoMagnitude
		}
		target = v
	default:
		amount, ok := act.FirstFloat(domain.ArgAmount...)
		if !ok {
			return nil, errNoMagnitude
		}
		if act.Name == domain.ActDim {
			target = current - abs(amount)
		} else {
			target = current + abs(amount)
		}
	}
	target = domain.Clamp(target, 0, 100)
	dev.SetScratch(keyBrightnessTarget, target)
	if target > 0 {
		a.markOn(b.world, dev)
	}

	next := stepToward(current, target, a.cfg.BrightnessStep)
	dev.SetScratch(keyBrightness, next)
	if next > room.Light {
		room.Light = next
	}
	power := a.consumePower(b.world, act.Name, abs(next-current)/a.cfg.BrightnessStep)

	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s brightness %.0f -> %.0f (target %.0f)", dev.Spec.ID, current, next, target),
		map[string]any{"brightness": next, "target": target, "power_kw": power})}, nil
}

var warmColors = []string{"warm", "amber", "orange", "yellow", "red", "pink", "sunset", "gold"}

// color nudges room mood: warm tones by the full nudge, anything else by half.
func (a *Applicator) color(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	c, ok := act.String("color")
	if !ok || strings.TrimSpace(c) == "" {
		return nil, errNoMagnitude
	}
	c = strings.ToLower(strings.TrimSpace(c))
	nudge := a.cfg.MoodNudge / 2
	for _, w := range warmColors {
		if strings.Contains(c, w) {
			nudge = a.cfg.MoodNudge
			break
		}
	}
	room.Mood = domain.Clamp(room.Mood+nudge, -1, 1)
	if dev.Memory == nil {
		dev.Memory = map[string]string{}
	}
	dev.Memory["color"] = c
	a.consumePower(b.world, act.Name, 1)
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s set color %s", dev.Spec.ID, c),
		map[string]any{"color": c, "mood": room.Mood})}, nil
}

func (a *Applicator) firmness(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	v, ok := act.FirstFloat(domain.ArgFirmness...)
	if !ok {
		return nil, errNoMagnitude
	}
	target := domain.Clamp(v, 0, 100)
	current := dev.Scratch(keyFirmness, 50)
	next := stepToward(current, target, a.cfg.FirmnessStep)
	dev.SetScratch(keyFirmnessTarget, target)
	dev.SetScratch(keyFirmness, next)
	a.consumePower(b.world, act.Name, abs(next-current)/a.cfg.FirmnessStep)
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s firmness %.0f -> %.0f (target %.0f)", dev.Spec.ID, current, next, target),
		map[string]any{"firmness": next, "target": target})}, nil
}

func (a *Applicator) resize(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	v, ok := act.FirstFloat(domain.ArgSize...)
	if !ok {
		return nil, errNoMagnitude
	}
	target := domain.Clamp(v, a.cfg.SizeMin, a.cfg.SizeMax)
	current := dev.Scratch(keySize, 1)
	next := stepToward(current, target, a.cfg.SizeStep)
	dev.SetScratch(keySizeTarget, target)
	dev.SetScratch(keySize, next)
	a.consumePower(b.world, act.Name, abs(next-current)/a.cfg.SizeStep)
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s size %.2f -> %.2f (target %.2f)", dev.Spec.ID, current, next, target),
		map[string]any{"size": next, "target": target})}, nil
}

func (a *Applicator) fanSpeed(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	v, ok := act.FirstFloat(domain.ArgSpeed...)
	if !ok {
		return nil, errNoMagnitude
	}
	speed := domain.Clamp(v, 0, a.cfg.MaxFanSpeed)
	dev.SetScratch(keyFanSpeed, speed)
	if speed > 0 {
		a.markOn(b.world, dev)
	}

	cooling := b.takeTempBudget(room.ID, -a.cfg.FanCoolingC*speed, a.cfg.MaxTempStep)
	room.Temperature = domain.Clamp(room.Temperature+cooling, a.cfg.SafetyMinC, a.cfg.SafetyMaxC)
	room.Noise = domain.Clamp(room.Noise+2*speed, 0, 100)
	power := a.cfg.FanPowerKw * speed
	b.world.Resources.ConsumePower(power)

	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s fan speed %.0f", dev.Spec.ID, speed),
		map[string]any{"speed": speed, "applied_delta": cooling, "power_kw": power})}, nil
}

func (a *Applicator) humidity(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	v, ok := act.FirstFloat(domain.ArgHumidity...)
	if !ok {
		return nil, errNoMagnitude
	}
	target := domain.Clamp(v, 0, 100)
	dev.SetScratch(keyHumidityTarget, target)
	before := room.Humidity
	room.Humidity = stepToward(before, target, a.cfg.HumidityStep)
	a.consumePower(b.world, act.Name, 1)
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s humidity %.0f%% -> %.0f%% (target %.0f%%)", dev.Spec.ID, before, room.Humidity, target),
		map[string]any{"humidity": room.Humidity, "target": target})}, nil
}

func (a *Applicator) playSound(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	v, ok := act.FirstFloat(domain.ArgVolume...)
	if !ok {
		return nil, errNoMagnitude
	}
	volume := domain.Clamp(v, 0, 100)
	if volume > room.Noise {
		room.Noise = volume
	}
	a.consumePower(b.world, act.Name, volume/100)
	data := map[string]any{"volume": volume}
	if track, ok := act.String("track"); ok {
		data["track"] = track
	}
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s playing sound at volume %.0f", dev.Spec.ID, volume), data)}, nil
}

// appliance covers the high-power appliances. They only draw power and make
// some noise or heat.
func (a *Applicator) appliance(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	a.markOn(b.world, dev)
	power := a.consumePower(b.world, act.Name, 1)
	data := map[string]any{"power_kw": power}
	switch act.Name {
	case domain.ActVacuum, domain.ActRunDryer:
		room.Noise = domain.Clamp(room.Noise+15, 0, 100)
	case domain.ActOven:
		warm := b.takeTempBudget(room.ID, 0.2, a.cfg.MaxTempStep)
		room.Temperature = domain.Clamp(room.Temperature+warm, a.cfg.SafetyMinC, a.cfg.SafetyMaxC)
		data["applied_delta"] = warm
	}
	return []domain.WorldEvent{actionEvent(b.world, dev, act,
		fmt.Sprintf("%s running %s", dev.Spec.ID, act.Name), data)}, nil
}

// sendMessage delivers immediately; latency is simulated as an annotation on
// the inbound message. Blocks and drops are logged and never retried.
func (a *Applicator) sendMessage(b *batch, dev *domain.DeviceRuntime, room *domain.RoomState, act domain.ProposedAction) ([]domain.WorldEvent, error) {
	world := b.world
	to, _ := act.String("to")
	content, _ := act.String("content")
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("send_message needs a recipient")
	}
	from := dev.Spec.ID

	recipient, ok := world.Devices[to]
	if !ok {
		return []domain.WorldEvent{world.NewEvent(domain.EventMessageBlocked, dev.Room, from,
			fmt.Sprintf("message from %s to unknown device %s blocked", from, to),
			map[string]any{"to": to, "reason": "unknown_recipient"})}, nil
	}
	if !world.Policies.CommAllowed(from, to) {
		return []domain.WorldEvent{world.NewEvent(domain.EventMessageBlocked, dev.Room, from,
			fmt.Sprintf("message from %s to %s not on the allow-list", from, to),
			map[string]any{"to": to, "reason": "not_allowed"})}, nil
	}
	if world.Resources.BandwidthMbps < a.cfg.MessageBandwidth {
		return []domain.WorldEvent{world.NewEvent(domain.EventMessageDropped, dev.Room, from,
			fmt.Sprintf("message from %s to %s dropped: no bandwidth", from, to),
			map[string]any{"to": to, "reason": "bandwidth"})}, nil
	}
	if a.rng.Bool(a.cfg.MessageDropProb) {
		return []domain.WorldEvent{world.NewEvent(domain.EventMessageDropped, dev.Room, from,
			fmt.Sprintf("message from %s to %s lost in transit", from, to),
			map[string]any{"to": to, "reason": "random_drop"})}, nil
	}

	latency := a.rng.FloatRange(a.cfg.MessageLatencyMinMS, a.cfg.MessageLatencyMaxMS)
	world.Resources.ConsumeBandwidth(a.cfg.MessageBandwidth)
	world.Resources.ConsumePrivacy(a.cfg.MessagePrivacyCost)
	recipient.Deliver(domain.InboundMessage{From: from, Content: content, Tick: world.Tick, Latency: latency})

	return []domain.WorldEvent{world.NewEvent(domain.EventMessage, dev.Room, from,
		fmt.Sprintf("%s -> %s: %s", from, to, content),
		map[string]any{"to": to, "content": content, "latency_ms": latency})}, nil
}

func stepToward(current, target, maxStep float64) float64 {
	if maxStep <= 0 {
		return target
	}
	d := domain.Clamp(target-current, -maxStep, maxStep)
	return current + d
}
