package applicator

import "housesim/internal/domain"

// PhysicsPass runs once per tick after all actions: device tweens continue
// toward their targets, then every room relaxes toward its environmental
// baseline with a little noise.
func (a *Applicator) PhysicsPass(world *domain.WorldState) {
	lampFloor := map[string]float64{}
	for _, id := range world.SortedDeviceIDs() {
		dev := world.Devices[id]
		a.continueTweens(dev)
		if b := dev.Scratch(keyBrightness, 0); b > lampFloor[dev.Room] {
			lampFloor[dev.Room] = b
		}
	}

	for _, id := range world.SortedRoomIDs() {
		r := world.Rooms[id]

		drift := (a.cfg.AmbientC - r.Temperature) * a.cfg.TempDrift
		drift += a.rng.BoundedNormal(a.cfg.TempNoiseSD, a.cfg.TempNoiseMax)
		r.Temperature = domain.Clamp(r.Temperature+drift, a.cfg.SafetyMinC, a.cfg.SafetyMaxC)

		floor := lampFloor[id]
		if r.Light > floor {
			r.Light = floor + (r.Light-floor)*(1-a.cfg.LightDecay)
		} else {
			r.Light = floor
		}
		r.Light = domain.Clamp(r.Light+a.rng.BoundedNormal(a.cfg.EnvNoiseSD, 3*a.cfg.EnvNoiseSD), 0, 100)

		r.Noise = domain.Clamp(r.Noise*a.cfg.NoiseDecay+a.rng.BoundedNormal(a.cfg.EnvNoiseSD, 3*a.cfg.EnvNoiseSD), 0, 100)

		r.Humidity += (a.cfg.HumidityBaseline - r.Humidity) * a.cfg.HumidityRelax
		r.Humidity = domain.Clamp(r.Humidity+a.rng.BoundedNormal(a.cfg.EnvNoiseSD, 3*a.cfg.EnvNoiseSD), 0, 100)

		r.Mood = domain.Clamp(r.Mood*a.cfg.MoodDecay+a.rng.BoundedNormal(a.cfg.EnvNoiseSD/10, 0.03), -1, 1)
	}
}

func (a *Applicator) continueTweens(dev *domain.DeviceRuntime) {
	if target, ok := dev.Defaults[keyBrightnessTarget]; ok {
		dev.SetScratch(keyBrightness, stepToward(dev.Scratch(keyBrightness, 0), target, a.cfg.BrightnessStep))
	}
	if target, ok := dev.Defaults[keyFirmnessTarget]; ok {
		dev.SetScratch(keyFirmness, stepToward(dev.Scratch(keyFirmness, 50), target, a.cfg.FirmnessStep))
	}
	if target, ok := dev.Defaults[keySizeTarget]; ok {
		dev.SetScratch(keySize, stepToward(dev.Scratch(keySize, 1), target, a.cfg.SizeStep))
	}
}

// RegenerateResources moves power, bandwidth and privacy budget back toward
// their caps. Scenario regen rates win over the configured defaults.
func (a *Applicator) RegenerateResources(world *domain.WorldState) {
	r := &world.Resources
	r.PowerKw = domain.Clamp(r.PowerKw+rate(r.PowerRegen, a.cfg.PowerRegen), 0, r.PowerCapKw)
	r.BandwidthMbps = domain.Clamp(r.BandwidthMbps+rate(r.BandwidthRegen, a.cfg.BandwidthRegen), 0, r.BandwidthCap)
	r.PrivacyBudget = domain.Clamp(r.PrivacyBudget+rate(r.PrivacyRegen, a.cfg.PrivacyRegen), 0, r.PrivacyCap)
}

func rate(scenario, fallback float64) float64 {
	if scenario > 0 {
		return scenario
	}
	return fallback
}
