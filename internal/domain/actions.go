package domain

import (
	"sort"
	"strings"
)

// Actuator vocabulary shared by the mediator and the applicator.
const (
	ActSetTemperature    = "set_temperature"
	ActCool              = "cool"
	ActHeat              = "heat"
	ActAdjustTemperature = "adjust_temperature"
	ActBoostHeat         = "boost_heat"
	ActTurnOn            = "turn_on"
	ActTurnOff           = "turn_off"
	ActSetBrightness     = "set_brightness"
	ActDim               = "dim"
	ActBrighten          = "brighten"
	ActSetColor          = "set_color"
	ActSetFirmness       = "set_firmness"
	ActResize            = "resize"
	ActSetFanSpeed       = "set_fan_speed"
	ActSetHumidity       = "set_humidity"
	ActPlaySound         = "play_sound"
	ActSendMessage       = "send_message"
	ActRunDryer          = "run_dryer"
	ActOven              = "oven"
	ActCharge            = "charge"
	ActVacuum            = "vacuum"
	ActIdle              = "idle"
	ActWait              = "wait"
	ActNoop              = "noop"
)

func IsTemperatureAction(name string) bool {
	switch name {
	case ActSetTemperature, ActCool, ActHeat, ActAdjustTemperature, ActBoostHeat:
		return true
	}
	return false
}

func IsBrightnessAction(name string) bool {
	switch name {
	case ActSetBrightness, ActDim, ActBrighten:
		return true
	}
	return false
}

// IsHighPower marks appliances that draw enough to matter for the supply
// ceiling. Cooling is deliberately not in this list.
func IsHighPower(name string) bool {
	switch name {
	case ActHeat, ActBoostHeat, ActRunDryer, ActOven, ActCharge, ActVacuum:
		return true
	}
	return false
}

// PowerCostKw is the nominal draw of one tick of an action at full magnitude.
func PowerCostKw(name string) float64 {
	switch name {
	case ActRunDryer:
		return 2.5
	case ActOven, ActBoostHeat:
		return 2.0
	case ActHeat:
		return 1.5
	case ActCool, ActSetTemperature, ActAdjustTemperature:
		return 1.2
	case ActCharge:
		return 1.0
	case ActVacuum:
		return 0.8
	case ActSetFanSpeed:
		return 0.1
	case ActSetBrightness, ActBrighten, ActDim, ActSetColor:
		return 0.05
	case ActPlaySound, ActSetHumidity, ActSetFirmness, ActResize:
		return 0.1
	}
	return 0
}

// FirstFloat returns the first numeric argument present among keys.
func (a ProposedAction) FirstFloat(keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := a.Float(k); ok {
			return v, true
		}
	}
	return 0, false
}

// Argument aliases accepted for each magnitude.
var (
	ArgTarget   = []string{"target_c", "target", "temperature", "value"}
	ArgDelta    = []string{"delta_c", "delta", "amount"}
	ArgLevel    = []string{"level", "value", "brightness"}
	ArgAmount   = []string{"amount", "delta", "step"}
	ArgSpeed    = []string{"speed", "level"}
	ArgVolume   = []string{"volume", "level"}
	ArgSize     = []string{"size", "level", "value"}
	ArgHumidity = []string{"level", "humidity", "value"}
	ArgFirmness = []string{"level", "firmness", "value"}
)

var goalAliases = map[string]string{
	"safe":        "safety",
	"safety":      "safety",
	"security":    "safety",
	"comfort":     "comfort",
	"cozy":        "comfort",
	"warmth":      "comfort",
	"energy":      "energy",
	"efficiency":  "energy",
	"save_energy": "energy",
	"privacy":     "privacy",
	"private":     "privacy",
	"sleep":       "sleep",
	"rest":        "sleep",
}

// CanonicalGoal folds case and aliases. Unknown names come back lower-cased.
func CanonicalGoal(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := goalAliases[n]; ok {
		return c
	}
	return n
}

// GoalAliases lists every name that folds to the same canonical goal.
func GoalAliases(name string) []string {
	canon := CanonicalGoal(name)
	var out []string
	for alias, c := range goalAliases {
		if c == canon {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
