package domain

type RuleScope string

const (
	ScopeWorld  RuleScope = "world"
	ScopeRoom   RuleScope = "room"
	ScopeDevice RuleScope = "device"
)

// Condition is a conjunction of predicates over world state. Nil fields are
// ignored; an empty condition always holds.
type Condition struct {
	Hours         *HourWindow `json:"hours,omitempty" yaml:"hours"`
	AvgTempAbove  *float64    `json:"avg_temp_above,omitempty" yaml:"avg_temp_above"`
	AvgTempBelow  *float64    `json:"avg_temp_below,omitempty" yaml:"avg_temp_below"`
	AvgLightAbove *float64    `json:"avg_light_above,omitempty" yaml:"avg_light_above"`
	AvgLightBelow *float64    `json:"avg_light_below,omitempty" yaml:"avg_light_below"`
	RoomTag       string      `json:"room_tag,omitempty" yaml:"room_tag"`
}

// Transform names the variable a rule governs. ActionHint is carried for
// authoring tools only; soft rules never rewrite actions.
type Transform struct {
	Variable   string   `json:"variable" yaml:"variable"`
	Delta      *float64 `json:"delta,omitempty" yaml:"delta"`
	Min        *float64 `json:"min,omitempty" yaml:"min"`
	Max        *float64 `json:"max,omitempty" yaml:"max"`
	Alarm      string   `json:"alarm,omitempty" yaml:"alarm"`
	ActionHint string   `json:"action_hint,omitempty" yaml:"action_hint"`
}

type WorldRule struct {
	ID       string     `json:"id" yaml:"id"`
	Name     string     `json:"name,omitempty" yaml:"name"`
	Scope    RuleScope  `json:"scope" yaml:"scope"`
	Target   string     `json:"target,omitempty" yaml:"target"`
	Priority int        `json:"priority" yaml:"priority"`
	Hard     bool       `json:"hard" yaml:"hard"`
	Active   bool       `json:"active" yaml:"active"`
	When     *Condition `json:"when,omitempty" yaml:"when"`
	Unless   *Condition `json:"unless,omitempty" yaml:"unless"`
	If       *Condition `json:"if,omitempty" yaml:"if"`
	Then     Transform  `json:"then" yaml:"then"`
	Explain  string     `json:"explain,omitempty" yaml:"explain"`
}

type RulePack struct {
	ID     string      `json:"id" yaml:"id"`
	Name   string      `json:"name,omitempty" yaml:"name"`
	Active bool        `json:"active" yaml:"active"`
	Rules  []WorldRule `json:"rules" yaml:"rules"`
}
