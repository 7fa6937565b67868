// Package scenario loads household descriptions from YAML and turns them into
// a ready-to-run world.
package scenario

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"housesim/internal/domain"
	"housesim/internal/rng"
)

//go:embed defaults/household.yaml
var defaults embed.FS

const defaultJitter = 0.15

var ErrInvalidScenario = errors.New("invalid scenario")

// Document is the on-disk scenario format.
type Document struct {
	Name      string                `yaml:"name"`
	Seed      uint32                `yaml:"seed"`
	StartHour float64               `yaml:"start_hour"`
	Jitter    *float64              `yaml:"jitter"`
	Rooms     []domain.RoomState    `yaml:"rooms"`
	Resources domain.Resources      `yaml:"resources"`
	Occupant  []domain.OccupantSlot `yaml:"occupant"`
	Policies  domain.Policies       `yaml:"policies"`
	Devices   []DeviceDoc           `yaml:"devices"`
}

// DeviceDoc mirrors domain.DeviceSpec but leaves the phase optional so an
// unset phase can be drawn at build time.
type DeviceDoc struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Room         string        `yaml:"room"`
	Category     string        `yaml:"category"`
	Goals        []domain.Goal `yaml:"goals"`
	Constraints  []string      `yaml:"constraints"`
	Sensors      []string      `yaml:"sensors"`
	Actuators    []string      `yaml:"actuators"`
	CommStyle    string        `yaml:"comm_style"`
	Phase        *int          `yaml:"phase"`
	Instructions string        `yaml:"instructions"`
}

func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded household.
func Default() (*Document, error) {
	data, err := defaults.ReadFile("defaults/household.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadOrDefault loads path, or the embedded household when path is empty.
func LoadOrDefault(path string) (*Document, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return Load(path)
}

func (d *Document) Validate() error {
	if len(d.Rooms) == 0 {
		return fmt.Errorf("%w: at least one room is required", ErrInvalidScenario)
	}
	rooms := map[string]bool{}
	for _, r := range d.Rooms {
		if r.ID == "" {
			return fmt.Errorf("%w: room without id", ErrInvalidScenario)
		}
		if rooms[r.ID] {
			return fmt.Errorf("%w: duplicate room %s", ErrInvalidScenario, r.ID)
		}
		rooms[r.ID] = true
	}
	devices := map[string]bool{}
	for _, dev := range d.Devices {
		if dev.ID == "" {
			return fmt.Errorf("%w: device without id", ErrInvalidScenario)
		}
		if devices[dev.ID] {
			return fmt.Errorf("%w: duplicate device %s", ErrInvalidScenario, dev.ID)
		}
		devices[dev.ID] = true
		if !rooms[dev.Room] {
			return fmt.Errorf("%w: device %s is in unknown room %q", ErrInvalidScenario, dev.ID, dev.Room)
		}
		if len(dev.Actuators) == 0 {
			return fmt.Errorf("%w: device %s has no actuators", ErrInvalidScenario, dev.ID)
		}
		for _, g := range dev.Goals {
			if g.Weight < 0 {
				return fmt.Errorf("%w: device %s goal %s has negative weight", ErrInvalidScenario, dev.ID, g.Name)
			}
		}
	}
	for _, slot := range d.Occupant {
		if !rooms[slot.Room] {
			return fmt.Errorf("%w: occupant slot in unknown room %q", ErrInvalidScenario, slot.Room)
		}
	}
	if err := ValidateRulePacks(d.Policies.RulePacks); err != nil {
		return err
	}
	if d.Jitter != nil && *d.Jitter < 0 {
		return fmt.Errorf("%w: jitter must not be negative", ErrInvalidScenario)
	}
	weights := map[string]string{}
	for k := range d.Policies.SoftWeights {
		key := softWeightKey(k)
		if prev, ok := weights[key]; ok {
			return fmt.Errorf("%w: soft weights %q and %q name the same goal", ErrInvalidScenario, prev, k)
		}
		weights[key] = k
	}
	return nil
}

// ValidateRulePacks checks ids and scopes; rule targets are resolved at
// mediation time.
func ValidateRulePacks(packs []domain.RulePack) error {
	seen := map[string]bool{}
	for _, p := range packs {
		if p.ID == "" {
			return fmt.Errorf("%w: rule pack without id", ErrInvalidScenario)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate rule pack %s", ErrInvalidScenario, p.ID)
		}
		seen[p.ID] = true
		for _, r := range p.Rules {
			if r.ID == "" {
				return fmt.Errorf("%w: rule without id in pack %s", ErrInvalidScenario, p.ID)
			}
			switch r.Scope {
			case domain.ScopeWorld, "":
			case domain.ScopeRoom, domain.ScopeDevice:
				if r.Target == "" {
					return fmt.Errorf("%w: rule %s/%s needs a target for scope %s", ErrInvalidScenario, p.ID, r.ID, r.Scope)
				}
			default:
				return fmt.Errorf("%w: rule %s/%s has unknown scope %q", ErrInvalidScenario, p.ID, r.ID, r.Scope)
			}
			if r.Then.Variable == "" {
				return fmt.Errorf("%w: rule %s/%s names no variable", ErrInvalidScenario, p.ID, r.ID)
			}
		}
	}
	return nil
}

// Build creates the world. Goal weights get a personality jitter of
// weight*(1+N(0,jitter)) before renormalising, and devices without a phase
// draw one of 0..phases-1. All draws come from src in document order.
func Build(doc *Document, src *rng.Source, phases int) (*domain.WorldState, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if phases <= 0 {
		phases = 4
	}
	jitter := defaultJitter
	if doc.Jitter != nil {
		jitter = *doc.Jitter
	}

	w := domain.NewWorldState()
	w.Seed = src.Seed()
	w.TimeSec = doc.StartHour * 3600
	for _, r := range doc.Rooms {
		room := r
		room.Tags = append([]string(nil), r.Tags...)
		room.Mood = domain.Clamp(room.Mood, -1, 1)
		w.Rooms[room.ID] = &room
	}
	w.Resources = withResourceDefaults(doc.Resources)
	w.Policies = withSoftWeightKeys(doc.Policies)
	w.Jitter = jitter
	w.Occupant = append([]domain.OccupantSlot(nil), doc.Occupant...)

	for _, dev := range doc.Devices {
		goals, phase := domain.Personalize(dev.Goals, jitter, dev.Phase, phases, src)
		w.AddDevice(domain.DeviceSpec{
			ID:           dev.ID,
			Name:         dev.Name,
			Room:         dev.Room,
			Category:     dev.Category,
			Goals:        goals,
			Constraints:  append([]string(nil), dev.Constraints...),
			Sensors:      append([]string(nil), dev.Sensors...),
			Actuators:    append([]string(nil), dev.Actuators...),
			CommStyle:    dev.CommStyle,
			Phase:        phase,
			Instructions: dev.Instructions,
		})
	}
	return w, nil
}

func softWeightKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// withSoftWeightKeys folds soft weight keys to the lower-case goal names the
// mediator looks up.
func withSoftWeightKeys(p domain.Policies) domain.Policies {
	if len(p.SoftWeights) == 0 {
		return p
	}
	weights := make(map[string]float64, len(p.SoftWeights))
	for k, v := range p.SoftWeights {
		weights[softWeightKey(k)] = v
	}
	p.SoftWeights = weights
	return p
}

func withResourceDefaults(r domain.Resources) domain.Resources {
	if r.PowerCapKw <= 0 {
		r.PowerCapKw = 5
		if r.PowerKw <= 0 {
			r.PowerKw = r.PowerCapKw
		}
	}
	if r.BandwidthCap <= 0 {
		r.BandwidthCap = 100
		if r.BandwidthMbps <= 0 {
			r.BandwidthMbps = r.BandwidthCap
		}
	}
	if r.PrivacyCap <= 0 {
		r.PrivacyCap = 1
		if r.PrivacyBudget <= 0 {
			r.PrivacyBudget = r.PrivacyCap
		}
	}
	r.PowerKw = domain.Clamp(r.PowerKw, 0, r.PowerCapKw)
	r.BandwidthMbps = domain.Clamp(r.BandwidthMbps, 0, r.BandwidthCap)
	r.PrivacyBudget = domain.Clamp(r.PrivacyBudget, 0, r.PrivacyCap)
	return r
}
