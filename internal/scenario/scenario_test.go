package scenario

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"housesim/internal/domain"
	"housesim/internal/rng"
)

func TestDefaultHouseholdBuilds(t *testing.T) {
	doc, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	w, err := Build(doc, rng.New(doc.Seed), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(w.Rooms) != 4 || len(w.Devices) != len(doc.Devices) {
		t.Fatalf("rooms=%d devices=%d", len(w.Rooms), len(w.Devices))
	}
	if w.Seed != doc.Seed {
		t.Fatalf("seed=%d want=%d", w.Seed, doc.Seed)
	}
	if got := w.Hour(); got != 7 {
		t.Fatalf("hour=%v want=7", got)
	}
	for id, dev := range w.Devices {
		sum := 0.0
		for _, g := range dev.Spec.Goals {
			sum += g.Weight
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("device %s goal weights sum to %v", id, sum)
		}
		if dev.Spec.Phase < 0 || dev.Spec.Phase > 3 {
			t.Fatalf("device %s phase=%d out of range", id, dev.Spec.Phase)
		}
	}
	if len(w.Policies.RulePacks) != 2 {
		t.Fatalf("rule packs=%d want=2", len(w.Policies.RulePacks))
	}
}

func TestBuildIsSeeded(t *testing.T) {
	doc, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	a, err := Build(doc, rng.New(99), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(doc, rng.New(99), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed built different worlds (-a +b):\n%s", diff)
	}
	c, err := Build(doc, rng.New(100), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cmp.Equal(a.Devices["ac"].Spec.Goals, c.Devices["ac"].Spec.Goals) {
		t.Fatalf("different seeds should jitter goals differently")
	}
}

func TestExplicitPhaseAndZeroJitter(t *testing.T) {
	doc, err := Parse([]byte(`
jitter: 0
rooms:
  - {id: den, temperature: 21}
devices:
  - id: lamp
    room: den
    phase: 2
    goals: [{name: comfort, weight: 3}, {name: energy, weight: 1}]
    actuators: [dim]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	w, err := Build(doc, rng.New(1), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	spec := w.Devices["lamp"].Spec
	if spec.Phase != 2 {
		t.Fatalf("phase=%d want=2", spec.Phase)
	}
	want := []domain.Goal{{Name: "comfort", Weight: 0.75}, {Name: "energy", Weight: 0.25}}
	if diff := cmp.Diff(want, spec.Goals); diff != "" {
		t.Fatalf("goals mismatch (-want +got):\n%s", diff)
	}
	if w.Resources.PowerCapKw != 5 || w.Resources.PowerKw != 5 {
		t.Fatalf("resource defaults not applied: %+v", w.Resources)
	}
}

func TestSoftWeightKeysAreFolded(t *testing.T) {
	doc, err := Parse([]byte(`
jitter: 0.3
rooms:
  - {id: den, temperature: 21}
policies:
  soft_weights: {Safety: 1, " Comfort ": 0.6, energy: 0.4}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	w, err := Build(doc, rng.New(1), 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := map[string]float64{"safety": 1, "comfort": 0.6, "energy": 0.4}
	if diff := cmp.Diff(want, w.Policies.SoftWeights); diff != "" {
		t.Fatalf("soft weights mismatch (-want +got):\n%s", diff)
	}
	if doc.Policies.SoftWeights["Safety"] != 1 {
		t.Fatalf("document soft weights were rewritten: %v", doc.Policies.SoftWeights)
	}
	if w.Jitter != 0.3 {
		t.Fatalf("jitter=%v want=0.3", w.Jitter)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no rooms", doc: `devices: []`},
		{name: "unknown field", doc: "rooms: [{id: a}]\nfloors: 2\n"},
		{name: "device in unknown room", doc: "rooms: [{id: a}]\ndevices: [{id: d, room: b, actuators: [dim]}]\n"},
		{name: "duplicate device", doc: "rooms: [{id: a}]\ndevices: [{id: d, room: a, actuators: [dim]}, {id: d, room: a, actuators: [dim]}]\n"},
		{name: "no actuators", doc: "rooms: [{id: a}]\ndevices: [{id: d, room: a}]\n"},
		{name: "occupant in unknown room", doc: "rooms: [{id: a}]\noccupant: [{hours: {start_hour: 0, end_hour: 8}, room: z}]\n"},
		{name: "soft weights differ only by case", doc: "rooms: [{id: a}]\npolicies:\n  soft_weights: {Safety: 1, safety: 0.2}\n"},
		{name: "rule without target", doc: "rooms: [{id: a}]\npolicies:\n  rule_packs:\n    - id: p\n      rules:\n        - {id: r, scope: room, then: {variable: light}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestValidationErrorsWrapSentinel(t *testing.T) {
	_, err := Parse([]byte("rooms: [{id: a}]\ndevices: [{id: d, room: b, actuators: [dim]}]\n"))
	if !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("err=%v want ErrInvalidScenario", err)
	}
}

const nightPack = `id: night
active: true
rules:
  - id: dark_bedroom
    scope: room
    target: bedroom
    hard: true
    active: true
    then: {variable: light, max: 10}
`

const dayPack = `id: day
active: true
rules:
  - id: bright_office
    scope: room
    target: office
    active: true
    then: {variable: light, min: 50}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadRulePackDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_night.yaml", nightPack)
	writeFile(t, dir, "a_day.yml", dayPack)
	writeFile(t, dir, "notes.txt", "ignored")

	packs, err := LoadRulePackDir(dir)
	if err != nil {
		t.Fatalf("LoadRulePackDir: %v", err)
	}
	if len(packs) != 2 || packs[0].ID != "day" || packs[1].ID != "night" {
		t.Fatalf("unexpected packs: %+v", packs)
	}
	if hi := packs[1].Rules[0].Then.Max; hi == nil || *hi != 10 {
		t.Fatalf("night max not decoded: %+v", packs[1].Rules[0].Then)
	}

	writeFile(t, dir, "c_dup.yaml", nightPack)
	if _, err := LoadRulePackDir(dir); err == nil {
		t.Fatalf("duplicate pack ids should fail")
	}
}

func TestRuleWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "day.yaml", dayPack)

	var mu sync.Mutex
	var loads [][]domain.RulePack
	updates := make(chan int, 16)
	rw := NewRuleWatcher(dir, func(packs []domain.RulePack) {
		mu.Lock()
		loads = append(loads, packs)
		n := len(packs)
		mu.Unlock()
		select {
		case updates <- n:
		default:
		}
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rw.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rw.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	waitFor := func(want int) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case n := <-updates:
				if n == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %d packs", want)
			}
		}
	}
	waitFor(1)

	writeFile(t, dir, "night.yaml", nightPack)
	waitFor(2)

	writeFile(t, dir, "broken.yaml", "id: [unterminated")
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	last := loads[len(loads)-1]
	mu.Unlock()
	if len(last) != 2 {
		t.Fatalf("a broken file should keep the previous packs, got %d", len(last))
	}
}
