package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"housesim/internal/domain"
	"housesim/internal/llm"
	"housesim/internal/planner"
	"housesim/internal/rng"
	"housesim/internal/scenario"
	"housesim/internal/scheduler"
)

// idleReply answers devices that have no script.
const idleReply = `{"messages_to":[],"actions":[],"explain":"nothing to do"}`

// builtinScripts drive the default household through cooling, lighting and
// a speaker nudging the ac.
var builtinScripts = map[string][]string{
	"ac": {
		`{"messages_to":[],"actions":[{"name":"cool","args":{"delta":1}}],"explain":"living room is warm"}`,
		`{"messages_to":[],"actions":[{"name":"set_temperature","args":{"target":22}}],"explain":"hold 22"}`,
	},
	"living_lamp": {
		`{"messages_to":[],"actions":[{"name":"set_brightness","args":{"level":70}}],"explain":"reading light"}`,
		`{"messages_to":[],"actions":[{"name":"dim","args":{"amount":20}}],"explain":"softer"}`,
	},
	"bedside_lamp": {
		`{"messages_to":[],"actions":[{"name":"set_brightness","args":{"level":30}}],"explain":"night light"}`,
	},
	"speaker": {
		`{"messages_to":[{"to":"ac","content":"occupant says it is stuffy"}],"actions":[{"name":"play_sound","args":{"volume":20}}],"explain":"ambient music"}`,
	},
	"humidifier": {
		`{"messages_to":[],"actions":[{"name":"set_humidity","args":{"humidity":45}}],"explain":"dry air"}`,
	},
}

type replayOptions struct {
	ScenarioPath string
	ScriptPath   string
	Seed         uint32
	Ticks        int
	Phases       int
}

type replayResult struct {
	Seed     uint32
	Scenario string
	Events   []domain.WorldEvent
	Final    *domain.WorldState
}

func loadScripts(path string) (map[string][]string, error) {
	if path == "" {
		return builtinScripts, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var scripts map[string][]string
	if err := yaml.Unmarshal(raw, &scripts); err != nil {
		return nil, fmt.Errorf("decode script %s: %w", path, err)
	}
	return scripts, nil
}

type session struct {
	seed     uint32
	scenario string
	sched    *scheduler.Scheduler
}

// newSession builds the world and a scheduler backed by scripted replies.
func newSession(opts replayOptions, logger *slog.Logger) (*session, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	doc, err := scenario.LoadOrDefault(opts.ScenarioPath)
	if err != nil {
		return nil, err
	}
	scripts, err := loadScripts(opts.ScriptPath)
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = doc.Seed
	}
	if seed == 0 {
		seed = rng.DefaultSeed
	}

	src := rng.New(seed)
	world, err := scenario.Build(doc, src, opts.Phases)
	if err != nil {
		return nil, err
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.Model = "scripted"
	plannerCfg.Backoff = 0
	plan := planner.New(plannerCfg, llm.NewScriptedProvider(scripts, idleReply), logger)

	cfg := scheduler.DefaultConfig()
	cfg.PlanningPhases = opts.Phases
	// keep the whole log so nothing is trimmed out from under the comparison
	cfg.MaxEvents = 1 << 20
	return &session{
		seed:     seed,
		scenario: doc.Name,
		sched:    scheduler.New(cfg, world, src, plan, logger),
	}, nil
}

// run steps the session. Every tick's events reach sink before the next tick
// starts.
func (s *session) run(ctx context.Context, ticks int, sink scheduler.EventSink) (replayResult, error) {
	var all []domain.WorldEvent
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return replayResult{}, err
		}
		events := s.sched.Step(ctx)
		all = append(all, events...)
		if sink != nil && len(events) > 0 {
			if err := sink.PublishEvents(ctx, events); err != nil {
				return replayResult{}, err
			}
		}
	}
	return replayResult{Seed: s.seed, Scenario: s.scenario, Events: all, Final: s.sched.Snapshot()}, nil
}

func simulate(ctx context.Context, opts replayOptions, sink scheduler.EventSink, logger *slog.Logger) (replayResult, error) {
	s, err := newSession(opts, logger)
	if err != nil {
		return replayResult{}, err
	}
	return s.run(ctx, opts.Ticks, sink)
}

// firstDivergence returns the index of the first differing event, or -1 when
// both logs serialise identically.
func firstDivergence(a, b []domain.WorldEvent) (int, error) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ra, err := json.Marshal(a[i])
		if err != nil {
			return 0, err
		}
		rb, err := json.Marshal(b[i])
		if err != nil {
			return 0, err
		}
		if string(ra) != string(rb) {
			return i, nil
		}
	}
	if len(a) != len(b) {
		return n, nil
	}
	return -1, nil
}

func jsonLinesSink(w io.Writer) scheduler.SinkFunc {
	enc := json.NewEncoder(w)
	return func(_ context.Context, events []domain.WorldEvent) error {
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
}

type multiSink []scheduler.EventSink

func (m multiSink) PublishEvents(ctx context.Context, events []domain.WorldEvent) error {
	for _, s := range m {
		if err := s.PublishEvents(ctx, events); err != nil {
			return err
		}
	}
	return nil
}
