package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"housesim/internal/db"
	"housesim/internal/domain"
)

func TestSameSeedReplaysIdentically(t *testing.T) {
	opts := replayOptions{Seed: 42, Ticks: 40, Phases: 4}
	first, err := simulate(context.Background(), opts, nil, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := simulate(context.Background(), opts, nil, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if len(first.Events) == 0 {
		t.Fatalf("expected events from the scripted household")
	}
	if idx, err := firstDivergence(first.Events, second.Events); err != nil || idx != -1 {
		t.Fatalf("runs diverge at %d err=%v", idx, err)
	}
	if diff := cmp.Diff(first.Final, second.Final); diff != "" {
		t.Fatalf("final state mismatch (-first +second):\n%s", diff)
	}
	if first.Seed != 42 || first.Final.Tick != 40 {
		t.Fatalf("seed=%d tick=%d", first.Seed, first.Final.Tick)
	}
}

func TestScenarioSeedIsUsedWhenUnset(t *testing.T) {
	res, err := simulate(context.Background(), replayOptions{Ticks: 1, Phases: 4}, nil, nil)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.Seed != 1337 {
		t.Fatalf("seed=%d want the default household seed 1337", res.Seed)
	}
}

func TestFirstDivergence(t *testing.T) {
	a := []domain.WorldEvent{{Tick: 1, Kind: domain.EventAction}, {Tick: 2, Kind: domain.EventMessage}}
	tests := []struct {
		name string
		b    []domain.WorldEvent
		want int
	}{
		{name: "same", b: a, want: -1},
		{name: "changed", b: []domain.WorldEvent{a[0], {Tick: 2, Kind: domain.EventAlarm}}, want: 1},
		{name: "shorter", b: a[:1], want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstDivergence(a, tt.b)
			if err != nil || got != tt.want {
				t.Fatalf("firstDivergence=%d,%v want=%d", got, err, tt.want)
			}
		})
	}
}

func TestRunWritesJSONLinesAndRecords(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replay.db")
	var out bytes.Buffer

	sess, err := newSession(replayOptions{Seed: 9, Ticks: 20, Phases: 4}, nil)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	store, err := db.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	run, err := store.CreateRun(ctx, sess.scenario, sess.seed)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	res, err := sess.run(ctx, 20, multiSink{jsonLinesSink(&out), db.Recorder{Log: store, RunID: run.ID}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := 0
	sc := bufio.NewScanner(&out)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines++
	}
	if lines != len(res.Events) {
		t.Fatalf("json lines=%d events=%d", lines, len(res.Events))
	}

	stored, err := store.RecentEvents(ctx, run.ID, len(res.Events)+10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(stored) != len(res.Events) {
		t.Fatalf("stored=%d events=%d", len(stored), len(res.Events))
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("sqlite file missing: %v", err)
	}
}

func TestScriptFileOverridesBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	body := "ac:\n  - '{\"messages_to\":[],\"actions\":[{\"name\":\"heat\",\"args\":{\"delta\":1}}],\"explain\":\"chilly\"}'\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	scripts, err := loadScripts(path)
	if err != nil {
		t.Fatalf("loadScripts: %v", err)
	}
	if len(scripts) != 1 || len(scripts["ac"]) != 1 {
		t.Fatalf("scripts=%v", scripts)
	}
	if _, err := loadScripts(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing script")
	}
}
