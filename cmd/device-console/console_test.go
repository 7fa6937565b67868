package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"housesim/internal/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    domain.ControlCommand
		wantErr bool
	}{
		{line: "start", want: domain.ControlCommand{Command: domain.CommandStart}},
		{line: "  STEP ", want: domain.ControlCommand{Command: domain.CommandStep}},
		{line: "speed 2.5", want: domain.ControlCommand{Command: domain.CommandSpeed, Speed: 2.5}},
		{line: "safe", want: domain.ControlCommand{Command: domain.CommandSafe, DeviceID: "lamp"}},
		{line: "release ac", want: domain.ControlCommand{Command: domain.CommandRelease, DeviceID: "ac"}},
		{line: "speed", wantErr: true},
		{line: "speed -1", wantErr: true},
		{line: "pause now", wantErr: true},
		{line: "safe a b", wantErr: true},
		{line: "dance", wantErr: true},
		{line: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.line, "lamp")
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseCommand(%q) expected error, got %+v", tt.line, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseCommand(%q): %v", tt.line, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("parseCommand(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestConsoleStateKeepsRecentEvents(t *testing.T) {
	s := newConsoleState("lamp", []string{"dim"})
	for i := 1; i <= 60; i++ {
		s.record([]domain.WorldEvent{{Tick: uint64(i), Kind: domain.EventAction, DeviceID: "lamp"}})
	}
	s.record([]domain.WorldEvent{{Tick: 60, Kind: domain.EventHumanImpact, DeviceID: "lamp"}})

	snap := s.snapshot()
	if len(snap.Recent) != maxRecentEvents || snap.LastTick != 60 {
		t.Fatalf("recent=%d last_tick=%d", len(snap.Recent), snap.LastTick)
	}
	if snap.Counts[domain.EventAction] != 60 || snap.Counts[domain.EventHumanImpact] != 1 {
		t.Fatalf("counts=%v", snap.Counts)
	}
	if got := s.summary(); !strings.Contains(got, "action=60") || !strings.Contains(got, "tick=60") {
		t.Fatalf("summary=%q", got)
	}
}

func TestSetActionsBumpsVersion(t *testing.T) {
	s := newConsoleState("lamp", []string{"dim"})
	start := s.snapshot().Version
	if v := s.setActions([]string{"dim", "set_color"}); v != start+1 {
		t.Fatalf("version=%d want=%d", v, start+1)
	}
	if got := s.snapshot().Actions; len(got) != 2 {
		t.Fatalf("actions=%v", got)
	}
	if got := splitActions(" dim, ,set_color "); !cmp.Equal(got, []string{"dim", "set_color"}) {
		t.Fatalf("splitActions=%v", got)
	}
}
