package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"housesim/internal/capability"
	"housesim/internal/db"
	"housesim/internal/domain"
	"housesim/internal/planner"
	"housesim/internal/rng"
	"housesim/internal/scenario"
	"housesim/internal/scheduler"
)

type idlePlanner struct{}

func (idlePlanner) Plan(_ context.Context, _ domain.AgentContext) domain.AgentStep {
	return domain.AgentStep{Explain: "resting"}
}

type fixedStats struct{}

func (fixedStats) Stats() planner.Stats {
	return planner.Stats{Calls: 4, Successes: 3, Fallbacks: 1}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	doc, err := scenario.Default()
	if err != nil {
		t.Fatalf("scenario.Default: %v", err)
	}
	src := rng.New(7)
	world, err := scenario.Build(doc, src, 4)
	if err != nil {
		t.Fatalf("scenario.Build: %v", err)
	}
	return scheduler.New(scheduler.DefaultConfig(), world, src, idlePlanner{}, quietLogger())
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()
	sched := newTestScheduler(t)
	opts.Sim = sched
	opts.Logger = quietLogger()
	srv := httptest.NewServer(New(opts).Routes())
	t.Cleanup(srv.Close)
	return srv, sched
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, url, err, raw)
		}
	}
	return resp.StatusCode, out
}

func TestSimulationControls(t *testing.T) {
	srv, sched := newTestServer(t, Options{})

	if code, body := do(t, http.MethodGet, srv.URL+"/healthz", ""); code != http.StatusOK || body["running"] != false {
		t.Fatalf("healthz code=%d body=%v", code, body)
	}
	if code, _ := do(t, http.MethodPost, srv.URL+"/v1/sim/start", ""); code != http.StatusOK || !sched.Running() {
		t.Fatalf("start code=%d running=%v", code, sched.Running())
	}
	if code, _ := do(t, http.MethodPost, srv.URL+"/v1/sim/pause", ""); code != http.StatusOK || sched.Running() {
		t.Fatalf("pause code=%d running=%v", code, sched.Running())
	}
	if code, _ := do(t, http.MethodPost, srv.URL+"/v1/sim/step", ""); code != http.StatusOK {
		t.Fatalf("step code=%d", code)
	}

	resp, err := http.Get(srv.URL + "/v1/world")
	if err != nil {
		t.Fatalf("get world: %v", err)
	}
	defer resp.Body.Close()
	var world domain.WorldState
	if err := json.NewDecoder(resp.Body).Decode(&world); err != nil {
		t.Fatalf("decode world: %v", err)
	}
	if world.Tick != 1 || len(world.Events) != 0 || len(world.Devices) == 0 {
		t.Fatalf("world tick=%d events=%d devices=%d", world.Tick, len(world.Events), len(world.Devices))
	}

	tests := []struct {
		body string
		want int
	}{
		{body: `{"speed":2}`, want: http.StatusOK},
		{body: `{"speed":0}`, want: http.StatusBadRequest},
		{body: `{"speed":500}`, want: http.StatusBadRequest},
		{body: `nope`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code, body := do(t, http.MethodPost, srv.URL+"/v1/sim/speed", tt.body); code != tt.want {
			t.Fatalf("speed %s code=%d want=%d body=%v", tt.body, code, tt.want, body)
		}
	}
	if got := sched.Snapshot().Speed; got != 2 {
		t.Fatalf("speed=%v want=2", got)
	}
}

func TestEventsLimit(t *testing.T) {
	srv, sched := newTestServer(t, Options{})
	for i := 0; i < 12; i++ {
		sched.Step(context.Background())
	}
	code, body := do(t, http.MethodGet, srv.URL+"/v1/events?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("events code=%d", code)
	}
	events, _ := body["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("events=%v want exactly one", body["events"])
	}
	if code, _ := do(t, http.MethodGet, srv.URL+"/v1/events?limit=-3", ""); code != http.StatusBadRequest {
		t.Fatalf("negative limit code=%d", code)
	}
}

func TestDeviceRoutes(t *testing.T) {
	srv, sched := newTestServer(t, Options{})
	fan := `{"id":"fan","name":"Desk Fan","room":"office","goals":[{"name":"comfort","weight":2}],"actuators":["idle","set_fan_speed"]}`

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "add", method: http.MethodPost, path: "/v1/devices", body: fan, want: http.StatusCreated},
		{name: "duplicate", method: http.MethodPost, path: "/v1/devices", body: fan, want: http.StatusBadRequest},
		{name: "unknown room", method: http.MethodPost, path: "/v1/devices", body: `{"id":"x","room":"garage"}`, want: http.StatusBadRequest},
		{name: "pinned phase", method: http.MethodPost, path: "/v1/devices", body: `{"id":"pinned","room":"office","phase":3,"actuators":["idle"]}`, want: http.StatusCreated},
		{name: "phase out of range", method: http.MethodPost, path: "/v1/devices", body: `{"id":"late","room":"office","phase":9,"actuators":["idle"]}`, want: http.StatusBadRequest},
		{name: "safe", method: http.MethodPost, path: "/v1/devices/fan/safe", want: http.StatusOK},
		{name: "safe unknown", method: http.MethodPost, path: "/v1/devices/ghost/safe", want: http.StatusNotFound},
		{name: "release", method: http.MethodPost, path: "/v1/devices/fan/release", want: http.StatusOK},
		{name: "remove", method: http.MethodDelete, path: "/v1/devices/fan", want: http.StatusOK},
		{name: "remove again", method: http.MethodDelete, path: "/v1/devices/fan", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		code, body := do(t, tt.method, srv.URL+tt.path, tt.body)
		if code != tt.want {
			t.Fatalf("%s: code=%d want=%d body=%v", tt.name, code, tt.want, body)
		}
		if tt.name == "add" {
			dev, ok := sched.Snapshot().Devices["fan"]
			if !ok || dev.Spec.Goals[0].Weight != 1 {
				t.Fatalf("added device not normalized: %+v", dev)
			}
		}
		if tt.name == "pinned phase" {
			if got := sched.Snapshot().Devices["pinned"].Spec.Phase; got != 3 {
				t.Fatalf("pinned phase=%d want=3", got)
			}
		}
	}
}

func TestOptionalCollaborators(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	for _, path := range []string{"/v1/planner/stats", "/v1/capabilities", "/v1/runs", "/v1/runs/run_x/events"} {
		if code, _ := do(t, http.MethodGet, srv.URL+path, ""); code != http.StatusServiceUnavailable {
			t.Fatalf("%s code=%d want 503", path, code)
		}
	}

	dir := capability.NewDirectory(time.Minute)
	dir.SetActions("lamp", 1, []string{"dim"})
	srv, _ = newTestServer(t, Options{Planner: fixedStats{}, Directory: dir})

	code, body := do(t, http.MethodGet, srv.URL+"/v1/planner/stats", "")
	if code != http.StatusOK || body["fallbacks"] != float64(1) {
		t.Fatalf("stats code=%d body=%v", code, body)
	}
	code, body = do(t, http.MethodGet, srv.URL+"/v1/capabilities", "")
	devices, _ := body["devices"].([]any)
	if code != http.StatusOK || len(devices) != 1 {
		t.Fatalf("capabilities code=%d body=%v", code, body)
	}
}

func TestRunRoutes(t *testing.T) {
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	run, err := store.CreateRun(ctx, "household", 7)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	events := []domain.WorldEvent{
		{Tick: 1, Kind: domain.EventAction, DeviceID: "ac"},
		{Tick: 2, Kind: domain.EventDirector},
	}
	if err := store.AppendEvents(ctx, run.ID, events); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}

	srv, _ := newTestServer(t, Options{EventLog: store, RunID: run.ID})

	code, body := do(t, http.MethodGet, srv.URL+"/v1/runs", "")
	if code != http.StatusOK || body["current"] != run.ID {
		t.Fatalf("runs code=%d body=%v", code, body)
	}
	code, body = do(t, http.MethodGet, srv.URL+"/v1/runs/"+run.ID+"/events?limit=1", "")
	got, _ := body["events"].([]any)
	if code != http.StatusOK || len(got) != 1 {
		t.Fatalf("run events code=%d body=%v", code, body)
	}
	if kind := got[0].(map[string]any)["kind"]; kind != domain.EventDirector {
		t.Fatalf("newest event kind=%v want director", kind)
	}
	if code, _ := do(t, http.MethodGet, srv.URL+"/v1/runs/run_missing/events", ""); code != http.StatusNotFound {
		t.Fatalf("missing run code=%d", code)
	}
}

func TestEventStreamDeliversBatches(t *testing.T) {
	stream := NewEventStream(quietLogger())
	srv, _ := newTestServer(t, Options{Stream: stream})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for stream.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	batch := []domain.WorldEvent{{Tick: 9, Kind: domain.EventCooperation, DeviceID: "ac"}}
	if err := stream.PublishEvents(context.Background(), batch); err != nil {
		t.Fatalf("PublishEvents: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []domain.WorldEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Kind != domain.EventCooperation || got[0].Tick != 9 {
		t.Fatalf("got=%+v", got)
	}
}
