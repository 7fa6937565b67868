package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"housesim/internal/capability"
	"housesim/internal/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload []byte
}

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	devices map[string]domain.DeviceStatus
}

func (c *fakeController) record(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *fakeController) Start() { c.record("start") }
func (c *fakeController) Pause() { c.record("pause") }
func (c *fakeController) Step(ctx context.Context) []domain.WorldEvent {
	c.record("step")
	return []domain.WorldEvent{{Tick: 1, Kind: domain.EventDirector}}
}
func (c *fakeController) SetSpeed(speed float64) error {
	c.record("speed")
	if speed <= 0 {
		return errors.New("speed must be positive")
	}
	return nil
}
func (c *fakeController) SetDeviceStatus(id string, status domain.DeviceStatus) bool {
	c.record("status:" + string(status))
	if _, ok := c.devices[id]; !ok {
		return false
	}
	c.devices[id] = status
	return true
}

func newTestHub(t *testing.T) (*Hub, *capability.Directory, *fakeController, *[]published) {
	t.Helper()
	dir := capability.NewDirectory(time.Minute)
	ctrl := &fakeController{devices: map[string]domain.DeviceStatus{"lamp": domain.StatusIdle}}
	h := NewHub(HubConfig{TopicPrefix: "housesim"}, dir, ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out []published
	h.publish = func(topic string, qos byte, retained bool, payload []byte) error {
		out = append(out, published{topic: topic, payload: payload})
		return nil
	}
	return h, dir, ctrl, &out
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		topic   string
		prefix  string
		want    string
		wantErr bool
	}{
		{topic: "housesim/device/lamp/capabilities", prefix: "housesim", want: "lamp"},
		{topic: "home/a/device/ac/heartbeat", prefix: "home/a", want: "ac"},
		{topic: "other/device/lamp/online", prefix: "housesim", wantErr: true},
		{topic: "housesim/terminal/lamp/online", prefix: "housesim", wantErr: true},
		{topic: "housesim/device/lamp", prefix: "housesim", wantErr: true},
		{topic: "housesim/device//online", prefix: "housesim", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDeviceID(tt.topic, tt.prefix)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDeviceID(%q) expected error, got %q", tt.topic, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDeviceID(%q)=%q,%v want=%q", tt.topic, got, err, tt.want)
		}
	}
	if got := ParseRequestID("housesim/sim/control/abc"); got != "abc" {
		t.Fatalf("ParseRequestID=%q", got)
	}
}

func TestCapabilityReports(t *testing.T) {
	h, dir, _, _ := newTestHub(t)

	h.handleCapabilities(nil, fakeMessage{topic: "housesim/device/lamp/capabilities", payload: []byte(`{"version":2,"actions":["dim","set_color"]}`)})
	got, ok := dir.Actions("lamp")
	if !ok || !cmp.Equal(got, []string{"dim", "set_color"}) {
		t.Fatalf("actions=%v ok=%v", got, ok)
	}

	h.handleCapabilities(nil, fakeMessage{topic: "housesim/device/ac/capabilities", payload: []byte(`["cool","heat"]`)})
	if got, ok := dir.Actions("ac"); !ok || len(got) != 2 {
		t.Fatalf("bare array report not accepted: %v", got)
	}

	h.handleCapabilities(nil, fakeMessage{topic: "housesim/device/fan/capabilities", payload: []byte(`{"device_id":"lamp","actions":["spin"]}`)})
	if _, ok := dir.Actions("fan"); ok {
		t.Fatalf("mismatched report should be dropped")
	}

	h.handleOnline(nil, fakeMessage{topic: "housesim/device/lamp/online", payload: []byte("0")})
	if _, ok := dir.Actions("lamp"); ok {
		t.Fatalf("offline lamp should not offer actions")
	}
	h.handleHeartbeat(nil, fakeMessage{topic: "housesim/device/lamp/heartbeat", payload: []byte("now")})
	if _, ok := dir.Actions("lamp"); !ok {
		t.Fatalf("heartbeat should bring the lamp back online")
	}
}

func TestControlCommands(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		call    string
	}{
		{name: "start", payload: `{"command":"start"}`, ok: true, call: "start"},
		{name: "pause", payload: `{"command":"pause"}`, ok: true, call: "pause"},
		{name: "step", payload: `{"command":"step"}`, ok: true, call: "step"},
		{name: "bad speed", payload: `{"command":"speed","speed":0}`, ok: false, call: "speed"},
		{name: "safe", payload: `{"command":"safe","device_id":"lamp"}`, ok: true, call: "status:safe"},
		{name: "release unknown", payload: `{"command":"release","device_id":"ghost"}`, ok: false, call: "status:idle"},
		{name: "unknown", payload: `{"command":"explode"}`, ok: false},
		{name: "garbage", payload: `not json`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, ctrl, out := newTestHub(t)
			h.handleControl(nil, fakeMessage{topic: "housesim/sim/control/req-1", payload: []byte(tt.payload)})

			if len(*out) != 1 || (*out)[0].topic != "housesim/sim/result/req-1" {
				t.Fatalf("published=%+v", *out)
			}
			var res domain.ControlResult
			if err := json.Unmarshal((*out)[0].payload, &res); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if res.OK != tt.ok || res.RequestID != "req-1" {
				t.Fatalf("result=%+v want ok=%v", res, tt.ok)
			}
			if tt.call != "" && (len(ctrl.calls) != 1 || ctrl.calls[0] != tt.call) {
				t.Fatalf("calls=%v want [%s]", ctrl.calls, tt.call)
			}
			if tt.name == "step" && len(res.Events) != 1 {
				t.Fatalf("step result should carry the tick events: %+v", res)
			}
		})
	}
}

func TestPublishEvents(t *testing.T) {
	h, _, _, out := newTestHub(t)
	events := []domain.WorldEvent{
		{Tick: 3, Kind: domain.EventAction, DeviceID: "lamp"},
		{Tick: 3, Kind: domain.EventDirector},
		{Tick: 3, Kind: domain.EventMessage, DeviceID: "ac"},
		{Tick: 3, Kind: domain.EventHumanImpact, DeviceID: "lamp"},
	}
	if err := h.PublishEvents(context.Background(), events); err != nil {
		t.Fatalf("PublishEvents: %v", err)
	}
	topics := make([]string, 0, len(*out))
	for _, p := range *out {
		topics = append(topics, p.topic)
	}
	want := []string{"housesim/sim/events", "housesim/device/lamp/events", "housesim/device/ac/events"}
	if diff := cmp.Diff(want, topics); diff != "" {
		t.Fatalf("topics mismatch (-want +got):\n%s", diff)
	}
	var lampEvents []domain.WorldEvent
	if err := json.Unmarshal((*out)[1].payload, &lampEvents); err != nil || len(lampEvents) != 2 {
		t.Fatalf("lamp events=%+v err=%v", lampEvents, err)
	}
}

func TestPublishBeforeStartFails(t *testing.T) {
	h := NewHub(HubConfig{TopicPrefix: "housesim"}, capability.NewDirectory(time.Minute), nil, nil)
	if err := h.PublishEvents(context.Background(), []domain.WorldEvent{{Kind: domain.EventAction}}); err == nil {
		t.Fatalf("expected an error before Start")
	}
}

func TestDeviceClientDeliversPendingResults(t *testing.T) {
	c := NewDeviceClient(HubConfig{TopicPrefix: "housesim"}, "lamp", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch := make(chan domain.ControlResult, 1)
	c.pending["req-9"] = ch

	c.handleResult(nil, fakeMessage{topic: "housesim/sim/result/req-9", payload: []byte(`{"ok":true}`)})
	select {
	case res := <-ch:
		if !res.OK || res.RequestID != "req-9" {
			t.Fatalf("result=%+v", res)
		}
	default:
		t.Fatalf("pending request did not receive its result")
	}

	c.handleResult(nil, fakeMessage{topic: "housesim/sim/result/unknown", payload: []byte(`{"ok":true}`)})
}
