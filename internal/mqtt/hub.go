package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"housesim/internal/capability"
	"housesim/internal/domain"
)

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Controller is the part of the scheduler reachable over the bus.
type Controller interface {
	Start()
	Pause()
	Step(ctx context.Context) []domain.WorldEvent
	SetSpeed(speed float64) error
	SetDeviceStatus(id string, status domain.DeviceStatus) bool
}

type publishFunc func(topic string, qos byte, retained bool, payload []byte) error

// Hub is the simulation's side of the bus: it tracks device capability
// reports, answers control requests and streams tick events.
type Hub struct {
	cfg        HubConfig
	client     paho.Client
	directory  *capability.Directory
	controller Controller
	logger     *slog.Logger
	publish    publishFunc
	ctx        context.Context
}

func NewHub(cfg HubConfig, directory *capability.Directory, controller Controller, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:        cfg,
		directory:  directory,
		controller: controller,
		logger:     logger,
		ctx:        context.Background(),
	}
}

func (h *Hub) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	h.ctx = ctx
	h.publish = func(topic string, qos byte, retained bool, payload []byte) error {
		token := h.client.Publish(topic, qos, retained, payload)
		token.Wait()
		return token.Error()
	}

	if err := h.subscribeHandlers(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		h.client.Disconnect(100)
	}()

	return nil
}

func (h *Hub) subscribeHandlers() error {
	if token := h.client.Subscribe(TopicDeviceCapabilities(h.cfg.TopicPrefix), 1, h.handleCapabilities); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicDeviceOnline(h.cfg.TopicPrefix), 1, h.handleOnline); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicDeviceHeartbeat(h.cfg.TopicPrefix), 1, h.handleHeartbeat); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicSimControl(h.cfg.TopicPrefix), 1, h.handleControl); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (h *Hub) handleCapabilities(_ paho.Client, msg paho.Message) {
	deviceID, err := ParseDeviceID(msg.Topic(), h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid capabilities topic", "topic", msg.Topic(), "error", err)
		return
	}

	var report domain.CapabilityReport
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		// a bare array of action names is accepted too
		var actions []string
		if err2 := json.Unmarshal(msg.Payload(), &actions); err2 != nil {
			h.logger.Warn("invalid capabilities payload", "device_id", deviceID, "error", err)
			return
		}
		report = domain.CapabilityReport{DeviceID: deviceID, Actions: actions}
	}
	if report.DeviceID == "" {
		report.DeviceID = deviceID
	}
	if report.DeviceID != deviceID {
		h.logger.Warn("capability report device mismatch", "topic_device", deviceID, "payload_device", report.DeviceID)
		return
	}

	h.directory.SetActions(deviceID, report.Version, report.Actions)
	state, _ := h.directory.GetState(deviceID)
	h.logger.Info("capabilities updated", "device_id", deviceID, "version", state.Version, "action_count", len(state.Actions))
}

func (h *Hub) handleOnline(_ paho.Client, msg paho.Message) {
	deviceID, err := ParseDeviceID(msg.Topic(), h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid online topic", "topic", msg.Topic(), "error", err)
		return
	}

	payload := strings.TrimSpace(strings.ToLower(string(msg.Payload())))
	online := payload == "1" || payload == "true" || payload == "online"
	h.directory.SetOnline(deviceID, online)
	h.logger.Info("device online status", "device_id", deviceID, "online", online)
}

func (h *Hub) handleHeartbeat(_ paho.Client, msg paho.Message) {
	deviceID, err := ParseDeviceID(msg.Topic(), h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid heartbeat topic", "topic", msg.Topic(), "error", err)
		return
	}
	h.directory.SetOnline(deviceID, true)
}

func (h *Hub) handleControl(_ paho.Client, msg paho.Message) {
	requestID := ParseRequestID(msg.Topic())
	if requestID == "" || requestID == "+" {
		return
	}

	var cmd domain.ControlCommand
	result := domain.ControlResult{RequestID: requestID}
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Warn("invalid control command", "topic", msg.Topic(), "error", err)
		result.Error = "invalid command payload"
	} else {
		cmd.RequestID = requestID
		result = h.execute(h.ctx, cmd)
	}

	body, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("marshal control result failed", "request_id", requestID, "error", err)
		return
	}
	if h.publish == nil {
		return
	}
	if err := h.publish(TopicResult(h.cfg.TopicPrefix, requestID), 1, false, body); err != nil {
		h.logger.Warn("publish control result failed", "request_id", requestID, "error", err)
	}
}

func (h *Hub) execute(ctx context.Context, cmd domain.ControlCommand) domain.ControlResult {
	res := domain.ControlResult{RequestID: cmd.RequestID, OK: true}
	if h.controller == nil {
		res.OK, res.Error = false, "no controller attached"
		return res
	}
	switch cmd.Command {
	case domain.CommandStart:
		h.controller.Start()
	case domain.CommandPause:
		h.controller.Pause()
	case domain.CommandStep:
		res.Events = h.controller.Step(ctx)
	case domain.CommandSpeed:
		if err := h.controller.SetSpeed(cmd.Speed); err != nil {
			res.OK, res.Error = false, err.Error()
		}
	case domain.CommandSafe, domain.CommandRelease:
		status := domain.StatusSafe
		if cmd.Command == domain.CommandRelease {
			status = domain.StatusIdle
		}
		if !h.controller.SetDeviceStatus(cmd.DeviceID, status) {
			res.OK, res.Error = false, fmt.Sprintf("unknown device: %s", cmd.DeviceID)
		}
	default:
		res.OK, res.Error = false, fmt.Sprintf("unknown command: %s", cmd.Command)
	}
	h.logger.Info("control command", "request_id", cmd.RequestID, "command", cmd.Command, "ok", res.OK)
	return res
}

// PublishEvents streams one tick batch to the shared events topic and each
// device's own events to its device topic.
func (h *Hub) PublishEvents(ctx context.Context, events []domain.WorldEvent) error {
	if h.publish == nil {
		return fmt.Errorf("mqtt hub not started")
	}
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return err
	}
	if err := h.publish(TopicSimEvents(h.cfg.TopicPrefix), 0, false, body); err != nil {
		return err
	}

	byDevice := map[string][]domain.WorldEvent{}
	var order []string
	for _, e := range events {
		if e.DeviceID == "" {
			continue
		}
		if _, ok := byDevice[e.DeviceID]; !ok {
			order = append(order, e.DeviceID)
		}
		byDevice[e.DeviceID] = append(byDevice[e.DeviceID], e)
	}
	for _, id := range order {
		body, err := json.Marshal(byDevice[id])
		if err != nil {
			return err
		}
		if err := h.publish(TopicDeviceEvents(h.cfg.TopicPrefix, id), 0, false, body); err != nil {
			return err
		}
	}
	return nil
}
