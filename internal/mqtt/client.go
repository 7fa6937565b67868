package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"housesim/internal/domain"
)

// DeviceClient is the device side of the bus, used by emulators and real
// device bridges.
type DeviceClient struct {
	cfg      HubConfig
	deviceID string
	client   paho.Client
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]chan domain.ControlResult
}

func NewDeviceClient(cfg HubConfig, deviceID string, logger *slog.Logger) *DeviceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceClient{
		cfg:      cfg,
		deviceID: deviceID,
		logger:   logger,
		pending:  make(map[string]chan domain.ControlResult),
	}
}

// Connect registers an offline last will so the directory notices crashes.
func (c *DeviceClient) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(TopicOnline(c.cfg.TopicPrefix, c.deviceID), "0", 1, true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Error("mqtt connection lost", "error", err)
	})

	c.client = paho.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := c.client.Subscribe(TopicSimResult(c.cfg.TopicPrefix), 1, c.handleResult); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	go func() {
		<-ctx.Done()
		if token := c.client.Publish(TopicOnline(c.cfg.TopicPrefix, c.deviceID), 1, true, "0"); token.WaitTimeout(time.Second) && token.Error() != nil {
			c.logger.Warn("publish offline failed", "error", token.Error())
		}
		c.client.Disconnect(100)
	}()
	return nil
}

func (c *DeviceClient) Announce(version int64, actions []string) error {
	body, err := json.Marshal(domain.CapabilityReport{DeviceID: c.deviceID, Version: version, Actions: actions})
	if err != nil {
		return err
	}
	if token := c.client.Publish(TopicCapabilities(c.cfg.TopicPrefix, c.deviceID), 1, true, body); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := c.client.Publish(TopicOnline(c.cfg.TopicPrefix, c.deviceID), 1, true, "1"); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *DeviceClient) Heartbeat() error {
	token := c.client.Publish(TopicHeartbeat(c.cfg.TopicPrefix, c.deviceID), 0, false, time.Now().UTC().Format(time.RFC3339))
	token.Wait()
	return token.Error()
}

// OnEvents calls fn with every event batch addressed to this device.
func (c *DeviceClient) OnEvents(fn func([]domain.WorldEvent)) error {
	handler := func(_ paho.Client, msg paho.Message) {
		var events []domain.WorldEvent
		if err := json.Unmarshal(msg.Payload(), &events); err != nil {
			c.logger.Warn("invalid events payload", "topic", msg.Topic(), "error", err)
			return
		}
		fn(events)
	}
	token := c.client.Subscribe(TopicDeviceEvents(c.cfg.TopicPrefix, c.deviceID), 0, handler)
	token.Wait()
	return token.Error()
}

func (c *DeviceClient) handleResult(_ paho.Client, msg paho.Message) {
	requestID := ParseRequestID(msg.Topic())
	if requestID == "" {
		return
	}

	var result domain.ControlResult
	if err := json.Unmarshal(msg.Payload(), &result); err != nil {
		c.logger.Warn("invalid control result", "topic", msg.Topic(), "error", err)
		return
	}
	if result.RequestID == "" {
		result.RequestID = requestID
	}
	c.deliver(result)
}

func (c *DeviceClient) deliver(result domain.ControlResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[result.RequestID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// Control sends a command to the simulation and waits for its answer.
func (c *DeviceClient) Control(ctx context.Context, cmd domain.ControlCommand) (domain.ControlResult, error) {
	requestID := uuid.NewString()
	cmd.RequestID = requestID
	body, err := json.Marshal(cmd)
	if err != nil {
		return domain.ControlResult{}, err
	}

	resultCh := make(chan domain.ControlResult, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = resultCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	if token := c.client.Publish(TopicControl(c.cfg.TopicPrefix, requestID), 1, false, body); token.Wait() && token.Error() != nil {
		return domain.ControlResult{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return domain.ControlResult{}, ctx.Err()
	case result := <-resultCh:
		if !result.OK {
			if result.Error == "" {
				result.Error = "control command failed"
			}
			return result, fmt.Errorf("%s", result.Error)
		}
		return result, nil
	case <-time.After(20 * time.Second):
		return domain.ControlResult{}, fmt.Errorf("control timeout")
	}
}
