// Package mqtt bridges the heater registry to an MQTT broker: state
// snapshots out, set commands in.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hwaastad/pylvi/lvi"
)

// HeaterService is the slice of the lvi client the bridge needs. Narrow
// on purpose so tests can fake it.
type HeaterService interface {
	Heaters() map[string]lvi.Heater
	SetTemperature(ctx context.Context, deviceID string, celsius float64) error
	SetControl(ctx context.Context, deviceID string, flags lvi.ControlFlags) error
}

type Config struct {
	BrokerURL string
	ClientID  string
	BaseTopic string

	QoS             byte
	Retain          bool
	PublishInterval time.Duration

	Username string
	Password string
}

// Publisher publishes each heater's state to <base>/<device_id>/state
// and handles <base>/<device_id>/set/{temperature,mode,fan_speed,power}.
type Publisher struct {
	svc    HeaterService
	cfg    Config
	logger *slog.Logger

	client mqtt.Client
}

func New(svc HeaterService, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if svc == nil {
		return nil, errors.New("mqtt: heater service is required")
	}
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "pylvi"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pylvi-bridge"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 30 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Publisher{svc: svc, cfg: cfg, logger: logger}, nil
}

// Run connects to the broker, subscribes to the set topics, and
// publishes state snapshots until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	// Re-subscribe on every (re)connect.
	opts.OnConnect = func(cl mqtt.Client) {
		topic := p.topic("+", "set/+")
		token := cl.Subscribe(topic, p.cfg.QoS, p.onMessage)
		token.Wait()
		if err := token.Error(); err != nil && p.logger != nil {
			p.logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
		}
	}

	p.client = mqtt.NewClient(opts)
	tok := p.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()

	p.publishAll()

	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			return ctx.Err()
		case <-ticker.C:
			p.publishAll()
		}
	}
}

func (p *Publisher) publishAll() {
	for id, heater := range p.svc.Heaters() {
		payload, err := json.Marshal(stateDTO{
			DeviceID:    heater.DeviceID,
			Name:        heater.Name,
			AmbientTemp: heater.AmbientTemp,
			TargetTemp:  heater.TargetTemp,
			Mode:        heater.Mode.String(),
			FanSpeed:    heater.FanSpeed.String(),
			PowerOn:     heater.PowerOn,
			HeatingUp:   heater.HeatingUp,
			Reachable:   heater.Reachable,
			UpdatedAt:   heater.LastUpdate.Unix(),
		})
		if err != nil {
			continue
		}
		p.client.Publish(p.topic(id, "state"), p.cfg.QoS, p.cfg.Retain, payload)
	}
}

type stateDTO struct {
	DeviceID    string  `json:"device_id"`
	Name        string  `json:"name"`
	AmbientTemp float64 `json:"ambient_temperature"`
	TargetTemp  float64 `json:"target_temperature"`
	Mode        string  `json:"mode"`
	FanSpeed    string  `json:"fan_speed"`
	PowerOn     bool    `json:"power_on"`
	HeatingUp   bool    `json:"heating_up"`
	Reachable   bool    `json:"reachable"`
	UpdatedAt   int64   `json:"updated_at"`
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (p *Publisher) onMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, field, ok := p.splitSetTopic(msg.Topic())
	if !ok {
		return
	}
	if err := p.dispatch(deviceID, field, msg.Payload()); err != nil && p.logger != nil {
		p.logger.Warn("mqtt command failed", "device_id", deviceID, "field", field, "error", err)
	}
}

// dispatch applies one set command. Split from onMessage so tests can
// call it without a broker.
func (p *Publisher) dispatch(deviceID, field string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch field {
	case "temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return p.svc.SetTemperature(ctx, deviceID, v)

	case "mode":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		mode, err := lvi.ParseMode(s)
		if err != nil {
			return err
		}
		return p.svc.SetControl(ctx, deviceID, lvi.ControlFlags{Mode: &mode})

	case "fan_speed":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		fan, err := lvi.ParseFanSpeed(s)
		if err != nil {
			return err
		}
		return p.svc.SetControl(ctx, deviceID, lvi.ControlFlags{FanSpeed: &fan})

	case "power":
		v, err := decodeValueStrict[bool](payload)
		if err != nil {
			return err
		}
		return p.svc.SetControl(ctx, deviceID, lvi.ControlFlags{PowerOn: &v})

	default:
		return fmt.Errorf("unknown set field %q", field)
	}
}

// splitSetTopic parses <base>/<device_id>/set/<field>.
func (p *Publisher) splitSetTopic(topic string) (deviceID, field string, ok bool) {
	base := strings.TrimRight(p.cfg.BaseTopic, "/") + "/"
	if !strings.HasPrefix(topic, base) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(topic, base), "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

func (p *Publisher) topic(deviceID, suffix string) string {
	return strings.TrimRight(p.cfg.BaseTopic, "/") + "/" + deviceID + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
