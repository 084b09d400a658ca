package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwaastad/pylvi/lvi"
)

type fakeService struct {
	heaters map[string]lvi.Heater

	tempCalls []struct {
		deviceID string
		celsius  float64
	}
	controlCalls []struct {
		deviceID string
		flags    lvi.ControlFlags
	}
}

func (f *fakeService) Heaters() map[string]lvi.Heater { return f.heaters }

func (f *fakeService) SetTemperature(_ context.Context, deviceID string, celsius float64) error {
	f.tempCalls = append(f.tempCalls, struct {
		deviceID string
		celsius  float64
	}{deviceID, celsius})
	return nil
}

func (f *fakeService) SetControl(_ context.Context, deviceID string, flags lvi.ControlFlags) error {
	f.controlCalls = append(f.controlCalls, struct {
		deviceID string
		flags    lvi.ControlFlags
	}{deviceID, flags})
	return nil
}

func newTestPublisher(t *testing.T, svc *fakeService) *Publisher {
	t.Helper()
	p, err := New(svc, Config{BaseTopic: "pylvi"}, nil)
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)

	_, err = New(&fakeService{}, Config{QoS: 2}, nil)
	assert.Error(t, err)

	p, err := New(&fakeService{}, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pylvi", p.cfg.BaseTopic)
	assert.Equal(t, "tcp://localhost:1883", p.cfg.BrokerURL)
}

func TestSplitSetTopic(t *testing.T) {
	p := newTestPublisher(t, &fakeService{})

	id, field, ok := p.splitSetTopic("pylvi/42/set/temperature")
	require.True(t, ok)
	assert.Equal(t, "42", id)
	assert.Equal(t, "temperature", field)

	for _, topic := range []string{
		"other/42/set/temperature",
		"pylvi/42/state",
		"pylvi/42/set",
		"pylvi//set/temperature",
		"pylvi/42/get/temperature",
	} {
		_, _, ok := p.splitSetTopic(topic)
		assert.False(t, ok, "topic %s", topic)
	}
}

func TestDispatchTemperature(t *testing.T) {
	svc := &fakeService{}
	p := newTestPublisher(t, svc)

	require.NoError(t, p.dispatch("42", "temperature", []byte(`{"value": 21.5}`)))
	require.Len(t, svc.tempCalls, 1)
	assert.Equal(t, "42", svc.tempCalls[0].deviceID)
	assert.InDelta(t, 21.5, svc.tempCalls[0].celsius, 1e-9)

	// Malformed payloads never reach the service.
	assert.Error(t, p.dispatch("42", "temperature", []byte(`{"value": "warm"}`)))
	assert.Error(t, p.dispatch("42", "temperature", []byte(`{}`)))
	assert.Error(t, p.dispatch("42", "temperature", []byte(`{"value": 1, "extra": 2}`)))
	assert.Len(t, svc.tempCalls, 1)
}

func TestDispatchMode(t *testing.T) {
	svc := &fakeService{}
	p := newTestPublisher(t, svc)

	require.NoError(t, p.dispatch("42", "mode", []byte(`{"value": "eco"}`)))
	require.Len(t, svc.controlCalls, 1)
	require.NotNil(t, svc.controlCalls[0].flags.Mode)
	assert.Equal(t, lvi.ModeEco, *svc.controlCalls[0].flags.Mode)

	assert.Error(t, p.dispatch("42", "mode", []byte(`{"value": "defrost"}`)))
	assert.Len(t, svc.controlCalls, 1)
}

func TestDispatchPowerAndFan(t *testing.T) {
	svc := &fakeService{}
	p := newTestPublisher(t, svc)

	require.NoError(t, p.dispatch("42", "power", []byte(`{"value": false}`)))
	require.NoError(t, p.dispatch("42", "fan_speed", []byte(`{"value": "high"}`)))
	require.Len(t, svc.controlCalls, 2)

	require.NotNil(t, svc.controlCalls[0].flags.PowerOn)
	assert.False(t, *svc.controlCalls[0].flags.PowerOn)
	require.NotNil(t, svc.controlCalls[1].flags.FanSpeed)
	assert.Equal(t, lvi.FanHigh, *svc.controlCalls[1].flags.FanSpeed)
}

func TestDispatchUnknownField(t *testing.T) {
	p := newTestPublisher(t, &fakeService{})
	assert.Error(t, p.dispatch("42", "color", []byte(`{"value": 1}`)))
}
