package lvi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "user@example.com"
	testPassword = "hunter2"
	testToken    = "token-abc"
)

// fakeBackend mimics the vendor API: form-encoded POSTs wrapped in the
// code/data envelope. It counts calls per path so tests can assert that
// local validation never reaches the network.
type fakeBackend struct {
	t *testing.T

	mu       sync.Mutex
	calls    map[string]int
	lastPush url.Values

	devices  map[string]map[string]any
	pushCode string
	echoPush bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:        t,
		calls:    make(map[string]int),
		devices:  make(map[string]map[string]any),
		pushCode: codeOK,
	}
}

func (b *fakeBackend) callCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func (b *fakeBackend) setDevices(devices ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = make(map[string]map[string]any)
	for i, d := range devices {
		b.devices[fmt.Sprintf("%d", i)] = d
	}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		b.t.Errorf("expected POST, got %s %s", r.Method, r.URL.Path)
	}
	require.NoError(b.t, r.ParseForm())

	b.mu.Lock()
	b.calls[r.URL.Path]++
	b.mu.Unlock()

	switch r.URL.Path {
	case "/user/auth":
		if r.PostForm.Get("email") != testEmail || r.PostForm.Get("password") != md5Hex(testPassword) {
			writeEnvelope(w, "3", nil)
			return
		}
		writeEnvelope(w, codeOK, map[string]any{
			"token": testToken,
			"user_infos": map[string]any{
				"user_id":      1234,
				"token_expire": "2030-01-02 15:04:05",
			},
		})

	case "/user/read":
		b.requireSession(r)
		writeEnvelope(w, codeOK, map[string]any{
			"smarthomes": map[string]any{
				"0": map[string]any{
					"smarthome_id": "sh1",
					"label":        "Home",
					"mac_address":  "00:11:22:33:44:55",
					"general_mode": "0",
					"holiday_mode": "0",
				},
			},
		})

	case "/smarthome/read":
		b.requireSession(r)
		if got := r.PostForm.Get("smarthome_id"); got != "sh1" {
			b.t.Errorf("unexpected smarthome_id %q", got)
		}
		b.mu.Lock()
		devices := b.devices
		b.mu.Unlock()
		writeEnvelope(w, codeOK, map[string]any{"devices": devices})

	case "/query/push":
		b.requireSession(r)
		b.mu.Lock()
		b.lastPush = r.PostForm
		code := b.pushCode
		if b.echoPush && code == codeOK {
			id := r.PostForm.Get("id_device")
			for _, device := range b.devices {
				if device["id_device"] == id {
					if v := r.PostForm.Get("consigne_manuel"); v != "" {
						device["consigne_manuel"] = v
					}
					if v := r.PostForm.Get("gv_mode"); v != "" {
						device["gv_mode"] = v
					}
					if v := r.PostForm.Get("on_off"); v != "" {
						device["on_off"] = v
					}
				}
			}
		}
		b.mu.Unlock()
		writeEnvelope(w, code, map[string]any{})

	default:
		b.t.Errorf("unexpected path: %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *fakeBackend) requireSession(r *http.Request) {
	if r.PostForm.Get("token") != testToken {
		b.t.Errorf("missing session token on %s", r.URL.Path)
	}
	if r.PostForm.Get("email") != testEmail {
		b.t.Errorf("missing email field on %s", r.URL.Path)
	}
}

func writeEnvelope(w http.ResponseWriter, code string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code": map[string]any{"code": code, "key": "", "value": ""},
		"data": data,
	})
}

func livingRoomDevice() map[string]any {
	return map[string]any{
		"id_device":        "42",
		"id_appareil":      "7",
		"nom_appareil":     "Living room",
		"num_zone":         "1",
		"smarthome_id":     "sh1",
		"temperature_air":  "19.6",
		"temperature_sol":  "0",
		"consigne_manuel":  "18.0",
		"consigne_confort": "20.0",
		"consigne_eco":     "17.0",
		"consigne_hg":      "7.0",
		"consigne_boost":   "24.0",
		"min_set_point":    "5",
		"max_set_point":    "30",
		"gv_mode":          "0",
		"fan_speed":        "0",
		"on_off":           "1",
		"heating_up":       "1",
		"status_com":       "1",
		"puissance_app":    "1500",
		"date_update":      "2026-08-27 10:00:00",
	}
}

func newTestClient(t *testing.T, backend *fakeBackend) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	client, err := New(testEmail, testPassword, WithBaseURL(server.URL))
	require.NoError(t, err)
	return client, server
}

func TestConnect(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)

	require.Equal(t, StateDisconnected, client.State())
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, StateConnected, client.State())

	expected := time.Date(2030, 1, 2, 15, 4, 5, 0, time.Local)
	assert.True(t, client.TokenExpiry().Equal(expected), "token expiry %s", client.TokenExpiry())

	// Reconnecting while connected is a no-op.
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, 1, backend.callCount("/user/auth"))
}

func TestConnectBadCredentials(t *testing.T) {
	backend := newFakeBackend(t)
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	client, err := New(testEmail, "wrong", WithBaseURL(server.URL))
	require.NoError(t, err)

	err = client.Connect(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "3", authErr.Code)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectNetworkFailure(t *testing.T) {
	backend := newFakeBackend(t)
	client, server := newTestClient(t, backend)
	server.Close()

	err := client.Connect(context.Background())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestOperationsRequireConnected(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	assert.ErrorIs(t, client.UpdateHeaters(ctx), ErrNotConnected)
	assert.ErrorIs(t, client.SetTemperature(ctx, "42", 20), ErrNotConnected)
	mode := ModeEco
	assert.ErrorIs(t, client.SetControl(ctx, "42", ControlFlags{Mode: &mode}), ErrNotConnected)

	assert.Equal(t, 0, backend.callCount("/user/read"))
	assert.Equal(t, 0, backend.callCount("/query/push"))
}

func TestUpdateHeaters(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	heater, ok := client.Heater("42")
	require.True(t, ok)
	assert.Equal(t, "Living room", heater.Name)
	assert.Equal(t, "7", heater.ApplianceID)
	assert.Equal(t, 1, heater.ZoneNumber)
	assert.InDelta(t, 19.6, heater.AmbientTemp, 1e-9)
	assert.InDelta(t, 18.0, heater.TargetTemp, 1e-9)
	assert.InDelta(t, 20.0, heater.ComfortTemp, 1e-9)
	assert.Equal(t, ModeComfort, heater.Mode)
	assert.Equal(t, FanAuto, heater.FanSpeed)
	assert.True(t, heater.PowerOn)
	assert.True(t, heater.HeatingUp)
	assert.True(t, heater.Reachable)
	assert.InDelta(t, 1500, heater.PowerWatts, 1e-9)
	assert.False(t, heater.LastUpdate.IsZero())

	homes := client.Smarthomes()
	require.Len(t, homes, 1)
	assert.Equal(t, "sh1", homes[0].ID)
	assert.Equal(t, "Home", homes[0].Label)
}

func TestUpdateHeatersReplacesRegistry(t *testing.T) {
	backend := newFakeBackend(t)
	bedroom := livingRoomDevice()
	bedroom["id_device"] = "43"
	bedroom["nom_appareil"] = "Bedroom"
	backend.setDevices(livingRoomDevice(), bedroom)

	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))
	require.Len(t, client.Heaters(), 2)

	hall := livingRoomDevice()
	hall["id_device"] = "44"
	hall["nom_appareil"] = "Hall"
	backend.setDevices(hall)

	require.NoError(t, client.UpdateHeaters(ctx))
	heaters := client.Heaters()
	require.Len(t, heaters, 1)
	_, ok := heaters["44"]
	assert.True(t, ok)
	_, stale := heaters["42"]
	assert.False(t, stale, "device 42 must not survive the second update")
}

func TestUpdateHeatersMissingDeviceID(t *testing.T) {
	backend := newFakeBackend(t)
	broken := livingRoomDevice()
	delete(broken, "id_device")
	backend.setDevices(broken)

	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	err := client.UpdateHeaters(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Msg, "id_device")
}

func TestSetTemperatureUnknownDevice(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	err := client.SetTemperature(ctx, "99", 20)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, UnknownDevice, cmdErr.Reason)
	assert.Equal(t, 0, backend.callCount("/query/push"))
}

func TestSetTemperatureOutOfRange(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice()) // reports 5..30
	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	for _, celsius := range []float64{4.9, 30.1, -3, 90} {
		err := client.SetTemperature(ctx, "42", celsius)
		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr, "value %.1f", celsius)
		assert.Equal(t, OutOfRange, cmdErr.Reason)
	}
	assert.Equal(t, 0, backend.callCount("/query/push"))

	require.NoError(t, client.SetTemperature(ctx, "42", 22))
	assert.Equal(t, 1, backend.callCount("/query/push"))
	assert.Equal(t, "42", backend.lastPush.Get("id_device"))
	assert.Equal(t, "22.0", backend.lastPush.Get("consigne_manuel"))
}

func TestSetTemperaturePartialRange(t *testing.T) {
	backend := newFakeBackend(t)
	device := livingRoomDevice()
	device["min_set_point"] = "7"
	delete(device, "max_set_point")
	backend.setDevices(device)

	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	// The missing bound falls back to the default; values inside the
	// effective 7..35 range must go through.
	require.NoError(t, client.SetTemperature(ctx, "42", 20))
	assert.Equal(t, 1, backend.callCount("/query/push"))

	err := client.SetTemperature(ctx, "42", 6)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, OutOfRange, cmdErr.Reason)

	err = client.SetTemperature(ctx, "42", 35.5)
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, OutOfRange, cmdErr.Reason)
	assert.Equal(t, 1, backend.callCount("/query/push"))
}

func TestSetTemperatureRejected(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	backend.pushCode = "9"
	err := client.SetTemperature(ctx, "42", 21)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, Rejected, cmdErr.Reason)

	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "9", apiErr.Code)
}

func TestSetTemperatureNetworkFailure(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	client, server := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	server.Close()
	err := client.SetTemperature(ctx, "42", 21)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, NetworkFailure, cmdErr.Reason)
}

func TestSetControl(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	client, _ := newTestClient(t, backend)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	// No flags is a local error, never a network call.
	err := client.SetControl(ctx, "42", ControlFlags{})
	require.Error(t, err)
	assert.Equal(t, 0, backend.callCount("/query/push"))

	mode := ModeEco
	off := false
	require.NoError(t, client.SetControl(ctx, "42", ControlFlags{Mode: &mode, PowerOn: &off}))
	assert.Equal(t, 1, backend.callCount("/query/push"))
	assert.Equal(t, "3", backend.lastPush.Get("gv_mode"))
	assert.Equal(t, "0", backend.lastPush.Get("on_off"))

	err = client.SetControl(ctx, "99", ControlFlags{Mode: &mode})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, UnknownDevice, cmdErr.Reason)
}

func TestRetryAfterSurfaced(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.URL.Path == "/user/auth" {
			writeEnvelope(w, codeOK, map[string]any{
				"token": testToken,
				"user_infos": map[string]any{
					"user_id":      1234,
					"token_expire": "2030-01-02 15:04:05",
				},
			})
			return
		}
		hits++
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	client, err := New(testEmail, testPassword, WithBaseURL(server.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	err = client.UpdateHeaters(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
	assert.Equal(t, 1, hits)
}

func TestTokenRejectedMidSession(t *testing.T) {
	var expired atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if expired.Load() {
			// Vendor answers code 3 once the token has expired.
			writeEnvelope(w, "3", nil)
			return
		}
		writeEnvelope(w, codeOK, map[string]any{
			"token": testToken,
			"user_infos": map[string]any{
				"user_id":      1234,
				"token_expire": "2030-01-02 15:04:05",
			},
		})
	}))
	t.Cleanup(server.Close)

	client, err := New(testEmail, testPassword, WithBaseURL(server.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	expired.Store(true)
	err = client.UpdateHeaters(ctx)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestExpiredTokenRefused(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.URL.Path != "/user/auth" {
			backend.ServeHTTP(w, r)
			return
		}
		writeEnvelope(w, codeOK, map[string]any{
			"token": testToken,
			"user_infos": map[string]any{
				"user_id":      1234,
				"token_expire": "2020-01-02 15:04:05",
			},
		})
	}))
	t.Cleanup(server.Close)

	client, err := New(testEmail, testPassword, WithBaseURL(server.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	// Past the announced expiry the client refuses locally instead of
	// sending a doomed call.
	err = client.UpdateHeaters(ctx)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "expired")
	assert.Equal(t, 0, backend.callCount("/user/read"))

	// Reconnect is not blocked by the stale session.
	require.NoError(t, client.Close())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestEndToEnd(t *testing.T) {
	backend := newFakeBackend(t)
	backend.setDevices(livingRoomDevice())
	backend.echoPush = true
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.UpdateHeaters(ctx))

	heater, ok := client.Heater("42")
	require.True(t, ok)
	require.InDelta(t, 18.0, heater.TargetTemp, 1e-9)

	require.NoError(t, client.SetTemperature(ctx, "42", 22))

	require.NoError(t, client.UpdateHeaters(ctx))
	heater, ok = client.Heater("42")
	require.True(t, ok)
	assert.InDelta(t, 22.0, heater.TargetTemp, 1e-9)

	require.NoError(t, client.Close())
	assert.Equal(t, StateDisconnected, client.State())
	assert.ErrorIs(t, client.UpdateHeaters(ctx), ErrNotConnected)
	assert.ErrorIs(t, client.SetTemperature(ctx, "42", 20), ErrNotConnected)

	// Close is idempotent.
	require.NoError(t, client.Close())
}

func TestNewValidation(t *testing.T) {
	_, err := New("", testPassword)
	assert.Error(t, err)
	_, err = New(testEmail, "")
	assert.Error(t, err)
	_, err = New(testEmail, testPassword, WithBaseURL(" "))
	assert.Error(t, err)
}

func TestErrorsAreTyped(t *testing.T) {
	cmdErr := &CommandError{DeviceID: "42", Reason: Rejected, Err: errors.New("boom")}
	assert.Contains(t, cmdErr.Error(), "rejected")
	assert.ErrorContains(t, cmdErr, "boom")

	netErr := &NetworkError{Op: "user/read", Err: errors.New("refused")}
	assert.ErrorContains(t, netErr, "refused")

	apiErr := &APIError{Path: "user/read", Status: 500, Code: "2", Msg: "oops"}
	assert.Contains(t, apiErr.Error(), "http 500")
}
