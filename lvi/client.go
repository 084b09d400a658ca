package lvi

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the vendor's production endpoint.
	DefaultBaseURL = "https://e3.lvi.eu/api/v0.1/human/"
	// DefaultTimeout is applied to every API call unless overridden.
	DefaultTimeout = 10 * time.Second

	// DefaultMinSetpoint and DefaultMaxSetpoint bound SetTemperature
	// for heaters that do not report their own range.
	DefaultMinSetpoint = 5.0
	DefaultMaxSetpoint = 35.0

	authPath          = "user/auth"
	userReadPath      = "user/read"
	smarthomeReadPath = "smarthome/read"
	pushPath          = "query/push"

	// Vendor result codes inside the response envelope.
	codeOK         = "1"
	codeAuthFailed = "3"
)

// Client talks to the LVI cloud API. It owns one authenticated session
// and the registry of heaters fetched for the account.
//
// The registry is replaced wholesale on each UpdateHeaters, never
// patched, so concurrent readers always see a complete snapshot. Beyond
// that the client assumes one-call-at-a-time usage.
type Client struct {
	email    string
	password string
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	ownsHTTP bool
	logger   *slog.Logger

	mu         sync.RWMutex
	state      SessionState
	sess       session
	smarthomes []Smarthome
	heaters    map[string]Heater
}

// New creates a client for the given account credentials. No network
// call is made until Connect.
func New(email, password string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("lvi: email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("lvi: password is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("lvi: invalid option: %w", err)
		}
	}

	baseURL := cfg.baseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	httpClient := cfg.httpClient
	ownsHTTP := false
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
		ownsHTTP = true
	}

	return &Client{
		email:    email,
		password: password,
		baseURL:  baseURL,
		timeout:  cfg.timeout,
		http:     httpClient,
		ownsHTTP: ownsHTTP,
		logger:   cfg.logger,
		state:    StateDisconnected,
		heaters:  make(map[string]Heater),
	}, nil
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TokenExpiry returns the vendor-announced token expiry, zero when not
// connected or when the vendor sent none.
func (c *Client) TokenExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.tokenExpire
}

// Connect exchanges the account credentials for a session token. On
// success the session is Connected; on any failure it is back to
// Disconnected. Vendor rejections and malformed auth payloads surface
// as *AuthError, transport failures as *NetworkError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	form := url.Values{}
	form.Set("email", c.email)
	form.Set("password", md5Hex(c.password))

	data, err := c.postForm(ctx, authPath, form)
	if err != nil {
		c.disconnect()
		if apiErr, ok := err.(*APIError); ok {
			return &AuthError{Status: apiErr.Status, Code: apiErr.Code, Reason: apiErr.Msg}
		}
		return err
	}

	var auth struct {
		Token     string `json:"token"`
		UserInfos struct {
			UserID      json.Number `json:"user_id"`
			TokenExpire string      `json:"token_expire"`
		} `json:"user_infos"`
	}
	if err := json.Unmarshal(data, &auth); err != nil {
		c.disconnect()
		return &AuthError{Reason: "malformed auth payload: " + err.Error()}
	}
	if auth.Token == "" {
		c.disconnect()
		return &AuthError{Reason: "auth response missing token"}
	}
	if auth.UserInfos.UserID.String() == "" {
		c.disconnect()
		return &AuthError{Reason: "auth response missing user id"}
	}
	if auth.UserInfos.TokenExpire == "" {
		c.disconnect()
		return &AuthError{Reason: "auth response missing token expiry"}
	}

	c.mu.Lock()
	c.sess = session{
		token:       auth.Token,
		userID:      auth.UserInfos.UserID.String(),
		tokenExpire: parseWireTime(auth.UserInfos.TokenExpire),
	}
	c.state = StateConnected
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("connected to LVI", "user_id", auth.UserInfos.UserID.String())
	}
	return nil
}

// Close tears the session down and releases the transport. It is
// idempotent; after Close every operation fails with ErrNotConnected
// until the next Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	alreadyDown := c.state == StateDisconnected
	c.state = StateDisconnected
	c.sess = session{}
	c.heaters = make(map[string]Heater)
	c.smarthomes = nil
	c.mu.Unlock()

	if c.ownsHTTP {
		c.http.CloseIdleConnections()
	}
	if !alreadyDown && c.logger != nil {
		c.logger.Debug("LVI session closed")
	}
	return nil
}

// UpdateHeaters fetches the smarthome list and the heaters of every
// smarthome, then replaces the registry with the result. Callers never
// observe a partially updated registry.
func (c *Client) UpdateHeaters(ctx context.Context) error {
	token, err := c.sessionToken()
	if err != nil {
		return err
	}

	data, err := c.postAuthed(ctx, userReadPath, token, url.Values{})
	if err != nil {
		return err
	}

	var account struct {
		Smarthomes map[string]map[string]any `json:"smarthomes"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return &APIError{Path: userReadPath, Msg: "malformed smarthome list: " + err.Error()}
	}

	smarthomes := make([]Smarthome, 0, len(account.Smarthomes))
	for _, raw := range account.Smarthomes {
		home, err := smarthomeFromWire(raw)
		if err != nil {
			return &APIError{Path: userReadPath, Msg: err.Error()}
		}
		smarthomes = append(smarthomes, home)
	}
	sort.Slice(smarthomes, func(i, j int) bool { return smarthomes[i].ID < smarthomes[j].ID })

	heaters := make(map[string]Heater)
	for _, home := range smarthomes {
		form := url.Values{}
		form.Set("smarthome_id", home.ID)

		data, err := c.postAuthed(ctx, smarthomeReadPath, token, form)
		if err != nil {
			return err
		}

		var payload struct {
			Devices map[string]map[string]any `json:"devices"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return &APIError{Path: smarthomeReadPath, Msg: "malformed device list: " + err.Error()}
		}

		for _, raw := range payload.Devices {
			heater, err := heaterFromWire(raw)
			if err != nil {
				return &APIError{Path: smarthomeReadPath, Msg: err.Error()}
			}
			if heater.SmarthomeID == "" {
				heater.SmarthomeID = home.ID
			}
			heaters[heater.DeviceID] = heater
		}
	}

	c.mu.Lock()
	c.smarthomes = smarthomes
	c.heaters = heaters
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("heater registry updated", "smarthomes", len(smarthomes), "heaters", len(heaters))
	}
	return nil
}

// Heaters returns the registry snapshot from the last UpdateHeaters,
// keyed by device identifier. The returned map is never mutated by the
// client; a later update installs a fresh one.
func (c *Client) Heaters() map[string]Heater {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heaters
}

// Heater looks a single device up in the registry.
func (c *Client) Heater(deviceID string) (Heater, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.heaters[deviceID]
	return h, ok
}

// Smarthomes returns the account's smarthomes from the last
// UpdateHeaters, ordered by id.
func (c *Client) Smarthomes() []Smarthome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.smarthomes
}

// SetTemperature sets the manual target temperature of one heater. The
// device id must be present in the registry and the value inside the
// heater's setpoint range; both are checked before any network call.
func (c *Client) SetTemperature(ctx context.Context, deviceID string, celsius float64) error {
	token, err := c.sessionToken()
	if err != nil {
		return err
	}

	heater, ok := c.Heater(deviceID)
	if !ok {
		return &CommandError{DeviceID: deviceID, Reason: UnknownDevice}
	}
	min, max := heater.SetpointRange()
	if celsius < min || celsius > max {
		return &CommandError{
			DeviceID: deviceID,
			Reason:   OutOfRange,
			Err:      fmt.Errorf("%.1f°C outside %.1f..%.1f", celsius, min, max),
		}
	}

	form := url.Values{}
	form.Set("id_device", deviceID)
	form.Set("consigne_manuel", strconv.FormatFloat(celsius, 'f', 1, 64))
	return c.push(ctx, deviceID, token, form)
}

// SetControl changes mode, power, or fan speed of one heater in a
// single command call. The device id must be present in the registry.
func (c *Client) SetControl(ctx context.Context, deviceID string, flags ControlFlags) error {
	if err := flags.validate(); err != nil {
		return fmt.Errorf("lvi set control: %w", err)
	}

	token, err := c.sessionToken()
	if err != nil {
		return err
	}
	if _, ok := c.Heater(deviceID); !ok {
		return &CommandError{DeviceID: deviceID, Reason: UnknownDevice}
	}

	form := url.Values{}
	form.Set("id_device", deviceID)
	if flags.Mode != nil {
		form.Set("gv_mode", strconv.Itoa(int(*flags.Mode)))
	}
	if flags.PowerOn != nil {
		form.Set("on_off", boolField(*flags.PowerOn))
	}
	if flags.FanSpeed != nil {
		form.Set("fan_speed", strconv.Itoa(int(*flags.FanSpeed)))
	}
	return c.push(ctx, deviceID, token, form)
}

// push issues one command call and maps failures onto CommandError.
func (c *Client) push(ctx context.Context, deviceID, token string, form url.Values) error {
	if _, err := c.postAuthed(ctx, pushPath, token, form); err != nil {
		if _, ok := err.(*NetworkError); ok {
			return &CommandError{DeviceID: deviceID, Reason: NetworkFailure, Err: err}
		}
		return &CommandError{DeviceID: deviceID, Reason: Rejected, Err: err}
	}
	if c.logger != nil {
		c.logger.Debug("command accepted", "device_id", deviceID)
	}
	return nil
}

// sessionToken hands out the current token, refusing when the session
// is down or the vendor-announced expiry has passed. Reconnecting is
// the caller's move; the client never refreshes on its own.
func (c *Client) sessionToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return "", ErrNotConnected
	}
	if c.sess.Expired(time.Now()) {
		return "", &AuthError{Reason: "session token expired"}
	}
	return c.sess.token, nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.sess = session{}
	c.mu.Unlock()
}

// postAuthed adds the session fields every authenticated call carries.
func (c *Client) postAuthed(ctx context.Context, path, token string, form url.Values) (json.RawMessage, error) {
	form.Set("token", token)
	form.Set("email", c.email)
	return c.postForm(ctx, path, form)
}

// postForm does one form-encoded POST and unwraps the vendor envelope.
// It returns the raw data payload, or a typed error: *NetworkError on
// transport failure, *AuthError on a rejected token, *APIError
// otherwise.
func (c *Client) postForm(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if c.timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &APIError{Path: path, Msg: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{
			Path:   path,
			Status: resp.StatusCode,
			Msg:    strings.TrimSpace(string(body)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, apiErr
	}

	var envelope struct {
		Code struct {
			Code  string `json:"code"`
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &APIError{Path: path, Status: resp.StatusCode, Msg: "malformed response: " + err.Error()}
	}

	switch envelope.Code.Code {
	case codeOK:
		return envelope.Data, nil
	case codeAuthFailed:
		return nil, &AuthError{Status: resp.StatusCode, Code: envelope.Code.Code, Reason: vendorMessage(envelope.Code.Key, envelope.Code.Value)}
	default:
		return nil, &APIError{Path: path, Status: resp.StatusCode, Code: envelope.Code.Code, Msg: vendorMessage(envelope.Code.Key, envelope.Code.Value)}
	}
}

func vendorMessage(key, value string) string {
	switch {
	case key != "" && value != "":
		return key + ": " + value
	case key != "":
		return key
	case value != "":
		return value
	default:
		return "request refused"
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
