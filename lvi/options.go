package lvi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Option configures a Client.
type Option func(*clientConfig) error

type clientConfig struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}
}

// WithBaseURL overrides the vendor API base URL. Useful for tests.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) error {
		if strings.TrimSpace(url) == "" {
			return errors.New("base URL must not be empty")
		}
		c.baseURL = url
		return nil
	}
}

// WithTimeout sets the per-request timeout applied to every API call.
// Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithHTTPClient supplies the http.Client used for all calls. The
// configured timeout is not applied to a caller-supplied client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) error {
		if client == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithLogger enables debug logging. Default is no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}
