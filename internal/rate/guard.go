// Package rate paces polls against the vendor API. The vendor documents
// no limits; the guard enforces the known-safe minimum spacing between
// update rounds and honors Retry-After when the service sends one.
package rate

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hwaastad/pylvi/lvi"
)

// MinUpdateInterval is the floor between two update rounds. The vendor
// has been seen to misbehave below two seconds.
const MinUpdateInterval = 2 * time.Second

// defaultCooldown applies after a 429 that carries no Retry-After.
const defaultCooldown = time.Minute

// Decision is the outcome of an Allow check.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// Guard tracks poll spacing and server-imposed cooldowns for one
// provider. Safe for concurrent use.
type Guard struct {
	provider    string
	minInterval time.Duration

	mu          sync.Mutex
	lastAllowed time.Time
	cooldown    time.Time
}

func New(provider string, minInterval time.Duration) *Guard {
	if minInterval < MinUpdateInterval {
		minInterval = MinUpdateInterval
	}
	return &Guard{provider: provider, minInterval: minInterval}
}

// Allow reports whether a poll may go out now. An allowed call counts
// as the start of a poll round.
func (g *Guard) Allow(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		deniedCounter.WithLabelValues(g.provider, "cooldown").Inc()
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}
	if !g.lastAllowed.IsZero() && now.Sub(g.lastAllowed) < g.minInterval {
		deniedCounter.WithLabelValues(g.provider, "spacing").Inc()
		return Decision{Reason: "spacing", RetryAt: g.lastAllowed.Add(g.minInterval)}
	}

	g.lastAllowed = now
	lastPollGauge.WithLabelValues(g.provider).Set(float64(now.Unix()))
	return Decision{Allowed: true}
}

// Record feeds a poll result back into the guard. A 429 from the
// vendor starts a cooldown: Retry-After when given, a fixed backoff
// otherwise.
func (g *Guard) Record(err error) {
	if err == nil {
		retryAfterGauge.WithLabelValues(g.provider).Set(0)
		return
	}

	var apiErr *lvi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		return
	}

	cooldown := apiErr.RetryAfter
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	g.mu.Lock()
	g.cooldown = time.Now().Add(cooldown)
	g.mu.Unlock()
	retryAfterGauge.WithLabelValues(g.provider).Set(cooldown.Seconds())
}

// RetryLimitError converts a denial into an error for callers that want
// one.
func RetryLimitError(provider string, d Decision) error {
	if d.RetryAt.IsZero() {
		return fmt.Errorf("%s poll denied: %s", provider, d.Reason)
	}
	return fmt.Errorf("%s poll denied: %s (retry at %s)", provider, d.Reason, d.RetryAt.UTC().Format(time.RFC3339))
}
