package lvi

import "time"

// SessionState tracks the client's session lifecycle. All device and
// command operations require StateConnected.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// session holds the credentials-for-token exchange result. It exists
// only between a successful Connect and the matching Close.
type session struct {
	token       string
	userID      string
	tokenExpire time.Time
}

// Expired reports whether the vendor-announced token expiry has passed.
// A zero expiry (vendor sent none, or an unparseable timestamp) never
// expires; the caller reconnects on AuthError instead.
func (s session) Expired(now time.Time) bool {
	return !s.tokenExpire.IsZero() && now.After(s.tokenExpire)
}
