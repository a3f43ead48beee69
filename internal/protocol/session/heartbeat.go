package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidHeartBeat = errors.New("session: invalid heart-beat header")

// FormatHeartBeat renders the CONNECT heart-beat header value "cx,cy" in
// milliseconds.
func FormatHeartBeat(send, receive time.Duration) string {
	return fmt.Sprintf("%d,%d", send.Milliseconds(), receive.Milliseconds())
}

// ParseHeartBeat parses "x,y" milliseconds. An empty value means 0,0.
func ParseHeartBeat(raw string) (time.Duration, time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidHeartBeat, raw)
	}
	out := [2]time.Duration{}
	for i, p := range parts {
		ms, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || ms < 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidHeartBeat, raw)
		}
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out[0], out[1], nil
}

// NegotiateHeartBeat combines the client settings with the CONNECTED
// heart-beat header. A zero on either side disables that direction;
// otherwise the larger of the two intervals wins.
func NegotiateHeartBeat(cfg Config, serverHeader string) (send time.Duration, receive time.Duration, err error) {
	sx, sy, err := ParseHeartBeat(serverHeader)
	if err != nil {
		return 0, 0, err
	}
	if cfg.HeartbeatSend > 0 && sy > 0 {
		send = max(cfg.HeartbeatSend, sy)
	}
	if cfg.HeartbeatReceive > 0 && sx > 0 {
		receive = max(cfg.HeartbeatReceive, sx)
	}
	return send, receive, nil
}

// ReadIdleTimeout is how long the client waits for any inbound byte before
// treating the broker as dead. Zero disables the check.
func (c Config) ReadIdleTimeout(receive time.Duration) time.Duration {
	if receive <= 0 {
		return 0
	}
	tol := c.HeartbeatTolerance
	if tol < 1.0 {
		tol = 1.0
	}
	return time.Duration(float64(receive) * tol)
}
