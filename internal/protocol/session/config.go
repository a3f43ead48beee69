package session

import (
	"strings"
	"time"
)

// BackoffConfig defines the delay between connect attempts. A zero
// InitialDelay retries immediately.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures an optional TLS/mTLS transport to the broker.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

// Config defines transport/session defaults for one broker connection.
type Config struct {
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	HeartbeatSend      time.Duration
	HeartbeatReceive   time.Duration
	HeartbeatTolerance float64
	DisconnectGrace    time.Duration
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

// DefaultConfig is a 2s connect timeout with heart-beats off.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     2 * time.Second,
		WriteTimeout:       10 * time.Second,
		HeartbeatSend:      0,
		HeartbeatReceive:   0,
		HeartbeatTolerance: 2.0,
		DisconnectGrace:    time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 0,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatSend < 0 {
		c.HeartbeatSend = 0
	}
	if c.HeartbeatReceive < 0 {
		c.HeartbeatReceive = 0
	}
	if c.HeartbeatTolerance < 1.0 {
		c.HeartbeatTolerance = def.HeartbeatTolerance
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = def.DisconnectGrace
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if strings.TrimSpace(string(c.SecurityMode)) == "" {
		c.SecurityMode = def.SecurityMode
	}
	return c
}
