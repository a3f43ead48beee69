package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/stompctl/internal/protocol/session"
	"github.com/danmuck/stompctl/internal/stomp"
)

var ErrInvalidConfig = errors.New("config: invalid")

// File is the on-disk TOML shape. Durations are Go duration strings.
type File struct {
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	VHost                 string   `toml:"vhost"`
	Login                 string   `toml:"login"`
	Passcode              string   `toml:"passcode"`
	Destination           string   `toml:"destination"`
	ConnectTimeout        string   `toml:"connect_timeout"`
	ReconnectAttemptsMax  int      `toml:"reconnect_attempts_max"`
	HeartbeatSend         string   `toml:"heartbeat_send"`
	HeartbeatReceive      string   `toml:"heartbeat_receive"`
	DisconnectGrace       string   `toml:"disconnect_grace"`
	BackoffInitial        string   `toml:"backoff_initial"`
	SecurityMode          string   `toml:"security_mode"`
	TLSEnabled            bool     `toml:"tls_enabled"`
	TLSMutual             bool     `toml:"tls_mutual"`
	TLSInsecureSkipVerify bool     `toml:"tls_insecure_skip_verify"`
	TLSServerName         string   `toml:"tls_server_name"`
	TLSCAFile             string   `toml:"tls_ca_file"`
	TLSCertFile           string   `toml:"tls_cert_file"`
	TLSKeyFile            string   `toml:"tls_key_file"`
	AdminAddr             string   `toml:"admin_addr"`
	AdminCorsOrigins      []string `toml:"admin_cors_origins"`
	AdminToken            string   `toml:"admin_token"`
}

type AdminConfig struct {
	// Addr is the admin listen address; empty disables the admin server.
	Addr        string
	CorsOrigins []string
	// Token guards every admin route except /health when set.
	Token string
}

// Config is the resolved client configuration.
type Config struct {
	Endpoint    stomp.Endpoint
	VHost       string
	Login       string
	Passcode    string
	Destination string
	Session     session.Config
	Budget      stomp.RetryBudget
	Admin       AdminConfig
}

// Default is the pi client profile: localhost:61613, a 2s connect
// timeout and two connect attempts.
func Default() Config {
	sess := session.DefaultConfig()
	return Config{
		Endpoint: stomp.Endpoint{Host: "localhost", Port: 61613},
		Session:  sess,
		Budget: stomp.RetryBudget{
			AttemptsMax:       2,
			TimeoutPerAttempt: sess.ConnectTimeout,
		},
	}
}

// Load decodes path and overlays every defined key onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Endpoint.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Endpoint.Port = raw.Port
	}
	if meta.IsDefined("vhost") {
		cfg.VHost = strings.TrimSpace(raw.VHost)
	}
	if meta.IsDefined("login") {
		cfg.Login = raw.Login
	}
	if meta.IsDefined("passcode") {
		cfg.Passcode = raw.Passcode
	}
	if meta.IsDefined("destination") {
		cfg.Destination = strings.TrimSpace(raw.Destination)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"heartbeat_send", raw.HeartbeatSend, &cfg.Session.HeartbeatSend},
		{"heartbeat_receive", raw.HeartbeatReceive, &cfg.Session.HeartbeatReceive},
		{"disconnect_grace", raw.DisconnectGrace, &cfg.Session.DisconnectGrace},
		{"backoff_initial", raw.BackoffInitial, &cfg.Session.Backoff.InitialDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	cfg.Budget.TimeoutPerAttempt = cfg.Session.ConnectTimeout

	if meta.IsDefined("reconnect_attempts_max") {
		cfg.Budget.AttemptsMax = raw.ReconnectAttemptsMax
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Session.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("admin_addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.AdminCorsOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.Admin.Token = strings.TrimSpace(raw.AdminToken)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Budget.AttemptsMax < 0 {
		return fmt.Errorf("%w: reconnect_attempts_max must be >= 0", ErrInvalidConfig)
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if c.Session.HeartbeatSend < 0 || c.Session.HeartbeatReceive < 0 {
		return fmt.Errorf("%w: heart-beat intervals must be >= 0", ErrInvalidConfig)
	}
	if c.Login == "" && c.Passcode != "" {
		return fmt.Errorf("%w: passcode set without login", ErrInvalidConfig)
	}
	if err := c.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
