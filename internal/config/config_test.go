package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/stompctl/internal/protocol/session"
	"github.com/danmuck/stompctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stompctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(filepath.Join("testdata", "stompctl.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Endpoint.Host != "broker.local" || cfg.Endpoint.Port != 61614 {
		t.Fatalf("unexpected endpoint: %+v", cfg.Endpoint)
	}
	if cfg.VHost != "pi-hoot" || cfg.Login != "pi" || cfg.Passcode != "raspberry" {
		t.Fatalf("unexpected credentials: vhost=%q login=%q", cfg.VHost, cfg.Login)
	}
	if cfg.Destination != "/topic/pi-hoot.game" {
		t.Fatalf("unexpected destination: %q", cfg.Destination)
	}
	if cfg.Session.ConnectTimeout != 3*time.Second || cfg.Budget.TimeoutPerAttempt != 3*time.Second {
		t.Fatalf("unexpected timeouts: session=%v budget=%v", cfg.Session.ConnectTimeout, cfg.Budget.TimeoutPerAttempt)
	}
	if cfg.Budget.AttemptsMax != 4 {
		t.Fatalf("unexpected attempts: %d", cfg.Budget.AttemptsMax)
	}
	if cfg.Session.HeartbeatSend != 10*time.Second || cfg.Session.HeartbeatReceive != 10*time.Second {
		t.Fatalf("unexpected heart-beats: %v/%v", cfg.Session.HeartbeatSend, cfg.Session.HeartbeatReceive)
	}
	if cfg.Session.DisconnectGrace != 500*time.Millisecond || cfg.Session.Backoff.InitialDelay != 250*time.Millisecond {
		t.Fatalf("unexpected grace/backoff: %v/%v", cfg.Session.DisconnectGrace, cfg.Session.Backoff.InitialDelay)
	}
	if cfg.Admin.Addr != "127.0.0.1:9610" || len(cfg.Admin.CorsOrigins) != 1 || cfg.Admin.Token != "hoot" {
		t.Fatalf("unexpected admin config: %+v", cfg.Admin)
	}
	if cfg.Session.WriteTimeout != session.DefaultConfig().WriteTimeout {
		t.Fatalf("undefined keys should keep defaults")
	}
}

func TestLoadEmptyFileUsesPiClientDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Endpoint.Address() != "localhost:61613" {
		t.Fatalf("unexpected endpoint %s", cfg.Endpoint)
	}
	if cfg.Budget.AttemptsMax != 2 || cfg.Budget.TimeoutPerAttempt != 2*time.Second {
		t.Fatalf("unexpected budget %+v", cfg.Budget)
	}
	if cfg.Admin.Addr != "" {
		t.Fatalf("admin should be disabled by default")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"port":      "port = 70000\n",
		"attempts":  "reconnect_attempts_max = -1\n",
		"passcode":  "passcode = \"x\"\n",
		"unknown":   "hots = \"typo\"\n",
		"transport": "security_mode = \"production\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
	if _, err := Load(writeConfig(t, "connect_timeout = \"soon\"\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestTemplateLoadsBack(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "stompctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Destination != "/topic/pi-hoot" || cfg.Admin.Addr != "127.0.0.1:9610" {
		t.Fatalf("unexpected template values: %+v", cfg)
	}
	if cfg.Budget != Default().Budget {
		t.Fatalf("template budget drifted: %+v", cfg.Budget)
	}
}

func TestClientConfigCarriesCredentials(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.VHost = "pi-hoot"
	cfg.Login = "pi"
	cfg.Passcode = "raspberry"
	cc := cfg.ClientConfig()
	if cc.Options.VHost != "pi-hoot" || cc.Options.Login != "pi" || cc.Options.Passcode != "raspberry" {
		t.Fatalf("credentials lost: %+v", cc.Options)
	}
	if cc.Endpoint != cfg.Endpoint || cc.Budget != cfg.Budget {
		t.Fatalf("endpoint/budget lost: %+v", cc)
	}
}
