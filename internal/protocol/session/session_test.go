package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/stompctl/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayZeroInitialRetriesImmediately(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	for attempt := 1; attempt <= 4; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != 0 {
			t.Fatalf("attempt%d got=%v", attempt, got)
		}
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got != 250*time.Millisecond {
		t.Fatalf("first attempt should not jitter: %v", got)
	}
	got = NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
}

func TestParseHeartBeat(t *testing.T) {
	testlog.Start(t)
	x, y, err := ParseHeartBeat("1000, 250")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if x != time.Second || y != 250*time.Millisecond {
		t.Fatalf("unexpected values x=%v y=%v", x, y)
	}
	if x, y, err := ParseHeartBeat(""); err != nil || x != 0 || y != 0 {
		t.Fatalf("empty header: x=%v y=%v err=%v", x, y, err)
	}
	for _, bad := range []string{"1", "a,b", "-1,0", "1,2,3"} {
		if _, _, err := ParseHeartBeat(bad); !errors.Is(err, ErrInvalidHeartBeat) {
			t.Fatalf("%q: expected ErrInvalidHeartBeat, got %v", bad, err)
		}
	}
	if got := FormatHeartBeat(time.Second, 1500*time.Millisecond); got != "1000,1500" {
		t.Fatalf("format got=%q", got)
	}
}

func TestNegotiateHeartBeat(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.HeartbeatSend = time.Second
	cfg.HeartbeatReceive = 500 * time.Millisecond

	send, recv, err := NegotiateHeartBeat(cfg, "2000,300")
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if send != time.Second {
		t.Fatalf("send got=%v", send)
	}
	if recv != 2*time.Second {
		t.Fatalf("recv got=%v", recv)
	}

	send, recv, err = NegotiateHeartBeat(cfg, "0,0")
	if err != nil || send != 0 || recv != 0 {
		t.Fatalf("server disabled: send=%v recv=%v err=%v", send, recv, err)
	}

	if got := cfg.WithDefaults().ReadIdleTimeout(2 * time.Second); got != 4*time.Second {
		t.Fatalf("read idle timeout got=%v", got)
	}
	if got := cfg.ReadIdleTimeout(0); got != 0 {
		t.Fatalf("disabled read idle timeout got=%v", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	def := DefaultConfig()
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.DisconnectGrace != def.DisconnectGrace {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("unexpected security mode %q", cfg.SecurityMode)
	}
	if cfg.HeartbeatTolerance != 2.0 {
		t.Fatalf("unexpected tolerance %v", cfg.HeartbeatTolerance)
	}
}

func TestReceiptTrackerLifecycle(t *testing.T) {
	testlog.Start(t)
	tr := NewReceiptTracker()
	ch, err := tr.Add("rcpt.1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := tr.Add("rcpt.1"); !errors.Is(err, ErrReceiptExists) {
		t.Fatalf("expected ErrReceiptExists, got %v", err)
	}
	if _, err := tr.Add("  "); !errors.Is(err, ErrReceiptIDRequired) {
		t.Fatalf("expected ErrReceiptIDRequired, got %v", err)
	}
	if got := tr.Pending(); len(got) != 1 || got[0] != "rcpt.1" {
		t.Fatalf("unexpected pending: %v", got)
	}
	if !tr.Complete("rcpt.1") {
		t.Fatalf("expected completion")
	}
	if tr.Complete("rcpt.1") {
		t.Fatalf("second completion should report false")
	}
	if err := tr.Await(context.Background(), "rcpt.1", ch, time.Second); err != nil {
		t.Fatalf("await completed receipt: %v", err)
	}
}

func TestReceiptTrackerAwaitTimeout(t *testing.T) {
	testlog.Start(t)
	tr := NewReceiptTracker()
	ch, err := tr.Add("rcpt.slow")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tr.Await(context.Background(), "rcpt.slow", ch, 20*time.Millisecond); !errors.Is(err, ErrReceiptTimeout) {
		t.Fatalf("expected ErrReceiptTimeout, got %v", err)
	}
	if len(tr.Pending()) != 0 {
		t.Fatalf("timed out receipt should be dropped")
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}

	cfg.TLS.Mutual = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateClientTransportRejectsUnknownMode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "staging"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestClientTLSConfigDisabledIsNil(t *testing.T) {
	testlog.Start(t)
	cfg, err := DefaultConfig().ClientTLSConfig("127.0.0.1:61613")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil tls config, got cfg=%v err=%v", cfg, err)
	}
}
