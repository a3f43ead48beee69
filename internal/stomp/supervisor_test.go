package stomp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/stompctl/internal/testutil/brokertest"
	"github.com/danmuck/stompctl/internal/testutil/testlog"
)

// countingSupervisor wraps Open so tests can count attempts.
func countingSupervisor(opts Options) (*Supervisor, *atomic.Int32) {
	s := NewSupervisor(opts)
	calls := &atomic.Int32{}
	s.open = func(ctx context.Context, ep Endpoint, timeout time.Duration, opts Options) (*Conn, error) {
		calls.Add(1)
		return Open(ctx, ep, timeout, opts)
	}
	return s, calls
}

func TestConnectWithRetryMakesExactlyNAttempts(t *testing.T) {
	testlog.Start(t)
	host, port := brokertest.UnusedAddr(t)
	s, calls := countingSupervisor(testOptions())
	budget := &RetryBudget{AttemptsMax: 3, TimeoutPerAttempt: 200 * time.Millisecond}

	conn, err := s.ConnectWithRetry(context.Background(), Endpoint{Host: host, Port: port}, budget)
	if conn != nil {
		t.Fatalf("expected no connection")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Kind != ConnectRetriesExhausted {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if ce.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got error=%d calls=%d", ce.Attempts, calls.Load())
	}
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrConnectRefused) {
		t.Fatalf("expected exhausted wrapping refused, got %v", err)
	}
	if budget.AttemptsUsed != 3 || budget.Remaining() != 0 {
		t.Fatalf("unexpected budget %+v", budget)
	}
}

func TestConnectWithRetryHonoursPerAttemptTimeout(t *testing.T) {
	testlog.Start(t)
	b := brokertest.Start(t, brokertest.Options{Silent: true})
	s := NewSupervisor(testOptions())
	budget := &RetryBudget{AttemptsMax: 2, TimeoutPerAttempt: 100 * time.Millisecond}

	start := time.Now()
	_, err := s.ConnectWithRetry(context.Background(), brokerEndpoint(b), budget)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected exhausted wrapping timeout, got %v", err)
	}
	if elapsed < 200*time.Millisecond || elapsed > time.Second {
		t.Fatalf("expected ~200ms, got %v", elapsed)
	}
	waitFor(t, "two CONNECT frames", func() bool { return b.Connects() == 2 })
}

func TestConnectWithRetryZeroAttempts(t *testing.T) {
	testlog.Start(t)
	s, calls := countingSupervisor(testOptions())
	budget := &RetryBudget{AttemptsMax: 0, TimeoutPerAttempt: time.Second}

	_, err := s.ConnectWithRetry(context.Background(), Endpoint{Host: "127.0.0.1", Port: 61613}, budget)
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Kind != ConnectRetriesExhausted {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if ce.Attempts != 0 || ce.Err != nil || calls.Load() != 0 {
		t.Fatalf("expected no attempts, got %+v calls=%d", ce, calls.Load())
	}
}

func TestConnectWithRetryDoesNotRetryRejection(t *testing.T) {
	testlog.Start(t)
	b := brokertest.Start(t, brokertest.Options{RejectWith: "access refused"})
	s, calls := countingSupervisor(testOptions())
	budget := &RetryBudget{AttemptsMax: 3, TimeoutPerAttempt: time.Second}

	_, err := s.ConnectWithRetry(context.Background(), brokerEndpoint(b), budget)
	if !errors.Is(err, ErrConnectRejected) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected bare rejection, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("rejection retried: calls=%d", calls.Load())
	}
}

func TestConnectWithRetryResetsBudgetOnSuccess(t *testing.T) {
	testlog.Start(t)
	b := brokertest.Start(t, brokertest.Options{})
	s := NewSupervisor(testOptions())
	var calls int
	s.open = func(ctx context.Context, ep Endpoint, timeout time.Duration, opts Options) (*Conn, error) {
		calls++
		if calls == 1 {
			return nil, &ConnectError{Kind: ConnectRefused, Endpoint: ep, Err: errors.New("connection refused")}
		}
		return Open(ctx, ep, timeout, opts)
	}
	budget := &RetryBudget{AttemptsMax: 2, TimeoutPerAttempt: time.Second}

	conn, err := s.ConnectWithRetry(context.Background(), brokerEndpoint(b), budget)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(context.Background())
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if budget.AttemptsUsed != 0 || budget.Remaining() != 2 {
		t.Fatalf("budget not reset: %+v", budget)
	}
}

func TestConnectWithRetryCancelledDuringBackoff(t *testing.T) {
	testlog.Start(t)
	host, port := brokertest.UnusedAddr(t)
	opts := testOptions()
	opts.Session.Backoff.InitialDelay = time.Hour
	s := NewSupervisor(opts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.ConnectWithRetry(ctx, Endpoint{Host: host, Port: port}, &RetryBudget{AttemptsMax: 5, TimeoutPerAttempt: time.Second})
	if !errors.Is(err, ErrConnectCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancel not prompt: %v", elapsed)
	}
}

func TestConnectWithRetryRejectsInvalidInput(t *testing.T) {
	testlog.Start(t)
	s := NewSupervisor(testOptions())
	ep := Endpoint{Host: "127.0.0.1", Port: 61613}
	if _, err := s.ConnectWithRetry(context.Background(), ep, nil); !errors.Is(err, ErrInvalidBudget) {
		t.Fatalf("expected ErrInvalidBudget, got %v", err)
	}
	if _, err := s.ConnectWithRetry(context.Background(), ep, &RetryBudget{AttemptsMax: -1}); !errors.Is(err, ErrInvalidBudget) {
		t.Fatalf("expected ErrInvalidBudget, got %v", err)
	}
	if _, err := s.ConnectWithRetry(context.Background(), Endpoint{Host: "x", Port: 0}, &RetryBudget{AttemptsMax: 1}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}

	budget := &RetryBudget{AttemptsMax: 2, AttemptsUsed: 2}
	s.ResetBudget(budget)
	if budget.AttemptsUsed != 0 {
		t.Fatalf("reset did not clear attempts")
	}
}
