package stomp

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/stompctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// RetryBudget bounds ConnectWithRetry. Only the Supervisor mutates it.
type RetryBudget struct {
	AttemptsMax       int
	AttemptsUsed      int
	TimeoutPerAttempt time.Duration
}

// DefaultRetryBudget allows two attempts of two seconds each.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		AttemptsMax:       2,
		TimeoutPerAttempt: 2 * time.Second,
	}
}

func (b *RetryBudget) Remaining() int {
	if n := b.AttemptsMax - b.AttemptsUsed; n > 0 {
		return n
	}
	return 0
}

func (b *RetryBudget) validate() error {
	if b == nil {
		return ErrInvalidBudget
	}
	if b.AttemptsMax < 0 || b.AttemptsUsed < 0 {
		return ErrInvalidBudget
	}
	return nil
}

type openFunc func(ctx context.Context, ep Endpoint, timeout time.Duration, opts Options) (*Conn, error)

// Supervisor opens connections under a RetryBudget. It keeps no connection
// state of its own; each attempt builds a fresh Conn.
type Supervisor struct {
	opts Options
	open openFunc

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{
		opts: opts,
		open: Open,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Supervisor) Options() Options {
	return s.opts
}

// ConnectWithRetry calls Open until it succeeds or the budget is spent.
// Attempts are immediate unless the session backoff has an initial delay.
// A broker rejection or ctx cancellation ends the loop early and is
// returned as-is; exhaustion yields a ConnectRetriesExhausted ConnectError
// wrapping the last attempt's error.
func (s *Supervisor) ConnectWithRetry(ctx context.Context, ep Endpoint, budget *RetryBudget) (*Conn, error) {
	if err := budget.validate(); err != nil {
		return nil, err
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	var last error
	for budget.AttemptsUsed < budget.AttemptsMax {
		budget.AttemptsUsed++
		attempt := budget.AttemptsUsed

		conn, err := s.open(ctx, ep, budget.TimeoutPerAttempt, s.opts)
		if err == nil {
			budget.AttemptsUsed = 0
			return conn, nil
		}
		last = err
		log.Debug().Err(err).Str("endpoint", ep.Address()).Int("attempt", attempt).Int("max", budget.AttemptsMax).Msg("stomp.Supervisor connect attempt failed")

		var ce *ConnectError
		if !errors.As(err, &ce) {
			return nil, err
		}
		if ce.Kind == ConnectRejected || ce.Kind == ConnectCancelled {
			return nil, err
		}
		if budget.AttemptsUsed >= budget.AttemptsMax {
			break
		}
		if err := s.sleepBackoff(ctx, attempt); err != nil {
			return nil, &ConnectError{Kind: ConnectCancelled, Endpoint: ep, Attempts: attempt, Err: err}
		}
	}

	log.Warn().Err(last).Str("endpoint", ep.Address()).Int("attempts", budget.AttemptsUsed).Msg("stomp.Supervisor retries exhausted")
	return nil, &ConnectError{
		Kind:     ConnectRetriesExhausted,
		Endpoint: ep,
		Attempts: budget.AttemptsUsed,
		Err:      last,
	}
}

// ResetBudget clears AttemptsUsed so a later ConnectWithRetry gets the full
// allowance again.
func (s *Supervisor) ResetBudget(budget *RetryBudget) {
	if budget != nil {
		budget.AttemptsUsed = 0
	}
}

func (s *Supervisor) sleepBackoff(ctx context.Context, attempt int) error {
	s.mu.Lock()
	delay := session.NextBackoffDelay(s.opts.Session.Backoff, attempt, s.rng)
	s.mu.Unlock()
	return session.Sleep(ctx, delay)
}
