package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrReceiptIDRequired = errors.New("session: receipt id required")
	ErrReceiptExists     = errors.New("session: receipt already pending")
	ErrReceiptTimeout    = errors.New("session: receipt timeout")
)

// ReceiptTracker correlates outbound receipt headers with inbound RECEIPT
// frames by receipt id.
type ReceiptTracker struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

func NewReceiptTracker() *ReceiptTracker {
	return &ReceiptTracker{
		pending: make(map[string]chan struct{}),
	}
}

// Add registers id and returns a channel closed when the receipt arrives.
func (t *ReceiptTracker) Add(id string) (<-chan struct{}, error) {
	key := strings.TrimSpace(id)
	if key == "" {
		return nil, ErrReceiptIDRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[key]; ok {
		return nil, ErrReceiptExists
	}
	ch := make(chan struct{})
	t.pending[key] = ch
	return ch, nil
}

// Complete releases the waiter for id. It reports false for ids nobody is
// waiting on.
func (t *ReceiptTracker) Complete(id string) bool {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[key]
	if !ok {
		return false
	}
	delete(t.pending, key)
	close(ch)
	return true
}

func (t *ReceiptTracker) Cancel(id string) {
	key := strings.TrimSpace(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

// Await blocks until the receipt arrives, timeout elapses, or ctx is done.
// The id is dropped on every non-success path.
func (t *ReceiptTracker) Await(ctx context.Context, id string, ch <-chan struct{}, timeout time.Duration) error {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-ch:
		return nil
	case <-timerC:
		t.Cancel(id)
		return ErrReceiptTimeout
	case <-ctx.Done():
		t.Cancel(id)
		return ctx.Err()
	}
}

func (t *ReceiptTracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.pending))
	for id := range t.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
