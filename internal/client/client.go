// Package client is the caller-facing connect/disconnect/listen surface over
// internal/stomp. A Manager holds at most one live connection to its
// endpoint and keeps listeners across reconnects.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/stompctl/internal/stomp"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrNotConnected     = errors.New("client: not connected")
	ErrForeignHandle    = errors.New("client: handle belongs to another connection")
)

// Config is everything a Manager needs to reach one broker.
type Config struct {
	Endpoint stomp.Endpoint
	Budget   stomp.RetryBudget
	Options  stomp.Options
}

// DefaultConfig targets ep with two attempts of two seconds each.
func DefaultConfig(ep stomp.Endpoint) Config {
	return Config{
		Endpoint: ep,
		Budget:   stomp.DefaultRetryBudget(),
		Options:  stomp.DefaultOptions(),
	}
}

// Handle is one established connection plus its read loop.
type Handle struct {
	manager *Manager
	conn    *stomp.Conn
	done    chan struct{}

	mu     sync.Mutex
	runErr error
}

func (h *Handle) Conn() *stomp.Conn {
	return h.conn
}

// Done is closed when the read loop exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the read loop result; nil while running or after a requested close.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runErr
}

func (h *Handle) run() {
	defer close(h.done)
	err := h.conn.Run(context.Background())
	h.mu.Lock()
	h.runErr = err
	h.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("endpoint", h.conn.Endpoint().Address()).Msg("client.Handle connection lost")
	}
}

// Status is a point-in-time view of a Manager.
type Status struct {
	Endpoint     string    `json:"endpoint"`
	State        string    `json:"state"`
	SessionID    string    `json:"session_id,omitempty"`
	Version      string    `json:"version,omitempty"`
	Server       string    `json:"server,omitempty"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
	AttemptsUsed int       `json:"attempts_used"`
	AttemptsMax  int       `json:"attempts_max"`
	Listeners    int       `json:"listeners"`
	LastError    string    `json:"last_error,omitempty"`
}

type Manager struct {
	cfg        Config
	supervisor *stomp.Supervisor
	dispatcher *stomp.Dispatcher

	connectMu sync.Mutex

	mu      sync.Mutex
	budget  stomp.RetryBudget
	handle  *Handle
	lastErr error
}

func NewManager(cfg Config) *Manager {
	if cfg.Options.Dispatcher == nil {
		cfg.Options.Dispatcher = stomp.NewDispatcher()
	}
	return &Manager{
		cfg:        cfg,
		supervisor: stomp.NewSupervisor(cfg.Options),
		dispatcher: cfg.Options.Dispatcher,
		budget:     cfg.Budget,
	}
}

func (m *Manager) Endpoint() stomp.Endpoint {
	return m.cfg.Endpoint
}

// RegisterListener adds o to the dispatcher shared by every connection this
// Manager opens. Listeners may be registered before Connect.
func (m *Manager) RegisterListener(o stomp.Observer) {
	m.dispatcher.Register(o)
}

func (m *Manager) UnregisterListener(o stomp.Observer) bool {
	return m.dispatcher.Unregister(o)
}

// Connect opens a connection under the retry budget and starts its read
// loop. It fails with ErrAlreadyConnected while a previous handle is live.
func (m *Manager) Connect(ctx context.Context) (*Handle, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.handle != nil && !m.handle.conn.State().Terminal() {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	m.handle = nil
	budget := m.budget
	m.mu.Unlock()

	conn, err := m.supervisor.ConnectWithRetry(ctx, m.cfg.Endpoint, &budget)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget = budget
	if err != nil {
		m.lastErr = err
		// A later Connect starts with the full allowance again.
		m.supervisor.ResetBudget(&m.budget)
		return nil, err
	}
	m.lastErr = nil
	h := &Handle{manager: m, conn: conn, done: make(chan struct{})}
	m.handle = h
	go h.run()
	log.Info().
		Str("endpoint", m.cfg.Endpoint.Address()).
		Str("session", conn.SessionID()).
		Str("version", conn.Version()).
		Msg("client.Manager connected")
	return h, nil
}

// Disconnect closes h and waits for its read loop. A nil h closes the
// current handle. ErrUngracefulClose from the broker is returned after the
// handle has been released. The closed handle stays visible to Status.
func (m *Manager) Disconnect(ctx context.Context, h *Handle) error {
	m.mu.Lock()
	if h == nil {
		if m.handle == nil || m.handle.conn.State().Terminal() {
			m.mu.Unlock()
			return ErrNotConnected
		}
		h = m.handle
	}
	if h.manager != m {
		m.mu.Unlock()
		return ErrForeignHandle
	}
	m.mu.Unlock()

	err := h.conn.Close(ctx)
	select {
	case <-h.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	log.Info().Err(err).Str("endpoint", m.cfg.Endpoint.Address()).Msg("client.Manager disconnected")
	return err
}

// Current returns the live handle, if any.
func (m *Manager) Current() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || m.handle.conn.State().Terminal() {
		return nil, false
	}
	return m.handle, true
}

func (m *Manager) Subscribe(destination string) (string, error) {
	h, ok := m.Current()
	if !ok {
		return "", ErrNotConnected
	}
	return h.conn.Subscribe(destination, nil)
}

// Send publishes body; with ctx it waits for the broker's receipt.
func (m *Manager) Send(ctx context.Context, destination, contentType string, body []byte, receipt bool) error {
	h, ok := m.Current()
	if !ok {
		return ErrNotConnected
	}
	if receipt {
		return h.conn.SendWithReceipt(ctx, destination, contentType, body, nil)
	}
	return h.conn.Send(destination, contentType, body, nil)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Endpoint:     m.cfg.Endpoint.Address(),
		State:        stomp.StateIdle.String(),
		AttemptsUsed: m.budget.AttemptsUsed,
		AttemptsMax:  m.budget.AttemptsMax,
		Listeners:    m.dispatcher.Len(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if m.handle == nil {
		return st
	}
	c := m.handle.conn
	st.State = c.State().String()
	st.SessionID = c.SessionID()
	st.Version = c.Version()
	st.Server = c.Server()
	st.ConnectedAt = c.ConnectedAt()
	if err := m.handle.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Connect builds a Manager for ep with default options and connects it.
func Connect(ctx context.Context, ep stomp.Endpoint, budget stomp.RetryBudget) (*Handle, error) {
	cfg := DefaultConfig(ep)
	cfg.Budget = budget
	return NewManager(cfg).Connect(ctx)
}

func Disconnect(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrNotConnected
	}
	return h.manager.Disconnect(ctx, h)
}

func RegisterListener(h *Handle, o stomp.Observer) {
	if h == nil {
		return
	}
	h.manager.RegisterListener(o)
}
