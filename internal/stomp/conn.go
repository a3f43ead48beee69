package stomp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/stompctl/internal/observability"
	"github.com/danmuck/stompctl/internal/protocol/frame"
	"github.com/danmuck/stompctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const acceptVersions = "1.0,1.1,1.2"

// Owners of the decoder once CONNECTED. Exactly one of Run or Close reads
// frames after the handshake.
const (
	readerNone int32 = iota
	readerRun
	readerClose
)

var heartbeatEOL = []byte{'\n'}

// DialFunc opens the raw transport. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures one Conn.
type Options struct {
	Session session.Config
	// VHost is sent as the CONNECT host header; defaults to the endpoint host.
	VHost      string
	Login      string
	Passcode   string
	Dispatcher *Dispatcher
	Limits     frame.Limits
	Dial       DialFunc
}

func DefaultOptions() Options {
	return Options{
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

func (o Options) withDefaults() Options {
	o.Session = o.Session.WithDefaults()
	if o.Dispatcher == nil {
		o.Dispatcher = NewDispatcher()
	}
	if o.Dial == nil {
		o.Dial = (&net.Dialer{}).DialContext
	}
	return o
}

// Conn owns one transport to a broker. Open, Close and the Send family may
// be called from any goroutine; Run must be called once, on its own
// goroutine, after a successful Open.
type Conn struct {
	endpoint   Endpoint
	opts       Options
	dispatcher *Dispatcher
	receipts   *session.ReceiptTracker

	transport net.Conn
	decoder   *frame.Decoder
	readIdle  time.Duration
	// drainBy caps reads while Close owns the decoder.
	drainBy time.Time

	version      string
	sessionID    string
	server       string
	sendInterval time.Duration
	recvInterval time.Duration
	connectedAt  time.Time

	state         atomic.Int32
	reason        atomic.Int32
	reader        atomic.Int32
	stopRequested atomic.Bool

	writeMu     sync.Mutex
	closeMu     sync.Mutex
	releaseOnce sync.Once
	stopBeat    chan struct{}
	runDone     chan struct{}
}

// NewConn returns an Idle connection for ep.
func NewConn(ep Endpoint, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		endpoint:   ep,
		opts:       opts,
		dispatcher: opts.Dispatcher,
		receipts:   session.NewReceiptTracker(),
		stopBeat:   make(chan struct{}),
		runDone:    make(chan struct{}),
	}
	c.state.Store(int32(StateIdle))
	return c
}

// Open is NewConn followed by Conn.Open. It returns nil on failure.
func Open(ctx context.Context, ep Endpoint, timeout time.Duration, opts Options) (*Conn, error) {
	c := NewConn(ep, opts)
	if err := c.Open(ctx, timeout); err != nil {
		return nil, err
	}
	return c, nil
}

// Open dials the broker, sends CONNECT and waits for CONNECTED. A
// non-positive timeout uses the session ConnectTimeout. Cancelling ctx
// unblocks the wait promptly and leaves the Conn Failed.
func (c *Conn) Open(ctx context.Context, timeout time.Duration) error {
	if err := c.endpoint.Validate(); err != nil {
		return err
	}
	if err := c.opts.Session.ValidateClientTransport(); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrConnUsed
	}
	c.publishState(StateConnecting)
	if timeout <= 0 {
		timeout = c.opts.Session.ConnectTimeout
	}

	start := time.Now()
	err := c.handshake(ctx, timeout)
	outcome := "connected"
	if err != nil {
		var ce *ConnectError
		if errors.As(err, &ce) {
			outcome = ce.Kind.String()
		} else {
			outcome = "error"
		}
		c.release()
		c.setState(StateFailed)
	} else {
		c.connectedAt = time.Now()
		c.setState(StateConnected)
	}
	observability.RecordConnectAttempt(c.endpoint.Address(), outcome, time.Since(start))
	if err != nil {
		log.Debug().Err(err).Str("endpoint", c.endpoint.Address()).Msg("stomp.Conn open failed")
		return err
	}
	log.Debug().
		Str("endpoint", c.endpoint.Address()).
		Str("version", c.version).
		Str("session", c.sessionID).
		Dur("heartbeat_send", c.sendInterval).
		Dur("heartbeat_recv", c.recvInterval).
		Msg("stomp.Conn connected")
	return nil
}

func (c *Conn) handshake(ctx context.Context, timeout time.Duration) error {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := c.dial(hctx)
	if err != nil {
		return c.connectError(ctx, hctx, err)
	}
	c.transport = transport
	c.decoder = frame.NewDecoder(&idleReader{c: c}, c.opts.Limits)

	// Expire any in-flight read or write the moment the handshake context ends.
	stop := context.AfterFunc(hctx, func() {
		_ = transport.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.writeFrame(c.connectFrame()); err != nil {
		return c.connectError(ctx, hctx, err)
	}
	f, err := c.decoder.Next()
	if err != nil {
		return c.connectError(ctx, hctx, err)
	}
	if !stop() {
		return c.connectError(ctx, hctx, hctx.Err())
	}
	_ = transport.SetDeadline(time.Time{})

	switch f.Command {
	case frame.CmdConnected:
	case frame.CmdError:
		return &ConnectError{Kind: ConnectRejected, Endpoint: c.endpoint, Err: errors.New(errorMessage(f))}
	default:
		return &ConnectError{
			Kind:     ConnectRejected,
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("unexpected %s frame during handshake", f.Command),
		}
	}

	version := strings.TrimSpace(f.Headers.Get(frame.HdrVersion))
	if version == "" {
		version = "1.0"
	}
	if !supportedVersion(version) {
		return &ConnectError{Kind: ConnectRejected, Endpoint: c.endpoint, Err: fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)}
	}
	c.version = version
	c.sessionID = f.Headers.Get(frame.HdrSession)
	c.server = f.Headers.Get(frame.HdrServer)

	if version != "1.0" {
		send, recv, err := session.NegotiateHeartBeat(c.opts.Session, f.Headers.Get(frame.HdrHeartBeat))
		if err != nil {
			return &ConnectError{Kind: ConnectRejected, Endpoint: c.endpoint, Err: err}
		}
		c.sendInterval, c.recvInterval = send, recv
		c.readIdle = c.opts.Session.ReadIdleTimeout(recv)
	}
	if c.sendInterval > 0 {
		go c.heartbeatLoop(c.sendInterval)
	}
	return nil
}

func (c *Conn) dial(ctx context.Context) (net.Conn, error) {
	addr := c.endpoint.Address()
	raw, err := c.opts.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := c.opts.Session.ClientTLSConfig(addr)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	if tlsCfg == nil {
		return raw, nil
	}
	conn := tls.Client(raw, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Conn) connectFrame() frame.Frame {
	vhost := strings.TrimSpace(c.opts.VHost)
	if vhost == "" {
		vhost = c.endpoint.Host
	}
	f := frame.New(frame.CmdConnect,
		frame.HdrAcceptVersion, acceptVersions,
		frame.HdrHost, vhost,
		frame.HdrHeartBeat, session.FormatHeartBeat(c.opts.Session.HeartbeatSend, c.opts.Session.HeartbeatReceive),
	)
	if c.opts.Login != "" {
		f.Headers.Add(frame.HdrLogin, c.opts.Login)
		f.Headers.Add(frame.HdrPasscode, c.opts.Passcode)
	}
	return f
}

// connectError maps a handshake failure onto a ConnectError kind. parent is
// the caller's context, hctx the per-attempt one derived from it.
func (c *Conn) connectError(parent, hctx context.Context, err error) error {
	kind := ConnectRefused
	switch {
	case parent.Err() != nil:
		kind = ConnectCancelled
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			kind = ConnectTimeout
		}
		err = parent.Err()
	case hctx.Err() != nil:
		kind = ConnectTimeout
	case isTimeout(err):
		kind = ConnectTimeout
	}
	return &ConnectError{Kind: kind, Endpoint: c.endpoint, Err: err}
}

// Run reads frames until the stream ends, dispatching each in arrival order.
// It returns nil when the stream ended because of Close or ctx cancellation,
// and a *DisconnectError otherwise, leaving the Conn Failed. Run may start
// while Close is in flight; if Close already took over reading, Run returns
// nil at once.
func (c *Conn) Run(ctx context.Context) error {
	if c.reader.Load() == readerClose {
		return nil
	}
	if st := c.State(); st != StateConnected && st != StateDisconnecting {
		return ErrNotConnected
	}
	if !c.reader.CompareAndSwap(readerNone, readerRun) {
		if c.reader.Load() == readerClose {
			return nil
		}
		return ErrAlreadyRunning
	}
	defer close(c.runDone)

	stop := context.AfterFunc(ctx, func() {
		c.stopRequested.Store(true)
		c.release()
	})
	defer stop()

	for {
		f, err := c.decoder.Next()
		if err != nil {
			return c.finishRun(err)
		}
		c.handleFrame(f)
	}
}

func (c *Conn) handleFrame(f frame.Frame) {
	addr := c.endpoint.Address()
	observability.RecordFrameReceived(addr, string(f.Command))
	if f.Command == frame.CmdReceipt {
		c.receipts.Complete(f.Headers.Get(frame.HdrReceiptID))
	}
	if err := c.dispatcher.Dispatch(f); err != nil {
		log.Warn().Err(err).Str("endpoint", addr).Str("command", string(f.Command)).Msg("stomp.Conn dispatch")
	}
}

func (c *Conn) finishRun(err error) error {
	st := c.State()
	if c.stopRequested.Load() || st == StateDisconnecting || st == StateClosed {
		c.reason.Store(int32(ReasonRequested))
		c.release()
		if c.state.CompareAndSwap(int32(StateConnected), int32(StateClosed)) {
			c.publishState(StateClosed)
		}
		return nil
	}

	reason := ReasonTransportError
	if errors.Is(err, io.EOF) {
		reason = ReasonPeerClosed
	}
	c.reason.Store(int32(reason))
	c.release()
	c.setState(StateFailed)
	log.Warn().Err(err).Str("endpoint", c.endpoint.Address()).Str("reason", reason.String()).Msg("stomp.Conn read loop ended")
	return &DisconnectError{Reason: reason, Err: err}
}

// Close sends DISCONNECT with a receipt and waits up to the session
// DisconnectGrace (or ctx) for the broker's RECEIPT before releasing the
// transport. Without a matching RECEIPT it still releases and returns
// ErrUngracefulClose. Closing a Closed or Failed Conn is a no-op. When Run
// is not reading, Close reads the RECEIPT itself and Run can no longer start.
func (c *Conn) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	switch c.State() {
	case StateIdle:
		c.setState(StateClosed)
		return nil
	case StateConnecting:
		return ErrNotConnected
	case StateClosed, StateFailed:
		c.release()
		return nil
	}
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.release()
		return nil
	}
	c.publishState(StateDisconnecting)

	closeErr := c.disconnect(ctx)
	c.release()
	c.setState(StateClosed)
	if closeErr != nil {
		log.Debug().Err(closeErr).Str("endpoint", c.endpoint.Address()).Msg("stomp.Conn close")
	}
	return closeErr
}

func (c *Conn) disconnect(ctx context.Context) error {
	id := "disconnect-" + uuid.NewString()
	ch, err := c.receipts.Add(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUngracefulClose, err)
	}
	if err := c.writeFrame(frame.New(frame.CmdDisconnect, frame.HdrReceipt, id)); err != nil {
		c.receipts.Cancel(id)
		return fmt.Errorf("%w: %v", ErrUngracefulClose, err)
	}
	if c.reader.CompareAndSwap(readerNone, readerClose) {
		defer close(c.runDone)
		c.reason.Store(int32(ReasonRequested))
		if err := c.drainUntil(ctx, ch); err != nil {
			c.receipts.Cancel(id)
			return fmt.Errorf("%w: %v", ErrUngracefulClose, err)
		}
		return nil
	}
	if err := c.receipts.Await(ctx, id, ch, c.opts.Session.DisconnectGrace); err != nil {
		return fmt.Errorf("%w: %v", ErrUngracefulClose, err)
	}
	return nil
}

// drainUntil reads and dispatches frames until done is closed, the
// disconnect grace runs out, or ctx ends. Only Close calls it, after taking
// the decoder.
func (c *Conn) drainUntil(ctx context.Context, done <-chan struct{}) error {
	c.drainBy = time.Now().Add(c.opts.Session.DisconnectGrace)
	stop := context.AfterFunc(ctx, c.release)
	defer stop()
	for {
		f, err := c.decoder.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				return session.ErrReceiptTimeout
			}
			return err
		}
		c.handleFrame(f)
		select {
		case <-done:
			return nil
		default:
		}
	}
}

// Send publishes body to destination. extra headers override the defaults.
func (c *Conn) Send(destination, contentType string, body []byte, extra frame.Headers) error {
	return c.writeConnected(sendFrame(destination, contentType, body, extra))
}

// SendWithReceipt is Send plus a receipt header; it blocks until the broker
// acknowledges the frame or ctx is done.
func (c *Conn) SendWithReceipt(ctx context.Context, destination, contentType string, body []byte, extra frame.Headers) error {
	f := sendFrame(destination, contentType, body, extra)
	id := "send-" + uuid.NewString()
	f.Headers.Set(frame.HdrReceipt, id)
	ch, err := c.receipts.Add(id)
	if err != nil {
		return err
	}
	if err := c.writeConnected(f); err != nil {
		c.receipts.Cancel(id)
		return err
	}
	return c.receipts.Await(ctx, id, ch, 0)
}

func sendFrame(destination, contentType string, body []byte, extra frame.Headers) frame.Frame {
	f := frame.New(frame.CmdSend, frame.HdrDestination, destination)
	if contentType != "" {
		f.Headers.Add(frame.HdrContentType, contentType)
	}
	f.Headers.Add(frame.HdrContentLength, fmt.Sprint(len(body)))
	for _, kv := range extra {
		f.Headers.Set(kv.Key, kv.Value)
	}
	f.Body = body
	return f
}

// Subscribe registers interest in destination with auto ack. The returned id
// is the subscription header carried by matching MESSAGE frames.
func (c *Conn) Subscribe(destination string, extra frame.Headers) (string, error) {
	id := strings.TrimSpace(extra.Get(frame.HdrID))
	if id == "" {
		id = "sub-" + uuid.NewString()
	}
	f := frame.New(frame.CmdSubscribe,
		frame.HdrID, id,
		frame.HdrDestination, destination,
		frame.HdrAck, "auto",
	)
	for _, kv := range extra {
		f.Headers.Set(kv.Key, kv.Value)
	}
	if err := c.writeConnected(f); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Conn) Unsubscribe(id string) error {
	return c.writeConnected(frame.New(frame.CmdUnsubscribe, frame.HdrID, id))
}

func (c *Conn) writeConnected(f frame.Frame) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	return c.writeFrame(f)
}

func (c *Conn) writeFrame(f frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.transport == nil {
		return ErrNotConnected
	}
	_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.Session.WriteTimeout))
	if err := frame.WriteFrame(c.transport, f, c.opts.Limits); err != nil {
		return err
	}
	observability.RecordFrameSent(c.endpoint.Address(), string(f.Command))
	return nil
}

func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopBeat:
			return
		case <-ticker.C:
		}
		c.writeMu.Lock()
		_ = c.transport.SetWriteDeadline(time.Now().Add(c.opts.Session.WriteTimeout))
		_, err := c.transport.Write(heartbeatEOL)
		c.writeMu.Unlock()
		if err != nil {
			log.Debug().Err(err).Str("endpoint", c.endpoint.Address()).Msg("stomp.Conn heartbeat write")
			return
		}
	}
}

func (c *Conn) release() {
	c.releaseOnce.Do(func() {
		close(c.stopBeat)
		if c.transport != nil {
			_ = c.transport.Close()
		}
	})
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.publishState(s)
}

func (c *Conn) publishState(s State) {
	observability.SetConnectionState(c.endpoint.Address(), s.String(), stateNames)
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Conn) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Version is the negotiated protocol version; empty before CONNECTED.
func (c *Conn) Version() string {
	return c.version
}

func (c *Conn) SessionID() string {
	return c.sessionID
}

func (c *Conn) Server() string {
	return c.server
}

func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// HeartBeat returns the negotiated outgoing and incoming intervals.
func (c *Conn) HeartBeat() (send time.Duration, receive time.Duration) {
	return c.sendInterval, c.recvInterval
}

// Reason is why the read loop ended; ReasonNone while it is running.
func (c *Conn) Reason() DisconnectReason {
	return DisconnectReason(c.reason.Load())
}

// Done is closed once reading has stopped, when Run returns or when Close
// finished reading in its place.
func (c *Conn) Done() <-chan struct{} {
	return c.runDone
}

// idleReader refreshes the read deadline before every read so heart-beats
// and frames both count as liveness.
type idleReader struct {
	c *Conn
}

func (r *idleReader) Read(p []byte) (int, error) {
	var deadline time.Time
	if r.c.readIdle > 0 {
		deadline = time.Now().Add(r.c.readIdle)
	}
	if by := r.c.drainBy; !by.IsZero() && (deadline.IsZero() || by.Before(deadline)) {
		deadline = by
	}
	if !deadline.IsZero() {
		_ = r.c.transport.SetReadDeadline(deadline)
	}
	return r.c.transport.Read(p)
}

func supportedVersion(v string) bool {
	switch v {
	case "1.0", "1.1", "1.2":
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
