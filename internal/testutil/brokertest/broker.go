// Package brokertest runs a scripted in-process STOMP broker for tests. The
// broker reads and writes with the go-stomp codec, so client frames are
// checked against an implementation other than internal/protocol/frame.
package brokertest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/stompctl/internal/protocol/frame"
	stompframe "github.com/go-stomp/stomp/v3/frame"
)

// Options scripts the broker's handshake and receipt behaviour.
type Options struct {
	// Silent accepts CONNECT but never answers it.
	Silent bool
	// RejectWith answers CONNECT with an ERROR frame carrying this message.
	RejectWith string
	// Version is the CONNECTED version header; "1.2" when empty. Set
	// OmitVersion to leave the header out entirely (a 1.0 broker).
	Version     string
	OmitVersion bool
	// HeartBeat is the CONNECTED heart-beat header; "0,0" when empty.
	HeartBeat string
	// DropReceipts never answers receipt headers.
	DropReceipts bool
	TLS          *tls.Config
}

type Broker struct {
	t        testing.TB
	ln       net.Listener
	opts     Options
	accepted chan *Session
	connects atomic.Int32
	nextID   atomic.Int64

	mu       sync.Mutex
	sessions []*Session
	wg       sync.WaitGroup
	once     sync.Once
}

// Start listens on 127.0.0.1:0 and stops the broker on test cleanup.
func Start(t testing.TB, opts Options) *Broker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("brokertest listen: %v", err)
	}
	if opts.TLS != nil {
		ln = tls.NewListener(ln, opts.TLS)
	}
	b := &Broker{
		t:        t,
		ln:       ln,
		opts:     opts,
		accepted: make(chan *Session, 16),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	t.Cleanup(b.Close)
	return b
}

func (b *Broker) Addr() string {
	return b.ln.Addr().String()
}

func (b *Broker) HostPort() (string, int) {
	return splitAddr(b.t, b.Addr())
}

// Connects counts CONNECT frames received, answered or not.
func (b *Broker) Connects() int {
	return int(b.connects.Load())
}

// Next waits for the next session that completed its handshake.
func (b *Broker) Next(timeout time.Duration) (*Session, error) {
	select {
	case s := <-b.accepted:
		return s, nil
	case <-time.After(timeout):
		return nil, errors.New("brokertest: no session connected")
	}
}

func (b *Broker) Close() {
	b.once.Do(func() {
		_ = b.ln.Close()
		b.mu.Lock()
		sessions := append([]*Session(nil), b.sessions...)
		b.mu.Unlock()
		for _, s := range sessions {
			s.Close()
		}
		b.wg.Wait()
	})
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		s := &Session{
			broker: b,
			conn:   conn,
			writer: stompframe.NewWriter(conn),
			frames: make(chan frame.Frame, 256),
			done:   make(chan struct{}),
		}
		b.mu.Lock()
		b.sessions = append(b.sessions, s)
		b.mu.Unlock()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			s.serve()
		}()
	}
}

// Session is the broker side of one client connection.
type Session struct {
	broker  *Broker
	conn    net.Conn
	writer  *stompframe.Writer
	writeMu sync.Mutex
	// Connect is the client's CONNECT frame; valid once the session is
	// returned from Next.
	Connect frame.Frame
	frames  chan frame.Frame
	done    chan struct{}
	closeMu sync.Once
}

func (s *Session) serve() {
	defer close(s.done)
	defer s.Close()

	r := stompframe.NewReader(s.conn)
	next := func() (frame.Frame, error) {
		for {
			f, err := r.Read()
			if err != nil {
				return frame.Frame{}, err
			}
			// nil is a heart-beat.
			if f != nil {
				return fromWire(f), nil
			}
		}
	}
	connect, err := next()
	if err != nil {
		return
	}
	s.broker.connects.Add(1)
	s.Connect = connect
	opts := s.broker.opts

	switch {
	case opts.Silent:
		for {
			if _, err := next(); err != nil {
				return
			}
		}
	case opts.RejectWith != "":
		f := frame.New(frame.CmdError,
			frame.HdrMessage, opts.RejectWith,
			frame.HdrContentLength, strconv.Itoa(len(opts.RejectWith)),
		)
		f.Body = []byte(opts.RejectWith)
		_ = s.Send(f)
		return
	}

	connected := frame.New(frame.CmdConnected,
		frame.HdrSession, fmt.Sprintf("brokertest-%d", s.broker.nextID.Add(1)),
		frame.HdrServer, "brokertest/1.0",
		frame.HdrHeartBeat, valueOr(opts.HeartBeat, "0,0"),
	)
	if !opts.OmitVersion {
		connected.Headers.Add(frame.HdrVersion, valueOr(opts.Version, "1.2"))
	}
	if err := s.Send(connected); err != nil {
		return
	}
	s.broker.accepted <- s

	for {
		f, err := next()
		if err != nil {
			return
		}
		if id, ok := f.Headers.Lookup(frame.HdrReceipt); ok && !opts.DropReceipts {
			if err := s.Send(frame.New(frame.CmdReceipt, frame.HdrReceiptID, id)); err != nil {
				return
			}
		}
		select {
		case s.frames <- f:
		default:
		}
		if f.Command == frame.CmdDisconnect {
			return
		}
	}
}

// Send writes f through the go-stomp writer. Headers are not validated.
func (s *Session) Send(f frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return s.writer.Write(toWire(f))
}

// SendRaw writes bytes as-is, for malformed input and bare heart-beats.
func (s *Session) SendRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := s.conn.Write(b)
	return err
}

// SendMessage delivers a MESSAGE with a fresh message-id.
func (s *Session) SendMessage(destination, subscription, body string) error {
	f := frame.New(frame.CmdMessage,
		frame.HdrDestination, destination,
		frame.HdrMessageID, "m-"+strconv.FormatInt(s.broker.nextID.Add(1), 10),
		frame.HdrSubscription, subscription,
		frame.HdrContentLength, strconv.Itoa(len(body)),
	)
	f.Body = []byte(body)
	return s.Send(f)
}

// Expect returns the next client frame after CONNECT.
func (s *Session) Expect(timeout time.Duration) (frame.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-time.After(timeout):
		return frame.Frame{}, errors.New("brokertest: no frame received")
	}
}

// Close drops the connection without a RECEIPT or ERROR.
func (s *Session) Close() {
	s.closeMu.Do(func() {
		_ = s.conn.Close()
	})
}

// Done is closed when the session's read loop ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// UnusedAddr returns a loopback address nothing is listening on.
func UnusedAddr(t testing.TB) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("brokertest listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("brokertest close: %v", err)
	}
	return splitAddr(t, addr)
}

func splitAddr(t testing.TB, addr string) (string, int) {
	t.Helper()
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("brokertest split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		t.Fatalf("brokertest port %q: %v", portRaw, err)
	}
	return host, port
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func fromWire(f *stompframe.Frame) frame.Frame {
	out := frame.Frame{Command: frame.Command(f.Command), Body: f.Body}
	if f.Header != nil {
		for i := 0; i < f.Header.Len(); i++ {
			k, v := f.Header.GetAt(i)
			out.Headers.Add(k, v)
		}
	}
	return out
}

func toWire(f frame.Frame) *stompframe.Frame {
	out := stompframe.New(string(f.Command))
	for _, kv := range f.Headers {
		out.Header.Add(kv.Key, kv.Value)
	}
	out.Body = f.Body
	return out
}
