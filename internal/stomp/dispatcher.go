package stomp

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/danmuck/stompctl/internal/observability"
	"github.com/danmuck/stompctl/internal/protocol/frame"
)

// Observer receives broker traffic. Implementations are compared with ==
// on Unregister, so register pointers or other comparable values.
type Observer interface {
	OnMessage(headers frame.Headers, body []byte) error
	OnError(headers frame.Headers, message string) error
}

// ReceiptObserver is optionally implemented by observers that want RECEIPT
// frames.
type ReceiptObserver interface {
	OnReceipt(receiptID string) error
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	Message func(headers frame.Headers, body []byte) error
	Error   func(headers frame.Headers, message string) error
	Receipt func(receiptID string) error
}

func (o *ObserverFuncs) OnMessage(headers frame.Headers, body []byte) error {
	if o.Message == nil {
		return nil
	}
	return o.Message(headers, body)
}

func (o *ObserverFuncs) OnError(headers frame.Headers, message string) error {
	if o.Error == nil {
		return nil
	}
	return o.Error(headers, message)
}

func (o *ObserverFuncs) OnReceipt(receiptID string) error {
	if o.Receipt == nil {
		return nil
	}
	return o.Receipt(receiptID)
}

// ObserverFailure is one observer's error from a dispatch round.
type ObserverFailure struct {
	Index   int
	Command frame.Command
	Err     error
}

// DispatchError aggregates every observer failure from one Dispatch call.
type DispatchError struct {
	Failures []ObserverFailure
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("observer[%d] %s: %v", f.Index, f.Command, f.Err))
	}
	return fmt.Sprintf("stomp: %d observer(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *DispatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

var errObserverPanic = errors.New("stomp: observer panic")

// Dispatcher fans frames out to observers synchronously in registration
// order. It is safe for concurrent Register/Unregister while dispatching;
// each round sees the observer list as of its start.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Register(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Unregister removes the first registration of o. It reports whether o was
// registered. Observers whose type is not comparable cannot be removed and
// report false.
func (d *Dispatcher) Unregister(o Observer) bool {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.observers {
		if cur == o {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// Dispatch delivers f to every observer. MESSAGE goes to OnMessage, ERROR to
// OnError, RECEIPT to OnReceipt for observers that implement it; other
// commands are ignored. A failing observer never stops delivery to the rest.
func (d *Dispatcher) Dispatch(f frame.Frame) error {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	var failures []ObserverFailure
	for i, o := range observers {
		err := deliver(o, f)
		if err == nil {
			continue
		}
		observability.RecordObserverFailure(string(f.Command))
		failures = append(failures, ObserverFailure{Index: i, Command: f.Command, Err: err})
	}
	if len(failures) > 0 {
		return &DispatchError{Failures: failures}
	}
	return nil
}

func deliver(o Observer, f frame.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errObserverPanic, r)
		}
	}()
	switch f.Command {
	case frame.CmdMessage:
		return o.OnMessage(f.Headers, f.Body)
	case frame.CmdError:
		return o.OnError(f.Headers, errorMessage(f))
	case frame.CmdReceipt:
		if ro, ok := o.(ReceiptObserver); ok {
			return ro.OnReceipt(f.Headers.Get(frame.HdrReceiptID))
		}
	}
	return nil
}

// errorMessage prefers the ERROR body and falls back to the message header.
func errorMessage(f frame.Frame) string {
	if len(f.Body) > 0 {
		return string(f.Body)
	}
	return f.Headers.Get(frame.HdrMessage)
}
