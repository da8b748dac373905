// Package conntest provides an in-memory conn.ServerConnection for
// exercising the core package's state machines without a real
// subprocess or socket. It mirrors the request/pending-map shape of
// the teacher's SessionClient, but the "wire" is just Go channels.
package conntest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rockerboo/lsp-client-core/conn"
)

// Responder produces the reply for one outbound request. Returning a
// non-nil error simulates a transport/dispatch failure.
type Responder func(params any) (result any, err error)

// Fake is a scriptable conn.ServerConnection. Responders are
// registered per method; SendRequest without a registered responder
// for that method returns an error, matching an unreachable peer.
type Fake struct {
	mu         sync.Mutex
	responders map[string]Responder
	requests   []Sent
	events     chan conn.ServerEvent
	closed     bool
}

// Sent records one outbound call, request or notification, in the
// order the core issued it. Tests assert against this log to verify
// message ordering (e.g. initialize, initialized, didOpen, hover).
type Sent struct {
	Method       string
	Params       any
	IsNotification bool
}

// NewFake returns a ready Fake with no responders registered and an
// open event channel of the given buffer.
func NewFake(eventBuffer int) *Fake {
	return &Fake{
		responders: make(map[string]Responder),
		events:     make(chan conn.ServerEvent, eventBuffer),
	}
}

// OnRequest registers the responder invoked when method is sent via
// SendRequest.
func (f *Fake) OnRequest(method string, r Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responders[method] = r
}

// Calls returns a copy of the log of everything sent so far.
func (f *Fake) Calls() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.requests))
	copy(out, f.requests)
	return out
}

// Emit pushes a server-initiated notification or request onto the
// event stream as the core would observe it. replyFn may be nil for
// a notification.
func (f *Fake) Emit(method string, params any, isRequest bool, replyFn func(ctx context.Context, result any, err error)) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	f.events <- conn.ServerEvent{
		Method:    method,
		Params:    raw,
		IsRequest: isRequest,
		Reply:     replyFn,
	}
	return nil
}

// SendRequest implements conn.ServerConnection.
func (f *Fake) SendRequest(ctx context.Context, method string, params any, result any) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("conntest: connection closed")
	}
	f.requests = append(f.requests, Sent{Method: method, Params: params})
	responder, ok := f.responders[method]
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("conntest: no responder registered for %q", method)
	}

	reply, err := responder(params)
	if err != nil {
		return err
	}
	if result == nil || reply == nil {
		return nil
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

// SendNotification implements conn.ServerConnection.
func (f *Fake) SendNotification(ctx context.Context, method string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("conntest: connection closed")
	}
	f.requests = append(f.requests, Sent{Method: method, Params: params, IsNotification: true})
	return nil
}

// Events implements conn.ServerConnection.
func (f *Fake) Events() <-chan conn.ServerEvent {
	return f.events
}

// Close implements conn.ServerConnection.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}
