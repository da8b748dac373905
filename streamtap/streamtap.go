// Package streamtap implements a long-lived downstream sequence whose
// values originate from an inner source channel that can be swapped at
// any time. It is the dynamic fan-out primitive the Supervisor uses to
// present one stable event/capabilities stream to callers while
// rebinding across backing server incarnations.
package streamtap

import (
	"context"
	"sync"

	"github.com/rockerboo/lsp-client-core/logger"
)

// OnValue is an optional callback invoked for each forwarded element,
// before it is pushed downstream. A non-nil error is logged and
// swallowed; the tap itself is infallible.
type OnValue[T any] func(ctx context.Context, value T) error

// StreamTap forwards values from a reassignable source channel onto a
// single stable outbound channel. Zero value is not usable; construct
// with New.
type StreamTap[T any] struct {
	out chan T

	mu         sync.Mutex
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	generation uint64
	closed     bool
}

// New creates a tap with the given outbound buffer size. bufSize of 0
// is a valid, unbuffered channel.
func New[T any](bufSize int) *StreamTap[T] {
	return &StreamTap[T]{
		out: make(chan T, bufSize),
	}
}

// Outbound returns the single-consumer outbound stream. It never
// closes until Close is called.
func (t *StreamTap[T]) Outbound() <-chan T {
	return t.out
}

// SetSource atomically cancels the previous forwarder and starts a new
// one reading from source. onValue, if non-nil, is awaited for each
// element before it is forwarded. Calling SetSource after Close is a
// no-op.
func (t *StreamTap[T]) SetSource(ctx context.Context, source <-chan T, onValue OnValue[T]) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	forwardCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.generation++
	gen := t.generation
	t.wg.Add(1)
	t.mu.Unlock()

	go t.forward(forwardCtx, gen, source, onValue)
}

// forward drains source onto the outbound channel until forwardCtx is
// cancelled (a rebind or Close) or source closes. A value already read
// from the prior source when SetSource races with a rebind may still
// be delivered — callers are only guaranteed the emitted order matches
// production order, not that no in-flight value is ever lost, per the
// tap's documented one-value-lag guarantee.
func (t *StreamTap[T]) forward(forwardCtx context.Context, gen uint64, source <-chan T, onValue OnValue[T]) {
	defer t.wg.Done()
	for {
		select {
		case <-forwardCtx.Done():
			return
		case v, ok := <-source:
			if !ok {
				return
			}
			if onValue != nil {
				if err := onValue(forwardCtx, v); err != nil {
					logger.Debug("streamtap: onValue callback failed", "error", err)
				}
			}

			t.mu.Lock()
			stale := t.closed || gen != t.generation
			t.mu.Unlock()
			if stale {
				return
			}

			select {
			case t.out <- v:
			case <-forwardCtx.Done():
				return
			}
		}
	}
}

// Close cancels the active forwarder and finishes the outbound stream.
// Further SetSource calls are ignored.
func (t *StreamTap[T]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.wg.Wait()
	close(t.out)
}
