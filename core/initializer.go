package core

import (
	"context"
	"sync"

	"github.com/myleshyson/lsprotocol-go/protocol"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/logger"
	"github.com/rockerboo/lsp-client-core/lsperrors"
)

// InitializeParamsProvider supplies the parameters for the "initialize"
// request. It may fail (e.g. resolving a workspace root); failure
// aborts the handshake attempt and leaves the Initializer uninitialized.
type InitializeParamsProvider func(ctx context.Context) (protocol.InitializeParams, error)

const (
	capabilitiesStreamBuffer = 8
	eventsStreamBuffer       = 64
)

// Initializer guarantees the LSP handshake happens exactly once per
// incarnation of a ServerConnection, and tracks the capabilities
// snapshot as it evolves via client/registerCapability and
// client/unregisterCapability requests. It is the LazyInitializer of
// the specification.
type Initializer struct {
	connection     conn.ServerConnection
	paramsProvider InitializeParamsProvider

	// permit is a size-1 buffered channel acting as a cancelable
	// mutual-exclusion gate around the handshake and the shutdown
	// sequence, so concurrent first-use callers coalesce onto a
	// single attempt (spec §5 Mutual exclusion). A plain sync.Mutex
	// cannot be used here because acquisition itself must respect
	// ctx cancellation.
	permit chan struct{}

	mu    sync.Mutex
	state InitializerState
	caps  ServerCapabilities
	info  *protocol.ServerInfo

	capsCh   chan ServerCapabilities
	eventsCh chan conn.ServerEvent

	pumpCancel context.CancelFunc
}

// New creates an Initializer wrapping connection. The background
// pump that watches connection.Events() for register/unregister
// requests (and forwards every event to EventStream) starts
// immediately; the handshake itself does not happen until the first
// call that needs it.
func New(connection conn.ServerConnection, paramsProvider InitializeParamsProvider) *Initializer {
	permit := make(chan struct{}, 1)
	permit <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())

	i := &Initializer{
		connection:     connection,
		paramsProvider: paramsProvider,
		permit:         permit,
		state:          StateUninitialized,
		capsCh:         make(chan ServerCapabilities, capabilitiesStreamBuffer),
		eventsCh:       make(chan conn.ServerEvent, eventsStreamBuffer),
		pumpCancel:     cancel,
	}

	go i.pump(ctx)

	return i
}

// State reports the current lifecycle state.
func (i *Initializer) State() InitializerState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Capabilities returns the current snapshot without forcing
// initialization. ok is false if uninitialized or shut down.
func (i *Initializer) Capabilities() (ServerCapabilities, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateInitialized {
		return ServerCapabilities{}, false
	}
	return i.caps, true
}

// ServerInfo returns the server-reported info, analogous to
// Capabilities.
func (i *Initializer) ServerInfo() (*protocol.ServerInfo, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateInitialized {
		return nil, false
	}
	return i.info, true
}

// CapabilitiesStream yields each capabilities snapshot: once on a
// successful initialize, and again on every change applied from
// register/unregisterCapability.
func (i *Initializer) CapabilitiesStream() <-chan ServerCapabilities {
	return i.capsCh
}

// EventStream passes through every inbound server-initiated
// notification and request, including the register/unregisterCapability
// requests the Initializer itself observes.
func (i *Initializer) EventStream() <-chan conn.ServerEvent {
	return i.eventsCh
}

func (i *Initializer) acquire(ctx context.Context) error {
	select {
	case <-i.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Initializer) release() {
	select {
	case i.permit <- struct{}{}:
	default:
	}
}

// InitializeIfNeeded performs the handshake, or returns the cached
// capabilities if already initialized. Concurrent callers coalesce
// onto a single handshake attempt. After a shutdown it fails with
// lsperrors.ErrServerStopped instead of handshaking again.
func (i *Initializer) InitializeIfNeeded(ctx context.Context) (ServerCapabilities, error) {
	if err := i.acquire(ctx); err != nil {
		return ServerCapabilities{}, err
	}
	defer i.release()

	i.mu.Lock()
	if i.state == StateInitialized {
		caps := i.caps
		i.mu.Unlock()
		return caps, nil
	}
	if i.state == StateShutdown {
		i.mu.Unlock()
		return ServerCapabilities{}, lsperrors.ErrServerStopped
	}
	i.state = StateInitializing
	i.mu.Unlock()

	params, err := i.paramsProvider(ctx)
	if err != nil {
		i.revertToUninitialized()
		return ServerCapabilities{}, err
	}

	var result conn.InitializeResult
	if err := i.connection.SendRequest(ctx, conn.MethodInitialize, params, &result); err != nil {
		i.revertToUninitialized()
		return ServerCapabilities{}, &lsperrors.RequestDispatchError{Method: conn.MethodInitialize, Cause: err}
	}

	if err := i.connection.SendNotification(ctx, conn.MethodInitialized, protocol.InitializedParams{}); err != nil {
		i.revertToUninitialized()
		return ServerCapabilities{}, &lsperrors.NotificationDispatchError{Method: conn.MethodInitialized, Cause: err}
	}

	caps := ServerCapabilities{ServerCapabilities: result.Capabilities}

	i.mu.Lock()
	i.state = StateInitialized
	i.caps = caps
	i.info = result.ServerInfo
	i.mu.Unlock()

	i.publishCaps(caps)

	return caps, nil
}

func (i *Initializer) revertToUninitialized() {
	i.mu.Lock()
	i.state = StateUninitialized
	i.caps = ServerCapabilities{}
	i.info = nil
	i.mu.Unlock()
}

// SendNotification forwards n, forcing initialization first unless n
// is "exit" while uninitialized/shut down, in which case it is
// silently dropped. Sending "initialized" this way is a programmer
// error: that notification is only ever emitted by InitializeIfNeeded.
func (i *Initializer) SendNotification(ctx context.Context, method string, params any) error {
	if method == conn.MethodInitialized {
		panic(`lsp-client-core: SendNotification("initialized") is a programmer error; the handshake owns it`)
	}

	if method == conn.MethodExit {
		i.mu.Lock()
		state := i.state
		i.mu.Unlock()
		if state == StateShutdown || state == StateUninitialized {
			return nil
		}
	}

	if _, err := i.InitializeIfNeeded(ctx); err != nil {
		return err
	}

	if err := i.connection.SendNotification(ctx, method, params); err != nil {
		return &lsperrors.NotificationDispatchError{Method: method, Cause: err}
	}
	return nil
}

// SendRequest forwards r, forcing initialization first. "initialize"
// must go through InitializeIfNeeded and is a programmer error here. A
// "shutdown" request while uninitialized/shut down returns a
// synthesized null response without starting the server; otherwise, a
// successful shutdown reply transitions the Initializer to
// StateShutdown.
func (i *Initializer) SendRequest(ctx context.Context, method string, params any, result any) error {
	if method == conn.MethodInitialize {
		panic(`lsp-client-core: SendRequest("initialize") is a programmer error; call InitializeIfNeeded`)
	}

	if method == conn.MethodShutdown {
		i.mu.Lock()
		state := i.state
		i.mu.Unlock()
		if state == StateUninitialized || state == StateShutdown {
			return decodeNullResponse(result)
		}
	}

	if _, err := i.InitializeIfNeeded(ctx); err != nil {
		return err
	}

	if err := i.connection.SendRequest(ctx, method, params, result); err != nil {
		return &lsperrors.RequestDispatchError{Method: method, Cause: err}
	}

	if method == conn.MethodShutdown {
		i.mu.Lock()
		i.state = StateShutdown
		i.mu.Unlock()
	}

	return nil
}

// ShutdownAndExit is a no-op if not initialized. Otherwise it sends
// shutdown, transitions to StateShutdown, sends exit, and invalidates
// the connection — all under the same permit, so nothing can
// interleave with the sequence.
func (i *Initializer) ShutdownAndExit(ctx context.Context) error {
	if err := i.acquire(ctx); err != nil {
		return err
	}
	defer i.release()

	i.mu.Lock()
	state := i.state
	i.mu.Unlock()
	if state != StateInitialized {
		return nil
	}

	var result protocol.ShutdownResponse
	if err := i.connection.SendRequest(ctx, conn.MethodShutdown, nil, &result); err != nil {
		return &lsperrors.RequestDispatchError{Method: conn.MethodShutdown, Cause: err}
	}

	i.mu.Lock()
	i.state = StateShutdown
	i.mu.Unlock()

	if err := i.connection.SendNotification(ctx, conn.MethodExit, nil); err != nil {
		return &lsperrors.NotificationDispatchError{Method: conn.MethodExit, Cause: err}
	}

	i.InvalidateConnection()

	return nil
}

// InvalidateConnection forces the state back to StateUninitialized
// without sending anything. Called externally when the transport
// reports the peer is gone.
func (i *Initializer) InvalidateConnection() {
	i.mu.Lock()
	i.state = StateUninitialized
	i.caps = ServerCapabilities{}
	i.info = nil
	i.mu.Unlock()
}

// Close stops the background event pump. EventStream and
// CapabilitiesStream are not closed; they simply receive nothing
// further from the pump. It does not talk to the connection; callers that
// want a graceful shutdown should call ShutdownAndExit first.
func (i *Initializer) Close() {
	i.pumpCancel()
}

func (i *Initializer) publishCaps(caps ServerCapabilities) {
	select {
	case i.capsCh <- caps:
	default:
		logger.Debug("initializer: capabilities stream buffer full, dropping snapshot")
	}
}

// pump reads inbound ServerEvents, applies register/unregisterCapability
// to the capabilities snapshot, and forwards every event unchanged to
// EventStream. Capability-apply failures are logged and swallowed
// (spec §4.2); the event is still forwarded so the caller's own
// handler can reply to it.
func (i *Initializer) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-i.connection.Events():
			if !ok {
				return
			}

			i.observeCapabilityChange(ev)

			select {
			case i.eventsCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (i *Initializer) observeCapabilityChange(ev conn.ServerEvent) {
	switch ev.Method {
	case conn.MethodRegisterCapability:
		i.mu.Lock()
		current := i.caps
		i.mu.Unlock()

		updated, err := current.ApplyRegistrations(ev.Params)
		if err != nil {
			logger.Debug("initializer: malformed registerCapability, ignoring", "error", err)
			return
		}
		i.installIfChanged(current, updated)

	case conn.MethodUnregisterCapability:
		i.mu.Lock()
		current := i.caps
		i.mu.Unlock()

		updated, err := current.ApplyUnregistrations(ev.Params)
		if err != nil {
			logger.Debug("initializer: malformed unregisterCapability, ignoring", "error", err)
			return
		}
		i.installIfChanged(current, updated)
	}
}

func (i *Initializer) installIfChanged(old, updated ServerCapabilities) {
	if old.Equal(updated) {
		return
	}
	i.mu.Lock()
	i.caps = updated
	i.mu.Unlock()
	i.publishCaps(updated)
}
