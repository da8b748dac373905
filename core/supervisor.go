package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/logger"
	"github.com/rockerboo/lsp-client-core/lsperrors"
	"github.com/rockerboo/lsp-client-core/streamtap"
)

// DefaultRestartDelay is the cool-down enforced between a detected
// connection loss and the next restart attempt. Spec §9 requires only
// "non-zero and bounded"; 5s is the value every historical snapshot of
// the original client used.
const DefaultRestartDelay = 5 * time.Second

// ServerProvider asynchronously produces a fresh ServerConnection. It
// may fail; failure surfaces from whichever call triggered the spawn.
type ServerProvider func(ctx context.Context) (conn.ServerConnection, error)

// TextDocumentItemProvider looks up the current content of an open
// document, used only during post-restart replay.
type TextDocumentItemProvider func(ctx context.Context, uri DocumentUri) (protocol.TextDocumentItem, error)

// Supervisor presents a persistent server-like surface whose lifetime
// exceeds any single backing ServerConnection: it spawns lazily,
// replays open documents after an unplanned restart, and throttles
// restart loops. It is the sole object the specification asks an
// embedder to hold (spec §6).
type Supervisor struct {
	serverProvider            ServerProvider
	textDocumentItemProvider  TextDocumentItemProvider
	initializeParamsProvider  InitializeParamsProvider
	restartDelay              time.Duration

	// spawnPermit gates spawn/shutdown transitions, mirroring the
	// Initializer's own permit (spec §5 Mutual exclusion).
	spawnPermit chan struct{}

	mu        sync.Mutex
	state     SupervisorState
	stoppedAt time.Time
	current   *Initializer
	currentConn conn.ServerConnection
	docs      *OpenDocumentSet

	eventsTap *streamtap.StreamTap[conn.ServerEvent]
	capsTap   *streamtap.StreamTap[ServerCapabilities]

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithRestartDelay overrides the default 5s cool-down.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.restartDelay = d
		}
	}
}

// NewSupervisor constructs a Supervisor in StateNotStarted. All three
// providers are required; a nil one is a configuration error (spec
// §7 NoProvider).
func NewSupervisor(serverProvider ServerProvider, textDocumentItemProvider TextDocumentItemProvider, initializeParamsProvider InitializeParamsProvider, opts ...Option) (*Supervisor, error) {
	if serverProvider == nil || textDocumentItemProvider == nil || initializeParamsProvider == nil {
		return nil, lsperrors.ErrNoProvider
	}

	permit := make(chan struct{}, 1)
	permit <- struct{}{}

	s := &Supervisor{
		serverProvider:           serverProvider,
		textDocumentItemProvider: textDocumentItemProvider,
		initializeParamsProvider: initializeParamsProvider,
		restartDelay:             DefaultRestartDelay,
		spawnPermit:              permit,
		state:                    StateNotStarted,
		docs:                     NewOpenDocumentSet(),
		eventsTap:                streamtap.New[conn.ServerEvent](eventsStreamBuffer),
		capsTap:                  streamtap.New[ServerCapabilities](capabilitiesStreamBuffer),
		closed:                   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// EventStream is the single, never-rebinding-from-the-caller's-view
// stream of server-initiated events; internally its source is swapped
// to each new incarnation's own event stream.
func (s *Supervisor) EventStream() <-chan conn.ServerEvent {
	return s.eventsTap.Outbound()
}

// CapabilitiesStream is analogous to EventStream for capability
// snapshots.
func (s *Supervisor) CapabilitiesStream() <-chan ServerCapabilities {
	return s.capsTap.Outbound()
}

// Capabilities returns the current snapshot without forcing a spawn.
// ok is false if there is no running incarnation, or it hasn't
// finished its handshake.
func (s *Supervisor) Capabilities() (ServerCapabilities, bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return ServerCapabilities{}, false
	}
	return cur.Capabilities()
}

func (s *Supervisor) acquireSpawn(ctx context.Context) error {
	select {
	case <-s.spawnPermit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) releaseSpawn() {
	select {
	case s.spawnPermit <- struct{}{}:
	default:
	}
}

// ensureRunning realizes the lazy-spawn part of the state table: it
// spawns a fresh Initializer from StateNotStarted/StateRestartNeeded
// (replaying open documents only in the latter case), returns the
// live one from StateRunning, and fails for StateShuttingDown/
// StateStopped.
func (s *Supervisor) ensureRunning(ctx context.Context) (*Initializer, error) {
	if err := s.acquireSpawn(ctx); err != nil {
		return nil, err
	}
	defer s.releaseSpawn()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateRunning:
		s.mu.Lock()
		cur := s.current
		s.mu.Unlock()
		return cur, nil
	case StateShuttingDown, StateStopped:
		return nil, lsperrors.ErrServerStopped
	case StateNotStarted, StateRestartNeeded:
		return s.spawn(ctx, state == StateRestartNeeded)
	default:
		return nil, lsperrors.ErrStateInvalid
	}
}

func (s *Supervisor) spawn(ctx context.Context, replay bool) (*Initializer, error) {
	newConn, err := s.serverProvider(ctx)
	if err != nil {
		return nil, err
	}

	initializer := New(newConn, s.initializeParamsProvider)

	s.mu.Lock()
	s.current = initializer
	s.currentConn = newConn
	s.state = StateRunning
	s.mu.Unlock()

	s.eventsTap.SetSource(context.Background(), initializer.EventStream(), nil)
	s.capsTap.SetSource(context.Background(), initializer.CapabilitiesStream(), nil)

	if replay {
		s.replayOpenDocuments(ctx, initializer)
	}

	return initializer, nil
}

// replayOpenDocuments resends didOpen for every URI the caller still
// considers open, in insertion order. A per-URI lookup or send failure
// is logged and does not abort the rest of the restart (spec §4.3).
func (s *Supervisor) replayOpenDocuments(ctx context.Context, initializer *Initializer) {
	s.mu.Lock()
	uris := s.docs.Snapshot()
	s.mu.Unlock()

	for _, uri := range uris {
		item, err := s.textDocumentItemProvider(ctx, uri)
		if err != nil {
			logger.Error("supervisor: replay lookup failed", "uri", string(uri), "error", err)
			continue
		}

		params := protocol.DidOpenTextDocumentParams{TextDocument: item}
		if err := initializer.SendNotification(ctx, conn.MethodDidOpen, params); err != nil {
			logger.Error("supervisor: replay didOpen failed", "uri", string(uri), "error", err)
		}
	}
}

// isTransportFailure reports whether err represents a genuine
// transport/dispatch failure from the underlying ServerConnection, as
// opposed to a canceled/expired ctx or an InitializeParamsProvider
// failure bubbling up through a forced InitializeIfNeeded. Only the former should drive ConnectionInvalidated
// (spec §4.3, §7 Propagation); the latter must bubble up as the
// originating call's error without tearing down a healthy server.
func isTransportFailure(err error) bool {
	var reqErr *lsperrors.RequestDispatchError
	var notifErr *lsperrors.NotificationDispatchError
	return errors.As(err, &reqErr) || errors.As(err, &notifErr)
}

type textDocumentURI struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
}

func extractDocumentURI(params any) (DocumentUri, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	var p textDocumentURI
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	if p.TextDocument.URI == "" {
		return "", fmt.Errorf("lsp-client-core: missing textDocument.uri")
	}
	return DocumentUri(p.TextDocument.URI), nil
}

// SendNotification applies the outbound-notification interception
// (open-document tracking, exit suppression) before forwarding to the
// current incarnation, spawning one first if necessary.
func (s *Supervisor) SendNotification(ctx context.Context, method string, params any) error {
	switch method {
	case conn.MethodDidOpen:
		if uri, err := extractDocumentURI(params); err == nil {
			s.mu.Lock()
			s.docs.Open(uri)
			s.mu.Unlock()
		}
	case conn.MethodDidClose:
		if uri, err := extractDocumentURI(params); err == nil {
			s.mu.Lock()
			s.docs.Close(uri)
			s.mu.Unlock()
		}
	case conn.MethodExit:
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()
		if !running {
			return nil
		}
	}

	initializer, err := s.ensureRunning(ctx)
	if err != nil {
		return err
	}

	if err := initializer.SendNotification(ctx, method, params); err != nil {
		if isTransportFailure(err) {
			s.ConnectionInvalidated()
		}
		return err
	}
	return nil
}

// SendRequest forwards to the current incarnation, spawning one first
// if necessary. A "shutdown" request while not running returns a
// synthesized null response and does not spawn.
func (s *Supervisor) SendRequest(ctx context.Context, method string, params any, result any) error {
	if method == conn.MethodShutdown {
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()
		if !running {
			return decodeNullResponse(result)
		}
	}

	initializer, err := s.ensureRunning(ctx)
	if err != nil {
		return err
	}

	if err := initializer.SendRequest(ctx, method, params, result); err != nil {
		if isTransportFailure(err) {
			s.ConnectionInvalidated()
		}
		return err
	}
	return nil
}

// InitializeIfNeeded spawns if necessary and forces the handshake.
func (s *Supervisor) InitializeIfNeeded(ctx context.Context) (ServerCapabilities, error) {
	initializer, err := s.ensureRunning(ctx)
	if err != nil {
		return ServerCapabilities{}, err
	}
	return initializer.InitializeIfNeeded(ctx)
}

// ShutdownAndExit performs a graceful stop: shutdown, transition,
// exit, then tears down the incarnation and lands in StateNotStarted
// so the next outbound message sees a plain lazy spawn (no replay).
// A no-op when not running.
func (s *Supervisor) ShutdownAndExit(ctx context.Context) error {
	if err := s.acquireSpawn(ctx); err != nil {
		return err
	}
	defer s.releaseSpawn()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	cur := s.current
	curConn := s.currentConn
	s.mu.Unlock()

	err := cur.ShutdownAndExit(ctx)
	cur.Close()
	if curConn != nil {
		_ = curConn.Close()
	}

	s.mu.Lock()
	s.current = nil
	s.currentConn = nil
	s.state = StateNotStarted
	s.mu.Unlock()

	return err
}

// ConnectionInvalidated is the external hook the embedding transport
// calls when it detects the peer is gone. It stamps StateStopped and
// schedules the cool-down; a repeated call while already stopped is a
// no-op, and intervening planned transitions (e.g. ShutdownAndExit)
// win the race.
func (s *Supervisor) ConnectionInvalidated() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	s.state = StateStopped
	s.stoppedAt = now
	cur := s.current
	curConn := s.currentConn
	s.current = nil
	s.currentConn = nil
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if curConn != nil {
		_ = curConn.Close()
	}

	go s.afterCoolDown(now)
}

// afterCoolDown resolves the apparent tension in spec §4.3 between the
// transition table (which names the post-cool-down state "notStarted")
// and Testable Property 4 / Scenario C, which both require the very
// next spawn after a crash to replay open documents — something only
// StateRestartNeeded does. This implementation lands in
// StateRestartNeeded, matching the verifiable behavior; see DESIGN.md.
func (s *Supervisor) afterCoolDown(since time.Time) {
	timer := time.NewTimer(s.restartDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.closed:
		return
	}

	s.mu.Lock()
	if s.state == StateStopped && s.stoppedAt.Equal(since) {
		s.state = StateRestartNeeded
	}
	s.mu.Unlock()
}

// Close tears down the current incarnation (if any) and finishes both
// external streams. It is the repository's answer to spec §5's "the
// core's destruction path calls exit on live initializers and drops
// the connection" — not part of the specified public surface, but
// required for an embedder to release resources deterministically.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		cur := s.current
		curConn := s.currentConn
		s.mu.Unlock()

		if cur != nil {
			_ = cur.ShutdownAndExit(context.Background())
			cur.Close()
		}
		if curConn != nil {
			_ = curConn.Close()
		}

		s.eventsTap.Close()
		s.capsTap.Close()
	})
	return nil
}
