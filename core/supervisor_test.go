package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
	"github.com/stretchr/testify/require"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/conntest"
)

func newTestSupervisor(t *testing.T, fakes chan *conntest.Fake, docs map[DocumentUri]protocol.TextDocumentItem, opts ...Option) *Supervisor {
	t.Helper()

	serverProvider := func(ctx context.Context) (conn.ServerConnection, error) {
		fake := conntest.NewFake(16)
		fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
			return conn.InitializeResult{}, nil
		})
		fake.OnRequest("textDocument/hover", func(params any) (any, error) {
			return map[string]any{"contents": "hi"}, nil
		})
		fake.OnRequest(conn.MethodShutdown, func(params any) (any, error) {
			return protocol.ShutdownResponse{}, nil
		})
		fakes <- fake
		return fake, nil
	}

	textDocProvider := func(ctx context.Context, uri DocumentUri) (protocol.TextDocumentItem, error) {
		item, ok := docs[uri]
		if !ok {
			return protocol.TextDocumentItem{}, lsErrUnknownDoc(uri)
		}
		return item, nil
	}

	paramsProvider := func(ctx context.Context) (protocol.InitializeParams, error) {
		return protocol.InitializeParams{}, nil
	}

	s, err := NewSupervisor(serverProvider, textDocProvider, paramsProvider, opts...)
	require.NoError(t, err)
	return s
}

func lsErrUnknownDoc(uri DocumentUri) error {
	return &unknownDocError{uri: uri}
}

type unknownDocError struct{ uri DocumentUri }

func (e *unknownDocError) Error() string { return "conntest: unknown document " + string(e.uri) }

func methodsOf(calls []conntest.Sent) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Scenario A: a fresh Supervisor lazily spawns exactly once, with no
// replay, on its first outbound message.
func TestSupervisorLazySpawnsOnFirstMessage(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, nil)
	defer s.Close()

	var result map[string]any
	err := s.SendRequest(context.Background(), "textDocument/hover", nil, &result)
	require.NoError(t, err)

	fake := <-fakes
	require.Equal(t, []string{conn.MethodInitialize, conn.MethodInitialized, "textDocument/hover"}, methodsOf(fake.Calls()))
}

// Scenario D: shutdown on a fresh Supervisor is a no-op null response;
// it never spawns.
func TestSupervisorShutdownOnFreshSupervisorDoesNotSpawn(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, nil)
	defer s.Close()

	var result protocol.ShutdownResponse
	err := s.SendRequest(context.Background(), conn.MethodShutdown, nil, &result)
	require.NoError(t, err)

	select {
	case <-fakes:
		t.Fatal("shutdown on a fresh supervisor must not spawn a connection")
	default:
	}
}

// Scenario: after ShutdownAndExit, the next message spawns a brand new
// incarnation with no replay.
func TestSupervisorShutdownAndExitThenFreshSpawnNoReplay(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, nil)
	defer s.Close()

	var result map[string]any
	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))
	<-fakes

	require.NoError(t, s.ShutdownAndExit(context.Background()))

	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))
	second := <-fakes
	require.Equal(t, []string{conn.MethodInitialize, conn.MethodInitialized, "textDocument/hover"}, methodsOf(second.Calls()))
}

// Scenario C: a crash (connection_invalidated) after two didOpen calls
// is followed, once the cool-down elapses, by a spawn that replays
// both documents in order before the triggering request.
func TestSupervisorCrashReplaysOpenDocumentsInOrder(t *testing.T) {
	docs := map[DocumentUri]protocol.TextDocumentItem{
		"file:///a.txt": {Uri: "file:///a.txt", LanguageId: "text", Version: 1, Text: "a"},
		"file:///b.txt": {Uri: "file:///b.txt", LanguageId: "text", Version: 1, Text: "b"},
	}
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, docs, WithRestartDelay(30*time.Millisecond))
	defer s.Close()

	require.NoError(t, s.SendNotification(context.Background(), conn.MethodDidOpen, protocol.DidOpenTextDocumentParams{TextDocument: docs["file:///a.txt"]}))
	first := <-fakes
	require.NoError(t, s.SendNotification(context.Background(), conn.MethodDidOpen, protocol.DidOpenTextDocumentParams{TextDocument: docs["file:///b.txt"]}))

	s.ConnectionInvalidated()
	time.Sleep(80 * time.Millisecond)

	var result map[string]any
	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))

	second := <-fakes
	require.Equal(t, []string{
		conn.MethodInitialize, conn.MethodInitialized,
		conn.MethodDidOpen, conn.MethodDidOpen,
		"textDocument/hover",
	}, methodsOf(second.Calls()))

	require.NotSame(t, first, second)
}

// Property: didOpen/didClose interception keeps the tracked open set
// accurate regardless of whether a server happens to be running.
func TestSupervisorOpenDocumentSetTracksDidOpenDidClose(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	docs := map[DocumentUri]protocol.TextDocumentItem{
		"file:///a.txt": {Uri: "file:///a.txt"},
	}
	s := newTestSupervisor(t, fakes, docs)
	defer s.Close()

	require.NoError(t, s.SendNotification(context.Background(), conn.MethodDidOpen, protocol.DidOpenTextDocumentParams{TextDocument: docs["file:///a.txt"]}))
	<-fakes
	require.True(t, s.docs.Contains("file:///a.txt"))

	require.NoError(t, s.SendNotification(context.Background(), conn.MethodDidClose, protocol.DidCloseTextDocumentParams{TextDocument: protocol.TextDocumentIdentifier{Uri: "file:///a.txt"}}))
	require.False(t, s.docs.Contains("file:///a.txt"))
}

// A genuine transport failure (no responder registered, mirroring an
// unreachable peer) invalidates the connection and throttles into a
// restart on the next message.
func TestSupervisorTransportFailureInvalidatesConnection(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, nil, WithRestartDelay(30*time.Millisecond))
	defer s.Close()

	var result map[string]any
	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))
	first := <-fakes

	err := s.SendRequest(context.Background(), "textDocument/definition", nil, &result)
	require.Error(t, err)
	require.True(t, isTransportFailure(err))

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	require.Equal(t, StateStopped, state)

	time.Sleep(80 * time.Millisecond)

	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))
	second := <-fakes
	require.NotSame(t, first, second)
}

// A non-transport failure (here, a failing InitializeParamsProvider
// bubbling up through a forced handshake) must bubble up as the
// caller's error without invalidating a healthy connection or forcing
// a restart.
func TestSupervisorProviderFailureDoesNotInvalidateConnection(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	failParams := true

	serverProvider := func(ctx context.Context) (conn.ServerConnection, error) {
		fake := conntest.NewFake(16)
		fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
			return conn.InitializeResult{}, nil
		})
		fake.OnRequest("textDocument/hover", func(params any) (any, error) {
			return map[string]any{"contents": "hi"}, nil
		})
		fakes <- fake
		return fake, nil
	}
	textDocProvider := func(ctx context.Context, uri DocumentUri) (protocol.TextDocumentItem, error) {
		return protocol.TextDocumentItem{}, nil
	}
	paramsProvider := func(ctx context.Context) (protocol.InitializeParams, error) {
		if failParams {
			return protocol.InitializeParams{}, fmt.Errorf("workspace root unresolved")
		}
		return protocol.InitializeParams{}, nil
	}

	s, err := NewSupervisor(serverProvider, textDocProvider, paramsProvider)
	require.NoError(t, err)
	defer s.Close()

	var result map[string]any
	err = s.SendRequest(context.Background(), "textDocument/hover", nil, &result)
	require.Error(t, err)
	require.False(t, isTransportFailure(err))
	<-fakes

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	require.Equal(t, StateRunning, state, "a provider failure must not invalidate the connection or trigger a restart")

	failParams = false
	require.NoError(t, s.SendRequest(context.Background(), "textDocument/hover", nil, &result))

	select {
	case <-fakes:
		t.Fatal("recovering from a provider failure must reuse the existing incarnation, not spawn a new one")
	default:
	}
}

// exit is dropped while the supervisor has no running incarnation.
func TestSupervisorExitDroppedWhenNotRunning(t *testing.T) {
	fakes := make(chan *conntest.Fake, 4)
	s := newTestSupervisor(t, fakes, nil)
	defer s.Close()

	err := s.SendNotification(context.Background(), conn.MethodExit, nil)
	require.NoError(t, err)

	select {
	case <-fakes:
		t.Fatal("exit must not trigger a spawn")
	default:
	}
}
