package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/myleshyson/lsprotocol-go/protocol"
	"github.com/stretchr/testify/require"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/conntest"
)

func testParamsProvider(ctx context.Context) (protocol.InitializeParams, error) {
	return protocol.InitializeParams{}, nil
}

func TestInitializerInitializeIfNeededIsIdempotent(t *testing.T) {
	fake := conntest.NewFake(8)
	calls := 0
	fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
		calls++
		return conn.InitializeResult{}, nil
	})

	init := New(fake, testParamsProvider)
	defer init.Close()

	ctx := context.Background()
	_, err := init.InitializeIfNeeded(ctx)
	require.NoError(t, err)
	_, err = init.InitializeIfNeeded(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, StateInitialized, init.State())

	sent := fake.Calls()
	require.Len(t, sent, 2)
	require.Equal(t, conn.MethodInitialize, sent[0].Method)
	require.Equal(t, conn.MethodInitialized, sent[1].Method)
	require.True(t, sent[1].IsNotification)
}

func TestInitializerSendRequestForcesHandshake(t *testing.T) {
	fake := conntest.NewFake(8)
	fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
		return conn.InitializeResult{}, nil
	})
	fake.OnRequest("textDocument/hover", func(params any) (any, error) {
		return map[string]any{"contents": "hi"}, nil
	})

	init := New(fake, testParamsProvider)
	defer init.Close()

	var result map[string]any
	err := init.SendRequest(context.Background(), "textDocument/hover", nil, &result)
	require.NoError(t, err)
	require.Equal(t, "hi", result["contents"])

	sent := fake.Calls()
	require.Equal(t, conn.MethodInitialize, sent[0].Method)
	require.Equal(t, "textDocument/hover", sent[2].Method)
}

func TestInitializerSendRequestInitializeIsProgrammerError(t *testing.T) {
	fake := conntest.NewFake(8)
	init := New(fake, testParamsProvider)
	defer init.Close()

	require.Panics(t, func() {
		_ = init.SendRequest(context.Background(), conn.MethodInitialize, nil, nil)
	})
}

func TestInitializerSendNotificationInitializedIsProgrammerError(t *testing.T) {
	fake := conntest.NewFake(8)
	init := New(fake, testParamsProvider)
	defer init.Close()

	require.Panics(t, func() {
		_ = init.SendNotification(context.Background(), conn.MethodInitialized, nil)
	})
}

func TestInitializerExitDroppedWhenUninitialized(t *testing.T) {
	fake := conntest.NewFake(8)
	init := New(fake, testParamsProvider)
	defer init.Close()

	err := init.SendNotification(context.Background(), conn.MethodExit, nil)
	require.NoError(t, err)
	require.Empty(t, fake.Calls())
}

func TestInitializerShutdownWithoutInitializeIsNullResponse(t *testing.T) {
	fake := conntest.NewFake(8)
	init := New(fake, testParamsProvider)
	defer init.Close()

	var result protocol.ShutdownResponse
	err := init.SendRequest(context.Background(), conn.MethodShutdown, nil, &result)
	require.NoError(t, err)
	require.Empty(t, fake.Calls())
}

func TestInitializerShutdownAndExitSequence(t *testing.T) {
	fake := conntest.NewFake(8)
	fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
		return conn.InitializeResult{}, nil
	})
	fake.OnRequest(conn.MethodShutdown, func(params any) (any, error) {
		return protocol.ShutdownResponse{}, nil
	})

	init := New(fake, testParamsProvider)
	defer init.Close()

	_, err := init.InitializeIfNeeded(context.Background())
	require.NoError(t, err)

	err = init.ShutdownAndExit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUninitialized, init.State())

	sent := fake.Calls()
	require.Equal(t, []string{conn.MethodInitialize, conn.MethodInitialized, conn.MethodShutdown, conn.MethodExit}, []string{sent[0].Method, sent[1].Method, sent[2].Method, sent[3].Method})
}

func TestInitializerCapabilityRegistrationUpdatesStream(t *testing.T) {
	fake := conntest.NewFake(8)
	fake.OnRequest(conn.MethodInitialize, func(params any) (any, error) {
		return conn.InitializeResult{}, nil
	})

	init := New(fake, testParamsProvider)
	defer init.Close()

	_, err := init.InitializeIfNeeded(context.Background())
	require.NoError(t, err)

	// drain the initial snapshot published by the handshake itself
	select {
	case <-init.CapabilitiesStream():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial capabilities snapshot")
	}

	err = fake.Emit(conn.MethodRegisterCapability, map[string]any{
		"registrations": []map[string]any{
			{"id": "1", "method": "textDocument/hover"},
		},
	}, true, func(ctx context.Context, result any, err error) {})
	require.NoError(t, err)

	select {
	case caps := <-init.CapabilitiesStream():
		raw, err := json.Marshal(caps.ServerCapabilities)
		require.NoError(t, err)
		require.Contains(t, string(raw), "hoverProvider")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capability update")
	}
}
