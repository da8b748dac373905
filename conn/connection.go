// Package conn defines the boundary between lsp-client-core and a raw
// bidirectional JSON-RPC transport. It corresponds to the "external
// collaborator" the specification assumes: subprocess spawning, wire
// framing, and the LSP message catalog are all out of scope for the
// core and live instead in package transport, which implements
// ServerConnection over jsonrpc2.
package conn

import (
	"context"
	"encoding/json"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// LSP method names the core switches on. Every other method name is
// passed through opaquely.
const (
	MethodInitialize           = "initialize"
	MethodInitialized          = "initialized"
	MethodShutdown             = "shutdown"
	MethodExit                 = "exit"
	MethodDidOpen              = "textDocument/didOpen"
	MethodDidClose             = "textDocument/didClose"
	MethodRegisterCapability   = "client/registerCapability"
	MethodUnregisterCapability = "client/unregisterCapability"
)

// ServerEvent is a tagged union over inbound server-initiated
// notifications and requests (ServerEvent in the glossary). Reply
// is nil for notifications; for requests it must be called exactly
// once to complete the round trip.
type ServerEvent struct {
	Method string
	Params json.RawMessage
	// IsRequest is true when the server expects a reply.
	IsRequest bool
	// Reply completes a server->client request. It is nil on a
	// notification event.
	Reply func(ctx context.Context, result any, err error)
}

// ServerConnection is the external, byte-level bidirectional JSON-RPC
// peer the core wraps. Implementations live in package transport.
type ServerConnection interface {
	// SendRequest issues request method with params and decodes the
	// reply into result (a pointer), or returns an error describing a
	// transport/dispatch failure.
	SendRequest(ctx context.Context, method string, params any, result any) error

	// SendNotification issues a fire-and-forget notification.
	SendNotification(ctx context.Context, method string, params any) error

	// Events returns the channel of inbound ServerEvents. The channel
	// is closed when the connection is closed or the peer disconnects.
	Events() <-chan ServerEvent

	// Close tears down the transport and the underlying process/socket.
	Close() error
}

// InitializeResult is the decoded reply to an "initialize" request.
type InitializeResult struct {
	Capabilities protocol.ServerCapabilities `json:"capabilities"`
	ServerInfo   *protocol.ServerInfo        `json:"serverInfo,omitempty"`
}
