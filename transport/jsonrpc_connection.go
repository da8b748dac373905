package transport

import (
	"context"
	"io"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/rockerboo/lsp-client-core/conn"
)

// eventsBuffer sizes the channel every jsonrpc2-backed connection
// reads inbound server events into before core ever sees them.
const eventsBuffer = 64

// jsonrpcConnection implements conn.ServerConnection over a
// jsonrpc2.Conn, the shape shared by Stdio, TCP and WebSocket — they
// differ only in how the underlying io.ReadWriteCloser is obtained.
type jsonrpcConnection struct {
	rpc     *jsonrpc2.Conn
	handler *eventHandler
	cancel  context.CancelFunc
	closer  io.Closer
}

func newJSONRPCConnection(parent context.Context, rwc io.ReadWriteCloser) *jsonrpcConnection {
	ctx, cancel := context.WithCancel(parent)

	handler := newEventHandler(eventsBuffer)
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})

	logger := jsonrpcLogger{}
	rpc := jsonrpc2.NewConn(ctx, stream, handler,
		jsonrpc2.LogMessages(logger),
		jsonrpc2.SetLogger(logger))

	c := &jsonrpcConnection{rpc: rpc, handler: handler, cancel: cancel, closer: rwc}

	go func() {
		<-rpc.DisconnectNotify()
		cancel()
		close(handler.events)
	}()

	return c
}

func (c *jsonrpcConnection) SendRequest(ctx context.Context, method string, params any, result any) error {
	return c.rpc.Call(ctx, method, params, result)
}

func (c *jsonrpcConnection) SendNotification(ctx context.Context, method string, params any) error {
	return c.rpc.Notify(ctx, method, params)
}

func (c *jsonrpcConnection) Events() <-chan conn.ServerEvent {
	return c.handler.events
}

func (c *jsonrpcConnection) Close() error {
	c.cancel()
	err := c.rpc.Close()
	if cerr := c.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ conn.ServerConnection = (*jsonrpcConnection)(nil)
