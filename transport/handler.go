package transport

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/rockerboo/lsp-client-core/conn"
)

// eventHandler is the jsonrpc2.Handler installed on every connection
// this package creates. Unlike the teacher's ClientHandler, it does
// not interpret any method itself: it converts every inbound request
// or notification into a conn.ServerEvent and hands it to events,
// leaving interpretation (register/unregisterCapability, progress,
// diagnostics, and replying) to package core and the embedder. This
// is what lets core.Initializer observe capability changes without
// this package knowing the LSP method catalog.
type eventHandler struct {
	events chan conn.ServerEvent
}

func newEventHandler(buffer int) *eventHandler {
	return &eventHandler{events: make(chan conn.ServerEvent, buffer)}
}

func (h *eventHandler) Handle(ctx context.Context, rpcConn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var raw []byte
	if req.Params != nil {
		raw = *req.Params
	}

	ev := conn.ServerEvent{
		Method:    req.Method,
		Params:    raw,
		IsRequest: !req.Notif,
	}

	if !req.Notif {
		id := req.ID
		ev.Reply = func(ctx context.Context, result any, err error) {
			if err != nil {
				rpcConn.ReplyWithError(ctx, id, &jsonrpc2.Error{
					Code:    jsonrpc2.CodeInternalError,
					Message: err.Error(),
				})
				return
			}
			rpcConn.Reply(ctx, id, result)
		}
	}

	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}
