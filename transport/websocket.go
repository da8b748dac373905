package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/logger"
)

// gorillaRWC adapts a *websocket.Conn to io.ReadWriteCloser so it can
// feed a jsonrpc2.BufferedStream, carried over verbatim from the
// teacher's websocket client.
type gorillaRWC struct {
	conn    *websocket.Conn
	readBuf []byte
	mu      sync.Mutex
}

func (g *gorillaRWC) Read(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.readBuf) > 0 {
		n := copy(p, g.readBuf)
		g.readBuf = g.readBuf[n:]
		return n, nil
	}

	_, msg, err := g.conn.ReadMessage()
	if err != nil {
		return 0, err
	}

	n := copy(p, msg)
	if n < len(msg) {
		g.readBuf = msg[n:]
	}
	return n, nil
}

func (g *gorillaRWC) Write(p []byte) (int, error) {
	if err := g.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *gorillaRWC) Close() error {
	return g.conn.Close()
}

var _ io.ReadWriteCloser = (*gorillaRWC)(nil)

// WebSocketOptions configures dialing, mirroring the retry knobs in
// TCPOptions.
type WebSocketOptions struct {
	MaxAttempts      int
	HandshakeTimeout time.Duration
	RetryDelay       time.Duration
	Path             string // defaults to "/lsp"
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 45 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.Path == "" {
		o.Path = "/lsp"
	}
	return o
}

// WebSocket dials host:port over ws:// and speaks LSP over the
// resulting connection, adapted from the teacher's ConnectWebSocket
// and dialGorillaWebSocket.
func WebSocket(ctx context.Context, host string, port int, opts WebSocketOptions) (conn.ServerConnection, error) {
	opts = opts.withDefaults()

	if host == "" {
		host = "localhost"
	}
	addr := strings.Replace(fmt.Sprintf("%s:%d", host, port), "localhost", "127.0.0.1", 1)
	wsURL := fmt.Sprintf("ws://%s%s", addr, opts.Path)

	dialer := websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			netConn, err := (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).Dial(network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := netConn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return netConn, nil
		},
		HandshakeTimeout: opts.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	var wsConn *websocket.Conn
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		wsConn, _, err = dialer.Dial(wsURL, http.Header{})
		if err == nil {
			break
		}
		logger.Warn("transport: websocket dial attempt failed", "attempt", attempt, "max", opts.MaxAttempts, "error", err)
		if attempt < opts.MaxAttempts {
			select {
			case <-time.After(opts.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s after %d attempts: %w", wsURL, opts.MaxAttempts, err)
	}

	logger.Info("transport: websocket connection established", "url", wsURL)

	return newJSONRPCConnection(ctx, &gorillaRWC{conn: wsConn}), nil
}
