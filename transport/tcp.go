package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/logger"
)

// TCPOptions configures TCP dialing, mirroring the retry/backoff
// knobs the teacher's LanguageClient carried (maxConnectionAttempts,
// connectionTimeout, restartDelay) but scoped to a single dial call
// rather than the whole client lifetime.
type TCPOptions struct {
	MaxAttempts int
	DialTimeout time.Duration
	RetryDelay  time.Duration
}

func (o TCPOptions) withDefaults() TCPOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	return o
}

// TCP dials host:port and speaks LSP over the resulting connection,
// retrying with linear backoff, adapted from the teacher's
// ConnectTCP.
func TCP(ctx context.Context, host string, port int, opts TCPOptions) (conn.ServerConnection, error) {
	opts = opts.withDefaults()

	if host == "" {
		host = "localhost"
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	addr = strings.Replace(addr, "localhost", "127.0.0.1", 1)

	var c net.Conn
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		c, err = net.DialTimeout("tcp", addr, opts.DialTimeout)
		if err == nil {
			break
		}
		logger.Warn("transport: tcp dial attempt failed", "attempt", attempt, "max", opts.MaxAttempts, "error", err)
		if attempt < opts.MaxAttempts {
			select {
			case <-time.After(opts.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s after %d attempts: %w", addr, opts.MaxAttempts, err)
	}

	if tcpConn, ok := c.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		_ = tcpConn.SetNoDelay(true)
	}

	logger.Info("transport: tcp connection established", "addr", addr)

	return newJSONRPCConnection(ctx, c), nil
}
