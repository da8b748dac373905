package transport

import (
	"fmt"

	"github.com/rockerboo/lsp-client-core/logger"
)

// jsonrpcLogger adapts jsonrpc2's Printf-style logger interface onto
// this module's own logger package, the way the teacher's (never
// retrieved) JSONRPCLogger did for its call sites.
type jsonrpcLogger struct{}

func (jsonrpcLogger) Printf(format string, v ...any) {
	logger.Debug("jsonrpc2", "message", fmt.Sprintf(format, v...))
}
