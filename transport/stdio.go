package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rockerboo/lsp-client-core/conn"
)

// stdioReadWriteCloser pairs a subprocess's stdout/stdin into a single
// io.ReadWriteCloser, closing the process's stdin on Close (which is
// usually enough to make a well-behaved language server exit once it
// also receives the "exit" notification).
type stdioReadWriteCloser struct {
	io.ReadCloser
	io.WriteCloser
}

func (s stdioReadWriteCloser) Close() error {
	werr := s.WriteCloser.Close()
	rerr := s.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Stdio spawns command as a subprocess and speaks LSP over its
// stdin/stdout, adapted from the teacher's stdio launch path (command
// + args on LanguageClient) but built directly as a conn.ServerConnection
// rather than threading through LanguageClient's broader state.
func Stdio(ctx context.Context, command string, args ...string) (conn.ServerConnection, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: starting %s: %w", command, err)
	}

	rwc := stdioReadWriteCloser{ReadCloser: stdout, WriteCloser: stdin}
	jc := newJSONRPCConnection(ctx, rwc)

	return &stdioConnection{jsonrpcConnection: jc, cmd: cmd}, nil
}

// stdioConnection additionally waits on the subprocess during Close,
// so a caller can be sure the process has actually exited.
type stdioConnection struct {
	*jsonrpcConnection
	cmd *exec.Cmd
}

func (s *stdioConnection) Close() error {
	err := s.jsonrpcConnection.Close()
	_ = s.cmd.Wait()
	return err
}

var _ conn.ServerConnection = (*stdioConnection)(nil)
