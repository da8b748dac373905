// lsp-supervisor-demo wires a config.LSPServerConfig, a transport, and
// a core.Supervisor together: launch once, and the supervisor handles
// the handshake, crash recovery, and document replay on its own. The
// config file is watched for edits; a changed command/args/mode takes
// effect on the next restart without stopping this process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/myleshyson/lsprotocol-go/protocol"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/config"
	"github.com/rockerboo/lsp-client-core/core"
	"github.com/rockerboo/lsp-client-core/logger"
	"github.com/rockerboo/lsp-client-core/transport"
	"github.com/rockerboo/lsp-client-core/utils"
)

var (
	configPath = flag.String("config", "", "path to an LSPServerConfig JSON file")
	workspace  = flag.String("workspace", ".", "workspace root URI passed to initialize")
)

// liveConfig holds the most recently loaded LSPServerConfig, refreshed
// by a config.Watcher as the file on disk changes. serverProvider and
// paramsProvider always read through it, so a config edit is picked up
// by the very next spawn without restarting this process.
type liveConfig struct {
	mu  sync.RWMutex
	cfg *config.LSPServerConfig
}

func (l *liveConfig) set(cfg *config.LSPServerConfig) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *liveConfig) get() *config.LSPServerConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("--config is required")
	}

	live := &liveConfig{}

	watcher, err := config.NewWatcher(*configPath, func(cfg *config.LSPServerConfig) {
		logger.SetLevel(cfg.Global.LogLevel)
		live.set(cfg)
	})
	if err != nil {
		log.Fatalf("watching config: %v", err)
	}
	defer watcher.Close()

	if live.get() == nil {
		log.Fatalf("loading config: initial load from %s failed, see log output", *configPath)
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go watcher.Run(watchCtx)

	serverProvider := func(ctx context.Context) (conn.ServerConnection, error) {
		server := live.get().Server
		switch server.EffectiveMode() {
		case config.ModeTCP:
			return transport.TCP(ctx, server.Host, server.Port, transport.TCPOptions{})
		case config.ModeWebSocket:
			return transport.WebSocket(ctx, server.Host, server.Port, transport.WebSocketOptions{Path: server.Path})
		default:
			return transport.Stdio(ctx, server.Command, server.Args...)
		}
	}

	paramsProvider := func(ctx context.Context) (protocol.InitializeParams, error) {
		opts, err := json.Marshal(live.get().Server.InitializationOptions)
		if err != nil {
			return protocol.InitializeParams{}, err
		}
		return protocol.InitializeParams{
			RootUri:               protocol.DocumentUri(*workspace),
			InitializationOptions: json.RawMessage(opts),
		}, nil
	}

	textDocProvider := func(ctx context.Context, uri core.DocumentUri) (protocol.TextDocumentItem, error) {
		data, err := os.ReadFile(utils.URIToFilePath(string(uri)))
		if err != nil {
			return protocol.TextDocumentItem{}, err
		}
		return protocol.TextDocumentItem{
			Uri:  protocol.DocumentUri(uri),
			Text: string(data),
		}, nil
	}

	sup, err := core.NewSupervisor(serverProvider, textDocProvider, paramsProvider,
		core.WithRestartDelay(live.get().Global.RestartDelay(core.DefaultRestartDelay)))
	if err != nil {
		log.Fatalf("constructing supervisor: %v", err)
	}

	unhandled := core.NewUnhandledEventLogger()
	go func() {
		for ev := range sup.EventStream() {
			unhandled.Log(ev.Method, ev.Params)
			if ev.Reply != nil {
				ev.Reply(context.Background(), map[string]any{}, nil)
			}
		}
	}()

	caps, err := sup.InitializeIfNeeded(context.Background())
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	fmt.Printf("server ready, capabilities: %+v\n", caps.ServerCapabilities)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := sup.ShutdownAndExit(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	sup.Close()
}
