// mcp-server exposes a single supervised language server's hover and
// definition capabilities as MCP tools over stdio, the way the
// teacher's mcpserver package exposed a LanguageClient — except the
// supervisor, not the caller, owns restart and replay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/myleshyson/lsprotocol-go/protocol"

	"github.com/rockerboo/lsp-client-core/conn"
	"github.com/rockerboo/lsp-client-core/config"
	"github.com/rockerboo/lsp-client-core/core"
	"github.com/rockerboo/lsp-client-core/logger"
	"github.com/rockerboo/lsp-client-core/mcpbridge"
	"github.com/rockerboo/lsp-client-core/transport"
	"github.com/rockerboo/lsp-client-core/utils"
)

var (
	configPath = flag.String("config", "", "path to an LSPServerConfig JSON file")
	workspace  = flag.String("workspace", ".", "workspace root URI passed to initialize")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("--config is required")
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger.SetLevel(cfg.Global.LogLevel)

	serverProvider := func(ctx context.Context) (conn.ServerConnection, error) {
		switch cfg.Server.EffectiveMode() {
		case config.ModeTCP:
			return transport.TCP(ctx, cfg.Server.Host, cfg.Server.Port, transport.TCPOptions{})
		case config.ModeWebSocket:
			return transport.WebSocket(ctx, cfg.Server.Host, cfg.Server.Port, transport.WebSocketOptions{Path: cfg.Server.Path})
		default:
			return transport.Stdio(ctx, cfg.Server.Command, cfg.Server.Args...)
		}
	}

	paramsProvider := func(ctx context.Context) (protocol.InitializeParams, error) {
		opts, err := json.Marshal(cfg.Server.InitializationOptions)
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
		core.WithRestartDelay(cfg.Global.RestartDelay(core.DefaultRestartDelay)))
	if err != nil {
		log.Fatalf("constructing supervisor: %v", err)
	}
	defer sup.Close()

	unhandled := core.NewUnhandledEventLogger()
	go func() {
		for ev := range sup.EventStream() {
			unhandled.Log(ev.Method, ev.Params)
			if ev.Reply != nil {
				ev.Reply(context.Background(), map[string]any{}, nil)
			}
		}
	}()

	mcpServer := server.NewMCPServer("lsp-client-core", "0.1.0",
		server.WithToolCapabilities(false))
	mcpbridge.RegisterTools(mcpServer, sup)

	if err := server.ServeStdio(mcpServer); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}
