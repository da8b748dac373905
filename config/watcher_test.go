package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, command string) {
	t.Helper()
	data := `{"global":{"log_level":"info"},"server":{"command":"` + command + `"}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWatcherLoadsInitialConfigSynchronously(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "gopls")

	var got *LSPServerConfig
	w, err := NewWatcher(path, func(cfg *LSPServerConfig) { got = cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got == nil {
		t.Fatal("onLoad was not called synchronously by NewWatcher")
	}
	if got.Server.Command != "gopls" {
		t.Fatalf("Server.Command = %q, want %q", got.Server.Command, "gopls")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, "gopls")

	reloaded := make(chan *LSPServerConfig, 4)
	w, err := NewWatcher(path, func(cfg *LSPServerConfig) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// drain the initial synchronous load
	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial load")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeConfig(t, path, "jdtls")

	select {
	case cfg := <-reloaded:
		if cfg.Server.Command != "jdtls" {
			t.Fatalf("Server.Command = %q, want %q", cfg.Server.Command, "jdtls")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after write")
	}
}
