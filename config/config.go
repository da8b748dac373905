// Package config loads and adapts the JSON configuration describing
// how to launch and supervise a single language server, mirroring the
// shape (and the environment-variable override mechanism) of the
// teacher's own lsp.LSPServerConfig.
package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"
)

// Mode selects how a ServerConfig's transport is constructed.
type Mode string

const (
	ModeStdio     Mode = "stdio"
	ModeTCP       Mode = "tcp"
	ModeWebSocket Mode = "websocket"
)

// GlobalConfig holds options that apply across every supervised
// server: logging and restart policy.
type GlobalConfig struct {
	LogLevel           string `json:"log_level"`
	MaxRestartAttempts int    `json:"max_restart_attempts"`
	RestartDelayMs     int    `json:"restart_delay_ms"`
}

// RestartDelay returns RestartDelayMs as a time.Duration, or the given
// fallback if unset.
func (g GlobalConfig) RestartDelay(fallback time.Duration) time.Duration {
	if g.RestartDelayMs <= 0 {
		return fallback
	}
	return time.Duration(g.RestartDelayMs) * time.Millisecond
}

// ServerConfig describes how to reach one language server, in any of
// the three transport modes the transport package implements.
type ServerConfig struct {
	Mode Mode `json:"mode,omitempty"` // "stdio" (default), "tcp", or "websocket"

	// stdio mode
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// tcp / websocket mode
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	Path string `json:"path,omitempty"` // websocket URL path, e.g. "/lsp"

	InitializationOptions map[string]any `json:"initialization_options,omitempty"`
}

// EffectiveMode defaults an empty Mode to ModeStdio, matching the
// teacher's LanguageServerConfig.GetMode().
func (c ServerConfig) EffectiveMode() Mode {
	if c.Mode == "" {
		return ModeStdio
	}
	return c.Mode
}

// LSPServerConfig is the top-level document: global policy plus one
// server definition. The teacher's config keyed a whole map of
// per-language servers off a single daemon process; this module
// supervises exactly one server per Supervisor, so the map collapses
// to a single Server field.
type LSPServerConfig struct {
	Global GlobalConfig `json:"global"`
	Server ServerConfig `json:"server"`
}

// Load reads and decodes an LSPServerConfig from r, then applies
// environment overrides.
func Load(r io.Reader) (*LSPServerConfig, error) {
	var cfg LSPServerConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, err
	}
	ApplyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadFile is a convenience wrapper around Load for a path on disk.
func LoadFile(path string) (*LSPServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// ApplyEnvOverrides mutates cfg based on environment variables, so an
// embedder can tune the launch command "from outside" without editing
// the config file on disk.
//
// Supported env vars:
//   - LSPCORE_JAVA_XMX: overrides -Xmx for a "java" command.
//   - Any env var:      ${VAR_NAME} syntax is expanded in Args.
func ApplyEnvOverrides(cfg *LSPServerConfig) {
	if cfg == nil {
		return
	}

	cfg.Server.Args = expandEnvVarsInArgs(cfg.Server.Args)

	if cfg.Server.Command == "java" {
		if xmx := strings.TrimSpace(os.Getenv("LSPCORE_JAVA_XMX")); xmx != "" {
			cfg.Server.Args = setJavaXmx(cfg.Server.Args, xmx)
		}
	}
}

func expandEnvVarsInArgs(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = os.Expand(arg, func(key string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return "${" + key + "}"
		})
	}
	return result
}

func setJavaXmx(args []string, xmx string) []string {
	xmx = strings.TrimSpace(xmx)
	if xmx == "" {
		return args
	}
	if !strings.HasPrefix(xmx, "-Xmx") {
		xmx = "-Xmx" + xmx
	}

	clean := make([]string, 0, len(args)+1)
	for _, a := range args {
		if strings.HasPrefix(a, "-Xmx") {
			continue
		}
		clean = append(clean, a)
	}

	for i, a := range clean {
		if a == "-jar" {
			out := make([]string, 0, len(clean)+1)
			out = append(out, clean[:i]...)
			out = append(out, xmx)
			out = append(out, clean[i:]...)
			return out
		}
	}

	return append([]string{xmx}, clean...)
}
