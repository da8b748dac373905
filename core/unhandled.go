package core

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rockerboo/lsp-client-core/logger"
)

// unhandledLevel controls how loudly UnhandledEventLogger reports an
// inbound ServerEvent nobody claimed.
type unhandledLevel string

const (
	unhandledOff   unhandledLevel = "off"
	unhandledDebug unhandledLevel = "debug"
	unhandledInfo  unhandledLevel = "info"
)

type unhandledConfig struct {
	level         unhandledLevel
	window        time.Duration
	burstPerKey   int
	maxParamBytes int
}

func loadUnhandledConfig() unhandledConfig {
	cfg := unhandledConfig{
		level:         unhandledDebug,
		window:        10 * time.Second,
		burstPerKey:   3,
		maxParamBytes: 4096,
	}

	if v := os.Getenv("LSPCORE_UNHANDLED_LEVEL"); v != "" {
		switch unhandledLevel(v) {
		case unhandledOff, unhandledDebug, unhandledInfo:
			cfg.level = unhandledLevel(v)
		}
	}
	if v := os.Getenv("LSPCORE_UNHANDLED_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.window = d
		}
	}
	if v := os.Getenv("LSPCORE_UNHANDLED_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.burstPerKey = n
		}
	}
	if v := os.Getenv("LSPCORE_UNHANDLED_MAX_PARAM_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.maxParamBytes = n
		}
	}

	return cfg
}

type unhandledBucket struct {
	windowStart time.Time
	emitted     int
	suppressed  int
	suppressMsg bool
}

// UnhandledEventLogger applies windowed, per-method burst-limited
// logging to inbound events the rest of the system didn't claim —
// the Initializer's own register/unregisterCapability handling, or
// the embedder's request/notification handler. It exists so a noisy
// or chatty server can't flood the log.
type UnhandledEventLogger struct {
	once sync.Once
	cfg  unhandledConfig

	mu      sync.Mutex
	buckets map[string]*unhandledBucket
}

// NewUnhandledEventLogger returns a ready logger; configuration is
// lazily loaded from the environment on first use.
func NewUnhandledEventLogger() *UnhandledEventLogger {
	return &UnhandledEventLogger{buckets: make(map[string]*unhandledBucket)}
}

// Log reports method/params as unhandled, subject to the configured
// window and burst limit.
func (u *UnhandledEventLogger) Log(method string, params []byte) {
	u.once.Do(func() { u.cfg = loadUnhandledConfig() })
	cfg := u.cfg
	if cfg.level == unhandledOff {
		return
	}

	now := time.Now()

	u.mu.Lock()
	b := u.buckets[method]
	if b == nil {
		b = &unhandledBucket{windowStart: now}
		u.buckets[method] = b
	}

	if cfg.window > 0 && now.Sub(b.windowStart) >= cfg.window {
		if b.suppressed > 0 {
			msg := fmt.Sprintf("unhandled event suppressed: method=%s suppressed=%d window=%s", method, b.suppressed, cfg.window)
			u.mu.Unlock()
			logByLevel(cfg.level, msg)
			u.mu.Lock()
		}
		b.windowStart = now
		b.emitted = 0
		b.suppressed = 0
		b.suppressMsg = false
	}

	if cfg.burstPerKey == 0 || b.emitted >= cfg.burstPerKey {
		b.suppressed++
		needSuppressMsg := !b.suppressMsg && cfg.burstPerKey > 0
		if needSuppressMsg {
			b.suppressMsg = true
		}
		u.mu.Unlock()

		if needSuppressMsg {
			logByLevel(cfg.level, fmt.Sprintf("unhandled event flood detected: method=%s burst=%d window=%s (suppressing further)", method, cfg.burstPerKey, cfg.window))
		}
		return
	}

	b.emitted++
	u.mu.Unlock()

	msg := fmt.Sprintf("unhandled event: %s", method)
	switch {
	case len(params) == 0:
		msg = fmt.Sprintf("%s (no params)", msg)
	case cfg.maxParamBytes == 0:
	case cfg.maxParamBytes > 0 && len(params) > cfg.maxParamBytes:
		msg = fmt.Sprintf("%s params=%s...(truncated)", msg, string(params[:cfg.maxParamBytes]))
	default:
		msg = fmt.Sprintf("%s params=%s", msg, string(params))
	}

	logByLevel(cfg.level, msg)
}

func logByLevel(level unhandledLevel, msg string) {
	if level == unhandledInfo {
		logger.Info(msg)
		return
	}
	logger.Debug(msg)
}
