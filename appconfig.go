package vhci

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the engine's process-wide configuration (ambient stack: every
// knob §4.5 and §6 call out as "MUST be configurable"). Fields are read
// from the environment with go-envconfig, then overridable by functional
// options for callers that construct a Config programmatically. The CLI
// calls NewConfig without options.
type Config struct {
	ConnectTimeout   time.Duration `env:"VHCI_CONNECT_TIMEOUT,default=5s"`
	KeepaliveIdle    time.Duration `env:"VHCI_KEEPALIVE_IDLE,default=30s"`
	KeepaliveInterval time.Duration `env:"VHCI_KEEPALIVE_INTERVAL,default=10s"`
	KeepaliveProbes  int           `env:"VHCI_KEEPALIVE_PROBES,default=9"`
	ForwarderPipe    string        `env:"VHCI_FORWARDER_PIPE,default=\\\\.\\pipe\\usbip-vhci"`
	LogLevel         string        `env:"VHCI_LOG_LEVEL,default=info"`
}

// Option customises a Config built by NewConfig.
type Option func(*Config)

// WithConnectTimeout overrides the initial TCP connect deadline (§5:
// "only the initial connect ... [has] bounded waits").
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithKeepalive overrides all three keepalive knobs at once (§4.5).
func WithKeepalive(cfg KeepaliveConfig) Option {
	return func(c *Config) {
		c.KeepaliveIdle = cfg.Idle
		c.KeepaliveInterval = cfg.Interval
		c.KeepaliveProbes = cfg.Probes
	}
}

// WithForwarderPipe overrides the named pipe path used in forwarder mode
// (§6).
func WithForwarderPipe(path string) Option {
	return func(c *Config) { c.ForwarderPipe = path }
}

// NewConfig loads defaults from the environment and applies opts on top.
func NewConfig(ctx context.Context, opts ...Option) (Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return Config{}, err
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c, nil
}

// Keepalive collects the three loaded keepalive knobs into the struct the
// rest of the engine consumes.
func (c Config) Keepalive() KeepaliveConfig {
	return KeepaliveConfig{
		Idle:     c.KeepaliveIdle,
		Interval: c.KeepaliveInterval,
		Probes:   c.KeepaliveProbes,
	}
}
