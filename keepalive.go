package vhci

import "time"

// KeepaliveConfig is the TCP keepalive policy for a device's connection
// (§4.5). All three knobs must be independently configurable.
type KeepaliveConfig struct {
	Idle     time.Duration
	Interval time.Duration
	Probes   int
}

// DefaultKeepaliveConfig returns this engine's recommended defaults
// (§4.5): 30s idle, 9 probes, 10s interval.
func DefaultKeepaliveConfig() KeepaliveConfig {
	return KeepaliveConfig{
		Idle:     30 * time.Second,
		Interval: 10 * time.Second,
		Probes:   9,
	}
}
