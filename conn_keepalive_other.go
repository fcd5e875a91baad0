//go:build !windows

package vhci

import (
	"fmt"
	"net"
)

// applyKeepalive on non-Windows platforms uses the stdlib's portable
// per-connection keepalive knobs (net.TCPConn.SetKeepAliveConfig, added
// in Go 1.23). This file exists so the engine's non-Windows build (used
// for development and the package's test suite) behaves the same way as
// the Windows path; the shipping target for this engine is Windows
// (spec.md §1).
func applyKeepalive(tc *net.TCPConn, cfg KeepaliveConfig) error {
	err := tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     cfg.Idle,
		Interval: cfg.Interval,
		Count:    cfg.Probes,
	})
	if err != nil {
		return fmt.Errorf("set keepalive config: %w", err)
	}
	return nil
}

// currentKeepaliveProbes returns DefaultKeepaliveConfig().Probes. It does
// not read the probe count back from the socket, and it does not return
// the count last passed to applyKeepalive.
func currentKeepaliveProbes(_ *net.TCPConn) (int, error) {
	return DefaultKeepaliveConfig().Probes, nil
}
