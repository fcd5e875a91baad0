package vhci

import (
	"fmt"
	"testing"
)

func TestErrorClassifiers(t *testing.T) {
	cases := []struct {
		err                                       error
		usage, network, protocol, forwarder, none bool
	}{
		{fmt.Errorf("wrap: %w", ErrInvalidRequest), true, false, false, false, false},
		{fmt.Errorf("wrap: %w", ErrNetwork), false, true, false, false, false},
		{fmt.Errorf("wrap: %w", ErrDeviceNotConnected), false, true, false, false, false},
		{fmt.Errorf("wrap: %w", ErrProtocol), false, false, true, false, false},
		{fmt.Errorf("wrap: %w", ErrResource), false, false, true, false, false},
		{fmt.Errorf("wrap: %w", ErrNotSupported), false, false, true, false, false},
		{fmt.Errorf("wrap: %w", ErrForwarder), false, false, false, true, false},
		{fmt.Errorf("some unrelated error"), false, false, false, false, true},
	}

	for _, c := range cases {
		if got := IsUsageError(c.err); got != c.usage {
			t.Errorf("IsUsageError(%v) = %v, want %v", c.err, got, c.usage)
		}
		if got := IsNetworkError(c.err); got != c.network {
			t.Errorf("IsNetworkError(%v) = %v, want %v", c.err, got, c.network)
		}
		if got := IsProtocolError(c.err); got != c.protocol {
			t.Errorf("IsProtocolError(%v) = %v, want %v", c.err, got, c.protocol)
		}
		if got := IsForwarderError(c.err); got != c.forwarder {
			t.Errorf("IsForwarderError(%v) = %v, want %v", c.err, got, c.forwarder)
		}
	}
}

func TestFatalClassification(t *testing.T) {
	if fatal(fmt.Errorf("wrap: %w", ErrNotSupported)) {
		t.Fatalf("ErrNotSupported must not be fatal to the device")
	}
	if fatal(fmt.Errorf("wrap: %w", ErrInvalidRequest)) {
		t.Fatalf("ErrInvalidRequest must not be fatal to the device")
	}
	if !fatal(fmt.Errorf("wrap: %w", ErrProtocol)) {
		t.Fatalf("ErrProtocol must be fatal to the device")
	}
	if !fatal(fmt.Errorf("wrap: %w", ErrNetwork)) {
		t.Fatalf("ErrNetwork must be fatal to the device")
	}
}
