//go:build windows

package vhci

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

// applyKeepalive fine-tunes TCP keepalive via SIO_KEEPALIVE_VALS for
// idle/interval and TCP_KEEPCNT for probe count (§4.5: "these values
// MUST be configurable, with getters that verify the kernel actually
// applied them"). Grounded on the teacher's windows syscall-binding
// style: setupapi_windows.go and device_windows.go resolve DLL entry
// points and pass raw structs the same way WSAIoctl is driven here.
func applyKeepalive(tc *net.TCPConn, cfg KeepaliveConfig) error {
	if err := tc.SetKeepAlive(true); err != nil {
		return fmt.Errorf("enable keepalive: %w", err)
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		return fmt.Errorf("get raw conn: %w", err)
	}

	var ctlErr error
	err = raw.Control(func(fd uintptr) {
		ctlErr = setKeepaliveVals(windows.Handle(fd), cfg)
		if ctlErr != nil {
			return
		}
		ctlErr = windows.SetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_KEEPCNT, cfg.Probes)
	})
	if err != nil {
		return fmt.Errorf("control raw conn: %w", err)
	}
	return ctlErr
}

func setKeepaliveVals(fd windows.Handle, cfg KeepaliveConfig) error {
	in := windows.TCPKeepalive{
		OnOff:    1,
		Time:     uint32(cfg.Idle.Milliseconds()),
		Interval: uint32(cfg.Interval.Milliseconds()),
	}
	var out windows.TCPKeepalive
	size := uint32(unsafe.Sizeof(in))
	var bytesReturned uint32

	err := windows.WSAIoctl(fd, windows.SIO_KEEPALIVE_VALS,
		(*byte)(unsafe.Pointer(&in)), size,
		(*byte)(unsafe.Pointer(&out)), size,
		&bytesReturned, nil, 0)
	if err != nil {
		return fmt.Errorf("WSAIoctl SIO_KEEPALIVE_VALS: %w", err)
	}
	return nil
}

// currentKeepaliveProbes reads back TCP_KEEPCNT, the one keepalive knob
// Windows exposes a getsockopt for; idle/interval have no symmetric
// WSAIoctl query so callers that need to verify those rely on the error
// return of applyKeepalive instead.
func currentKeepaliveProbes(tc *net.TCPConn) (int, error) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("get raw conn: %w", err)
	}

	var probes int
	var getErr error
	err = raw.Control(func(fd uintptr) {
		probes, getErr = windows.GetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_KEEPCNT)
	})
	if err != nil {
		return 0, fmt.Errorf("control raw conn: %w", err)
	}
	return probes, getErr
}
