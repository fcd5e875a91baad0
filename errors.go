package vhci

import "errors"

// Error kinds from spec.md §7. Each is a sentinel checked with errors.Is;
// call sites wrap them with fmt.Errorf("...: %w", ErrXxx) to attach context.
var (
	// ErrProtocol: decoding failed, wrong command/seqnum, size mismatch.
	// Fatal for the affected device; triggers unplug.
	ErrProtocol = errors.New("usbip: protocol error")

	// ErrNetwork: connect, send, receive failure, short transfer. Fatal for
	// the device; triggers unplug and propagates to completion of all
	// pending URBs with StatusDeviceGone and ErrDeviceNotConnected.
	ErrNetwork = errors.New("usbip: network error")

	// ErrResource: allocation or buffer-mapping failure.
	ErrResource = errors.New("usbip: resource error")

	// ErrCancelled: URB removed by cancel.
	ErrCancelled = errors.New("usbip: request cancelled")

	// ErrNotSupported: unsupported URB function / descriptor type.
	ErrNotSupported = errors.New("usbip: not supported")

	// ErrInvalidRequest: malformed input from the OS.
	ErrInvalidRequest = errors.New("usbip: invalid request")

	// ErrDeviceNotConnected is returned by all device operations once
	// Unplug has run (§4.8).
	ErrDeviceNotConnected = errors.New("usbip: device not connected")

	// ErrForwarder covers forwarder-mode launch failures (pipe bind,
	// bridge setup), distinct from the PDU-level errors above (§6 exit
	// code 4).
	ErrForwarder = errors.New("usbip: forwarder error")
)

// fatal reports whether err should trigger device unplug rather than just
// failing the one request it concerns (§7: "Only Not supported and Invalid
// request are surfaced without tearing down the device").
func fatal(err error) bool {
	switch {
	case errors.Is(err, ErrNotSupported), errors.Is(err, ErrInvalidRequest):
		return false
	default:
		return true
	}
}

// IsUsageError, IsNetworkError, IsProtocolError and IsForwarderError
// classify an error for the CLI's exit code (§6): usage covers malformed
// command-line input, reusing ErrInvalidRequest since both mean "the
// caller gave us something we can't act on".
func IsUsageError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrDeviceNotConnected)
}

func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrResource) || errors.Is(err, ErrNotSupported)
}

func IsForwarderError(err error) bool {
	return errors.Is(err, ErrForwarder)
}
