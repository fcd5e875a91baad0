package vhci

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestReadHeaderRejectsShortConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		server.Write([]byte{1, 2, 3}) // fewer than HeaderSize bytes
		server.Close()
	}()

	if _, err := readHeader(client); err == nil {
		t.Fatalf("expected an error reading a truncated header")
	}
}

func TestDispatchHeaderRejectsZeroSeqnumExceptRetUnlink(t *testing.T) {
	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, nil, DefaultKeepaliveConfig())

	if err := dispatchHeader(dev, &Header{Command: RetSubmit, Seqnum: 0}); err == nil {
		t.Fatalf("expected an error for a zero seqnum RET_SUBMIT")
	}
	// RET_UNLINK is allowed to carry seqnum 0 in this state machine check;
	// applyRetUnlink only looks at Status.
	if err := dispatchHeader(dev, &Header{Command: RetUnlink, Seqnum: 0, Status: -int32(104)}); err != nil {
		t.Fatalf("RET_UNLINK with seqnum 0 must not be rejected by the seqnum check: %v", err)
	}
}

func TestDispatchHeaderRejectsUnknownCommand(t *testing.T) {
	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, nil, DefaultKeepaliveConfig())
	if err := dispatchHeader(dev, &Header{Command: CmdSubmit, Seqnum: 1}); err == nil {
		t.Fatalf("expected an error dispatching a CMD_SUBMIT on the receive path")
	}
}

func TestDispatchRetSubmitDrainsUnmatchedSeqnum(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, client, DefaultKeepaliveConfig())
	// No request inserted for seqnum 7, and no direction to recover it
	// from: dispatchRetSubmit's unmatched path can only compute an
	// isochronous drain size, so a non-isoch ActualLength here drains
	// zero bytes and returns immediately without touching the wire.
	h := &Header{Command: RetSubmit, Seqnum: 7, ActualLength: 4}

	done := make(chan error, 1)
	go func() { done <- dispatchHeader(dev, h) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatchHeader on an unmatched RET_SUBMIT must drain quietly: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("dispatchHeader did not return")
	}
}

func TestDispatchRetSubmitCompletesMatchedRequest(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, client, DefaultKeepaliveConfig())

	urb := &URB{TransferBuffer: make([]byte, 4), TransferBufferLength: 4}
	notified := make(chan error, 1)
	req := &Request{
		Seqnum: 3,
		DirIn:  true,
		URB:    urb,
		notify: func(u *URB, err error) { notified <- err },
	}
	dev.requests.insert(req)

	h := &Header{Command: RetSubmit, Seqnum: 3, Status: 0, ActualLength: 4}

	done := make(chan error, 1)
	go func() { done <- dispatchHeader(dev, h) }()

	payload := []byte{1, 2, 3, 4}
	if _, err := server.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatchHeader: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("dispatchHeader did not return")
	}

	select {
	case err := <-notified:
		if err != nil {
			t.Fatalf("completion notify carried an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("completion callback was never invoked")
	}

	if string(urb.TransferBuffer) != string(payload) {
		t.Fatalf("TransferBuffer = %v, want %v", urb.TransferBuffer, payload)
	}
}

func TestDrainPayloadRejectsImplausibleSize(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	if err := drainPayload(client, maxDrainPayload+1, 1); err == nil {
		t.Fatalf("expected an error draining an implausibly large payload")
	}
	if err := drainPayload(client, -1, 1); err == nil {
		t.Fatalf("expected an error draining a negative payload size")
	}
}

func TestDrainPayloadZeroSizeIsNoop(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()
	if err := drainPayload(client, 0, 1); err != nil {
		t.Fatalf("draining zero bytes must not touch the connection: %v", err)
	}
}

func TestReceiveLoopStopsOnContextCancellation(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, client, DefaultKeepaliveConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := receiveLoop(ctx, dev); err == nil {
		t.Fatalf("receiveLoop must report an error when ctx is already cancelled")
	}
}

func TestReceiveLoopReturnsErrorOnClosedConnection(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	dev := newVirtualDevice(testLogEntry(), ImportedDevice{}, client, DefaultKeepaliveConfig())

	if err := receiveLoop(context.Background(), dev); err == nil {
		t.Fatalf("receiveLoop must return an error once the peer closes the connection")
	}
}
