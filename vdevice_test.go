package vhci

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func newPipeDevice() (dev *VirtualDevice, server net.Conn) {
	client, server := net.Pipe()
	dev = newVirtualDevice(testLogEntry(), ImportedDevice{BusID: "1-1", Devid: devid(1, 1)}, client, DefaultKeepaliveConfig())
	dev.setState(StatePlugged)
	return dev, server
}

func TestNextSeqnumNeverReturnsZero(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()
	dev.seqnum = 0x7FFFFFFE // one increment away from wrapping past the 31-bit mask
	if got := dev.nextSeqnum(); got == 0 {
		t.Fatalf("nextSeqnum must never return 0")
	}
	if got := dev.nextSeqnum(); got == 0 {
		t.Fatalf("nextSeqnum must skip 0 when the counter wraps")
	}
}

func TestFrameNumberAdvances(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()
	if dev.currentFrameNumber() != 0 {
		t.Fatalf("frame number should start at 0")
	}
	if got := dev.advanceFrameNumber(); got != 1 {
		t.Fatalf("advanceFrameNumber = %d, want 1", got)
	}
	if dev.currentFrameNumber() != 1 {
		t.Fatalf("currentFrameNumber = %d, want 1", dev.currentFrameNumber())
	}
}

func TestCheckConnectedAllowsConnectingAndPlugged(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()
	dev.setState(StateConnecting)
	if err := dev.checkConnected(); err != nil {
		t.Fatalf("checkConnected in StateConnecting: %v", err)
	}
	dev.setState(StatePlugged)
	if err := dev.checkConnected(); err != nil {
		t.Fatalf("checkConnected in StatePlugged: %v", err)
	}
	dev.setState(StateRemoved)
	if err := dev.checkConnected(); err == nil {
		t.Fatalf("checkConnected in StateRemoved must fail")
	}
}

func TestSubmitWritesHeaderAndPayload(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, HeaderSize+4)
		io.ReadFull(server, buf)
		done <- buf
	}()

	req := &Request{Seqnum: 5, URB: &URB{}}
	h := &Header{Command: CmdSubmit, Seqnum: 5, Devid: dev.imported.Devid, TransferBufferLength: 4}
	if err := dev.submit(context.Background(), req, Encode(h), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case got := <-done:
		if got[HeaderSize] != 1 || got[HeaderSize+3] != 4 {
			t.Fatalf("payload not written correctly: %v", got[HeaderSize:])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for submit to write to the socket")
	}

	if _, ok := dev.requests.removeBySeqnum(5); !ok {
		t.Fatalf("submit must insert the request into the request table")
	}
}

func TestSubmitFailsWhenNotConnected(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()
	dev.setState(StateRemoved)

	req := &Request{Seqnum: 1, URB: &URB{}}
	if err := dev.submit(context.Background(), req, Encode(&Header{Command: CmdSubmit}), nil); err == nil {
		t.Fatalf("submit must fail once the device is no longer connected")
	}
}

func TestCancelRequestRaceIsANoOp(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()

	go io.Copy(io.Discard, server) // absorb any CMD_UNLINK so cancelRequest never blocks

	// Seqnum 9 was never inserted: this simulates RET_SUBMIT beating the cancel.
	dev.cancelRequest(9)
}

func TestCancelRequestCompletesWithStatusCancelled(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()
	go io.Copy(io.Discard, server)

	urb := &URB{}
	notified := make(chan error, 1)
	req := &Request{Seqnum: 9, URB: urb, notify: func(u *URB, err error) { notified <- err }}
	dev.requests.insert(req)

	dev.cancelRequest(9)

	select {
	case err := <-notified:
		if err != ErrCancelled {
			t.Fatalf("notify err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancelRequest's notification")
	}
	if urb.Status != StatusCancelled {
		t.Fatalf("urb.Status = %v, want StatusCancelled", urb.Status)
	}
}

func TestUnplugDrainsPendingRequestsWithDeviceGone(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()

	var notifiedErrs []error
	for i := uint32(1); i <= 2; i++ {
		urb := &URB{}
		seq := i
		req := &Request{Seqnum: seq, URB: urb, notify: func(u *URB, err error) { notifiedErrs = append(notifiedErrs, err) }}
		dev.requests.insert(req)
	}

	dev.unplug(ErrNetwork)

	if len(notifiedErrs) != 2 {
		t.Fatalf("unplug notified %d requests, want 2", len(notifiedErrs))
	}
	for _, err := range notifiedErrs {
		if err != ErrDeviceNotConnected {
			t.Fatalf("notify err = %v, want ErrDeviceNotConnected", err)
		}
	}
	if dev.State() != StateRemoved {
		t.Fatalf("state after unplug = %v, want StateRemoved", dev.State())
	}
	if dev.requests.len() != 0 {
		t.Fatalf("request table must be empty after unplug")
	}
}

func TestUnplugIsIdempotent(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()

	dev.unplug(ErrNetwork)
	dev.unplug(ErrProtocol) // must not panic on a second call (closing a closed channel) or re-run teardown

	if dev.State() != StateRemoved {
		t.Fatalf("state after double unplug = %v, want StateRemoved", dev.State())
	}
}

func TestAbortPipeCancelsMatchingRequestsOnly(t *testing.T) {
	dev, server := newPipeDevice()
	defer server.Close()

	pipeA := PipeHandle(1)
	pipeB := PipeHandle(2)
	urbA := &URB{}
	urbB := &URB{}
	var cancelledA, cancelledB bool
	dev.requests.insert(&Request{Seqnum: 1, Pipe: PipeInfo{Handle: pipeA}, URB: urbA, notify: func(u *URB, err error) { cancelledA = true }})
	dev.requests.insert(&Request{Seqnum: 2, Pipe: PipeInfo{Handle: pipeB}, URB: urbB, notify: func(u *URB, err error) { cancelledB = true }})

	dev.abortPipe(pipeA)

	if !cancelledA {
		t.Fatalf("abortPipe must cancel the request on the matching pipe")
	}
	if cancelledB {
		t.Fatalf("abortPipe must not touch requests on a different pipe")
	}
	if dev.requests.len() != 1 {
		t.Fatalf("request table len = %d, want 1", dev.requests.len())
	}
}
