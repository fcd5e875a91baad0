package vhci

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// fallbackFrameNumber is GET_CURRENT_FRAME_NUMBER's answer before the
// device's frame clock has ever advanced (§4.2).
const fallbackFrameNumber uint32 = 100

// readCloser is satisfied by *net.TCPConn. Asserting against it lets
// unplug half-close the read side without assuming the connection is a
// real TCP socket (test doubles such as net.Pipe conns don't implement
// it and are simply left alone).
type readCloser interface {
	CloseRead() error
}

// DeviceState is one of the four states a VirtualDevice moves through
// (§3): Connecting -> Plugged -> Unplugging -> Removed. The transition to
// Unplugging is the only one that may be triggered from more than one
// place at once, which is why unplug() below is built around sync.Once.
type DeviceState int

const (
	StateConnecting DeviceState = iota
	StatePlugged
	StateUnplugging
	StateRemoved
)

func (s DeviceState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePlugged:
		return "plugged"
	case StateUnplugging:
		return "unplugging"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ImportedDevice identifies the remote device a VirtualDevice speaks for,
// the information GET_IMPORTED_DEVICES reports back (§6).
type ImportedDevice struct {
	Port    int
	Host    string
	Service string
	BusID   string
	Devid   uint32
}

// VirtualDevice is one imported remote USB device (§3 "VirtualDevice").
// It owns the TCP socket, the descriptor cache, the request table, the
// seqnum counter, and the current frame-number clock used to answer
// isochronous scheduling queries.
type VirtualDevice struct {
	log *logrus.Entry

	imported ImportedDevice

	conn      net.Conn
	sendMu    sync.Mutex
	keepalive KeepaliveConfig

	requests *requestTable
	seqnum   uint32 // atomic; low 31 bits are the wire seqnum (§3)

	descriptors *descriptorCache

	mu             sync.Mutex
	state          DeviceState
	currentIntfNum uint8
	currentIntfAlt uint8

	frameNumber uint32 // atomic, monotonically advancing (§3)

	unplugOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
	closed     chan struct{}

	// inFlight implements §4.8's "close is deferred until the
	// pending-receives counter and the pending-sends counter both drop
	// to zero": every send, and every receive dispatch once its header
	// has been read, Adds before starting and Dones when finished, so
	// closeSocket's Wait blocks until both are quiescent. The blocking
	// header read itself is not counted (see receiveLoop).
	inFlight sync.WaitGroup
}

func newVirtualDevice(log *logrus.Entry, imported ImportedDevice, conn net.Conn, keepalive KeepaliveConfig) *VirtualDevice {
	return &VirtualDevice{
		log:         log,
		imported:    imported,
		conn:        conn,
		keepalive:   keepalive,
		requests:    newRequestTable(log),
		descriptors: newDescriptorCache(),
		state:       StateConnecting,
		closed:      make(chan struct{}),
	}
}

// nextSeqnum issues a fresh, non-zero, top-bit-clear seqnum (§3: "the top
// bit is never set by the translator"). Wraps at 2^31-1 back to 1, which
// in practice never matters: the table cannot hold anywhere near that
// many outstanding requests.
func (d *VirtualDevice) nextSeqnum() uint32 {
	for {
		n := atomic.AddUint32(&d.seqnum, 1) & 0x7FFFFFFF
		if n != 0 {
			return n
		}
	}
}

func (d *VirtualDevice) currentFrameNumber() uint32 {
	return atomic.LoadUint32(&d.frameNumber)
}

// frameNumberOrFallback answers GET_CURRENT_FRAME_NUMBER (§4.2): the live
// counter once it has advanced at least once, otherwise the fixed fallback
// of 100, since a frame number of 0 is indistinguishable from "never
// started a frame."
func (d *VirtualDevice) frameNumberOrFallback() uint32 {
	if n := d.currentFrameNumber(); n != 0 {
		return n
	}
	return fallbackFrameNumber
}

func (d *VirtualDevice) advanceFrameNumber() uint32 {
	return atomic.AddUint32(&d.frameNumber, 1)
}

func (d *VirtualDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *VirtualDevice) setState(s DeviceState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// checkConnected implements the §4.8 rule that "all new ioctls [after
// unplug] fail with DEVICE_NOT_CONNECTED".
func (d *VirtualDevice) checkConnected() error {
	if d.State() != StatePlugged && d.State() != StateConnecting {
		return fmt.Errorf("%w: device %s", ErrDeviceNotConnected, d.imported.BusID)
	}
	return nil
}

// SubmitURB is the entry point the out-of-scope bus driver uses to hand a
// URB to this engine (§2: "OS stack submits a URB"). GET_CURRENT_FRAME_NUMBER
// and ABORT_PIPE are answered locally and never reach the translator or the
// wire; everything else is translated to a CMD_SUBMIT PDU and recorded in
// the request table before being sent.
func (d *VirtualDevice) SubmitURB(ctx context.Context, urb *URB, notify CompletionFunc) error {
	if err := d.checkConnected(); err != nil {
		return err
	}

	switch urb.Function {
	case URBFunctionGetCurrentFrameNumber:
		urb.FrameNumber = d.frameNumberOrFallback()
		urb.Status = StatusSuccess
		if notify != nil {
			notify(urb, nil)
		}
		return nil

	case URBFunctionAbortPipe:
		d.abortPipe(urb.Pipe.Handle)
		urb.Status = StatusSuccess
		if notify != nil {
			notify(urb, nil)
		}
		return nil
	}

	seqnum := d.nextSeqnum()
	dirIn, _ := reconcileDirection(&Request{Pipe: urb.Pipe, Setup: urb.Setup, URB: urb})

	req := &Request{
		Seqnum:   seqnum,
		Pipe:     urb.Pipe,
		Function: urb.Function,
		Setup:    urb.Setup,
		URB:      urb,
		DirIn:    dirIn,
		notify:   notify,
	}

	h, payload, err := buildCmdSubmit(d.imported.Devid, seqnum, req)
	if err != nil {
		return err
	}
	req.DirIn = h.Direction == DirIn

	return d.submit(ctx, req, Encode(h), payload)
}

// submit enqueues req in the request table and sends its CMD_SUBMIT PDU
// (§4.2, §4.4). The send is serialised against every other sender by
// sendMu, matching §4.5's "send queue serialised by a lock".
func (d *VirtualDevice) submit(_ context.Context, req *Request, header []byte, payload []byte) error {
	if err := d.checkConnected(); err != nil {
		return err
	}

	d.requests.insert(req)
	d.inFlight.Add(1)
	defer d.inFlight.Done()

	if err := d.sendLocked(header, payload); err != nil {
		d.requests.removeBySeqnum(req.Seqnum)
		return err
	}
	return nil
}

func (d *VirtualDevice) sendLocked(header, payload []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if _, err := d.conn.Write(header); err != nil {
		return fmt.Errorf("%w: write header: %v", ErrNetwork, err)
	}
	if len(payload) > 0 {
		if _, err := d.conn.Write(payload); err != nil {
			return fmt.Errorf("%w: write payload: %v", ErrNetwork, err)
		}
	}
	return nil
}

// cancelRequest implements the host-initiated single-URB cancel path
// (§5): remove from the table, send CMD_UNLINK, complete synchronously
// with StatusCancelled. A miss (already completed) is a no-op.
func (d *VirtualDevice) cancelRequest(seqnum uint32) {
	req, ok := d.requests.cancel(seqnum)
	if !ok {
		return
	}

	unlinkSeq := d.nextSeqnum()
	h := buildCmdUnlink(d.imported.Devid, unlinkSeq, seqnum)
	d.inFlight.Add(1)
	err := d.sendLocked(Encode(h), nil)
	d.inFlight.Done()
	if err != nil {
		d.log.WithError(err).Warn("failed to send CMD_UNLINK, unplugging device")
		d.unplug(err)
	}

	req.URB.Status = StatusCancelled
	if req.notify != nil {
		req.notify(req.URB, ErrCancelled)
	}
}

// abortPipe implements ABORT_PIPE: cancel every request matching handle
// (§4.4 peek_by_pipe, §5).
func (d *VirtualDevice) abortPipe(handle PipeHandle) {
	for _, req := range d.requests.removeByPipe(handle) {
		req.URB.Status = StatusCancelled
		if req.notify != nil {
			req.notify(req.URB, ErrCancelled)
		}
	}
}

// unplug is the Lifetime Coordinator's idempotent teardown (§4.8). It may
// be called when the receive loop exits (protocol/network error, including
// a descriptor mismatch reported by a GET_DESCRIPTOR completion), from a
// control-surface PLUGOUT_HARDWARE, or from a failed CMD_UNLINK send; only
// the first caller does any work.
func (d *VirtualDevice) unplug(cause error) {
	d.unplugOnce.Do(func() {
		d.setState(StateUnplugging)
		d.log.WithError(cause).Info("unplugging device")

		// Shut down the read side first so receiveLoop's blocking
		// readHeader returns and releases any in-flight dispatch work
		// closeSocket is about to wait on (§4.8: "shutdown read then
		// close" broken into two steps precisely to avoid this deadlock).
		d.shutdownRead()

		pending := d.requests.drainAll()
		for _, req := range pending {
			req.URB.Status = StatusDeviceGone
			if req.notify != nil {
				req.notify(req.URB, ErrDeviceNotConnected)
			}
		}

		close(d.closed)
		d.setState(StateRemoved)
	})
}

// shutdownRead half-closes the read side of the socket, if it supports
// it, to unblock a goroutine parked in readHeader without disturbing any
// write in flight.
func (d *VirtualDevice) shutdownRead() {
	rc, ok := d.conn.(readCloser)
	if !ok {
		return
	}
	if err := rc.CloseRead(); err != nil {
		d.log.WithError(err).Debug("failed to shut down read side of socket")
	}
}

// closeSocket blocks until every in-flight send and the bounded receive
// dispatch this device issued have returned (§4.8's "close is deferred"
// rule), then closes the socket exactly once, however many of
// runConnection's exit path and an explicit PLUGOUT_HARDWARE race to call
// it.
func (d *VirtualDevice) closeSocket() error {
	d.closeOnce.Do(func() {
		d.inFlight.Wait()
		d.closeErr = d.conn.Close()
	})
	return d.closeErr
}
