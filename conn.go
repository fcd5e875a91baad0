package vhci

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// recvState is the receive state machine's state variable (§4.5): either
// waiting for the next 48-byte header, or reading a known number of
// payload bytes toward either a matched URB or a drain buffer.
type recvState int

const (
	recvHeader recvState = iota
	recvPayload
)

// maxDrainPayload bounds the "obviously impossible size" check §4.5
// requires before allocating a drain buffer for an unmatched RET_SUBMIT.
const maxDrainPayload = 16 << 20

// runConnection drives one VirtualDevice's Connection I/O Loop (§4.5)
// until the socket fails or ctx is cancelled. It runs the receive state
// machine on the calling goroutine's errgroup member; sends happen
// inline from submit()/cancelRequest() under sendMu, so there is no
// separate send goroutine to start here (grounded on async.go's
// context+errgroup-style task split, adapted to one receiver instead of
// a pool of transfer callbacks).
func runConnection(ctx context.Context, dev *VirtualDevice) error {
	if err := tuneSocket(dev.conn, dev.keepalive); err != nil {
		dev.log.WithError(err).Warn("failed to tune socket, continuing with OS defaults")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return receiveLoop(ctx, dev)
	})

	// receiveLoop never returns nil (see its doc comment), so err always
	// carries a cause for unplug. unplug and closeSocket are each run
	// unconditionally here so the socket is torn down on every exit from
	// the loop, not just the explicit plugout path (§4.8, scenario 6).
	err := g.Wait()
	dev.unplug(err)
	if closeErr := dev.closeSocket(); closeErr != nil {
		dev.log.WithError(closeErr).Debug("closing socket after connection loop exit")
	}
	return err
}

// tuneSocket applies §4.5's TCP_NODELAY and keepalive requirements. The
// keepalive knobs themselves are platform-specific (conn_keepalive_*.go).
func tuneSocket(conn net.Conn, keepalive KeepaliveConfig) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	return applyKeepalive(tc, keepalive)
}

// receiveLoop implements the §4.5 state machine. It never returns nil: a
// closed/cancelled connection is reported as an error so the caller's
// unplug has a cause to log.
//
// readHeader blocks indefinitely waiting for the next PDU, so it is
// deliberately kept outside dev.inFlight: unplug shuts down the read side
// to unblock it (shutdownRead), and closeSocket only needs to wait out the
// bounded dispatch work below, never the blocking read itself.
func receiveLoop(ctx context.Context, dev *VirtualDevice) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, err := readHeader(dev.conn)
		if err != nil {
			return fmt.Errorf("%w: read header: %v", ErrNetwork, err)
		}

		dev.inFlight.Add(1)
		err = dispatchHeader(dev, h)
		dev.inFlight.Done()
		if err != nil {
			return err
		}
	}
}

// readHeader reads exactly HeaderSize bytes, retrying short reads inside
// the primitive rather than surfacing them to the state machine (§4.5).
func readHeader(conn net.Conn) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if err := readFull(conn, buf); err != nil {
		return nil, err
	}
	return Decode(buf)
}

func readFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// dispatchHeader handles one decoded header: RET_UNLINK is applied and
// requires no payload; RET_SUBMIT may carry a payload that must be
// attributed to a matched request or drained (§4.5 step 1).
func dispatchHeader(dev *VirtualDevice, h *Header) error {
	if !IsValidSeqnum(h.Seqnum) && h.Command != RetUnlink {
		return fmt.Errorf("%w: zero seqnum on %s", ErrProtocol, h.Command)
	}

	switch h.Command {
	case RetUnlink:
		if applyRetUnlink(h.Status) {
			dev.log.WithField("seqnum", h.Seqnum).Debug("RET_UNLINK confirmed cancellation")
		} else {
			dev.log.WithField("seqnum", h.Seqnum).Debug("RET_UNLINK raced with RET_SUBMIT, no-op")
		}
		return nil

	case RetSubmit:
		return dispatchRetSubmit(dev, h)

	default:
		return fmt.Errorf("%w: unexpected command on receive path: %s", ErrProtocol, h.Command)
	}
}

func dispatchRetSubmit(dev *VirtualDevice, h *Header) error {
	req, found := dev.requests.removeBySeqnum(h.Seqnum)

	var dir Direction
	if found {
		if req.DirIn {
			dir = DirIn
		}
	}
	size := PayloadSize(h, dir)

	if !found {
		return drainPayload(dev.conn, size, h.Seqnum)
	}

	payload := make([]byte, size)
	if err := readFull(dev.conn, payload); err != nil {
		return fmt.Errorf("%w: read payload for seqnum %d: %v", ErrNetwork, h.Seqnum, err)
	}

	err := applyRetSubmit(dev, req, h, payload)
	if req.notify != nil {
		req.notify(req.URB, err)
	}
	if err != nil && fatal(err) {
		return err
	}
	return nil
}

// drainPayload implements §4.5's "allocate a drain buffer ... and
// transition to Payload(_, drain)" for a RET_SUBMIT whose seqnum the
// table no longer holds (races (b)/(c) of §4.4): read and discard.
func drainPayload(conn net.Conn, size int, seqnum uint32) error {
	if size < 0 || size > maxDrainPayload {
		return fmt.Errorf("%w: implausible drain size %d for seqnum %d", ErrProtocol, size, seqnum)
	}
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	if err := readFull(conn, buf); err != nil {
		return fmt.Errorf("%w: drain payload for seqnum %d: %v", ErrNetwork, seqnum, err)
	}
	return nil
}

// dialDevice opens the TCP connection used for the handshake and the
// lifetime of a VirtualDevice (§6 step 1 runs over this same socket).
func dialDevice(ctx context.Context, log *logrus.Entry, host, service string, connectTimeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	addr := net.JoinHostPort(host, service)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, addr, err)
	}
	log.WithField("addr", addr).Debug("connected")
	return conn, nil
}
