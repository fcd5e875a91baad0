//go:build windows

package vhci

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/sirupsen/logrus"
)

// dirBit is the top bit of the 32-bit seqnum the forwarder convention
// steals to remember submit direction locally (§6): "stashes the
// submit-direction in the top bit of the 32-bit seqnum locally and
// clears it before transmitting; on receive it restores direction by
// masking the top bit back."
const dirBit uint32 = 1 << 31

// stashDirection sets dirBit on seqnum when dirIn, for forwarder-side
// bookkeeping only. It must never be applied to a seqnum about to be
// written to the socket.
func stashDirection(seqnum uint32, dirIn bool) uint32 {
	if dirIn {
		return seqnum | dirBit
	}
	return seqnum &^ dirBit
}

// splitDirection reverses stashDirection: returns the wire seqnum (top
// bit cleared) and whether it was an IN transfer.
func splitDirection(stashed uint32) (seqnum uint32, dirIn bool) {
	return stashed &^ dirBit, stashed&dirBit != 0
}

// stripDirectionForWire clears dirBit, the §6 requirement that "this
// convention is internal and MUST be stripped before any byte hits the
// socket."
func stripDirectionForWire(h *Header) {
	h.Seqnum &^= dirBit
}

// Forwarder bridges a local named pipe (kernel-side "attacher", per §6)
// to a remote USB/IP server's TCP connection, relaying PDUs verbatim
// except for the seqnum direction-bit convention above. Grounded on the
// go-winio named-pipe client/server pattern used across the pack (e.g.
// 0xinfinitykernel-telepresence, DataDog-datadog-agent) for local IPC
// bridging.
type Forwarder struct {
	log      *logrus.Entry
	pipePath string
}

// NewForwarder builds a Forwarder listening on pipePath (§4 Config's
// ForwarderPipe).
func NewForwarder(log *logrus.Entry, pipePath string) *Forwarder {
	return &Forwarder{log: log, pipePath: pipePath}
}

// Serve accepts one pipe client at a time and bridges it to conn until
// ctx is cancelled or either side closes. Each accepted connection is
// one VirtualDevice's worth of traffic multiplexed over the pipe.
func (f *Forwarder) Serve(ctx context.Context, conn net.Conn) error {
	listener, err := winio.ListenPipe(f.pipePath, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;SY)(A;;GA;;;BA)",
		MessageMode:        false,
	})
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", ErrForwarder, f.pipePath, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		pipeConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: accept pipe client: %v", ErrNetwork, err)
		}

		go f.bridge(pipeConn, conn)
	}
}

// bridge relays PDUs between a local pipe client and a remote server
// socket, rewriting the direction-stashed seqnum on the pipe side into a
// clean wire seqnum and back (§6). It does not interpret payloads: those
// already carry whatever shape the Wire Codec produced upstream.
func (f *Forwarder) bridge(pipeConn, serverConn net.Conn) {
	defer pipeConn.Close()

	errc := make(chan error, 2)
	go func() { errc <- forwardPipeToServer(pipeConn, serverConn) }()
	go func() { errc <- forwardServerToPipe(serverConn, pipeConn) }()

	if err := <-errc; err != nil && err != io.EOF {
		f.log.WithError(err).Debug("forwarder bridge ended")
	}
}

func forwardPipeToServer(pipeConn, serverConn net.Conn) error {
	buf := make([]byte, HeaderSize)
	for {
		if err := readFull(pipeConn, buf); err != nil {
			return err
		}
		h, err := Decode(buf)
		if err != nil {
			return err
		}

		_, dirIn := splitDirection(h.Seqnum)
		stripDirectionForWire(h)

		wire := Encode(h)
		if err := writeFull(serverConn, wire); err != nil {
			return err
		}

		n := PayloadSize(h, directionOf(dirIn))
		if n > 0 {
			payload := make([]byte, n)
			if err := readFull(pipeConn, payload); err != nil {
				return err
			}
			if err := writeFull(serverConn, payload); err != nil {
				return err
			}
		}
	}
}

func forwardServerToPipe(serverConn, pipeConn net.Conn) error {
	buf := make([]byte, HeaderSize)
	for {
		if err := readFull(serverConn, buf); err != nil {
			return err
		}
		h, err := Decode(buf)
		if err != nil {
			return err
		}

		wire := Encode(h)
		if err := writeFull(pipeConn, wire); err != nil {
			return err
		}

		n := PayloadSize(h, DirIn)
		if n > 0 {
			payload := make([]byte, n)
			if err := readFull(serverConn, payload); err != nil {
				return err
			}
			if err := writeFull(pipeConn, payload); err != nil {
				return err
			}
		}
	}
}

func directionOf(dirIn bool) Direction {
	if dirIn {
		return DirIn
	}
	return DirOut
}

// dialPipeClient connects to a forwarder's pipe as a client, for the
// kernel-side half of the bridge during tests and local tooling.
func dialPipeClient(ctx context.Context, pipePath string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return winio.DialPipeContext(dialCtx, pipePath)
}
