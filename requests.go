package vhci

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// requestTable is a cancel-safe queue of outstanding Requests for one
// virtual device (§4.4), grounded on the original driver's csq.cpp IO_CSQ
// callbacks: insert/remove/peek under one lock. The only peek predicate is
// the pipe-handle match built into removeByPipe.
type requestTable struct {
	mu      sync.Mutex
	entries map[uint32]*Request // seqnum -> request
	log     *logrus.Entry
}

func newRequestTable(log *logrus.Entry) *requestTable {
	return &requestTable{
		entries: make(map[uint32]*Request),
		log:     log,
	}
}

// insert implements csq.cpp's InsertIrp/enqueue_irp.
func (t *requestTable) insert(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[req.Seqnum] = req
}

// removeBySeqnum implements dequeue_irp: an O(1) lookup-and-remove (the
// table is a map, not the original driver's linked list, since Go gives us a
// better structure for the same contract). A miss is not an error — it is
// races (b)/(c) of §4.4, logged and ignored by the caller.
func (t *requestTable) removeBySeqnum(seqnum uint32) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.entries[seqnum]
	if ok {
		delete(t.entries, seqnum)
	}
	return req, ok
}

// removeByPipe drains every entry whose pipe handle matches, for
// ABORT_PIPE (§4.4 peek_by_pipe). Order is unspecified, matching the CSQ's
// list-walk semantics.
func (t *requestTable) removeByPipe(pipe PipeHandle) []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Request
	for seqnum, req := range t.entries {
		if req.Pipe.Handle == pipe {
			out = append(out, req)
			delete(t.entries, seqnum)
		}
	}
	return out
}

// drainAll empties the table, for device unplug, which completes every
// drained request with StatusDeviceGone and ErrDeviceNotConnected.
func (t *requestTable) drainAll() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Request, 0, len(t.entries))
	for _, req := range t.entries {
		out = append(out, req)
	}
	t.entries = make(map[uint32]*Request)
	return out
}

// len reports the number of outstanding requests. The lifetime
// coordinator does not use it; closeSocket waits on inFlight instead.
func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// cancel implements on_cancel(irp) (§4.4): if seqnum is still present, it
// is removed and the caller must enqueue CMD_UNLINK and complete the URB
// with STATUS_CANCELLED. If not present, the response already arrived or
// is racing in (cases (a)-(c)); the caller does nothing further.
func (t *requestTable) cancel(seqnum uint32) (*Request, bool) {
	req, ok := t.removeBySeqnum(seqnum)
	if !ok {
		t.log.WithField("seqnum", seqnum).Debug("cancel raced with completion, no-op")
	}
	return req, ok
}
