//go:build windows

package vhci

import "testing"

func TestStashAndSplitDirectionRoundTrip(t *testing.T) {
	stashed := stashDirection(42, true)
	seq, dirIn := splitDirection(stashed)
	if seq != 42 || !dirIn {
		t.Fatalf("splitDirection(stashDirection(42, true)) = (%d, %v), want (42, true)", seq, dirIn)
	}

	stashed = stashDirection(42, false)
	seq, dirIn = splitDirection(stashed)
	if seq != 42 || dirIn {
		t.Fatalf("splitDirection(stashDirection(42, false)) = (%d, %v), want (42, false)", seq, dirIn)
	}
}

func TestStripDirectionForWireClearsOnlyTopBit(t *testing.T) {
	h := &Header{Seqnum: stashDirection(7, true)}
	stripDirectionForWire(h)
	if h.Seqnum != 7 {
		t.Fatalf("Seqnum after stripDirectionForWire = %#x, want 7", h.Seqnum)
	}
}

func TestStashDirectionNeverCollidesWithWireSeqnumRange(t *testing.T) {
	// A real wire seqnum never sets the top bit (nextSeqnum masks with
	// 0x7FFFFFFF), so stashing direction can never be mistaken for part of
	// the seqnum itself.
	const maxWireSeqnum = 0x7FFFFFFF
	stashed := stashDirection(maxWireSeqnum, true)
	if stashed&dirBit == 0 {
		t.Fatalf("expected the direction bit to be set")
	}
	seq, _ := splitDirection(stashed)
	if seq != maxWireSeqnum {
		t.Fatalf("splitDirection recovered %#x, want %#x", seq, maxWireSeqnum)
	}
}
