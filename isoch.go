package vhci

import "fmt"

// buildIsochOutPayload implements the Host → Wire transformation for a
// CMD_SUBMIT isochronous transfer (§4.6). It derives gap-free wire
// descriptors from the host's (possibly gapped) packet list and, for
// DIR_OUT, appends the raw transfer buffer ahead of them.
//
// Each descriptor's offset/length is recomputed from the host side (not
// copied): offset is the host offset, length is the distance to the next
// packet's host offset, and the last packet extends to
// TransferBufferLength. actual_length and status are zero on submit.
func buildIsochOutPayload(urb *URB, dirIn bool) ([]byte, error) {
	n := len(urb.IsochPackets)
	descs := make([]IsoPacketDescriptor, n)
	sum := uint32(0)

	for i := 0; i < n; i++ {
		offset := urb.IsochPackets[i].Offset
		var next uint32
		if i+1 < n {
			next = urb.IsochPackets[i+1].Offset
		} else {
			next = urb.TransferBufferLength
		}
		if next < offset || next > urb.TransferBufferLength {
			return nil, fmt.Errorf("%w: isoch packet %d offset %d, next %d exceeds buffer length %d",
				ErrInvalidRequest, i, offset, next, urb.TransferBufferLength)
		}
		length := next - offset
		descs[i] = IsoPacketDescriptor{Offset: offset, Length: length}
		sum += length
	}

	if n > 0 && sum != urb.TransferBufferLength {
		return nil, fmt.Errorf("%w: isoch descriptor lengths sum to %d, want TransferBufferLength %d",
			ErrInvalidRequest, sum, urb.TransferBufferLength)
	}

	var payload []byte
	if !dirIn && urb.TransferBufferLength > 0 {
		payload = append(payload, urb.TransferBuffer[:urb.TransferBufferLength]...)
	}
	payload = append(payload, encodeIsoDescriptors(descs)...)
	return payload, nil
}

// applyIsochIn implements the Wire → Host transformation for a RET_SUBMIT
// isochronous completion (§4.6). wireDescs is in on-wire order; urb.Isoch
// packets already hold the host's original Offset values from submit time
// (so gaps are recovered, not guessed).
//
// Because the source payload may have been read into the same buffer the
// host packets live in, copying walks from the last packet to the first so
// later reads never clobber not-yet-read earlier source bytes.
func applyIsochIn(urb *URB, wireDescs []IsoPacketDescriptor, payload []byte) error {
	n := len(wireDescs)
	if n != len(urb.IsochPackets) {
		return fmt.Errorf("%w: RET_SUBMIT carries %d iso descriptors, host URB has %d", ErrProtocol, n, len(urb.IsochPackets))
	}

	// src offsets are the packed, gap-free positions within payload; compute
	// them forward first since that only depends on wire lengths.
	srcOffsets := make([]uint32, n)
	running := uint32(0)
	for i := 0; i < n; i++ {
		srcOffsets[i] = running
		if wireDescs[i].ActualLength > wireDescs[i].Length {
			return fmt.Errorf("%w: packet %d actual_length %d exceeds length %d",
				ErrProtocol, i, wireDescs[i].ActualLength, wireDescs[i].Length)
		}
		running += wireDescs[i].ActualLength
	}

	for i := n - 1; i >= 0; i-- {
		wd := wireDescs[i]
		if wd.Offset != urb.IsochPackets[i].Offset {
			return fmt.Errorf("%w: packet %d wire offset %d does not match host offset %d",
				ErrProtocol, i, wd.Offset, urb.IsochPackets[i].Offset)
		}

		src := srcOffsets[i]
		if src+wd.ActualLength > uint32(len(payload)) {
			return fmt.Errorf("%w: packet %d reads past payload (src %d len %d payload %d)",
				ErrProtocol, i, src, wd.ActualLength, len(payload))
		}
		dstStart := wd.Offset
		dstEnd := dstStart + wd.ActualLength
		if dstEnd > uint32(len(urb.TransferBuffer)) {
			return fmt.Errorf("%w: packet %d writes past host buffer (offset %d len %d buffer %d)",
				ErrProtocol, i, dstStart, wd.ActualLength, len(urb.TransferBuffer))
		}

		copy(urb.TransferBuffer[dstStart:dstEnd], payload[src:src+wd.ActualLength])

		// §4.6 phrases the completion invariant as host.Length becoming
		// actual_length; Length is updated in place rather than left at
		// the submitted value, with ActualLength kept alongside it since
		// callers already read that field too.
		urb.IsochPackets[i].Length = wd.ActualLength
		urb.IsochPackets[i].ActualLength = wd.ActualLength
		urb.IsochPackets[i].Status = isoPacketStatus(wd.Status)
	}

	if running != uint32(len(payload)) {
		return fmt.Errorf("%w: iso payload is %d bytes, descriptors account for %d", ErrProtocol, len(payload), running)
	}

	return nil
}

// isoPacketStatus translates one packet's wire errno status to a Windows
// isochronous packet status. Per-packet statuses reuse the same errno
// table as the overall transfer (§4.6: "translated to a Windows
// isochronous status code").
func isoPacketStatus(wireStatus int32) USBDStatus {
	return statusFromErrno(wireStatus)
}

// isochOverallStatus applies the §4.6 rule that an isochronous transfer
// whose every packet failed is reported as USBD_STATUS_ISOCH_REQUEST_FAILED
// regardless of what RET_SUBMIT.status itself said.
func isochOverallStatus(base USBDStatus, numberOfPackets, errorCount uint32) USBDStatus {
	if numberOfPackets > 0 && errorCount == numberOfPackets {
		return StatusIsochRequestFailed
	}
	return base
}
