package vhci

import "testing"

func TestEncodeDecodeCmdSubmitRoundTrip(t *testing.T) {
	h := &Header{
		Command:              CmdSubmit,
		Seqnum:               7,
		Devid:                devid(1, 2),
		Direction:            DirIn,
		Ep:                   1,
		TransferFlags:        transferFlagDirIn,
		TransferBufferLength: 512,
		Interval:             8,
		Setup:                [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
	}

	got, err := Decode(Encode(h))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestEncodeDecodeRetSubmitRoundTrip(t *testing.T) {
	h := &Header{
		Command:      RetSubmit,
		Seqnum:       7,
		Devid:        devid(1, 2),
		Status:       0,
		ActualLength: 300,
		ErrorCount:   0,
	}

	got, err := Decode(Encode(h))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestEncodeDecodeIsochNumberOfPacketsZeroIsDistinctFromNotIsoch(t *testing.T) {
	h := &Header{Command: CmdSubmit, Seqnum: 1, Isoch: true, NumberOfPackets: 0}
	got, err := Decode(Encode(h))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Isoch {
		t.Fatalf("a zero-packet isochronous transfer must decode with Isoch == true")
	}
	if got.NumberOfPackets != 0 {
		t.Fatalf("NumberOfPackets = %d, want 0", got.NumberOfPackets)
	}

	nonIsoch := &Header{Command: CmdSubmit, Seqnum: 1}
	got2, err := Decode(Encode(nonIsoch))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got2.Isoch {
		t.Fatalf("a non-isochronous CMD_SUBMIT must decode with Isoch == false")
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected error decoding a short buffer")
	}
}

func TestDecodeRejectsUnknownCommand(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[3] = 0xFF // command = 0xFF, not one of the four known values
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error decoding an unknown command")
	}
}

func TestPayloadSizeBulkInActualLengthDrivesSize(t *testing.T) {
	h := &Header{Command: RetSubmit, ActualLength: 300}
	if n := PayloadSize(h, DirIn); n != 300 {
		t.Fatalf("PayloadSize(DirIn) = %d, want 300", n)
	}
	if n := PayloadSize(h, DirOut); n != 0 {
		t.Fatalf("PayloadSize(DirOut) = %d, want 0 (RET_SUBMIT for an OUT transfer carries no payload)", n)
	}
}

func TestPayloadSizeCmdSubmitOutUsesTransferBufferLength(t *testing.T) {
	h := &Header{Command: CmdSubmit, TransferBufferLength: 64}
	if n := PayloadSize(h, DirOut); n != 64 {
		t.Fatalf("PayloadSize(DirOut) = %d, want 64", n)
	}
	if n := PayloadSize(h, DirIn); n != 0 {
		t.Fatalf("PayloadSize(DirIn) = %d, want 0 (CMD_SUBMIT for an IN transfer carries no payload)", n)
	}
}

func TestPayloadSizeUnlinkCommandsCarryNoPayload(t *testing.T) {
	for _, cmd := range []Command{CmdUnlink, RetUnlink} {
		h := &Header{Command: cmd, TransferBufferLength: 99, ActualLength: 99}
		if n := PayloadSize(h, DirIn); n != 0 {
			t.Fatalf("PayloadSize(%s) = %d, want 0", cmd, n)
		}
	}
}

func TestIsoDescriptorEncodeDecodeRoundTrip(t *testing.T) {
	descs := []IsoPacketDescriptor{
		{Offset: 0, Length: 192, ActualLength: 100, Status: 0},
		{Offset: 192, Length: 192, ActualLength: 0, Status: linuxEPIPE},
		{Offset: 384, Length: 192, ActualLength: 50, Status: 0},
	}
	got, err := decodeIsoDescriptors(encodeIsoDescriptors(descs), len(descs))
	if err != nil {
		t.Fatalf("decodeIsoDescriptors: %v", err)
	}
	for i := range descs {
		if got[i] != descs[i] {
			t.Fatalf("packet %d: got %+v, want %+v", i, got[i], descs[i])
		}
	}
}

func TestDecodeIsoDescriptorsRejectsShortBuffer(t *testing.T) {
	if _, err := decodeIsoDescriptors(make([]byte, isoDescriptorWireSize), 2); err == nil {
		t.Fatalf("expected error decoding a too-short iso descriptor array")
	}
}

func TestIsValidSeqnum(t *testing.T) {
	if IsValidSeqnum(0) {
		t.Fatalf("seqnum 0 must be invalid")
	}
	if !IsValidSeqnum(1) {
		t.Fatalf("seqnum 1 must be valid")
	}
}
