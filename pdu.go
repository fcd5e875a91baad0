package vhci

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the USB/IP protocol version this engine speaks (§6).
const ProtocolVersion uint16 = 0x0111

// HeaderSize is the fixed on-wire PDU header size (§4.1): a 20-byte
// usbip_header_basic followed by a 28-byte variant union.
const HeaderSize = 48

// Command identifies which of the four USB/IP message kinds a PDU carries.
type Command uint32

const (
	CmdSubmit Command = 0x00000001
	CmdUnlink Command = 0x00000002
	RetSubmit Command = 0x00000003
	RetUnlink Command = 0x00000004
)

func (c Command) String() string {
	switch c {
	case CmdSubmit:
		return "CMD_SUBMIT"
	case CmdUnlink:
		return "CMD_UNLINK"
	case RetSubmit:
		return "RET_SUBMIT"
	case RetUnlink:
		return "RET_UNLINK"
	default:
		return fmt.Sprintf("Command(%#x)", uint32(c))
	}
}

// Direction mirrors USBIP_DIR_OUT/USBIP_DIR_IN. RET_SUBMIT and RET_UNLINK
// always carry zero on the wire (§6); callers must remember the original
// submit direction out of band (the request table, or the forwarder's
// seqnum top bit).
type Direction uint32

const (
	DirOut Direction = 0
	DirIn  Direction = 1
)

// notIsochSentinel is the value CMD_SUBMIT/RET_SUBMIT.number_of_packets
// carries on the wire to mean "not isochronous" (§4.1, §8; §9 Open
// Questions decides this the Linux way).
const notIsochSentinel uint32 = 0xFFFFFFFF

// Header is the decoded, host-order representation of a USB/IP PDU header.
// Only the fields relevant to Command are meaningful; the rest read zero.
type Header struct {
	Command   Command
	Seqnum    uint32
	Devid     uint32
	Direction Direction
	Ep        uint32

	// CMD_SUBMIT
	TransferFlags        uint32
	TransferBufferLength uint32
	StartFrame           uint32
	Interval             uint32
	Setup                [8]byte

	// RET_SUBMIT
	Status       int32
	ActualLength uint32
	ErrorCount   uint32

	// CMD_UNLINK
	UnlinkSeqnum uint32

	// Isoch and NumberOfPackets together describe the variant's packet
	// count field (CMD_SUBMIT and RET_SUBMIT only). Isoch distinguishes a
	// legitimate zero-packet isochronous transfer from "not isochronous";
	// Header does not otherwise know which URB function produced it.
	Isoch           bool
	NumberOfPackets uint32
}

// IsValidSeqnum reports whether s could identify a live request. Zero is
// reserved (§4.5: "validate ... seqnum non-zero").
func IsValidSeqnum(s uint32) bool { return s != 0 }

// Encode serialises h into a 48-byte big-endian PDU header (§4.1 "encode").
// The setup packet is copied verbatim (little-endian by USB spec, never
// byte-swapped).
func Encode(h *Header) []byte {
	buf := make([]byte, HeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Command))
	binary.BigEndian.PutUint32(buf[4:8], h.Seqnum)
	binary.BigEndian.PutUint32(buf[8:12], h.Devid)
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Direction))
	binary.BigEndian.PutUint32(buf[16:20], h.Ep)

	v := buf[20:HeaderSize]

	switch h.Command {
	case CmdSubmit:
		binary.BigEndian.PutUint32(v[0:4], h.TransferFlags)
		binary.BigEndian.PutUint32(v[4:8], h.TransferBufferLength)
		binary.BigEndian.PutUint32(v[8:12], h.StartFrame)
		binary.BigEndian.PutUint32(v[12:16], numberOfPacketsWire(h))
		binary.BigEndian.PutUint32(v[16:20], h.Interval)
		copy(v[20:28], h.Setup[:])
	case RetSubmit:
		binary.BigEndian.PutUint32(v[0:4], uint32(h.Status))
		binary.BigEndian.PutUint32(v[4:8], h.ActualLength)
		binary.BigEndian.PutUint32(v[8:12], h.StartFrame)
		binary.BigEndian.PutUint32(v[12:16], numberOfPacketsWire(h))
		binary.BigEndian.PutUint32(v[16:20], h.ErrorCount)
		// remaining 8 bytes are padding, left zero.
	case CmdUnlink:
		binary.BigEndian.PutUint32(v[0:4], h.UnlinkSeqnum)
	case RetUnlink:
		binary.BigEndian.PutUint32(v[0:4], uint32(h.Status))
	}

	return buf
}

func numberOfPacketsWire(h *Header) uint32 {
	if !h.Isoch {
		return notIsochSentinel
	}
	return h.NumberOfPackets
}

// Decode parses a 48-byte big-endian buffer into a Header (§4.1 "decode").
// Whether this PDU belongs to an isochronous transfer is taken from the
// wire sentinel: a CMD_SUBMIT/RET_SUBMIT whose number_of_packets field is
// anything other than 0xFFFFFFFF is isochronous.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrProtocol, HeaderSize, len(buf))
	}

	h := &Header{
		Command:   Command(binary.BigEndian.Uint32(buf[0:4])),
		Seqnum:    binary.BigEndian.Uint32(buf[4:8]),
		Devid:     binary.BigEndian.Uint32(buf[8:12]),
		Direction: Direction(binary.BigEndian.Uint32(buf[12:16])),
		Ep:        binary.BigEndian.Uint32(buf[16:20]),
	}

	v := buf[20:HeaderSize]

	switch h.Command {
	case CmdSubmit:
		h.TransferFlags = binary.BigEndian.Uint32(v[0:4])
		h.TransferBufferLength = binary.BigEndian.Uint32(v[4:8])
		h.StartFrame = binary.BigEndian.Uint32(v[8:12])
		raw := binary.BigEndian.Uint32(v[12:16])
		h.Isoch = raw != notIsochSentinel
		if h.Isoch {
			h.NumberOfPackets = raw
		}
		h.Interval = binary.BigEndian.Uint32(v[16:20])
		copy(h.Setup[:], v[20:28])
	case RetSubmit:
		h.Status = int32(binary.BigEndian.Uint32(v[0:4]))
		h.ActualLength = binary.BigEndian.Uint32(v[4:8])
		h.StartFrame = binary.BigEndian.Uint32(v[8:12])
		raw := binary.BigEndian.Uint32(v[12:16])
		h.Isoch = raw != notIsochSentinel
		if h.Isoch {
			h.NumberOfPackets = raw
		}
		h.ErrorCount = binary.BigEndian.Uint32(v[16:20])
	case CmdUnlink:
		h.UnlinkSeqnum = binary.BigEndian.Uint32(v[0:4])
	case RetUnlink:
		h.Status = int32(binary.BigEndian.Uint32(v[0:4]))
	default:
		return nil, fmt.Errorf("%w: unknown command %#x", ErrProtocol, uint32(h.Command))
	}

	return h, nil
}

// isoDescriptorWireSize is sizeof(usbip_iso_packet_descriptor) on the wire:
// four big-endian uint32/int32 fields (offset, length, actual_length,
// status).
const isoDescriptorWireSize = 16

// PayloadSize returns the number of bytes that follow the header for h,
// given the original submit direction (needed because RET_SUBMIT/RET_UNLINK
// carry Direction == 0 on the wire; see §4.1 and §6).
func PayloadSize(h *Header, dir Direction) int {
	switch h.Command {
	case CmdSubmit:
		n := 0
		if dir == DirOut {
			n = int(h.TransferBufferLength)
		}
		if h.Isoch {
			n += int(h.NumberOfPackets) * isoDescriptorWireSize
		}
		return n
	case RetSubmit:
		n := 0
		if dir == DirIn {
			n = int(h.ActualLength)
		}
		if h.Isoch {
			n += int(h.NumberOfPackets) * isoDescriptorWireSize
		}
		return n
	case CmdUnlink, RetUnlink:
		return 0
	default:
		return 0
	}
}

// IsoPacketDescriptor is the on-wire, gap-free per-packet record used by
// isochronous transfers (§4.6, GLOSSARY).
type IsoPacketDescriptor struct {
	Offset       uint32
	Length       uint32
	ActualLength uint32
	Status       int32
}

func encodeIsoDescriptors(descs []IsoPacketDescriptor) []byte {
	buf := make([]byte, len(descs)*isoDescriptorWireSize)
	for i, d := range descs {
		o := buf[i*isoDescriptorWireSize:]
		binary.BigEndian.PutUint32(o[0:4], d.Offset)
		binary.BigEndian.PutUint32(o[4:8], d.Length)
		binary.BigEndian.PutUint32(o[8:12], d.ActualLength)
		binary.BigEndian.PutUint32(o[12:16], uint32(d.Status))
	}
	return buf
}

func decodeIsoDescriptors(buf []byte, n int) ([]IsoPacketDescriptor, error) {
	if len(buf) < n*isoDescriptorWireSize {
		return nil, fmt.Errorf("%w: iso descriptor array needs %d bytes, got %d", ErrProtocol, n*isoDescriptorWireSize, len(buf))
	}
	descs := make([]IsoPacketDescriptor, n)
	for i := range descs {
		o := buf[i*isoDescriptorWireSize:]
		descs[i] = IsoPacketDescriptor{
			Offset:       binary.BigEndian.Uint32(o[0:4]),
			Length:       binary.BigEndian.Uint32(o[4:8]),
			ActualLength: binary.BigEndian.Uint32(o[8:12]),
			Status:       int32(binary.BigEndian.Uint32(o[12:16])),
		}
	}
	return descs, nil
}
