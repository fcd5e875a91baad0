package vhci

// RequestClass distinguishes the bmRequestType "type" field for control
// transfers that target something other than a standard request.
type RequestClass int

const (
	ClassStandard RequestClass = iota
	ClassClass
	ClassVendor
)

// Recipient distinguishes the bmRequestType "recipient" field.
type Recipient int

const (
	RecipDevice Recipient = iota
	RecipInterface
	RecipEndpoint
	RecipOther
)

// HostIsoPacket is one isochronous packet as the OS USB stack describes it:
// Offset and Length may have gaps between consecutive packets (§4.6).
type HostIsoPacket struct {
	Offset       uint32
	Length       uint32
	ActualLength uint32
	Status       USBDStatus
}

// URB is this engine's host-side stand-in for the OS's USB Request Block
// (GLOSSARY). It is deliberately flatter than the real Windows URB union:
// the bus-driver layer that owns the real URB is out of scope (spec.md
// §1), so callers populate only the fields relevant to Function and read
// back only the fields the matching completer writes.
type URB struct {
	Function URBFunction
	Pipe     PipeInfo

	// Control transfers.
	Setup         SetupPacket
	Class         RequestClass
	Recipient     Recipient
	FeatureOrDesc uint16 // wValue: feature selector, or (type<<8)|index for descriptor requests
	Index         uint16 // wIndex

	// Transfer buffer, shared by control/bulk/interrupt/isoch.
	// TransferBuffer is read by the translator for OUT transfers and
	// written by the completer for IN transfers; its capacity never
	// shrinks, only TransferBufferLength (the logical length) does.
	TransferBuffer       []byte
	TransferBufferLength uint32
	ShortTransferOK      bool

	// SELECT_CONFIGURATION / SELECT_INTERFACE.
	ConfigurationDescriptor []byte // nil selects "unconfigured"
	ConfigurationValue      uint8
	InterfaceNumber         uint8
	AlternateSetting        uint8

	// Isochronous.
	IsochPackets []HostIsoPacket
	StartFrame   uint32
	ASAPFlag     bool

	// Output, filled in by the completer.
	Status      USBDStatus
	ErrorCount  uint32
	ConfigHandle uint32

	// FrameNumber is GET_CURRENT_FRAME_NUMBER's sole output, filled in
	// locally (§4.2) without ever reaching the translator or the wire.
	FrameNumber uint32
}

// RequestState is the lifecycle of a Request as tracked by the request
// table (§3).
type RequestState int

const (
	StatePending RequestState = iota
	StateInFlight
	StateAwaitingPayload
	StateCompleting
)

// CompletionFunc is invoked exactly once to hand a finished URB back to its
// caller (whatever stands in for "the OS completes the IRP" in this
// engine). err is nil on success; otherwise it is one of the sentinel
// kinds in errors.go.
type CompletionFunc func(urb *URB, err error)

// Request records one outstanding URB (§3 "Request").
type Request struct {
	Seqnum   uint32
	Pipe     PipeInfo
	Function URBFunction
	URB      *URB
	DirIn    bool // remembered because RET_SUBMIT.direction is always 0

	state  RequestState
	notify CompletionFunc
}
