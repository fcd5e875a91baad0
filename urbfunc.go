package vhci

// URB function codes, mirrored from the Windows USB Request Block header
// (usbdi.h). buildCmdSubmit rejects a listed code that has no translator
// with ErrNotSupported, and an unlisted or reserved code with
// ErrInvalidRequest.
type URBFunction uint16

const (
	URBFunctionSelectConfiguration                   URBFunction = 0x0000
	URBFunctionSelectInterface                       URBFunction = 0x0001
	URBFunctionAbortPipe                             URBFunction = 0x0002
	URBFunctionTakeFrameLengthControl                URBFunction = 0x0003
	URBFunctionReleaseFrameLengthControl             URBFunction = 0x0004
	URBFunctionGetFrameLength                        URBFunction = 0x0005
	URBFunctionSetFrameLength                        URBFunction = 0x0006
	URBFunctionGetCurrentFrameNumber                 URBFunction = 0x0007
	URBFunctionControlTransfer                       URBFunction = 0x0008
	URBFunctionBulkOrInterruptTransfer                URBFunction = 0x0009
	URBFunctionIsochTransfer                         URBFunction = 0x000A
	URBFunctionGetDescriptorFromDevice                URBFunction = 0x000B
	URBFunctionSetDescriptorToDevice                  URBFunction = 0x000C
	URBFunctionSetFeatureToDevice                     URBFunction = 0x000D
	URBFunctionSetFeatureToInterface                  URBFunction = 0x000E
	URBFunctionSetFeatureToEndpoint                   URBFunction = 0x000F
	URBFunctionClearFeatureToDevice                   URBFunction = 0x0010
	URBFunctionClearFeatureToInterface                URBFunction = 0x0011
	URBFunctionClearFeatureToEndpoint                 URBFunction = 0x0012
	URBFunctionGetStatusFromDevice                    URBFunction = 0x0013
	URBFunctionGetStatusFromInterface                 URBFunction = 0x0014
	URBFunctionGetStatusFromEndpoint                  URBFunction = 0x0015
	URBFunctionReserved0x0016                         URBFunction = 0x0016
	URBFunctionVendorDevice                           URBFunction = 0x0017
	URBFunctionVendorInterface                        URBFunction = 0x0018
	URBFunctionVendorEndpoint                         URBFunction = 0x0019
	URBFunctionClassDevice                            URBFunction = 0x001A
	URBFunctionClassInterface                         URBFunction = 0x001B
	URBFunctionClassEndpoint                          URBFunction = 0x001C
	URBFunctionReserved                               URBFunction = 0x001D
	URBFunctionSyncResetPipeAndClearStall             URBFunction = 0x001E
	URBFunctionClassOther                             URBFunction = 0x001F
	URBFunctionVendorOther                            URBFunction = 0x0020
	URBFunctionGetStatusFromOther                      URBFunction = 0x0021
	URBFunctionClearFeatureToOther                    URBFunction = 0x0022
	URBFunctionSetFeatureToOther                      URBFunction = 0x0023
	URBFunctionGetDescriptorFromEndpoint               URBFunction = 0x0024
	URBFunctionSetDescriptorToEndpoint                 URBFunction = 0x0025
	URBFunctionGetConfiguration                       URBFunction = 0x0026
	URBFunctionGetInterface                           URBFunction = 0x0027
	URBFunctionGetDescriptorFromInterface               URBFunction = 0x0028
	URBFunctionSetDescriptorToInterface                 URBFunction = 0x0029
	URBFunctionGetMSFeatureDescriptor                  URBFunction = 0x002A
	URBFunctionSyncResetPipe                          URBFunction = 0x0030
	URBFunctionSyncClearStall                         URBFunction = 0x0031
	URBFunctionControlTransferEx                      URBFunction = 0x0032
	URBFunctionBulkOrInterruptTransferUsingChainedMDL URBFunction = 0x0033
	URBFunctionIsochTransferUsingChainedMDL           URBFunction = 0x0034
	URBFunctionGetIsochPipeTransferPathDelays         URBFunction = 0x0039
)

// knownURBFunctions is every named function code above except the two
// explicit Windows-header reserved slots. buildCmdSubmit uses it to
// distinguish a recognised-but-unimplemented function (STATUS_NOT_SUPPORTED,
// §4.2/§7) from a reserved or out-of-range one (STATUS_INVALID_PARAMETER).
var knownURBFunctions = map[URBFunction]bool{
	URBFunctionSelectConfiguration:                     true,
	URBFunctionSelectInterface:                         true,
	URBFunctionAbortPipe:                               true,
	URBFunctionTakeFrameLengthControl:                  true,
	URBFunctionReleaseFrameLengthControl:                true,
	URBFunctionGetFrameLength:                          true,
	URBFunctionSetFrameLength:                          true,
	URBFunctionGetCurrentFrameNumber:                   true,
	URBFunctionControlTransfer:                         true,
	URBFunctionBulkOrInterruptTransfer:                 true,
	URBFunctionIsochTransfer:                           true,
	URBFunctionGetDescriptorFromDevice:                 true,
	URBFunctionSetDescriptorToDevice:                   true,
	URBFunctionSetFeatureToDevice:                      true,
	URBFunctionSetFeatureToInterface:                   true,
	URBFunctionSetFeatureToEndpoint:                    true,
	URBFunctionClearFeatureToDevice:                    true,
	URBFunctionClearFeatureToInterface:                 true,
	URBFunctionClearFeatureToEndpoint:                  true,
	URBFunctionGetStatusFromDevice:                     true,
	URBFunctionGetStatusFromInterface:                  true,
	URBFunctionGetStatusFromEndpoint:                   true,
	URBFunctionVendorDevice:                            true,
	URBFunctionVendorInterface:                         true,
	URBFunctionVendorEndpoint:                          true,
	URBFunctionClassDevice:                             true,
	URBFunctionClassInterface:                          true,
	URBFunctionClassEndpoint:                           true,
	URBFunctionSyncResetPipeAndClearStall:              true,
	URBFunctionClassOther:                              true,
	URBFunctionVendorOther:                             true,
	URBFunctionGetStatusFromOther:                      true,
	URBFunctionClearFeatureToOther:                     true,
	URBFunctionSetFeatureToOther:                       true,
	URBFunctionGetDescriptorFromEndpoint:               true,
	URBFunctionSetDescriptorToEndpoint:                 true,
	URBFunctionGetConfiguration:                        true,
	URBFunctionGetInterface:                            true,
	URBFunctionGetDescriptorFromInterface:              true,
	URBFunctionSetDescriptorToInterface:                true,
	URBFunctionGetMSFeatureDescriptor:                  true,
	URBFunctionSyncResetPipe:                           true,
	URBFunctionSyncClearStall:                          true,
	URBFunctionControlTransferEx:                       true,
	URBFunctionBulkOrInterruptTransferUsingChainedMDL:  true,
	URBFunctionIsochTransferUsingChainedMDL:            true,
	URBFunctionGetIsochPipeTransferPathDelays:          true,
}

// isKnownURBFunction reports whether fn is one of the named Windows URB
// function codes (including ones this engine does not implement), as
// opposed to a reserved or entirely out-of-range value.
func isKnownURBFunction(fn URBFunction) bool {
	return knownURBFunctions[fn]
}

// Pipe and endpoint model. The OS hands the translator an opaque pipe
// handle; the engine never assumes anything about its bit layout beyond
// what PipeInfo reports, mirroring spec.md's "pipe handle wins" rule.
type EndpointType int

const (
	EndpointControl EndpointType = iota
	EndpointIsochronous
	EndpointBulk
	EndpointInterrupt
)

type PipeHandle uint64

// Zero-valued PipeHandle represents the default control pipe (§3:
// "the default control pipe is represented by a zero-initialised endpoint
// descriptor with bEndpointAddress = 0 and control type").
const DefaultControlPipe PipeHandle = 0

type PipeInfo struct {
	Handle    PipeHandle
	Address   uint8 // bEndpointAddress
	Type      EndpointType
	Interval  uint8
	DirIn     bool
	MaxPacket uint16
}

func (p PipeInfo) EndpointNumber() uint8 {
	return p.Address & 0x0f
}

// SetupPacket is the verbatim 8-byte USB control setup packet. It is never
// byte-swapped: USB setup packets are little-endian by the USB spec (§4.1).
type SetupPacket struct {
	BmRequestType uint8
	BRequest      uint8
	WValue        uint16
	WIndex        uint16
	WLength       uint16
}

const (
	bmRequestTypeDirIn  = 1 << 7
	bmRequestTypeTypeStd   = 0 << 5
	bmRequestTypeTypeClass = 1 << 5
	bmRequestTypeTypeVendor = 2 << 5

	recipDevice    = 0
	recipInterface = 1
	recipEndpoint  = 2
	recipOther     = 3
)

const (
	reqGetStatus        = 0x00
	reqClearFeature     = 0x01
	reqSetFeature       = 0x03
	reqSetAddress       = 0x05
	reqGetDescriptor    = 0x06
	reqSetDescriptor    = 0x07
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0A
	reqSetInterface     = 0x0B
	reqSyncFrame        = 0x0C
)

const endpointHalt = 0 // USB_FEATURE_ENDPOINT_STALL / ENDPOINT_HALT
