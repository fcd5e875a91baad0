package vhci

import "fmt"

// transferFlagShortNotOK / transferFlagDirIn mirror the wire transfer_flags
// bits USB/IP borrows from Linux's URB_SHORT_NOT_OK / URB_DIR_IN. The
// short-packet bit is the inverse of the URB's ShortTransferOK, since
// Linux's bit means "not OK".
const (
	transferFlagShortNotOK = 0x0001
	transferFlagDirIn      = 0x0200
)

// buildCmdSubmit translates req into a CMD_SUBMIT header and wire payload
// (§4.2). devid and seqnum are supplied by the caller (request table /
// seqnum counter); the translator itself never allocates a seqnum so that
// ordering (§5: "seqnums strictly increase") is enforced in one place.
func buildCmdSubmit(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	fn := translators[req.Function]
	if fn == nil {
		if !isKnownURBFunction(req.Function) {
			return nil, nil, fmt.Errorf("%w: reserved or unknown URB function %#x", ErrInvalidRequest, uint16(req.Function))
		}
		return nil, nil, fmt.Errorf("%w: unsupported URB function %#x", ErrNotSupported, uint16(req.Function))
	}
	return fn(devid, seqnum, req)
}

// buildCmdUnlink translates a cancel into a CMD_UNLINK header (§4.4, §6).
func buildCmdUnlink(devid, seqnum, targetSeqnum uint32) *Header {
	return &Header{
		Command:      CmdUnlink,
		Seqnum:       seqnum,
		Devid:        devid,
		Direction:    DirOut,
		Ep:           0,
		UnlinkSeqnum: targetSeqnum,
	}
}

type translateFunc func(devid, seqnum uint32, req *Request) (*Header, []byte, error)

var translators map[URBFunction]translateFunc

func init() {
	translators = map[URBFunction]translateFunc{
		URBFunctionSelectConfiguration:        translateSelectConfiguration,
		URBFunctionSelectInterface:            translateSelectInterface,
		URBFunctionControlTransfer:            translateControlTransfer,
		URBFunctionControlTransferEx:          translateControlTransfer,
		URBFunctionBulkOrInterruptTransfer:    translateBulkOrInterrupt,
		URBFunctionBulkOrInterruptTransferUsingChainedMDL: translateBulkOrInterrupt,
		URBFunctionIsochTransfer:              translateIsoch,
		URBFunctionIsochTransferUsingChainedMDL: translateIsoch,
		URBFunctionGetDescriptorFromDevice:    translateGetDescriptor(RecipDevice),
		URBFunctionGetDescriptorFromInterface: translateGetDescriptor(RecipInterface),
		URBFunctionGetDescriptorFromEndpoint:  translateGetDescriptor(RecipEndpoint),
		URBFunctionSetDescriptorToDevice:      translateSetDescriptor(RecipDevice),
		URBFunctionSetDescriptorToInterface:   translateSetDescriptor(RecipInterface),
		URBFunctionSetDescriptorToEndpoint:    translateSetDescriptor(RecipEndpoint),
		URBFunctionClassDevice:                translateClassVendor(ClassClass, RecipDevice),
		URBFunctionClassInterface:             translateClassVendor(ClassClass, RecipInterface),
		URBFunctionClassEndpoint:              translateClassVendor(ClassClass, RecipEndpoint),
		URBFunctionClassOther:                 translateClassVendor(ClassClass, RecipOther),
		URBFunctionVendorDevice:               translateClassVendor(ClassVendor, RecipDevice),
		URBFunctionVendorInterface:            translateClassVendor(ClassVendor, RecipInterface),
		URBFunctionVendorEndpoint:             translateClassVendor(ClassVendor, RecipEndpoint),
		URBFunctionVendorOther:                translateClassVendor(ClassVendor, RecipOther),
		URBFunctionSetFeatureToDevice:         translateFeature(reqSetFeature, RecipDevice),
		URBFunctionSetFeatureToInterface:      translateFeature(reqSetFeature, RecipInterface),
		URBFunctionSetFeatureToEndpoint:       translateFeature(reqSetFeature, RecipEndpoint),
		URBFunctionSetFeatureToOther:          translateFeature(reqSetFeature, RecipOther),
		URBFunctionClearFeatureToDevice:       translateFeature(reqClearFeature, RecipDevice),
		URBFunctionClearFeatureToInterface:    translateFeature(reqClearFeature, RecipInterface),
		URBFunctionClearFeatureToEndpoint:     translateFeature(reqClearFeature, RecipEndpoint),
		URBFunctionClearFeatureToOther:        translateFeature(reqClearFeature, RecipOther),
		URBFunctionGetStatusFromDevice:        translateGetStatus(RecipDevice),
		URBFunctionGetStatusFromInterface:     translateGetStatus(RecipInterface),
		URBFunctionGetStatusFromEndpoint:      translateGetStatus(RecipEndpoint),
		URBFunctionGetStatusFromOther:         translateGetStatus(RecipOther),
		URBFunctionGetConfiguration:           translateGetConfiguration,
		URBFunctionSetFrameLength:             translateDeprecated,
		URBFunctionGetFrameLength:             translateDeprecated,
		URBFunctionTakeFrameLengthControl:     translateDeprecated,
		URBFunctionReleaseFrameLengthControl:  translateDeprecated,
		URBFunctionGetInterface:               translateGetInterface,
		URBFunctionSyncResetPipeAndClearStall: translateResetAndClearStall,
	}
}

// direction/flag reconciliation (§4.2 "Direction rule"): the pipe handle's
// direction wins over whatever the caller's TransferFlags claimed.
func reconcileDirection(req *Request) (dirIn bool, flags uint32) {
	dirIn = req.Pipe.DirIn
	if req.Pipe.Handle == DefaultControlPipe {
		dirIn = req.Setup.BmRequestType&bmRequestTypeDirIn != 0
	}
	// USB/IP's transfer_flags bit means "short packet is NOT ok", the
	// inverse of the URB's ShortTransferOK; flip it once, at the wire
	// boundary.
	if req.URB == nil || !req.URB.ShortTransferOK {
		flags |= transferFlagShortNotOK
	}
	if dirIn {
		flags |= transferFlagDirIn
	}
	return dirIn, flags
}

func baseHeader(devid, seqnum uint32, req *Request, dirIn bool) Header {
	dir := DirOut
	if dirIn {
		dir = DirIn
	}
	return Header{
		Command:   CmdSubmit,
		Seqnum:    seqnum,
		Devid:     devid,
		Direction: dir,
		Ep:        uint32(req.Pipe.EndpointNumber()),
	}
}

func controlSetup(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) [8]byte {
	var s [8]byte
	s[0] = bmRequestType
	s[1] = bRequest
	s[2] = byte(wValue)
	s[3] = byte(wValue >> 8)
	s[4] = byte(wIndex)
	s[5] = byte(wIndex >> 8)
	s[6] = byte(wLength)
	s[7] = byte(wLength >> 8)
	return s
}

func classBits(c RequestClass) uint8 {
	switch c {
	case ClassClass:
		return bmRequestTypeTypeClass
	case ClassVendor:
		return bmRequestTypeTypeVendor
	default:
		return bmRequestTypeTypeStd
	}
}

func recipBits(r Recipient) uint8 {
	switch r {
	case RecipInterface:
		return recipInterface
	case RecipEndpoint:
		return recipEndpoint
	case RecipOther:
		return recipOther
	default:
		return recipDevice
	}
}

func translateSelectConfiguration(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	value := uint8(0)
	if req.URB != nil && req.URB.ConfigurationDescriptor != nil {
		value = req.URB.ConfigurationValue
	}
	h := baseHeader(devid, seqnum, req, false)
	h.TransferFlags = transferFlagShortNotOK
	h.Setup = controlSetup(bmRequestTypeDirOut(), reqSetConfiguration, uint16(value), 0, 0)
	return &h, nil, nil
}

func translateSelectInterface(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	h := baseHeader(devid, seqnum, req, false)
	h.TransferFlags = transferFlagShortNotOK
	h.Setup = controlSetup(bmRequestTypeDirOut(), reqSetInterface,
		uint16(req.URB.AlternateSetting), uint16(req.URB.InterfaceNumber), 0)
	return &h, nil, nil
}

func bmRequestTypeDirOut() uint8 { return 0 }

func translateControlTransfer(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	dirIn := req.Setup.BmRequestType&bmRequestTypeDirIn != 0
	h := baseHeader(devid, seqnum, req, dirIn)
	_, flags := reconcileDirection(req)
	h.TransferFlags = flags
	h.TransferBufferLength = req.URB.TransferBufferLength
	h.Setup = setupBytes(req.Setup)

	var payload []byte
	if !dirIn && req.URB.TransferBufferLength > 0 {
		payload = req.URB.TransferBuffer[:req.URB.TransferBufferLength]
	}
	return &h, payload, nil
}

func setupBytes(s SetupPacket) [8]byte {
	return controlSetup(s.BmRequestType, s.BRequest, s.WValue, s.WIndex, s.WLength)
}

func translateBulkOrInterrupt(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	if req.Pipe.Type != EndpointBulk && req.Pipe.Type != EndpointInterrupt {
		return nil, nil, fmt.Errorf("%w: endpoint is not bulk or interrupt", ErrInvalidRequest)
	}
	dirIn, flags := reconcileDirection(req)
	h := baseHeader(devid, seqnum, req, dirIn)
	h.TransferFlags = flags
	h.TransferBufferLength = req.URB.TransferBufferLength

	var payload []byte
	if !dirIn && req.URB.TransferBufferLength > 0 {
		payload = req.URB.TransferBuffer[:req.URB.TransferBufferLength]
	}
	return &h, payload, nil
}

func translateIsoch(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	dirIn, flags := reconcileDirection(req)
	flags |= isochASAPFlag // §4.2: frame-number query is not supported, always append ASAP
	h := baseHeader(devid, seqnum, req, dirIn)
	h.TransferFlags = flags
	h.TransferBufferLength = req.URB.TransferBufferLength
	h.StartFrame = req.URB.StartFrame
	h.Isoch = true
	h.NumberOfPackets = uint32(len(req.URB.IsochPackets))

	payload, err := buildIsochOutPayload(req.URB, dirIn)
	if err != nil {
		return nil, nil, err
	}
	return &h, payload, nil
}

const isochASAPFlag = 1 << 2 // USBD_START_ISO_TRANSFER_ASAP, wire-side marker bit

func translateGetDescriptor(recip Recipient) translateFunc {
	return func(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
		h := baseHeader(devid, seqnum, req, true)
		h.TransferFlags = transferFlagDirIn
		h.TransferBufferLength = req.URB.TransferBufferLength
		bmType := bmRequestTypeDirIn | recipBits(recip)
		h.Setup = controlSetup(bmType, reqGetDescriptor, req.URB.FeatureOrDesc, req.URB.Index, uint16(req.URB.TransferBufferLength))
		return &h, nil, nil
	}
}

func translateSetDescriptor(recip Recipient) translateFunc {
	return func(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
		h := baseHeader(devid, seqnum, req, false)
		h.TransferFlags = transferFlagShortNotOK
		h.TransferBufferLength = req.URB.TransferBufferLength
		bmType := recipBits(recip)
		h.Setup = controlSetup(bmType, reqSetDescriptor, req.URB.FeatureOrDesc, req.URB.Index, uint16(req.URB.TransferBufferLength))
		var payload []byte
		if req.URB.TransferBufferLength > 0 {
			payload = req.URB.TransferBuffer[:req.URB.TransferBufferLength]
		}
		return &h, payload, nil
	}
}

func translateClassVendor(class RequestClass, recip Recipient) translateFunc {
	return func(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
		dirIn, flags := reconcileDirection(req)
		h := baseHeader(devid, seqnum, req, dirIn)
		h.TransferFlags = flags
		h.TransferBufferLength = req.URB.TransferBufferLength
		bmType := classBits(class) | recipBits(recip)
		if dirIn {
			bmType |= bmRequestTypeDirIn
		}
		h.Setup = controlSetup(bmType, req.Setup.BRequest, req.URB.FeatureOrDesc, req.URB.Index, uint16(req.URB.TransferBufferLength))
		var payload []byte
		if !dirIn && req.URB.TransferBufferLength > 0 {
			payload = req.URB.TransferBuffer[:req.URB.TransferBufferLength]
		}
		return &h, payload, nil
	}
}

func translateFeature(request uint8, recip Recipient) translateFunc {
	return func(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
		h := baseHeader(devid, seqnum, req, false)
		h.TransferFlags = transferFlagShortNotOK
		bmType := recipBits(recip)
		h.Setup = controlSetup(bmType, request, req.URB.FeatureOrDesc, req.URB.Index, 0)
		return &h, nil, nil
	}
}

func translateGetStatus(recip Recipient) translateFunc {
	return func(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
		h := baseHeader(devid, seqnum, req, true)
		h.TransferFlags = transferFlagDirIn
		h.TransferBufferLength = 2
		bmType := bmRequestTypeDirIn | recipBits(recip)
		h.Setup = controlSetup(bmType, reqGetStatus, 0, req.URB.Index, 2)
		return &h, nil, nil
	}
}

func translateGetConfiguration(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	h := baseHeader(devid, seqnum, req, true)
	h.TransferFlags = transferFlagDirIn
	h.TransferBufferLength = 1
	h.Setup = controlSetup(bmRequestTypeDirIn, reqGetConfiguration, 0, 0, 1)
	return &h, nil, nil
}

func translateGetInterface(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	h := baseHeader(devid, seqnum, req, true)
	h.TransferFlags = transferFlagDirIn
	h.TransferBufferLength = 1
	bmType := uint8(bmRequestTypeDirIn | recipInterface)
	h.Setup = controlSetup(bmType, reqGetInterface, 0, uint16(req.URB.InterfaceNumber), 1)
	return &h, nil, nil
}

func translateResetAndClearStall(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	h := baseHeader(devid, seqnum, req, false)
	h.TransferFlags = transferFlagShortNotOK
	bmType := uint8(recipEndpoint)
	h.Setup = controlSetup(bmType, reqClearFeature, endpointHalt, uint16(req.Pipe.Address), 0)
	return &h, nil, nil
}

func translateDeprecated(devid, seqnum uint32, req *Request) (*Header, []byte, error) {
	return nil, nil, fmt.Errorf("%w: deprecated frame-length control function", ErrNotSupported)
}
