package vhci

import (
	"errors"
	"testing"
)

func TestReconcileDirectionPipeWinsOverFlags(t *testing.T) {
	req := &Request{
		Pipe: PipeInfo{DirIn: true, Handle: 5},
		URB:  &URB{ShortTransferOK: true},
	}
	dirIn, flags := reconcileDirection(req)
	if !dirIn {
		t.Fatalf("dirIn = false, want true (pipe direction wins)")
	}
	if flags&transferFlagDirIn == 0 {
		t.Fatalf("expected transferFlagDirIn to be set")
	}
	if flags&transferFlagShortNotOK != 0 {
		t.Fatalf("ShortTransferOK must clear transferFlagShortNotOK")
	}
}

func TestReconcileDirectionDefaultControlPipeUsesSetup(t *testing.T) {
	req := &Request{
		Pipe:  PipeInfo{Handle: DefaultControlPipe, DirIn: false},
		Setup: SetupPacket{BmRequestType: bmRequestTypeDirIn},
		URB:   &URB{},
	}
	dirIn, _ := reconcileDirection(req)
	if !dirIn {
		t.Fatalf("on the default control pipe, direction must come from the setup packet's bmRequestType")
	}
}

func TestReconcileDirectionShortNotOKDefaultsTrue(t *testing.T) {
	req := &Request{Pipe: PipeInfo{}, URB: &URB{ShortTransferOK: false}}
	_, flags := reconcileDirection(req)
	if flags&transferFlagShortNotOK == 0 {
		t.Fatalf("ShortTransferOK == false must set transferFlagShortNotOK")
	}
}

func TestTranslateSelectConfiguration(t *testing.T) {
	req := &Request{URB: &URB{ConfigurationDescriptor: []byte{1, 2}, ConfigurationValue: 3}}
	h, payload, err := translateSelectConfiguration(devid(1, 1), 7, req)
	if err != nil {
		t.Fatalf("translateSelectConfiguration: %v", err)
	}
	if payload != nil {
		t.Fatalf("SELECT_CONFIGURATION carries no payload")
	}
	if h.Setup[0] != 0 || h.Setup[1] != reqSetConfiguration || h.Setup[2] != 3 {
		t.Fatalf("unexpected setup packet: %+v", h.Setup)
	}
	if h.TransferFlags != transferFlagShortNotOK {
		t.Fatalf("TransferFlags = %#x, want transferFlagShortNotOK", h.TransferFlags)
	}
}

func TestTranslateSelectConfigurationUnconfigured(t *testing.T) {
	req := &Request{URB: &URB{ConfigurationDescriptor: nil}}
	h, _, err := translateSelectConfiguration(devid(1, 1), 7, req)
	if err != nil {
		t.Fatalf("translateSelectConfiguration: %v", err)
	}
	if h.Setup[2] != 0 || h.Setup[3] != 0 {
		t.Fatalf("wValue must be 0 when unsetting configuration")
	}
}

func TestTranslateBulkOrInterruptRejectsWrongPipeType(t *testing.T) {
	req := &Request{Pipe: PipeInfo{Type: EndpointControl}, URB: &URB{}}
	if _, _, err := translateBulkOrInterrupt(devid(1, 1), 1, req); err == nil {
		t.Fatalf("expected an error translating a bulk/interrupt URB against a control pipe")
	}
}

func TestTranslateBulkOrInterruptOutCarriesPayload(t *testing.T) {
	buf := []byte{9, 9, 9}
	req := &Request{
		Pipe: PipeInfo{Type: EndpointBulk, DirIn: false},
		URB:  &URB{TransferBuffer: buf, TransferBufferLength: 3},
	}
	h, payload, err := translateBulkOrInterrupt(devid(1, 1), 1, req)
	if err != nil {
		t.Fatalf("translateBulkOrInterrupt: %v", err)
	}
	if h.Direction != DirOut {
		t.Fatalf("Direction = %v, want DirOut", h.Direction)
	}
	if len(payload) != 3 {
		t.Fatalf("payload len = %d, want 3", len(payload))
	}
}

func TestTranslateBulkOrInterruptInCarriesNoPayload(t *testing.T) {
	req := &Request{
		Pipe: PipeInfo{Type: EndpointBulk, DirIn: true},
		URB:  &URB{TransferBuffer: make([]byte, 512), TransferBufferLength: 512},
	}
	h, payload, err := translateBulkOrInterrupt(devid(1, 1), 1, req)
	if err != nil {
		t.Fatalf("translateBulkOrInterrupt: %v", err)
	}
	if h.Direction != DirIn {
		t.Fatalf("Direction = %v, want DirIn", h.Direction)
	}
	if payload != nil {
		t.Fatalf("an IN bulk transfer's CMD_SUBMIT must carry no payload, got %d bytes", len(payload))
	}
	if h.TransferBufferLength != 512 {
		t.Fatalf("TransferBufferLength = %d, want 512", h.TransferBufferLength)
	}
}

func TestTranslateGetDescriptorFromDeviceBuildsStandardGetDescriptor(t *testing.T) {
	fn := translateGetDescriptor(RecipDevice)
	req := &Request{URB: &URB{FeatureOrDesc: uint16(descTypeDevice) << 8, TransferBufferLength: 18}}
	h, payload, err := fn(devid(1, 1), 1, req)
	if err != nil {
		t.Fatalf("translateGetDescriptor: %v", err)
	}
	if payload != nil {
		t.Fatalf("GET_DESCRIPTOR carries no OUT payload")
	}
	if h.Setup[0]&bmRequestTypeDirIn == 0 {
		t.Fatalf("bmRequestType must have the IN direction bit set")
	}
	if h.Setup[1] != reqGetDescriptor {
		t.Fatalf("bRequest = %#x, want reqGetDescriptor", h.Setup[1])
	}
}

func TestBuildCmdSubmitRejectsUnsupportedFunction(t *testing.T) {
	req := &Request{Function: URBFunctionGetMSFeatureDescriptor, URB: &URB{}}
	_, _, err := buildCmdSubmit(devid(1, 1), 1, req)
	if err == nil {
		t.Fatalf("expected an error for a URB function with no translator registered")
	}
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("a known but unimplemented URB function must map to ErrNotSupported, got %v", err)
	}
}

func TestBuildCmdSubmitRejectsReservedFunction(t *testing.T) {
	req := &Request{Function: URBFunctionReserved0x0016, URB: &URB{}}
	_, _, err := buildCmdSubmit(devid(1, 1), 1, req)
	if err == nil {
		t.Fatalf("expected an error for a reserved URB function code")
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("a reserved/unknown URB function must map to ErrInvalidRequest, got %v", err)
	}
}

func TestBuildCmdUnlink(t *testing.T) {
	h := buildCmdUnlink(devid(1, 1), 8, 5)
	if h.Command != CmdUnlink {
		t.Fatalf("Command = %v, want CmdUnlink", h.Command)
	}
	if h.UnlinkSeqnum != 5 {
		t.Fatalf("UnlinkSeqnum = %d, want 5", h.UnlinkSeqnum)
	}
	if h.Seqnum != 8 {
		t.Fatalf("Seqnum = %d, want 8", h.Seqnum)
	}
}
