package vhci

import (
	"bytes"
	"fmt"
)

// applyRetSubmit applies a decoded RET_SUBMIT PDU to the Request it
// answers (§4.3). payload is the raw bytes following the header, already
// known to be exactly PayloadSize(h, DirIn-from-request-table) long.
//
// Contracts common to every completer (§4.3):
//   - 0 <= actual_length <= TransferBufferLength, else the URB fails with
//     StatusInvalidBufferSize and TransferBufferLength resets to 0.
//   - for IN transfers with actual_length > 0, payload bytes are copied
//     into the URB's buffer even when status is nonzero.
func applyRetSubmit(dev *VirtualDevice, req *Request, h *Header, payload []byte) error {
	urb := req.URB

	if h.ActualLength > req.URB.TransferBufferLength {
		urb.TransferBufferLength = 0
		urb.Status = StatusInvalidBufferSize
		return nil
	}

	if req.DirIn && h.ActualLength > 0 && !h.Isoch {
		if int(h.ActualLength) > len(payload) {
			return fmt.Errorf("%w: RET_SUBMIT actual_length %d exceeds payload %d", ErrProtocol, h.ActualLength, len(payload))
		}
		if int(h.ActualLength) > len(urb.TransferBuffer) {
			return fmt.Errorf("%w: RET_SUBMIT actual_length %d exceeds URB buffer %d", ErrProtocol, h.ActualLength, len(urb.TransferBuffer))
		}
		copy(urb.TransferBuffer, payload[:h.ActualLength])
	}
	urb.TransferBufferLength = h.ActualLength

	fn := completers[req.Function]
	if fn == nil {
		urb.Status = statusFromErrno(h.Status)
		return nil
	}
	return fn(dev, req, h, payload)
}

type completeFunc func(dev *VirtualDevice, req *Request, h *Header, payload []byte) error

var completers map[URBFunction]completeFunc

func init() {
	completers = map[URBFunction]completeFunc{
		URBFunctionSelectConfiguration:        completeSelectConfiguration,
		URBFunctionSelectInterface:            completeSelectInterface,
		URBFunctionGetDescriptorFromDevice:    completeGetDescriptorFromDevice,
		URBFunctionIsochTransfer:              completeIsoch,
		URBFunctionIsochTransferUsingChainedMDL: completeIsoch,
	}
}

// demoteControlStall implements §4.3: "EndpointStalled on a control
// endpoint (SELECT_CONFIGURATION/SELECT_INTERFACE) is demoted to success
// because the default control pipe cannot truly stall."
func demoteControlStall(status USBDStatus) USBDStatus {
	if status == StatusEndpointHalted {
		return StatusSuccess
	}
	return status
}

func completeSelectConfiguration(dev *VirtualDevice, req *Request, h *Header, payload []byte) error {
	status := demoteControlStall(statusFromErrno(h.Status))
	req.URB.Status = status
	if status != StatusSuccess {
		return nil
	}

	if req.URB.ConfigurationDescriptor == nil {
		dev.descriptors.setUnconfigured()
		req.URB.ConfigHandle = 0
	} else {
		dev.descriptors.setConfiguration(req.URB.ConfigurationDescriptor)
		req.URB.ConfigHandle = 0x100 | uint32(req.URB.ConfigurationValue)
	}
	dev.mu.Lock()
	dev.currentIntfNum = 0
	dev.currentIntfAlt = 0
	dev.mu.Unlock()
	return nil
}

func completeSelectInterface(dev *VirtualDevice, req *Request, h *Header, payload []byte) error {
	status := demoteControlStall(statusFromErrno(h.Status))
	req.URB.Status = status
	if status == StatusSuccess {
		dev.mu.Lock()
		dev.currentIntfNum = req.URB.InterfaceNumber
		dev.currentIntfAlt = req.URB.AlternateSetting
		dev.mu.Unlock()
	}
	return nil
}

// completeGetDescriptorFromDevice implements §4.3's consistency check: a
// full-length device descriptor response must equal the cached one
// fetched during import (§4.7), or the device is unplugged.
func completeGetDescriptorFromDevice(dev *VirtualDevice, req *Request, h *Header, payload []byte) error {
	req.URB.Status = statusFromErrno(h.Status)
	if req.URB.Status != StatusSuccess {
		return nil
	}
	if req.URB.FeatureOrDesc>>8 != usbDTDevice {
		return nil
	}
	cached := dev.descriptors.deviceDescriptorBytes()
	if int(h.ActualLength) != len(cached) {
		return nil
	}
	if !bytes.Equal(req.URB.TransferBuffer[:h.ActualLength], cached) {
		return fmt.Errorf("%w: device descriptor changed after import", ErrProtocol)
	}
	return nil
}

const usbDTDevice = 0x01

// completeIsoch runs the Wire → Host isochronous transformation (§4.6)
// before falling back to the generic status translation.
func completeIsoch(dev *VirtualDevice, req *Request, h *Header, payload []byte) error {
	if !h.Isoch {
		return fmt.Errorf("%w: RET_SUBMIT for isoch request carries no iso descriptors", ErrProtocol)
	}

	var descBytes []byte
	dataLen := int(h.ActualLength)
	if len(payload) < dataLen {
		return fmt.Errorf("%w: iso payload shorter than actual_length", ErrProtocol)
	}
	descBytes = payload[dataLen:]
	data := payload[:dataLen]

	wireDescs, err := decodeIsoDescriptors(descBytes, int(h.NumberOfPackets))
	if err != nil {
		return err
	}

	if err := applyIsochIn(req.URB, wireDescs, data); err != nil {
		return err
	}

	base := statusFromErrno(h.Status)
	req.URB.ErrorCount = h.ErrorCount
	req.URB.Status = isochOverallStatus(base, h.NumberOfPackets, h.ErrorCount)
	if req.URB.ASAPFlag {
		req.URB.StartFrame = h.StartFrame
	}
	return nil
}

// applyRetUnlink applies a decoded RET_UNLINK PDU (§2, §4.4, §6). A status
// of 0 means the submit's response had already arrived (the unlink raced
// and lost); -ECONNRESET means the submit will never be answered. Either
// way RET_UNLINK never touches an URB directly — the request table has
// already completed it by the time this is called, or it was never
// present (races (b)/(c) in §4.4), which is not an error.
func applyRetUnlink(status int32) (wasCancelled bool) {
	return isUnlinkReset(status)
}
