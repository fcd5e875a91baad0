package vhci

import "fmt"

// configDescHdrSize is enough of a configuration descriptor to read
// wTotalLength (§4.7), the first step of import's two-step GET_DESCRIPTOR.
// GET_DESCRIPTOR itself and its IN bmRequestType are the same standard
// request constants the translator uses (urbfunc.go).
const configDescHdrSize = 4

// fetchInitialDescriptors implements §6 step 4 and §4.7's import-time
// fetch: device descriptor, validated against what OP_REP_IMPORT already
// reported, then the full active configuration descriptor via a two-step
// GET_DESCRIPTOR, then the string descriptors.
func fetchInitialDescriptors(dev *VirtualDevice, udev *usbipUsbDevice) error {
	devDesc, err := syncControlIn(dev, (descTypeDevice<<8)|0, 0, 18)
	if err != nil {
		return fmt.Errorf("fetch device descriptor: %w", err)
	}
	if err := validateAgainstImportReply(devDesc, udev); err != nil {
		return err
	}
	if err := dev.descriptors.setDeviceDescriptor(devDesc); err != nil {
		return err
	}

	if udev.BConfigurationValue == 0 {
		dev.descriptors.setUnconfigured()
		return fetchStringDescriptors(dev)
	}

	header, err := syncControlIn(dev, (descTypeConfiguration<<8)|0, 0, configDescHdrSize)
	if err != nil {
		return fmt.Errorf("fetch configuration descriptor header: %w", err)
	}
	total, err := configTotalLength(header)
	if err != nil {
		return err
	}

	full, err := syncControlIn(dev, (descTypeConfiguration<<8)|0, 0, total)
	if err != nil {
		return fmt.Errorf("fetch full configuration descriptor: %w", err)
	}
	dev.descriptors.setConfiguration(full)

	return fetchStringDescriptors(dev)
}

// validateAgainstImportReply implements the §6/§4.8 rule that a
// mismatched device descriptor during enumeration triggers unplug; here,
// during import, it simply fails attach instead (the device was never
// plugged in the first place).
func validateAgainstImportReply(devDesc []byte, udev *usbipUsbDevice) error {
	if len(devDesc) < 18 {
		return fmt.Errorf("%w: device descriptor too short", ErrProtocol)
	}
	gotVendor := uint16(devDesc[8]) | uint16(devDesc[9])<<8
	gotProduct := uint16(devDesc[10]) | uint16(devDesc[11])<<8
	if gotVendor != udev.IDVendor || gotProduct != udev.IDProduct {
		return fmt.Errorf("%w: device descriptor vid:pid %04x:%04x does not match import reply %04x:%04x",
			ErrProtocol, gotVendor, gotProduct, udev.IDVendor, udev.IDProduct)
	}
	return nil
}

// fetchStringDescriptors caches the language-ID table (slot 0) and, if
// present, the Microsoft OS string descriptor (§4.7). No other string
// index is fetched or cached; GET_DESCRIPTOR URBs for them are translated
// by translateGetDescriptor and answered by the server.
func fetchStringDescriptors(dev *VirtualDevice) error {
	langTable, err := syncControlIn(dev, (descTypeString<<8)|0, 0, 255)
	if err != nil {
		return fmt.Errorf("fetch language ID table: %w", err)
	}
	dev.descriptors.setString(0, langTable)

	var langID uint16
	if len(langTable) >= 4 {
		langID = uint16(langTable[2]) | uint16(langTable[3])<<8
	}

	msOS, err := syncControlIn(dev, (descTypeString<<8)|msOSStringIndex, langID, 18)
	if err == nil {
		dev.descriptors.setString(msOSStringIndex, msOS)
	}
	return nil
}

// syncControlIn issues one blocking DIR_IN control transfer directly over
// dev.conn, bypassing the request table: import runs before the
// Connection I/O Loop's receive goroutine is started, so there is no
// concurrent reader to race against.
func syncControlIn(dev *VirtualDevice, wValue uint16, wIndex uint16, wLength uint16) ([]byte, error) {
	seqnum := dev.nextSeqnum()

	h := &Header{
		Command:              CmdSubmit,
		Seqnum:                seqnum,
		Devid:                dev.imported.Devid,
		Direction:            DirIn,
		Ep:                   0,
		TransferFlags:        transferFlagDirIn | transferFlagShortNotOK,
		TransferBufferLength: uint32(wLength),
	}
	h.Setup = controlSetup(bmRequestTypeDirIn, reqGetDescriptor, wValue, wIndex, wLength)

	if err := writeFull(dev.conn, Encode(h)); err != nil {
		return nil, fmt.Errorf("%w: send CMD_SUBMIT: %v", ErrNetwork, err)
	}

	respHdr := make([]byte, HeaderSize)
	if err := readFull(dev.conn, respHdr); err != nil {
		return nil, fmt.Errorf("%w: read RET_SUBMIT: %v", ErrNetwork, err)
	}
	resp, err := Decode(respHdr)
	if err != nil {
		return nil, err
	}
	if resp.Command != RetSubmit || resp.Seqnum != seqnum {
		return nil, fmt.Errorf("%w: expected RET_SUBMIT seqnum %d, got %s seqnum %d", ErrProtocol, seqnum, resp.Command, resp.Seqnum)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("%w: GET_DESCRIPTOR failed, status %d", ErrNetwork, resp.Status)
	}

	payload := make([]byte, resp.ActualLength)
	if len(payload) > 0 {
		if err := readFull(dev.conn, payload); err != nil {
			return nil, fmt.Errorf("%w: read descriptor payload: %v", ErrNetwork, err)
		}
	}
	return payload, nil
}
