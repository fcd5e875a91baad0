package vhci

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Handshake sizes and codes (§6, grounded on original_source's
// include/usbip/proto_op.h and consts.h).
const (
	devPathMax = 256
	busIDSize  = 32

	opCommonSize = 8 // version uint16, code uint16, status uint32

	opRequest = 0x8000
	opReply   = 0x0000

	opImport    = 3
	opReqImport = opRequest | opImport
	opRepImport = opReply | opImport

	opDevlist    = 5
	opReqDevlist = opRequest | opDevlist
	opRepDevlist = opReply | opDevlist
)

// opStatus mirrors op_status_t (§6): the status field of an op_common
// reply.
type opStatus uint32

const (
	stOK opStatus = iota
	stNA
	stDevBusy
	stDevErr
	stNodev
	stError
)

func (s opStatus) String() string {
	switch s {
	case stOK:
		return "OK"
	case stNA:
		return "NA"
	case stDevBusy:
		return "DEV_BUSY"
	case stDevErr:
		return "DEV_ERR"
	case stNodev:
		return "NODEV"
	default:
		return "ERROR"
	}
}

// usbipUsbDevice mirrors usbip_usb_device (§6), the descriptor exchanged
// during import and devlist.
type usbipUsbDevice struct {
	Path  string
	BusID string

	Busnum uint32
	Devnum uint32
	Speed  uint32

	IDVendor  uint16
	IDProduct uint16
	BcdDevice uint16

	BDeviceClass    uint8
	BDeviceSubClass uint8
	BDeviceProtocol uint8

	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

const usbipUsbDeviceWireSize = devPathMax + busIDSize + 4 + 4 + 4 + 2 + 2 + 2 + 1 + 1 + 1 + 1 + 1 + 1

func encodeOpCommon(code uint16, status opStatus) []byte {
	buf := make([]byte, opCommonSize)
	binary.BigEndian.PutUint16(buf[0:2], ProtocolVersion)
	binary.BigEndian.PutUint16(buf[2:4], code)
	binary.BigEndian.PutUint32(buf[4:8], uint32(status))
	return buf
}

func decodeOpCommon(buf []byte) (code uint16, status opStatus, err error) {
	if len(buf) < opCommonSize {
		return 0, 0, fmt.Errorf("%w: op_common needs %d bytes, got %d", ErrProtocol, opCommonSize, len(buf))
	}
	version := binary.BigEndian.Uint16(buf[0:2])
	if version != ProtocolVersion {
		return 0, 0, fmt.Errorf("%w: op_common version %#x, want %#x", ErrProtocol, version, ProtocolVersion)
	}
	code = binary.BigEndian.Uint16(buf[2:4])
	status = opStatus(binary.BigEndian.Uint32(buf[4:8]))
	return code, status, nil
}

func encodeFixedString(s string, size int) []byte {
	buf := make([]byte, size)
	copy(buf, s)
	return buf
}

func decodeFixedString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

func decodeUsbipUsbDevice(buf []byte) (*usbipUsbDevice, error) {
	if len(buf) < usbipUsbDeviceWireSize {
		return nil, fmt.Errorf("%w: usbip_usb_device needs %d bytes, got %d", ErrProtocol, usbipUsbDeviceWireSize, len(buf))
	}
	o := 0
	path := decodeFixedString(buf[o : o+devPathMax])
	o += devPathMax
	busid := decodeFixedString(buf[o : o+busIDSize])
	o += busIDSize

	d := &usbipUsbDevice{Path: path, BusID: busid}
	d.Busnum = binary.BigEndian.Uint32(buf[o:])
	o += 4
	d.Devnum = binary.BigEndian.Uint32(buf[o:])
	o += 4
	d.Speed = binary.BigEndian.Uint32(buf[o:])
	o += 4
	d.IDVendor = binary.BigEndian.Uint16(buf[o:])
	o += 2
	d.IDProduct = binary.BigEndian.Uint16(buf[o:])
	o += 2
	d.BcdDevice = binary.BigEndian.Uint16(buf[o:])
	o += 2
	d.BDeviceClass = buf[o]
	o++
	d.BDeviceSubClass = buf[o]
	o++
	d.BDeviceProtocol = buf[o]
	o++
	d.BConfigurationValue = buf[o]
	o++
	d.BNumConfigurations = buf[o]
	o++
	d.BNumInterfaces = buf[o]

	return d, nil
}

// devid packs busnum/devnum the way every later PDU addresses the device
// (§6 step 3: "devid = (busnum << 16) | devnum").
func devid(busnum, devnum uint32) uint32 {
	return (busnum << 16) | devnum
}

// importDevice runs the §6 handshake preamble: OP_REQ_IMPORT /
// OP_REP_IMPORT over conn, verifying busid and deriving devid. It does
// not yet fetch descriptors; callers run that separately over the same
// connection (§6 step 4, implemented by fetchInitialDescriptors in
// import.go).
func importDevice(conn net.Conn, busid string) (*usbipUsbDevice, uint32, error) {
	if len(busid) >= busIDSize {
		return nil, 0, fmt.Errorf("%w: busid %q too long", ErrInvalidRequest, busid)
	}

	req := append(encodeOpCommon(opReqImport, stOK), encodeFixedString(busid, busIDSize)...)
	if err := writeFull(conn, req); err != nil {
		return nil, 0, fmt.Errorf("%w: send OP_REQ_IMPORT: %v", ErrNetwork, err)
	}

	hdr := make([]byte, opCommonSize)
	if err := readFull(conn, hdr); err != nil {
		return nil, 0, fmt.Errorf("%w: read OP_REP_IMPORT header: %v", ErrNetwork, err)
	}
	code, status, err := decodeOpCommon(hdr)
	if err != nil {
		return nil, 0, err
	}
	if code != opRepImport {
		return nil, 0, fmt.Errorf("%w: expected OP_REP_IMPORT, got code %#x", ErrProtocol, code)
	}
	if status != stOK {
		return nil, 0, fmt.Errorf("%w: import %s refused: %s", ErrNetwork, busid, status)
	}

	body := make([]byte, usbipUsbDeviceWireSize)
	if err := readFull(conn, body); err != nil {
		return nil, 0, fmt.Errorf("%w: read OP_REP_IMPORT body: %v", ErrNetwork, err)
	}
	udev, err := decodeUsbipUsbDevice(body)
	if err != nil {
		return nil, 0, err
	}
	if udev.BusID != busid {
		return nil, 0, fmt.Errorf("%w: server replied busid %q for request %q", ErrProtocol, udev.BusID, busid)
	}

	return udev, devid(udev.Busnum, udev.Devnum), nil
}

func writeFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// ExportedDevice is one entry of an OP_REQ_DEVLIST/OP_REP_DEVLIST
// enumeration (§1 Non-goals: the discovery sub-protocol is out of scope
// for the core engine). GET_IMPORTED_DEVICES does not use it; it reports
// ImportedDevice values instead.
type ExportedDevice struct {
	BusID  string
	Device usbipUsbDevice
}

// listDevices runs OP_REQ_DEVLIST/OP_REP_DEVLIST over conn, for server
// discovery ahead of PLUGIN_HARDWARE.
func listDevices(conn net.Conn) ([]ExportedDevice, error) {
	req := encodeOpCommon(opReqDevlist, stOK)
	req = append(req, 0, 0, 0, 0) // op_devlist_request._reserved
	if err := writeFull(conn, req); err != nil {
		return nil, fmt.Errorf("%w: send OP_REQ_DEVLIST: %v", ErrNetwork, err)
	}

	hdr := make([]byte, opCommonSize)
	if err := readFull(conn, hdr); err != nil {
		return nil, fmt.Errorf("%w: read OP_REP_DEVLIST header: %v", ErrNetwork, err)
	}
	code, status, err := decodeOpCommon(hdr)
	if err != nil {
		return nil, err
	}
	if code != opRepDevlist {
		return nil, fmt.Errorf("%w: expected OP_REP_DEVLIST, got code %#x", ErrProtocol, code)
	}
	if status != stOK {
		return nil, fmt.Errorf("%w: devlist refused: %s", ErrNetwork, status)
	}

	countBuf := make([]byte, 4)
	if err := readFull(conn, countBuf); err != nil {
		return nil, fmt.Errorf("%w: read ndev: %v", ErrNetwork, err)
	}
	ndev := binary.BigEndian.Uint32(countBuf)

	devices := make([]ExportedDevice, 0, ndev)
	for i := uint32(0); i < ndev; i++ {
		body := make([]byte, usbipUsbDeviceWireSize)
		if err := readFull(conn, body); err != nil {
			return nil, fmt.Errorf("%w: read devlist entry %d: %v", ErrNetwork, i, err)
		}
		udev, err := decodeUsbipUsbDevice(body)
		if err != nil {
			return nil, err
		}

		ifaceBuf := make([]byte, 4*int(udev.BNumInterfaces))
		if err := readFull(conn, ifaceBuf); err != nil {
			return nil, fmt.Errorf("%w: read devlist interfaces for %s: %v", ErrNetwork, udev.BusID, err)
		}

		devices = append(devices, ExportedDevice{BusID: udev.BusID, Device: *udev})
	}

	return devices, nil
}
