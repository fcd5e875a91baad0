package vhci

// USBDStatus mirrors the Windows USBD_STATUS value stored in
// URB.UrbHeader.Status after a transfer completes.
type USBDStatus uint32

const (
	StatusSuccess                 USBDStatus = 0x00000000
	StatusCRC                     USBDStatus = 0xC0000001
	StatusBTStuff                 USBDStatus = 0xC0000002
	StatusDataToggleMismatch      USBDStatus = 0xC0000003
	StatusStallPID                USBDStatus = 0xC0000004
	StatusDeviceNotResponding     USBDStatus = 0xC0000005
	StatusPIDCheckFailure         USBDStatus = 0xC0000006
	StatusUnexpectedPID           USBDStatus = 0xC0000007
	StatusDataOverrun             USBDStatus = 0xC0000008
	StatusDataUnderrun            USBDStatus = 0xC0000009
	StatusBufferOverrun           USBDStatus = 0xC000000C
	StatusBufferUnderrun          USBDStatus = 0xC000000D
	StatusNotAccessed             USBDStatus = 0xC000000F
	StatusXactError               USBDStatus = 0xC0000011
	StatusBabbleDetected          USBDStatus = 0xC0000012
	StatusDataBufferError         USBDStatus = 0xC0000013
	StatusEndpointHalted          USBDStatus = 0xC0000030
	StatusInvalidURBFunction      USBDStatus = 0x80000200
	StatusInvalidParameter        USBDStatus = 0x80000300
	StatusErrorBusy               USBDStatus = 0x80000400
	StatusInvalidPipeHandle       USBDStatus = 0x80000600
	StatusNoBandwidth             USBDStatus = 0x80000700
	StatusInternalHCError         USBDStatus = 0x80000800
	StatusErrorShortTransfer      USBDStatus = 0x80000900
	StatusBadStartFrame           USBDStatus = 0xC0000A00
	StatusIsochRequestFailed      USBDStatus = 0xC0000B00
	StatusNotSupported            USBDStatus = 0xC0000E00
	StatusInvalidConfigurationDescriptor USBDStatus = 0xC0000F00
	StatusInsufficientResources   USBDStatus = 0xC0001000
	StatusSetConfigFailed         USBDStatus = 0xC0002000
	StatusBufferTooSmall          USBDStatus = 0xC0003000
	StatusInterfaceNotFound       USBDStatus = 0xC0004000
	StatusTimeout                 USBDStatus = 0xC0006000
	StatusDeviceGone              USBDStatus = 0xC0007000
	StatusCancelled                USBDStatus = 0xC0010000
	StatusInvalidBufferSize       USBDStatus = 0xC0000308
)

// Linux errno values carried by RET_SUBMIT.status / RET_UNLINK.status (§6,
// §7). Only the subset the wire protocol actually produces.
const (
	linuxENOENT      = -2
	linuxENOMEM      = -12
	linuxEINVAL      = -22
	linuxENODEV      = -19
	linuxEPIPE       = -32
	linuxEOVERFLOW   = -75
	linuxEPROTO      = -71
	linuxEILSEQ      = -84
	linuxETIME       = -62
	linuxECONNRESET  = -104
	linuxESHUTDOWN   = -108
	linuxEREMOTEIO   = -121
)

// statusFromErrno translates a RET_SUBMIT.status errno into a Windows USBD
// status code (§3, §7). It is a fixed mapping, not a heuristic: unknown
// negative values map to USBD_STATUS_STATUS_NOT_MAPPED-equivalent, here
// StatusXactError, which is the closest "something went wrong on the wire"
// bucket this engine reports.
func statusFromErrno(status int32) USBDStatus {
	switch status {
	case 0:
		return StatusSuccess
	case linuxENOENT, linuxECONNRESET:
		return StatusCancelled
	case linuxEPIPE:
		return StatusEndpointHalted
	case linuxETIME:
		return StatusTimeout
	case linuxENODEV, linuxESHUTDOWN:
		return StatusDeviceGone
	case linuxEPROTO:
		return StatusBTStuff
	case linuxEILSEQ:
		return StatusCRC
	case linuxEOVERFLOW:
		return StatusDataOverrun
	case linuxEREMOTEIO:
		return StatusErrorShortTransfer
	case linuxEINVAL:
		return StatusInvalidParameter
	case linuxENOMEM:
		return StatusInsufficientResources
	default:
		return StatusXactError
	}
}

// isUnlinkReset reports whether a RET_UNLINK.status value means "the
// original CMD_SUBMIT will not be answered" (§2, §6): -ECONNRESET.
// Status 0 means the response already raced ahead of the unlink and the
// cancel is a no-op (§2).
func isUnlinkReset(status int32) bool {
	return status == linuxECONNRESET
}
