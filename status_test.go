package vhci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFromErrno(t *testing.T) {
	cases := []struct {
		errno int32
		want  USBDStatus
	}{
		{0, StatusSuccess},
		{linuxENOENT, StatusCancelled},
		{linuxECONNRESET, StatusCancelled},
		{linuxEPIPE, StatusEndpointHalted},
		{linuxETIME, StatusTimeout},
		{linuxENODEV, StatusDeviceGone},
		{linuxESHUTDOWN, StatusDeviceGone},
		{linuxEPROTO, StatusBTStuff},
		{linuxEILSEQ, StatusCRC},
		{linuxEOVERFLOW, StatusDataOverrun},
		{linuxEREMOTEIO, StatusErrorShortTransfer},
		{linuxEINVAL, StatusInvalidParameter},
		{linuxENOMEM, StatusInsufficientResources},
		{-9999, StatusXactError},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, statusFromErrno(c.errno), "errno %d", c.errno)
	}
}

func TestIsUnlinkReset(t *testing.T) {
	require.True(t, isUnlinkReset(linuxECONNRESET))
	require.False(t, isUnlinkReset(0))
	require.False(t, isUnlinkReset(linuxENOENT))
}
