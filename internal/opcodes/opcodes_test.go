package opcodes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminNameKnown(t *testing.T) {
	require.Equal(t, "Identify", AdminName(0x06))
}

func TestAdminNameVendorSpecific(t *testing.T) {
	require.Equal(t, vendorSpecific, AdminName(0xC5))
	require.Equal(t, vendorSpecific, AdminName(0xFF))
}

func TestAdminNameUnknown(t *testing.T) {
	require.Equal(t, unknown, AdminName(0x7F))
}

func TestIONameKnown(t *testing.T) {
	require.Equal(t, "Read", IOName(0x02))
	require.Equal(t, "Write", IOName(0x01))
}

func TestIONameVendorSpecific(t *testing.T) {
	require.Equal(t, vendorSpecific, IOName(0x80))
	require.Equal(t, vendorSpecific, IOName(0xC0))
}

func TestIONameUnknown(t *testing.T) {
	require.Equal(t, unknown, IOName(0x7E))
}
