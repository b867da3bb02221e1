package nvme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReadWriteSplitsLBAAcrossCDW10And11(t *testing.T) {
	lba := uint64(0x1_0000_0002)
	cmd := BuildReadWrite(true, 1, lba, 8, 0)

	require.Equal(t, OpRead, cmd.Opcode)
	require.Equal(t, uint32(lba), cmd.CDW10)
	require.Equal(t, uint32(lba>>32), cmd.CDW11)
	require.Equal(t, uint32(7), cmd.CDW12&0xFFFF, "cdw12 low half is lbaCount-1")
}

func TestBuildReadWriteWrite(t *testing.T) {
	cmd := BuildReadWrite(false, 1, 0, 1, 0)
	require.Equal(t, OpWrite, cmd.Opcode)
}

func TestBuildReadWriteEncodesIOFlagsInUpperHalf(t *testing.T) {
	cmd := BuildReadWrite(true, 1, 0, 1, 0xBEEF)
	require.Equal(t, uint32(0xBEEF), cmd.CDW12>>16)
}

func TestBuildRawCopiesAllSixDwords(t *testing.T) {
	cmd := BuildRaw(0x06, 0, [6]uint32{1, 2, 3, 4, 5, 6})
	require.Equal(t, byte(0x06), cmd.Opcode)
	require.Equal(t, uint32(1), cmd.CDW10)
	require.Equal(t, uint32(6), cmd.CDW15)
}

func TestMakeStatusRoundTrips(t *testing.T) {
	status := MakeStatus(SCTMediaError, SCUnrecoveredRead)
	require.Equal(t, SCTMediaError, StatusType(status))
	require.Equal(t, SCUnrecoveredRead, StatusCode(status))
}

func TestIsSuccessOnlyWhenStatusZero(t *testing.T) {
	require.True(t, IsSuccess(0))
	require.False(t, IsSuccess(ForgedVerifyFailureStatus))
}

func TestForgedVerifyFailureStatusMatchesMediaError(t *testing.T) {
	require.Equal(t, SCTMediaError, StatusType(ForgedVerifyFailureStatus))
	require.Equal(t, SCUnrecoveredRead, StatusCode(ForgedVerifyFailureStatus))
}
