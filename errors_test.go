package nvmeqd

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Driver.Init", ErrCodeInvalidParameters, "bad total sectors")

	require.Equal(t, "Driver.Init", err.Op)
	require.Equal(t, ErrCodeInvalidParameters, err.Code)
	require.Equal(t, "nvmeqd: bad total sectors (op=Driver.Init)", err.Error())
}

func TestQueuePairError(t *testing.T) {
	err := NewQueuePairError("SubmitRW", 3, ErrCodeQueueFull, "ring full")

	require.Equal(t, 3, err.QpairID)
	require.Equal(t, "nvmeqd: ring full (op=SubmitRW)", err.Error())
}

func TestVerifyError(t *testing.T) {
	err := NewVerifyError(2, "CRCMismatch")
	require.Equal(t, ErrCodeDeviceReported, err.Code)
	require.Equal(t, 2, err.QpairID)
}

func TestWrapErrorMapsKnownErrno(t *testing.T) {
	err := WrapError("shm.Lookup", syscall.ENOENT)
	require.Equal(t, ErrCodeRegionNotFound, err.Code)
	require.True(t, errors.Is(err, syscall.ENOENT))
}

func TestWrapErrorPreservesAlreadyStructuredError(t *testing.T) {
	inner := NewQueuePairError("SubmitRaw", 1, ErrCodeTimeout, "deadline exceeded")
	wrapped := WrapError("Controller.SubmitRaw", inner)

	require.Equal(t, ErrCodeTimeout, wrapped.Code)
	require.Equal(t, 1, wrapped.QpairID)
	require.Equal(t, "Controller.SubmitRaw", wrapped.Op)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	require.Nil(t, WrapError("op", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("op", ErrCodeTimeout, "timed out")

	require.True(t, IsCode(err, ErrCodeTimeout))
	require.False(t, IsCode(err, ErrCodeQueueFull))
	require.False(t, IsCode(nil, ErrCodeTimeout))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrCode
	}{
		{syscall.ENOENT, ErrCodeRegionNotFound},
		{syscall.EEXIST, ErrCodeRegionExists},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOMEM, ErrCodeOracleUnavailable},
	}

	for _, tc := range cases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}

func TestErrorIsComparesOnCode(t *testing.T) {
	a := NewError("op1", ErrCodeTimeout, "a")
	b := NewError("op2", ErrCodeTimeout, "b")
	c := NewError("op3", ErrCodeQueueFull, "c")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}
