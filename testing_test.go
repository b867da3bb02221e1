package nvmeqd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

func TestMockTransportDefersCompletionUntilPoll(t *testing.T) {
	mt := NewMockTransport()
	cmd := nvme.BuildReadWrite(true, 1, 0, 1, 0)

	var got *nvme.Completion
	require.NoError(t, mt.Submit(0, &cmd, make([]byte, 512), func(cpl *nvme.Completion) {
		got = cpl
	}))
	require.Nil(t, got)
	require.Equal(t, 1, mt.SubmitCalls())

	n, err := mt.Poll(0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotNil(t, got)
	require.True(t, nvme.IsSuccess(got.Status))
}

func TestMockTransportForceNextStatus(t *testing.T) {
	mt := NewMockTransport()
	mt.ForceNextStatus(nvme.ForgedVerifyFailureStatus)

	cmd := nvme.BuildReadWrite(true, 1, 0, 1, 0)
	var got *nvme.Completion
	require.NoError(t, mt.Submit(0, &cmd, nil, func(cpl *nvme.Completion) { got = cpl }))
	mt.Poll(0, 10)

	require.Equal(t, nvme.ForgedVerifyFailureStatus, got.Status)
}

func TestMockTransportForceNextError(t *testing.T) {
	mt := NewMockTransport()
	boom := NewError("test", ErrCodeQueueFull, "ring full")
	mt.ForceNextError(boom)

	cmd := nvme.BuildReadWrite(true, 1, 0, 1, 0)
	err := mt.Submit(0, &cmd, nil, nil)
	require.ErrorIs(t, err, boom)

	// the forced error is consumed; the next submit succeeds.
	err = mt.Submit(0, &cmd, nil, nil)
	require.NoError(t, err)
}

func TestMockTransportPollRespectsMax(t *testing.T) {
	mt := NewMockTransport()
	cmd := nvme.BuildReadWrite(true, 1, 0, 1, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, mt.Submit(0, &cmd, nil, func(*nvme.Completion) {}))
	}

	n, err := mt.Poll(0, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = mt.Poll(0, 10)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestMockTransportReset(t *testing.T) {
	mt := NewMockTransport()
	cmd := nvme.BuildReadWrite(true, 1, 0, 1, 0)
	mt.Submit(0, &cmd, nil, func(*nvme.Completion) {})
	mt.Poll(0, 10)

	mt.Reset()

	require.Equal(t, 0, mt.SubmitCalls())
	require.Equal(t, 0, mt.PollCalls())
	require.Equal(t, nvme.Command{}, mt.LastCommand())
}
