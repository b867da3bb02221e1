package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

func TestRingSimSubmitDefersCompletionUntilPoll(t *testing.T) {
	lb := NewLoopbackTransport()
	lb.AttachNamespace(1, 16)
	rs := NewRingSimTransport(lb)

	buf := make([]byte, constants.SectorSize)
	cmd := nvme.BuildReadWrite(false, 1, 0, 1, 0)

	completed := false
	require.NoError(t, rs.Submit(0, &cmd, buf, func(c *nvme.Completion) { completed = true }))
	require.False(t, completed, "ring-simulated transport must not complete inline")

	n, err := rs.Poll(0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, completed)
}

func TestRingSimPollRespectsMax(t *testing.T) {
	lb := NewLoopbackTransport()
	lb.AttachNamespace(1, 16)
	rs := NewRingSimTransport(lb)

	for i := 0; i < 5; i++ {
		buf := make([]byte, constants.SectorSize)
		cmd := nvme.BuildReadWrite(false, 1, uint64(i), 1, 0)
		require.NoError(t, rs.Submit(0, &cmd, buf, nil))
	}

	n, err := rs.Poll(0, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = rs.Poll(0, 10)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRingSimFullRingRejectsSubmit(t *testing.T) {
	lb := NewLoopbackTransport()
	lb.AttachNamespace(1, 1024)
	rs := NewRingSimTransport(lb)

	var err error
	for i := 0; i < ringSimDepth+1; i++ {
		buf := make([]byte, constants.SectorSize)
		cmd := nvme.BuildReadWrite(false, 1, uint64(i), 1, 0)
		e := rs.Submit(0, &cmd, buf, nil)
		if e != nil {
			err = e
			break
		}
	}
	require.Error(t, err)
}

func TestRingSimQpairsAreIndependent(t *testing.T) {
	lb := NewLoopbackTransport()
	lb.AttachNamespace(1, 16)
	rs := NewRingSimTransport(lb)

	buf := make([]byte, constants.SectorSize)
	cmd := nvme.BuildReadWrite(false, 1, 0, 1, 0)
	require.NoError(t, rs.Submit(0, &cmd, buf, nil))

	n, err := rs.Poll(1, 10)
	require.NoError(t, err)
	require.Zero(t, n, "qpair 1 has no submissions of its own")
}
