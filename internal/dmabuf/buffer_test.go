package dmabuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToPageSize(t *testing.T) {
	b, err := New(1, 512)
	require.NoError(t, err)
	defer b.Free()

	require.GreaterOrEqual(t, len(b.Bytes()), 512)
	require.Zero(t, len(b.Bytes())%4096, "should be page-rounded")
}

func TestRejectsWrongSectorSize(t *testing.T) {
	_, err := New(1, 4096)
	require.Error(t, err)
}

func TestFillPatternPreservesLBAAndTokenRegions(t *testing.T) {
	buf := make([]byte, 512)
	FillPattern(buf, 512, 0x42)

	for i := 0; i < 8; i++ {
		require.Zero(t, buf[i], "LBA stamp region must be left for RecordWrite")
	}
	for i := 504; i < 512; i++ {
		require.Zero(t, buf[i], "token trailer region must be left for RecordWrite")
	}
	for i := 8; i < 504; i++ {
		require.Equal(t, byte(0x42), buf[i])
	}
}

func TestScratchPoolBuckets(t *testing.T) {
	tests := []struct {
		size      int
		expectCap int
	}{
		{100, scratch4k},
		{scratch4k, scratch4k},
		{scratch4k + 1, scratch64k},
		{scratch1m, scratch1m},
	}

	for _, tt := range tests {
		buf := GetScratch(tt.size)
		require.Len(t, buf, tt.size)
		require.Equal(t, tt.expectCap, cap(buf))
		PutScratch(buf)
	}
}
