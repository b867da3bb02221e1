package submit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvmeqd/nvmeqd/internal/cmdlog"
	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
	"github.com/nvmeqd/nvmeqd/internal/oracle"
	"github.com/nvmeqd/nvmeqd/internal/transport"
)

func newTestQueue(t *testing.T, verifyRead bool) (*Queue, *Namespace) {
	lb := transport.NewLoopbackTransport()
	lb.AttachNamespace(1, 1024)

	table := make([]byte, 4*1024)
	token := new(uint64)
	o, err := oracle.New(table, token)
	require.NoError(t, err)

	log := cmdlog.New()

	config := new(uint64)
	if verifyRead {
		*config = constants.ConfigVerifyRead
	}

	q, err := NewQueue(0, lb, o, log, config, nil, nil)
	require.NoError(t, err)

	ns := &Namespace{NSID: 1, TotalSectors: 1024, SectorSize: constants.SectorSize, MaxXferBytes: 1 << 20}
	return q, ns
}

func TestSubmitRWWriteThenReadRoundTrips(t *testing.T) {
	q, ns := newTestQueue(t, true)

	writeBuf := make([]byte, constants.SectorSize)
	for i := range writeBuf {
		writeBuf[i] = 0x11
	}
	var writeCpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, false, writeBuf, 5, 1, 0, func(c *nvme.Completion) { writeCpl = c }, nil))
	require.NotNil(t, writeCpl)
	require.True(t, nvme.IsSuccess(writeCpl.Status))

	readBuf := make([]byte, constants.SectorSize)
	var readCpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, true, readBuf, 5, 1, 0, func(c *nvme.Completion) { readCpl = c }, nil))
	require.NotNil(t, readCpl)
	require.True(t, nvme.IsSuccess(readCpl.Status))
}

func TestSubmitRWLatencyStampedIntoCDW2(t *testing.T) {
	q, ns := newTestQueue(t, false)
	buf := make([]byte, constants.SectorSize)

	var cpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, false, buf, 0, 1, 0, func(c *nvme.Completion) { cpl = c }, nil))
	require.NotNil(t, cpl)
	// CDW2 now carries host latency, not whatever the device reported.
	require.GreaterOrEqual(t, cpl.CDW2, uint32(0))
}

func TestSubmitRWRejectsUndersizedBuffer(t *testing.T) {
	q, ns := newTestQueue(t, false)
	buf := make([]byte, constants.SectorSize-1)
	err := q.SubmitRW(ns, true, buf, 0, 1, 0, nil, nil)
	require.Error(t, err)
}

func TestSubmitRWVerifyFailureForgesMediaErrorStatus(t *testing.T) {
	q, ns := newTestQueue(t, true)

	buf := make([]byte, constants.SectorSize)
	var writeCpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, false, buf, 10, 1, 0, func(c *nvme.Completion) { writeCpl = c }, nil))
	require.True(t, nvme.IsSuccess(writeCpl.Status))

	// Corrupt the buffer after the write so the read sees garbage the
	// transport happily returns but the oracle rejects.
	corrupt := make([]byte, constants.SectorSize)
	for i := range corrupt {
		corrupt[i] = 0xEE
	}
	// Overwrite the underlying namespace bytes directly via a raw write
	// bypassing the oracle, simulating device-side corruption.
	require.NoError(t, q.SubmitRaw(nvme.OpWrite, 1, corrupt, [6]uint32{10, 0, 0, 0, 0, 0}, nil, nil))

	var readCpl *nvme.Completion
	readBuf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, true, readBuf, 10, 1, 0, func(c *nvme.Completion) { readCpl = c }, nil))
	require.NotNil(t, readCpl)
	require.Equal(t, nvme.ForgedVerifyFailureStatus, readCpl.Status)
}

func TestSubmitRawDeallocateInvalidatesOracleBeforeSubmission(t *testing.T) {
	q, ns := newTestQueue(t, true)

	buf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, false, buf, 0, 1, 0, nil, nil))

	dsmBuf := make([]byte, 16)
	dsmBuf[4] = 1 // length = 1 sector
	require.NoError(t, q.SubmitRaw(nvme.OpDeallocate, 1, dsmBuf, [6]uint32{0, 0, 0, 0, 0, 0}, nil, nil))

	garbage := make([]byte, constants.SectorSize)
	for i := range garbage {
		garbage[i] = 0x99
	}
	var cpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, true, garbage, 0, 1, 0, func(c *nvme.Completion) { cpl = c }, nil))
	require.True(t, nvme.IsSuccess(cpl.Status), "trimmed LBA is unmapped, always passes verification")
}

func TestDestroyClearsCommandLog(t *testing.T) {
	q, ns := newTestQueue(t, false)
	buf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, false, buf, 0, 1, 0, nil, nil))

	require.NoError(t, q.Destroy())
	_, err := q.log.Append(q.ID, cmdlog.Entry{})
	require.Error(t, err)
}

func TestSubmitDeallocateInvalidatesOracleAndReturnsScratch(t *testing.T) {
	q, ns := newTestQueue(t, true)

	buf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, false, buf, 0, 1, 0, nil, nil))

	var cpl *nvme.Completion
	require.NoError(t, q.SubmitDeallocate(1, []nvme.DSMRange{{Length: 1, StartingLBA: 0}}, func(c *nvme.Completion) { cpl = c }, nil))
	require.NotNil(t, cpl)

	garbage := make([]byte, constants.SectorSize)
	for i := range garbage {
		garbage[i] = 0x99
	}
	var readCpl *nvme.Completion
	require.NoError(t, q.SubmitRW(ns, true, garbage, 0, 1, 0, func(c *nvme.Completion) { readCpl = c }, nil))
	require.True(t, nvme.IsSuccess(readCpl.Status), "trimmed LBA is unmapped, always passes verification")
}

func TestSubmitDeallocateRejectsEmptyRangeList(t *testing.T) {
	q, _ := newTestQueue(t, false)
	require.Error(t, q.SubmitDeallocate(1, nil, nil, nil))
}

func TestSubmitRWStampsCompletionIntoCommandLog(t *testing.T) {
	q, ns := newTestQueue(t, true)
	buf := make([]byte, constants.SectorSize)

	require.NoError(t, q.SubmitRW(ns, false, buf, 3, 1, 0, nil, nil))

	entries, err := q.log.Dump(q.ID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.NotZero(t, e.TCplNanos, "completion half must be stamped, not left at its zero value")
	require.GreaterOrEqual(t, e.TCplNanos, e.TCmdNanos, "log ordering: t_cpl >= t_cmd")
	require.True(t, nvme.IsSuccess(e.Cpl.Status))
	require.Equal(t, oracle.Ok, e.VerifyResult)
}

func TestSubmitRWStampsVerifyFailureIntoCommandLog(t *testing.T) {
	q, ns := newTestQueue(t, true)

	buf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, false, buf, 20, 1, 0, nil, nil))

	corrupt := make([]byte, constants.SectorSize)
	for i := range corrupt {
		corrupt[i] = 0xEE
	}
	require.NoError(t, q.SubmitRaw(nvme.OpWrite, 1, corrupt, [6]uint32{20, 0, 0, 0, 0, 0}, nil, nil))

	readBuf := make([]byte, constants.SectorSize)
	require.NoError(t, q.SubmitRW(ns, true, readBuf, 20, 1, 0, nil, nil))

	entries, err := q.log.Dump(q.ID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEqual(t, oracle.Ok, entries[0].VerifyResult)
	require.Equal(t, uint64(20), entries[0].OffendingLBA)
}

func TestSubmitRWWithDisabledOracleDoesNotPanic(t *testing.T) {
	lb := transport.NewLoopbackTransport()
	lb.AttachNamespace(1, 1024)
	log := cmdlog.New()
	config := new(uint64)

	q, err := NewQueue(0, lb, nil, log, config, nil, nil)
	require.NoError(t, err)
	ns := &Namespace{NSID: 1, TotalSectors: 1024, SectorSize: constants.SectorSize, MaxXferBytes: 1 << 20}

	buf := make([]byte, constants.SectorSize)
	var cpl *nvme.Completion
	require.NotPanics(t, func() {
		require.NoError(t, q.SubmitRW(ns, false, buf, 0, 1, 0, func(c *nvme.Completion) { cpl = c }, nil))
	})
	require.NotNil(t, cpl)
	require.True(t, nvme.IsSuccess(cpl.Status))
}
