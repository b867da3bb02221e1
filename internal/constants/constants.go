// Package constants holds the hard-coded sizing constants shared across
// nvmeqd's internal packages. None of these are meant to be tunable at
// runtime: resizing CmdLogDepth or MaxQueuePairs changes the shared-memory
// layout and must be done here, not via a config flag (spec §9).
package constants

import "time"

const (
	// SectorSize is the only block size nvmeqd understands. The oracle,
	// the DMA buffer layer and the submission wrapper all enforce it.
	SectorSize = 512

	// CmdLogDepth is the ring depth of a single queue pair's command log.
	// Must exceed the transport's maximum outstanding command count.
	CmdLogDepth = 2048

	// MaxQueuePairs is the hard cap on queue pairs per controller. Queue
	// pair id 0 is reserved for the admin queue; I/O queue ids run 1..15.
	MaxQueuePairs = 16

	// USPerS is the number of 1us buckets in an ioworker latency histogram.
	USPerS = 1_000_000

	// DefaultSeed is the fixed PRNG seed used at driver init so ioworker
	// scenarios are reproducible across runs.
	DefaultSeed = 1

	// MaxIOWorkerSeconds bounds an unbounded (seconds=0) ioworker run.
	MaxIOWorkerSeconds = 24 * time.Hour

	// IOWorkerGrace is added to an ioworker's requested duration before
	// the hard wall-clock abort fires.
	IOWorkerGrace = 10 * time.Second
)

// Shared-memory region names. Stable across processes and driver
// versions (spec §6).
const (
	RegionWriteToken   = "driver_io_token"
	RegionCRC32Table   = "driver_crc32_table"
	RegionGlobalConfig = "driver_global_config"
	RegionCmdLogTable  = "driver_cmdlog_table"
)

// Global config word bits (spec §6).
const (
	ConfigVerifyRead uint64 = 1 << 0
)
