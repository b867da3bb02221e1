package nvmeqd

import "github.com/nvmeqd/nvmeqd/internal/constants"

// Re-export constants for public API.
const (
	SectorSize    = constants.SectorSize
	CmdLogDepth   = constants.CmdLogDepth
	MaxQueuePairs = constants.MaxQueuePairs
	USPerS        = constants.USPerS
	DefaultSeed   = constants.DefaultSeed

	// ConfigVerifyRead is the global config word bit that enables
	// read-verification against the checksum oracle.
	ConfigVerifyRead = constants.ConfigVerifyRead
)
