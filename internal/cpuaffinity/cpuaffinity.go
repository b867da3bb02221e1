// Package cpuaffinity pins the calling process to a single core, as
// spec §5 requires for each of the primary/secondary processes
// sharing a controller: "each pinned to a distinct core selected by
// 1 << (pid % nprocs)". A single unix.SchedSetaffinity call pins the
// process as a whole (not a per-queue OS thread), once, at driver
// init.
package cpuaffinity

import (
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/nvmeqd/nvmeqd/internal/interfaces"
)

// PinToCore sets the calling process's CPU affinity mask to the single
// core `1 << (pid % nprocs)`, per spec §5. Failure to set affinity is
// logged but never fatal — it is a scheduling hint, not a correctness
// requirement.
func PinToCore(logger interfaces.Logger) error {
	nprocs := runtime.NumCPU()
	if nprocs == 0 {
		return nil
	}
	core := os.Getpid() % nprocs

	var mask unix.CPUSet
	mask.Set(core)

	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		if logger != nil {
			logger.Printf("cpuaffinity: failed to pin to core %d: %v", core, err)
		}
		return nil
	}
	if logger != nil {
		logger.Debugf("cpuaffinity: pinned to core %d", core)
	}
	return nil
}
