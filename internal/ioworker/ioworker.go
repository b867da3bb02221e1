// Package ioworker implements the closed-loop synthetic I/O generator
// (spec §3, §4.5, §8, §9): given a queue pair and a namespace region,
// it drives reads and writes at a target rate and read/write mix until
// a command count or wall-clock budget is exhausted, recording latency
// and throughput statistics. Generalizes a fetch/submit/poll loop
// from "serve whatever the kernel fetches" to "originate commands against a
// region according to a workload description."
package ioworker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/dmabuf"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
	"github.com/nvmeqd/nvmeqd/internal/submit"
)

// Args mirrors spec §4.5's input field list verbatim.
type Args struct {
	LBAStart       uint64
	LBASize        uint16 // blocks per op
	LBAAlign       uint64
	LBARandom      bool
	RegionStart    uint64
	RegionEnd      uint64
	ReadPercentage int // [0,100]
	IOPS           uint64 // 0 = unthrottled
	IOCount        uint64 // 0 = unbounded
	Seconds        uint64 // 0 = unbounded, capped at 24h

	QueueDepth int // <= CmdLogDepth/2

	// Optional histograms. IOCounterPerSecond grows as seconds elapse;
	// IOCounterPerLatency, if non-nil, must be exactly US_PER_S long.
	IOCounterPerSecond  []uint64
	IOCounterPerLatency []uint64
}

// Rets mirrors spec §4.5's output field list.
type Rets struct {
	IOCountRead  uint64
	IOCountWrite uint64
	LatencyMaxUs uint64
	MSeconds     uint64
	Error        uint16 // first NVMe status observed, 11-bit composite
}

// Internal ioworker-level error codes (spec §4.3/§9 error kinds table,
// "ioworker-internal"), distinct from NVMe status codes.
const (
	errOversizeIO     uint16 = 0x0002
	retWallClockAbort        = -3
)

// Worker drives one closed-loop workload against a single queue pair
// and namespace region.
type Worker struct {
	Queue *submit.Queue
	NS    *submit.Namespace
	Args  Args
	PRNG  *rand.Rand // process-wide stream, seeded 1 at driver init (spec §4.5 step 6, §9)
}

// New validates args and constructs a Worker. Histogram shape
// mismatches are rejected here (spec §4.5: "the optional histogram
// slice, when the caller provides one, must be exactly that length"),
// not inside Run, since Run's signature has no room for a
// configuration error distinct from a device status.
func New(q *submit.Queue, ns *submit.Namespace, args Args, prng *rand.Rand) (*Worker, error) {
	if err := validateHistogram(args); err != nil {
		return nil, err
	}
	return &Worker{Queue: q, NS: ns, Args: args, PRNG: prng}, nil
}

type ioContext struct {
	buf *dmabuf.Buffer
}

// Run executes the 8-step algorithm from spec §4.5 and returns once
// the workload has finished, aborted on wall-clock overshoot, or hit a
// device error.
func (w *Worker) Run(ctx context.Context) Rets {
	args := w.normalize()

	if uint64(args.LBASize)*uint64(args.NS_SectorSize()) > uint64(w.NS.MaxXferBytes) {
		return Rets{Error: errOversizeIO}
	}

	contexts := make([]*ioContext, args.QueueDepth)
	for i := range contexts {
		buf, err := dmabuf.New(int(args.LBASize), constants.SectorSize)
		if err != nil {
			return Rets{Error: errOversizeIO}
		}
		contexts[i] = &ioContext{buf: buf}
	}
	defer func() {
		for _, c := range contexts {
			c.buf.Free()
		}
	}()

	start := time.Now()
	var rets Rets
	var sent, completed uint64
	finish := false
	var firstErr uint16
	cursor := args.LBAStart

	var ioDueTime time.Time
	throttled := args.IOPS > 0
	if throttled {
		ioDueTime = start.Add(time.Duration(float64(time.Second) / float64(args.IOPS)))
	}

	deadline := start.Add(time.Duration(args.Seconds) * time.Second)
	hardDeadline := start.Add(time.Duration(args.Seconds)*time.Second + constants.IOWorkerGrace)

	lastSec := 0
	readsAtBoundary, writesAtBoundary := uint64(0), uint64(0)
	nextSecBoundary := start.Add(time.Second)

	submitOne := func(c *ioContext) {
		isRead := w.PRNG.Intn(100) < args.ReadPercentage
		lba := w.nextLBA(&cursor, args)

		cb := func(cpl *nvme.Completion) {
			completed++
			latencyUs := uint64(cpl.CDW2)
			if latencyUs > rets.LatencyMaxUs {
				rets.LatencyMaxUs = latencyUs
			}
			if isRead {
				rets.IOCountRead++
			} else {
				rets.IOCountWrite++
			}
			if args.IOCounterPerLatency != nil {
				idx := latencyUs
				if idx >= constants.USPerS {
					idx = constants.USPerS - 1
				}
				args.IOCounterPerLatency[idx]++
			}

			now := time.Now()
			for now.After(nextSecBoundary) {
				reads, writes := rets.IOCountRead, rets.IOCountWrite
				if lastSec < len(args.IOCounterPerSecond) {
					args.IOCounterPerSecond[lastSec] = (reads + writes) - (readsAtBoundary + writesAtBoundary)
				}
				readsAtBoundary, writesAtBoundary = reads, writes
				lastSec++
				nextSecBoundary = nextSecBoundary.Add(time.Second)
			}

			if !nvme.IsSuccess(cpl.Status) && firstErr == 0 {
				firstErr = cpl.Status
			}

			done := sent == args.IOCount && args.IOCount != 0
			pastDue := args.Seconds != 0 && now.After(deadline)
			if done || pastDue || firstErr != 0 {
				finish = true
			}

			if throttled {
				if ioDueTime.After(now) {
					time.Sleep(ioDueTime.Sub(now))
				}
				ioDueTime = ioDueTime.Add(time.Duration(float64(time.Second) / float64(args.IOPS)))
			}

			if !finish {
				submitOne(c)
			}
		}

		buf := c.buf.Bytes()
		sent++
		if isRead {
			_ = w.Queue.SubmitRW(w.NS, true, buf, lba, args.LBASize, 0, cb, c)
		} else {
			dmabuf.FillPattern(buf, constants.SectorSize, byte(sent))
			_ = w.Queue.SubmitRW(w.NS, false, buf, lba, args.LBASize, 0, cb, c)
		}
	}

	// Step 3: prime the pipeline.
	for _, c := range contexts {
		if finish {
			break
		}
		submitOne(c)
	}

	// Step 4: idle loop.
	for sent != completed || !finish {
		if _, err := w.pollOnce(); err != nil {
			break
		}
		if time.Now().After(hardDeadline) {
			rets.MSeconds = uint64(time.Since(start).Milliseconds())
			rets.Error = errorOrDefault(retWallClockAbort, firstErr)
			return rets
		}
	}

	rets.MSeconds = uint64(time.Since(start).Milliseconds())
	rets.Error = firstErr
	return rets
}

func errorOrDefault(abortCode int, firstErr uint16) uint16 {
	if firstErr != 0 {
		return firstErr
	}
	return uint16(abortCode)
}

func (w *Worker) pollOnce() (int, error) {
	return w.Queue.Poll(w.Args.QueueDepth)
}

// normalized carries the post-step-1 values so Run never re-derives
// the sector size from a zero-valued Namespace by accident.
type normalized struct {
	Args
}

func (n normalized) NS_SectorSize() int { return constants.SectorSize }

// normalize implements spec §4.5 step 1: clamp the region and queue
// depth into valid ranges.
func (w *Worker) normalize() normalized {
	a := w.Args

	regionEnd := a.RegionEnd
	if regionEnd > w.NS.TotalSectors {
		regionEnd = w.NS.TotalSectors
	}
	if regionEnd >= uint64(a.LBASize)+1 {
		regionEnd -= uint64(a.LBASize) + 1
	} else {
		regionEnd = 0
	}
	if a.LBAAlign > 0 {
		regionEnd -= regionEnd % a.LBAAlign
	}

	regionStart := a.RegionStart
	if a.LBAAlign > 0 && regionStart%a.LBAAlign != 0 {
		regionStart += a.LBAAlign - regionStart%a.LBAAlign
	}

	if a.LBAStart < regionStart {
		a.LBAStart = regionStart
	}
	if a.LBAStart > regionEnd {
		a.LBAStart = regionStart
	}

	if a.IOCount != 0 && uint64(a.QueueDepth) > a.IOCount {
		a.QueueDepth = int(a.IOCount)
	}
	if a.Seconds > uint64(constants.MaxIOWorkerSeconds/time.Second) {
		a.Seconds = uint64(constants.MaxIOWorkerSeconds / time.Second)
	}

	a.RegionStart = regionStart
	a.RegionEnd = regionEnd
	return normalized{a}
}

// nextLBA implements spec §4.5 step 6's LBA picker: sequential
// advance-and-wrap, or the one process-wide PRNG seeded at driver
// init for random selection.
func (w *Worker) nextLBA(cursor *uint64, a normalized) uint64 {
	if !a.LBARandom {
		lba := *cursor
		*cursor += a.LBAAlign
		if *cursor > a.RegionEnd {
			*cursor = a.RegionStart
		}
		return alignDown(lba, a.LBAAlign)
	}

	span := a.RegionEnd - a.RegionStart
	if span == 0 {
		return a.RegionStart
	}
	lba := uint64(w.PRNG.Int63())%span + a.RegionStart
	return alignDown(lba, a.LBAAlign)
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v - v%align
}

// validateHistogram is called by New; kept here since it documents the
// exact contract Run relies on.
func validateHistogram(a Args) error {
	if a.IOCounterPerLatency != nil && len(a.IOCounterPerLatency) != constants.USPerS {
		return fmt.Errorf("ioworker: IOCounterPerLatency must have length %d, got %d", constants.USPerS, len(a.IOCounterPerLatency))
	}
	return nil
}
