// Package submit implements the I/O submission wrapper and completion
// trampoline (spec §3, §4.3, §8): the layer that turns a logical
// read/write/raw request into an nvme.Command, threads it through the
// checksum oracle and command log, and hands it to a Transport. This
// generalizes a submit/complete/verify per-tag state machine, with
// the fixed tag table replaced by an append-then-complete cmdlog ring
// slot since depth here is governed by the ring, not a kernel tag.
package submit

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nvmeqd/nvmeqd/internal/cmdlog"
	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/dmabuf"
	"github.com/nvmeqd/nvmeqd/internal/interfaces"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
	"github.com/nvmeqd/nvmeqd/internal/oracle"
	"github.com/nvmeqd/nvmeqd/internal/transport"
)

// ConfigVerifyRead is re-exported from constants for readability at
// call sites that toggle the shared config word.
const ConfigVerifyRead = constants.ConfigVerifyRead

// Namespace describes one addressable NVMe namespace: its id, size,
// and the controller's maximum transfer size, used by SubmitRW and
// ioworker bounds checks.
type Namespace struct {
	NSID         uint32
	TotalSectors uint64
	SectorSize   int
	MaxXferBytes uint32
}

// Queue is a submission wrapper bound to one queue pair. It holds
// everything needed to submit a command, log it, and verify its
// completion: the transport, the shared oracle, the shared command
// log, and the shared config word.
type Queue struct {
	ID        int
	transport transport.Transport
	oracle    *oracle.Oracle
	log       *cmdlog.Table
	config    *uint64
	logger    interfaces.Logger
	observer  interfaces.Observer
}

// NewQueue binds a submission wrapper to queue pair id, initializing
// its command log ring.
func NewQueue(id int, t transport.Transport, o *oracle.Oracle, log *cmdlog.Table, config *uint64, logger interfaces.Logger, observer interfaces.Observer) (*Queue, error) {
	if err := log.Init(id); err != nil {
		return nil, fmt.Errorf("submit: init qpair %d: %w", id, err)
	}
	return &Queue{ID: id, transport: t, oracle: o, log: log, config: config, logger: logger, observer: observer}, nil
}

// Poll drains up to max completed commands for this queue pair,
// running their completion callbacks. A thin pass-through to the
// underlying Transport.Poll, kept on Queue so callers (ioworker) never
// need to hold a separate reference to the transport.
func (q *Queue) Poll(max int) (int, error) {
	return q.transport.Poll(q.ID, max)
}

// Destroy clears this queue pair's command log ring (spec §4.4
// lifecycle: "logically cleared on qpair destroy; memory persists").
func (q *Queue) Destroy() error {
	return q.log.Clear(q.ID)
}

func (q *Queue) verifyReadEnabled() bool {
	if q.config == nil {
		return false
	}
	return atomic.LoadUint64(q.config)&constants.ConfigVerifyRead != 0
}

// SubmitRW submits a Read or Write command against ns. On a write, the
// oracle is recorded *before* the command reaches the transport (spec
// §4.3 note, §9): a read issued concurrently with a write may observe
// a CRC for data not yet on media. This is a deliberate, preserved
// design choice, not a bug to fix.
func (q *Queue) SubmitRW(ns *Namespace, isRead bool, buf []byte, lba uint64, lbaCount uint16, ioFlags uint16, cb func(*nvme.Completion), arg any) error {
	if ns.SectorSize != constants.SectorSize {
		return fmt.Errorf("submit: namespace sector size %d != %d", ns.SectorSize, constants.SectorSize)
	}
	if len(buf) < int(lbaCount)*ns.SectorSize {
		return fmt.Errorf("submit: buffer too small for %d blocks", lbaCount)
	}
	if ioFlags != 0 && ioFlags&0xFFFF != ioFlags {
		return fmt.Errorf("submit: ioFlags must occupy only the upper bits")
	}

	cmd := nvme.BuildReadWrite(isRead, ns.NSID, lba, lbaCount, ioFlags)

	if !isRead {
		if err := q.oracle.RecordWrite(lba, lbaCount, buf, ns.SectorSize); err != nil {
			return fmt.Errorf("submit: record write: %w", err)
		}
	}

	entry := cmdlog.Entry{Cmd: cmd, TCmdNanos: time.Now().UnixNano(), Arg: arg}
	slot, err := q.log.Append(q.ID, entry)
	if err != nil {
		return fmt.Errorf("submit: append log: %w", err)
	}

	if q.observer != nil {
		q.observer.ObserveSubmit(cmd.Opcode, uint64(len(buf)))
	}

	verifyCtx := &verifyContext{q: q, isRead: isRead, lba: lba, lbaCount: lbaCount, buf: buf, opcode: cmd.Opcode, tCmd: entry.TCmdNanos, logEntry: slot, userCB: cb}
	return q.transport.Submit(q.ID, &cmd, buf, func(cpl *nvme.Completion) { q.onComplete(verifyCtx, cpl) })
}

// SubmitRaw submits an arbitrary admin/I/O command. If opcode is
// OpDeallocate, buf is interpreted as a packed []nvme.DSMRange and the
// oracle invalidates each range *before* submission, same rationale as
// the write path (spec §4.3).
func (q *Queue) SubmitRaw(opcode byte, nsid uint32, buf []byte, cdw [6]uint32, cb func(*nvme.Completion), arg any) error {
	cmd := nvme.BuildRaw(opcode, nsid, cdw)

	if opcode == nvme.OpDeallocate {
		numRanges := int(cdw[0]&0xFF) + 1
		for i := 0; i < numRanges && (i+1)*dsmRangeSize <= len(buf); i++ {
			raw := buf[i*dsmRangeSize : (i+1)*dsmRangeSize]
			length := le32(raw[4:8])
			startLBA := le64(raw[8:16])
			q.oracle.Invalidate(startLBA, length)
		}
	}

	entry := cmdlog.Entry{Cmd: cmd, TCmdNanos: time.Now().UnixNano(), Arg: arg}
	slot, err := q.log.Append(q.ID, entry)
	if err != nil {
		return fmt.Errorf("submit: append log: %w", err)
	}

	if q.observer != nil {
		q.observer.ObserveSubmit(cmd.Opcode, uint64(len(buf)))
	}

	verifyCtx := &verifyContext{q: q, opcode: cmd.Opcode, tCmd: entry.TCmdNanos, logEntry: slot, userCB: cb}
	return q.transport.Submit(q.ID, &cmd, buf, func(cpl *nvme.Completion) { q.onComplete(verifyCtx, cpl) })
}

const dsmRangeSize = 16

// SubmitDeallocate builds the packed DSM range list for a trim/unmap
// request from a pooled scratch buffer (rather than requiring the
// caller to hand-pack one), submits it as an OpDeallocate command, and
// returns the scratch buffer to the pool once the completion has been
// delivered.
func (q *Queue) SubmitDeallocate(nsid uint32, ranges []nvme.DSMRange, cb func(*nvme.Completion), arg any) error {
	if len(ranges) == 0 || len(ranges) > 256 {
		return fmt.Errorf("submit: deallocate needs 1-256 ranges, got %d", len(ranges))
	}

	scratch := dmabuf.GetScratch(len(ranges) * dsmRangeSize)
	for i, r := range ranges {
		raw := scratch[i*dsmRangeSize : (i+1)*dsmRangeSize]
		binary.LittleEndian.PutUint32(raw[0:4], r.CtxAttrs)
		binary.LittleEndian.PutUint32(raw[4:8], r.Length)
		binary.LittleEndian.PutUint64(raw[8:16], r.StartingLBA)
	}

	cdw := [6]uint32{uint32(len(ranges) - 1), 0, 0, 0, 0, 0}
	return q.SubmitRaw(nvme.OpDeallocate, nsid, scratch, cdw, func(cpl *nvme.Completion) {
		dmabuf.PutScratch(scratch)
		if cb != nil {
			cb(cpl)
		}
	}, arg)
}

type verifyContext struct {
	q        *Queue
	isRead   bool
	lba      uint64
	lbaCount uint16
	buf      []byte
	opcode   byte
	tCmd     int64
	logEntry *cmdlog.Entry
	userCB   func(*nvme.Completion)
}

// onComplete is the completion trampoline (spec §4.3, §6, §9): it
// stamps latency into cpl.CDW2 (destroying the device's original
// value, a deliberate preserved quirk), runs read verification when
// enabled, forges a media-error status on any verification failure,
// records the completion half of the command log entry (TCplNanos,
// Cpl, VerifyResult, OffendingLBA — spec §2/§3's "recording command,
// completion, ... for every issued command", §8 log-ordering property
// t_cpl >= t_cmd), and finally hands the completion to the caller's
// callback.
func (q *Queue) onComplete(ctx *verifyContext, cpl *nvme.Completion) {
	tCpl := time.Now().UnixNano()
	us := (tCpl - ctx.tCmd) / int64(time.Microsecond)
	cpl.CDW2 = uint32(us)

	var verifyResult oracle.Kind
	var offendingLBA uint64

	if ctx.isRead && ctx.buf != nil && q.verifyReadEnabled() {
		res, err := q.oracle.Verify(ctx.lba, ctx.lbaCount, ctx.buf, constants.SectorSize)
		if err == nil {
			verifyResult = res.Kind
			offendingLBA = res.OffendingLBA
			if res.Kind != oracle.Ok {
				cpl.Status = nvme.ForgedVerifyFailureStatus
				if q.observer != nil {
					q.observer.ObserveVerifyFailure(res.Kind.String())
				}
			}
		}
	}

	if ctx.logEntry != nil {
		ctx.logEntry.Cpl = *cpl
		ctx.logEntry.TCplNanos = tCpl
		ctx.logEntry.VerifyResult = verifyResult
		ctx.logEntry.OffendingLBA = offendingLBA
	}

	if q.observer != nil {
		q.observer.ObserveComplete(ctx.opcode, uint64(tCpl-ctx.tCmd), cpl.Status)
	}

	if ctx.userCB != nil {
		ctx.userCB(cpl)
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
