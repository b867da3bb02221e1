// Package cmdlog implements the per-queue-pair command log ring (spec
// §3, §4.4): a fixed-depth, single-writer, lock-free-reader ring
// recording every submitted command's request, completion, timestamps,
// and verification outcome. Consumed by the verification path (spec
// §8 scenarios) and by debug dump / the JSON-RPC introspection surface
// (internal/rpc). One owning goroutine mutates each per-queue-pair
// state array; readers tolerate torn in-flight slots, and Dump copies
// slots without checking whether their completion half is stamped yet.
package cmdlog

import (
	"fmt"
	"sync/atomic"

	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
	"github.com/nvmeqd/nvmeqd/internal/oracle"
)

// clearedTail is the sentinel tail value meaning "queue pair destroyed
// / not in use" (spec §4.4: "Tail = CMD_LOG_DEPTH is the sentinel").
const clearedTail = uint32(constants.CmdLogDepth)

// Entry is one command log slot. Padded out to reduce false sharing
// between the single writer and concurrent lock-free RPC readers
// walking neighboring slots.
type Entry struct {
	Cmd          nvme.Command
	Cpl          nvme.Completion
	TCmdNanos    int64
	TCplNanos    int64
	VerifyResult oracle.Kind
	OffendingLBA uint64
	Arg          any // caller-supplied context threaded through from submission

	_ [56]byte // pads Entry to 192 bytes (three 64-byte cachelines) on 64-bit platforms
}

// QueuePairLog is the ring for a single queue pair.
type QueuePairLog struct {
	entries [constants.CmdLogDepth]Entry
	tail    atomic.Uint32
}

// Table holds one QueuePairLog per possible queue pair slot.
type Table struct {
	qpairs [constants.MaxQueuePairs]*QueuePairLog
}

// New allocates an empty table with every queue pair slot cleared.
func New() *Table {
	t := &Table{}
	for i := range t.qpairs {
		log := &QueuePairLog{}
		log.tail.Store(clearedTail)
		t.qpairs[i] = log
	}
	return t
}

func (t *Table) logFor(qid int) (*QueuePairLog, error) {
	if qid < 0 || qid >= constants.MaxQueuePairs {
		return nil, fmt.Errorf("cmdlog: qpair id %d out of range [0,%d)", qid, constants.MaxQueuePairs)
	}
	return t.qpairs[qid], nil
}

// Init marks a queue pair as in use, resetting its ring to start
// filling from slot 0. Prior contents are left in place and simply
// overwritten round-robin as new entries arrive.
func (t *Table) Init(qid int) error {
	log, err := t.logFor(qid)
	if err != nil {
		return err
	}
	log.tail.Store(0)
	return nil
}

// Clear marks a queue pair as destroyed. The backing memory persists
// (spec §4.4 lifecycle) but Append and Dump treat the ring as empty
// until the next Init.
func (t *Table) Clear(qid int) error {
	log, err := t.logFor(qid)
	if err != nil {
		return err
	}
	log.tail.Store(clearedTail)
	return nil
}

// Append records one in-flight command into the ring, overwriting the
// oldest slot once the ring has wrapped, and returns a pointer to the
// stored slot so the caller can stamp in the completion half (TCplNanos,
// Cpl, VerifyResult, OffendingLBA) once it arrives. Single-writer per
// qpair by construction (spec §4.4): callers must not call Append
// concurrently for the same qid, and must finish updating the returned
// slot before the ring wraps back onto it.
func (t *Table) Append(qid int, entry Entry) (*Entry, error) {
	log, err := t.logFor(qid)
	if err != nil {
		return nil, err
	}
	tail := log.tail.Load()
	if tail == clearedTail {
		return nil, fmt.Errorf("cmdlog: qpair %d not in use", qid)
	}
	idx := tail % constants.CmdLogDepth
	log.entries[idx] = entry
	log.tail.Store((idx + 1) % constants.CmdLogDepth)
	return &log.entries[idx], nil
}

// Dump returns up to count of the most recently appended entries for a
// queue pair, most recent first. count<=0 means "return everything
// available", up to the full ring depth (CmdLogDepth entries). Returns an empty slice for a
// cleared or never-initialized queue pair. Readers tolerate torn reads
// of the slot currently being written (spec §4.4): the returned copy
// may race a concurrent Append for the newest entry.
func (t *Table) Dump(qid int, count int) ([]Entry, error) {
	log, err := t.logFor(qid)
	if err != nil {
		return nil, err
	}
	tail := log.tail.Load()
	if tail == clearedTail {
		return nil, nil
	}
	if count <= 0 || count > constants.CmdLogDepth {
		count = constants.CmdLogDepth
	}
	out := make([]Entry, 0, count)
	idx := tail
	for i := 0; i < count; i++ {
		idx = (idx + constants.CmdLogDepth - 1) % constants.CmdLogDepth
		out = append(out, log.entries[idx])
	}
	return out, nil
}

// TailIndex returns the current raw tail value for a queue pair,
// surfaced by the JSON-RPC get_nvme_controllers method (spec §6).
func (t *Table) TailIndex(qid int) (uint32, error) {
	log, err := t.logFor(qid)
	if err != nil {
		return 0, err
	}
	return log.tail.Load(), nil
}
