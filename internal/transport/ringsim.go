// RingSimTransport models a doorbell-style submission ring sitting in
// front of an in-memory namespace, the way a real PCIe controller's
// submission queue would sit under the Transport interface. Built
// around a minimal ring: head/tail index bookkeeping and the
// Sfence/Mfence memory-barrier calls from barrier.go (the fence
// semantics are an architecture fact, independent of any particular
// ring implementation). Submission slots are commandSlot values; there
// is no separate completion ring: Poll drains queued slots into a
// LoopbackTransport-backed namespace and invokes each callback directly.
package transport

import (
	"fmt"
	"sync"

	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

// ringSimDepth is the fixed submission/completion ring depth for the
// simulated ring (unrelated to the command log's CmdLogDepth).
const ringSimDepth = 128

type commandSlot struct {
	cmd *nvme.Command
	buf []byte
	cb  func(*nvme.Completion)
}

type ring struct {
	mu   sync.Mutex
	sq   [ringSimDepth]commandSlot
	sqH  uint32 // next slot to submit into
	sqT  uint32 // next slot for Poll to consume
	full bool
}

// RingSimTransport fans a shared LoopbackTransport out behind a
// per-qpair submission ring, deferring actual completion to Poll.
type RingSimTransport struct {
	backing *LoopbackTransport
	mu      sync.Mutex
	rings   map[int]*ring
}

// NewRingSimTransport creates a ring-simulated transport over backing.
func NewRingSimTransport(backing *LoopbackTransport) *RingSimTransport {
	return &RingSimTransport{backing: backing, rings: make(map[int]*ring)}
}

func (r *RingSimTransport) ringFor(qpairID int) *ring {
	r.mu.Lock()
	defer r.mu.Unlock()
	rg, ok := r.rings[qpairID]
	if !ok {
		rg = &ring{}
		r.rings[qpairID] = rg
	}
	return rg
}

// Submit enqueues cmd into the qpair's ring without executing it.
// Completion happens later, during Poll, modeling a real controller
// consuming the submission queue asynchronously.
func (r *RingSimTransport) Submit(qpairID int, cmd *nvme.Command, buf []byte, cb func(*nvme.Completion)) error {
	rg := r.ringFor(qpairID)

	rg.mu.Lock()
	defer rg.mu.Unlock()

	if rg.full {
		return fmt.Errorf("ringsim: qpair %d submission ring full", qpairID)
	}

	rg.sq[rg.sqH] = commandSlot{cmd: cmd, buf: buf, cb: cb}
	// Store fence: the slot's contents must be visible before any
	// observer sees the advanced tail.
	Sfence()
	rg.sqH = (rg.sqH + 1) % ringSimDepth
	if rg.sqH == rg.sqT {
		rg.full = true
	}
	return nil
}

// Poll drains up to max queued commands for qpairID, executing each
// one synchronously against the backing namespace and invoking its
// callback.
func (r *RingSimTransport) Poll(qpairID int, max int) (int, error) {
	rg := r.ringFor(qpairID)

	rg.mu.Lock()
	pending := make([]commandSlot, 0, max)
	for i := 0; i < max && (rg.sqT != rg.sqH || rg.full); i++ {
		pending = append(pending, rg.sq[rg.sqT])
		rg.sqT = (rg.sqT + 1) % ringSimDepth
		rg.full = false
	}
	// Full memory fence: all dequeues must be visible before we act on
	// the drained slots below.
	Mfence()
	rg.mu.Unlock()

	for _, slot := range pending {
		if err := r.backing.Submit(qpairID, slot.cmd, slot.buf, slot.cb); err != nil {
			return len(pending), err
		}
	}
	return len(pending), nil
}

var _ Transport = (*RingSimTransport)(nil)
