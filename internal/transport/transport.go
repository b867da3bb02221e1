// Package transport defines the black-box boundary between nvmeqd and
// whatever actually moves bytes to a device (a real PCIe/TCP NVMe
// stack, a simulated ring, or an in-memory fixture). Per the
// out-of-scope boundary this system deliberately does not cross:
// nvmeqd never reimplements a real NVMe transport, it only ever drives
// one through this interface.
package transport

import "github.com/nvmeqd/nvmeqd/internal/nvme"

// Transport submits commands against a namespace-agnostic backing
// store and reports completions, either synchronously (in-process
// fakes) or asynchronously via Poll (ring-style implementations).
type Transport interface {
	// Submit enqueues cmd with its associated data buffer for queue
	// pair qpairID. cb is invoked with the resulting completion; for a
	// synchronous transport this may happen before Submit returns, for
	// a polled one it happens during a later Poll call.
	Submit(qpairID int, cmd *nvme.Command, buf []byte, cb func(*nvme.Completion)) error

	// Poll drains up to max completed commands for qpairID, invoking
	// each one's registered callback, and returns how many it
	// processed. Transports that complete synchronously in Submit may
	// implement Poll as a no-op returning (0, nil).
	Poll(qpairID int, max int) (int, error)
}
