// LoopbackTransport completes NVMe Read/Write/Deallocate commands
// synchronously against an in-memory, sharded byte store, via a
// shard-per-64KB R/W-mutex locking scheme sized for parallel random
// I/O from multiple queues, reinterpreting byte offsets as LBAs and
// driving NVMe opcodes instead of a block device's ReadAt/WriteAt/Discard
// calls.
// Used by cmd/nvmeqd-sim and most package tests; RingSimTransport
// layers a submission ring on top of the same backing namespaces.
package transport

import (
	"fmt"
	"sync"

	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/nvme"
)

// loopbackShardSize is the per-shard granularity of the backing store.
const loopbackShardSize = 64 * 1024

type namespaceStore struct {
	data   []byte
	shards []sync.RWMutex
}

func newNamespaceStore(sectors uint64) *namespaceStore {
	size := sectors * constants.SectorSize
	numShards := (size + loopbackShardSize - 1) / loopbackShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &namespaceStore{
		data:   make([]byte, size),
		shards: make([]sync.RWMutex, numShards),
	}
}

func (s *namespaceStore) shardRange(off, length int64) (start, end int) {
	start = int(off / loopbackShardSize)
	end = int((off + length - 1) / loopbackShardSize)
	if end >= len(s.shards) {
		end = len(s.shards) - 1
	}
	return start, end
}

func (s *namespaceStore) readAt(p []byte, off int64) {
	startShard, endShard := s.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		s.shards[i].RLock()
	}
	copy(p, s.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		s.shards[i].RUnlock()
	}
}

func (s *namespaceStore) writeAt(p []byte, off int64) {
	startShard, endShard := s.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		s.shards[i].Lock()
	}
	copy(s.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		s.shards[i].Unlock()
	}
}

func (s *namespaceStore) zero(off, length int64) {
	startShard, endShard := s.shardRange(off, length)
	for i := startShard; i <= endShard; i++ {
		s.shards[i].Lock()
	}
	end := off + length
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	for i := off; i < end; i++ {
		s.data[i] = 0
	}
	for i := startShard; i <= endShard; i++ {
		s.shards[i].Unlock()
	}
}

// LoopbackTransport is a Transport over one or more in-memory namespaces.
type LoopbackTransport struct {
	mu         sync.Mutex
	namespaces map[uint32]*namespaceStore
}

// NewLoopbackTransport creates a transport with no namespaces attached.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{namespaces: make(map[uint32]*namespaceStore)}
}

// AttachNamespace registers backing storage of sectors 512-byte blocks
// for nsid. Calling it again for the same nsid replaces the store.
func (l *LoopbackTransport) AttachNamespace(nsid uint32, sectors uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.namespaces[nsid] = newNamespaceStore(sectors)
}

func (l *LoopbackTransport) storeFor(nsid uint32) (*namespaceStore, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.namespaces[nsid]
	return s, ok
}

// Submit completes Read, Write, and Deallocate (DSM) commands against
// the attached namespace synchronously, then invokes cb before
// returning. Any other opcode completes with a generic invalid-opcode
// error status; this transport is a fixture, not a full device model.
func (l *LoopbackTransport) Submit(qpairID int, cmd *nvme.Command, buf []byte, cb func(*nvme.Completion)) error {
	store, ok := l.storeFor(cmd.NSID)
	if !ok {
		return fmt.Errorf("transport: unknown namespace %d", cmd.NSID)
	}

	var cpl nvme.Completion
	switch cmd.Opcode {
	case nvme.OpRead:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		off := int64(lba * constants.SectorSize)
		if off+int64(len(buf)) > int64(len(store.data)) {
			cpl.Status = nvme.MakeStatus(0x00, 0x80) // generic status: LBA out of range
			break
		}
		store.readAt(buf, off)
	case nvme.OpWrite:
		lba := uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32
		off := int64(lba * constants.SectorSize)
		if off+int64(len(buf)) > int64(len(store.data)) {
			cpl.Status = nvme.MakeStatus(0x00, 0x80)
			break
		}
		store.writeAt(buf, off)
	case nvme.OpDeallocate:
		numRanges := int(cmd.CDW10&0xFF) + 1
		const dsmRangeSize = 16
		for i := 0; i < numRanges && (i+1)*dsmRangeSize <= len(buf); i++ {
			raw := buf[i*dsmRangeSize : (i+1)*dsmRangeSize]
			length := uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24
			startLBA := uint64(0)
			for b := 0; b < 8; b++ {
				startLBA |= uint64(raw[8+b]) << (8 * b)
			}
			store.zero(int64(startLBA*constants.SectorSize), int64(length)*constants.SectorSize)
		}
	default:
		cpl.Status = nvme.MakeStatus(0x00, 0x01) // invalid opcode
	}

	if cb != nil {
		cb(&cpl)
	}
	return nil
}

// Poll is a no-op: LoopbackTransport completes every command inline
// during Submit.
func (l *LoopbackTransport) Poll(qpairID int, max int) (int, error) {
	return 0, nil
}

var _ Transport = (*LoopbackTransport)(nil)
