// Package oracle implements nvmeqd's shared-memory data-integrity
// oracle (spec §4.2, §3): a per-LBA CRC32C table, maintained in lockstep
// with every write/trim/mark-bad, used to verify reads independently of
// what the device reports.
package oracle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/nvmeqd/nvmeqd/internal/constants"
)

// Sentinel CRC values (spec §3).
const (
	sentinelUnmapped     uint32 = 0x00000000
	sentinelUncorrectable uint32 = 0xFFFFFFFF
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Kind classifies why Verify failed.
type Kind int

const (
	// Ok means the block matched the oracle or was unmapped (not verified).
	Ok Kind = iota
	// Uncorrectable means the oracle has this block marked bad.
	Uncorrectable
	// LBAStampMismatch means the self-identifying LBA in the payload's
	// first 8 bytes didn't match the LBA being read.
	LBAStampMismatch
	// CRCMismatch means the recomputed CRC32C didn't match the oracle.
	CRCMismatch
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Uncorrectable:
		return "uncorrectable"
	case LBAStampMismatch:
		return "lba_stamp_mismatch"
	case CRCMismatch:
		return "crc_mismatch"
	default:
		return "unknown"
	}
}

// Result is the outcome of a Verify call.
type Result struct {
	Kind         Kind
	OffendingLBA uint64
}

// Oracle is the per-LBA checksum table plus the write-token counter.
// A nil *Oracle is legal and behaves as spec §4.2's "disabled mode":
// every method becomes a no-op, so callers that could not reserve the
// CRC region can still drive the rest of the pipeline (spec §4.2, §7).
type Oracle struct {
	table []byte // 4 * totalSectors bytes, reinterpreted as LE uint32 slots
	token *uint64
}

// New wraps region bytes already reserved/looked-up by the caller (via
// internal/shm) as an Oracle. table must be exactly 4*totalSectors bytes
// and token must point at an 8-byte-aligned uint64 inside its own region.
func New(table []byte, token *uint64) (*Oracle, error) {
	if len(table)%4 != 0 {
		return nil, fmt.Errorf("oracle: table length %d not a multiple of 4", len(table))
	}
	return &Oracle{table: table, token: token}, nil
}

// Disabled reports whether this oracle is a no-op stand-in (spec §4.2
// disable mode: the CRC region could not be reserved).
func (o *Oracle) Disabled() bool {
	return o == nil
}

func (o *Oracle) slot(lba uint64) []byte {
	off := lba * 4
	return o.table[off : off+4]
}

func (o *Oracle) load(lba uint64) uint32 {
	return binary.LittleEndian.Uint32(o.slot(lba))
}

func (o *Oracle) store(lba uint64, v uint32) {
	binary.LittleEndian.PutUint32(o.slot(lba), v)
}

// biasCRC nudges a computed CRC away from the two reserved sentinel
// values (spec §3: "CRCs that would naturally equal a sentinel are
// biased to 1 or 0xFFFFFFFE").
func biasCRC(crc uint32) uint32 {
	switch crc {
	case sentinelUnmapped:
		return 1
	case sentinelUncorrectable:
		return 0xFFFFFFFE
	default:
		return crc
	}
}

// RecordWrite computes CRC32C for each sectorSize block in buf, biases
// sentinel collisions, stores the results for LBAs [lba, lba+count),
// and atomically advances the write token by count, stamping the
// buffer in place per spec §6's wire format (LBA in bytes 0..7,
// token+blockIndex in bytes 504..511 of each block). It is called
// BEFORE the write is submitted to the transport (spec §4.3 step 3,
// §9): the oracle is optimistic about device acknowledgement. A nil
// receiver still stamps the buffer's LBA/token fields but skips the
// token advance and CRC store, degrading to disabled mode rather than
// panicking (spec §4.2, §7).
func (o *Oracle) RecordWrite(lba uint64, count uint16, buf []byte, sectorSize int) error {
	if sectorSize != constants.SectorSize {
		return fmt.Errorf("oracle: sector size %d != %d", sectorSize, constants.SectorSize)
	}
	if len(buf) < int(count)*sectorSize {
		return fmt.Errorf("oracle: buffer too small for %d sectors", count)
	}

	var tok uint64
	if o != nil && o.token != nil {
		tok = atomic.AddUint64(o.token, uint64(count)) - uint64(count)
	}

	for i := uint16(0); i < count; i++ {
		block := buf[int(i)*sectorSize : int(i+1)*sectorSize]
		binary.LittleEndian.PutUint64(block[0:8], lba+uint64(i))
		binary.LittleEndian.PutUint64(block[sectorSize-8:sectorSize], tok+uint64(i))

		if o == nil {
			continue
		}
		crc := biasCRC(crc32.Checksum(block, castagnoli))
		o.store(lba+uint64(i), crc)
	}
	return nil
}

// Verify checks buf (already read from the device) against the oracle
// for LBAs [lba, lba+count). It returns the first failure encountered,
// or Ok if every block is unmapped or matches. Unmapped blocks are
// skipped entirely (spec §4.2, §8 trim-invalidation property).
func (o *Oracle) Verify(lba uint64, count uint16, buf []byte, sectorSize int) (Result, error) {
	if o == nil {
		return Result{Kind: Ok}, nil
	}
	if sectorSize != constants.SectorSize {
		return Result{}, fmt.Errorf("oracle: sector size %d != %d", sectorSize, constants.SectorSize)
	}
	if len(buf) < int(count)*sectorSize {
		return Result{}, fmt.Errorf("oracle: buffer too small for %d sectors", count)
	}

	for i := uint16(0); i < count; i++ {
		target := lba + uint64(i)
		expected := o.load(target)
		if expected == sentinelUnmapped {
			continue
		}
		if expected == sentinelUncorrectable {
			return Result{Kind: Uncorrectable, OffendingLBA: target}, nil
		}

		block := buf[int(i)*sectorSize : int(i+1)*sectorSize]
		if binary.LittleEndian.Uint64(block[0:8]) != target {
			return Result{Kind: LBAStampMismatch, OffendingLBA: target}, nil
		}
		if biasCRC(crc32.Checksum(block, castagnoli)) != expected {
			return Result{Kind: CRCMismatch, OffendingLBA: target}, nil
		}
	}
	return Result{Kind: Ok}, nil
}

// Invalidate marks LBAs [lba, lba+count) unmapped (spec: DSM-deallocate
// and format/sanitize paths call this before reads are expected to skip
// verification for the range).
func (o *Oracle) Invalidate(lba uint64, count uint32) {
	if o == nil {
		return
	}
	for i := uint32(0); i < count; i++ {
		o.store(lba+uint64(i), sentinelUnmapped)
	}
}

// MarkUncorrectable marks LBAs [lba, lba+count) as bad: any future read
// intersecting the range must surface as an unrecovered read error.
func (o *Oracle) MarkUncorrectable(lba uint64, count uint32) {
	if o == nil {
		return
	}
	for i := uint32(0); i < count; i++ {
		o.store(lba+uint64(i), sentinelUncorrectable)
	}
}

// InvalidateAll clears the entire table (format/sanitize).
func (o *Oracle) InvalidateAll() {
	if o == nil {
		return
	}
	for i := range o.table {
		o.table[i] = 0
	}
}

// TotalSectors returns how many LBA slots this oracle covers.
func (o *Oracle) TotalSectors() uint64 {
	if o == nil {
		return 0
	}
	return uint64(len(o.table) / 4)
}
