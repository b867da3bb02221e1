// Package nvme defines the NVMe command and completion wire structs
// nvmeqd submits and receives, plus builders for the read/write and
// raw-admin command shapes the submission wrapper needs. Struct layout
// follows the style of an exact-size ioctl passthrough struct; DSMRange,
// whose size is fixed by the NVMe range descriptor, carries a
// compile-time size assertion.
package nvme

import "unsafe"

// Opcodes consumed directly by the submission wrapper (spec §6). Any
// other opcode passes through SubmitRaw uninterpreted.
const (
	OpWrite      byte = 1
	OpRead       byte = 2
	OpDeallocate byte = 9 // Dataset Management (DSM) / TRIM
)

// Command is the host-side representation of an NVMe submission queue
// entry, trimmed to the fields nvmeqd actually populates. Mirrors the
// real NVMe SQE layout closely enough to serialize to a transport that
// expects it, without carrying every reserved dword.
type Command struct {
	Opcode      byte
	Flags       byte
	_           uint16 // reserved
	NSID        uint32
	CDW2        uint32
	CDW3        uint32
	Metadata    uint64
	Addr        uint64
	MetadataLen uint32
	DataLen     uint32
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
	TimeoutMs   uint32
}

// Evaluates Command's size at compile time; no particular byte count is
// asserted, since the struct is not serialized byte-for-byte.
var _ = [unsafe.Sizeof(Command{})]byte{}

// Completion is the host-side representation of an NVMe completion
// queue entry. CDW2 is repurposed post-device by the completion
// trampoline to carry host-measured latency in microseconds (spec §6);
// callers reading CDW2 get latency, never the device's original value.
type Completion struct {
	CDW0   uint32
	CDW1   uint32
	CDW2   uint32 // repurposed: host latency in microseconds after completion
	Status uint16 // composite SCT/SC, see StatusCode/StatusType
}

// Status field layout (real NVMe completion dword 3 status field,
// truncated to the bits nvmeqd forges/reads): bit 0 is the phase tag,
// bits 1..8 are the status code (SC), bits 9..11 are the status code
// type (SCT), bits 12..15 are CRD/M/DNR (unused here).
const (
	statusSCShift  = 1
	statusSCMask   = 0xFF
	statusSCTShift = 9
	statusSCTMask  = 0x7
)

// MakeStatus packs a status code type and status code into the
// composite Status field.
func MakeStatus(sct, sc byte) uint16 {
	return uint16(sct&statusSCTMask)<<statusSCTShift | uint16(sc)<<statusSCShift
}

// StatusCode extracts the status code (SC) from a composite Status.
func StatusCode(status uint16) byte {
	return byte((status >> statusSCShift) & statusSCMask)
}

// StatusType extracts the status code type (SCT) from a composite Status.
func StatusType(status uint16) byte {
	return byte((status >> statusSCTShift) & statusSCTMask)
}

// IsSuccess reports whether status carries no error (SC and SCT both zero).
func IsSuccess(status uint16) bool {
	return StatusCode(status) == 0 && StatusType(status) == 0
}

// Forged status for a read-verify failure (spec §4.3, §6): media error,
// unrecovered read error.
const (
	SCTMediaError     byte = 0x02
	SCUnrecoveredRead byte = 0x81
)

// ForgedVerifyFailureStatus is the composite status written into a
// completion's Status field when read-verify fails, regardless of what
// the device actually reported.
var ForgedVerifyFailureStatus = MakeStatus(SCTMediaError, SCUnrecoveredRead)

// BuildReadWrite constructs a Read or Write command per spec §4.3 step
// 2: LBA split across cdw10 (low 32 bits) and cdw11 (high 32 bits),
// (lbaCount-1)|ioFlags in cdw12 (ioFlags occupies the upper 16 bits per
// spec §4.3 step 1's flags assertion).
func BuildReadWrite(isRead bool, nsid uint32, lba uint64, lbaCount uint16, ioFlags uint16) Command {
	op := OpWrite
	if isRead {
		op = OpRead
	}
	return Command{
		Opcode: op,
		NSID:   nsid,
		CDW10:  uint32(lba),
		CDW11:  uint32(lba >> 32),
		CDW12:  uint32(lbaCount-1) | uint32(ioFlags)<<16,
	}
}

// BuildRaw constructs an arbitrary admin/I/O command with caller-chosen
// cdw10..15, used by SubmitRaw for everything that isn't a Read/Write.
func BuildRaw(opcode byte, nsid uint32, cdw [6]uint32) Command {
	return Command{
		Opcode: opcode,
		NSID:   nsid,
		CDW10:  cdw[0],
		CDW11:  cdw[1],
		CDW12:  cdw[2],
		CDW13:  cdw[3],
		CDW14:  cdw[4],
		CDW15:  cdw[5],
	}
}

// DSMRange is one entry of a Dataset Management range list (the buffer
// SubmitRaw walks for opcode==OpDeallocate, spec §4.3). 16 bytes per
// the real NVMe DSM range descriptor.
type DSMRange struct {
	CtxAttrs    uint32
	Length      uint32
	StartingLBA uint64
}

var _ [16]byte = [unsafe.Sizeof(DSMRange{})]byte{} // fails to compile unless DSMRange is 16 bytes
