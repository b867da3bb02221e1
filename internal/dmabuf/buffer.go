// Package dmabuf provides the page-aligned, physically-contiguous style
// I/O buffer used by submission and ioworker (spec §3, §6). Allocation
// uses an anonymous mapping: real hugepage/DMA allocation is an external
// collaborator (spec §1), but an anonymous MAP_PRIVATE mapping gives the
// same page-aligned, fault-free-after-populate guarantee a test driver
// needs in-process.
package dmabuf

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/nvmeqd/nvmeqd/internal/constants"
)

// Buffer is a page-aligned anonymous mapping sized for a fixed number
// of sector-sized blocks.
type Buffer struct {
	data []byte
}

// New allocates a buffer covering sectors blocks of sectorSize bytes
// each, rounded up to a whole page.
func New(sectors int, sectorSize int) (*Buffer, error) {
	if sectorSize != constants.SectorSize {
		return nil, fmt.Errorf("dmabuf: sector size %d != %d", sectorSize, constants.SectorSize)
	}
	size := sectors * sectorSize
	pageSize := unix.Getpagesize()
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	if size == 0 {
		size = pageSize
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: mmap %d bytes: %w", size, err)
	}
	return &Buffer{data: data}, nil
}

// Bytes returns the full backing slice.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Free releases the mapping. Callers must not touch Bytes() afterward
// and must ensure no in-flight I/O still references this buffer (spec
// §3 lifecycle: "buffers must outlive any in-flight I/O referring to
// them").
func (b *Buffer) Free() error {
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}

// FillPattern writes a recognizable but otherwise arbitrary fill byte
// into every block's caller-owned payload region (bytes 8..503 of the
// spec §6 wire layout), leaving the LBA stamp and token trailer for
// RecordWrite to fill in. Useful for tests that want a known,
// non-zero buffer before a write.
func FillPattern(buf []byte, sectorSize int, fill byte) {
	for off := 0; off+sectorSize <= len(buf); off += sectorSize {
		block := buf[off : off+sectorSize]
		for i := 8; i < sectorSize-8; i++ {
			block[i] = fill
		}
	}
}

// ReadStampedLBA extracts the little-endian LBA stamp from the first 8
// bytes of a sector-sized block, per spec §6's wire format.
func ReadStampedLBA(block []byte) uint64 {
	return binary.LittleEndian.Uint64(block[0:8])
}
