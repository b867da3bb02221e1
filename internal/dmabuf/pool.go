package dmabuf

import "sync"

// Scratch buffers back command payloads whose size varies per call and
// isn't known until the caller builds the command, unlike an ioworker
// context's fixed-size per-block buffer. Size-bucketed pooling avoids an
// allocation per call; its one caller is submit.Queue.SubmitDeallocate,
// which packs DSM range lists into it. SubmitRaw itself uses the
// caller's buffer.
const (
	scratch4k   = 4 * 1024
	scratch64k  = 64 * 1024
	scratch256k = 256 * 1024
	scratch1m   = 1024 * 1024
)

var scratchPool = struct {
	p4k   sync.Pool
	p64k  sync.Pool
	p256k sync.Pool
	p1m   sync.Pool
}{
	p4k:   sync.Pool{New: func() any { b := make([]byte, scratch4k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, scratch64k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, scratch256k); return &b }},
	p1m:   sync.Pool{New: func() any { b := make([]byte, scratch1m); return &b }},
}

// GetScratch returns a pooled buffer of at least size bytes. Callers
// must call PutScratch when done.
func GetScratch(size int) []byte {
	switch {
	case size <= scratch4k:
		return (*scratchPool.p4k.Get().(*[]byte))[:size]
	case size <= scratch64k:
		return (*scratchPool.p64k.Get().(*[]byte))[:size]
	case size <= scratch256k:
		return (*scratchPool.p256k.Get().(*[]byte))[:size]
	case size <= scratch1m:
		return (*scratchPool.p1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutScratch returns a buffer to the pool it came from, determined by
// its capacity. Buffers with a non-standard capacity (the size >
// scratch1m fallback) are simply dropped.
func PutScratch(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case scratch4k:
		scratchPool.p4k.Put(&buf)
	case scratch64k:
		scratchPool.p64k.Put(&buf)
	case scratch256k:
		scratchPool.p256k.Put(&buf)
	case scratch1m:
		scratchPool.p1m.Put(&buf)
	}
}
