// Package pool implements the per-connection bump arena that backs the
// connection's growable read buffer, into which request-line and header
// slices point; header nodes and the Request struct are ordinary Go heap
// allocations. Nothing allocated from an Arena is ever freed
// individually — the whole region resets at once between keep-alive
// requests and is returned to a shared byte-region pool at connection end.
package pool

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Arena is a fixed-size contiguous byte region with a bump cursor. It
// supports allocation, in-place extension of the most recently allocated
// region, and a one-shot reset. No allocation survives a reset; there is no
// free for individual allocations.
type Arena struct {
	buf    []byte
	cursor int

	// lastOff/lastLen describe the most recent allocation so TryExtend can
	// verify it is still the bump-cursor-top region before growing it.
	lastOff int
	lastLen int

	bb *bytebufferpool.ByteBuffer
}

const wordAlign = 8

func alignUp(n int) int {
	return (n + wordAlign - 1) &^ (wordAlign - 1)
}

// New creates an Arena with at least capacity bytes backed by a region
// drawn from the shared bytebufferpool, matching the teacher's pattern of
// pooling the underlying []byte rather than the wrapper struct itself.
func New(capacity int) *Arena {
	bb := bytebufferpool.Get()
	if cap(bb.B) < capacity {
		bb.B = make([]byte, capacity)
	} else {
		bb.B = bb.B[:capacity]
	}
	return &Arena{buf: bb.B, bb: bb, lastOff: -1}
}

// Release returns the Arena's backing region to the shared pool. The Arena
// must not be used afterward.
func (a *Arena) Release() {
	if a.bb != nil {
		bytebufferpool.Put(a.bb)
		a.bb = nil
	}
	a.buf = nil
	a.cursor = 0
	a.lastOff, a.lastLen = -1, 0
}

// Cap returns the arena's total capacity.
func (a *Arena) Cap() int {
	return len(a.buf)
}

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() int {
	return a.cursor
}

// Alloc reserves n word-aligned bytes and returns them zeroed. It returns
// nil if the arena has insufficient remaining capacity; callers convert
// that into a protocol-level error (413 or 500), never panic.
func (a *Arena) Alloc(n int) []byte {
	aligned := alignUp(n)
	if a.cursor+aligned > len(a.buf) {
		return nil
	}
	off := a.cursor
	region := a.buf[off : off+n : off+aligned]
	for i := range region {
		region[i] = 0
	}
	a.cursor += aligned
	a.lastOff, a.lastLen = off, n
	return region
}

// TryExtend grows the most recently allocated region from oldN to newN
// bytes in place. It only succeeds when last is still the bump-cursor-top
// allocation (i.e. nothing has been allocated since) and the growth fits
// within the arena's remaining capacity.
func (a *Arena) TryExtend(last []byte, oldN, newN int) ([]byte, bool) {
	if newN <= oldN {
		return last, true
	}
	if a.lastOff < 0 || a.lastLen != oldN {
		return nil, false
	}
	if len(last) != oldN || &last[0] != &a.buf[a.lastOff] {
		return nil, false
	}
	aligned := alignUp(newN)
	oldAligned := alignUp(oldN)
	growth := aligned - oldAligned
	if a.cursor+growth > len(a.buf) {
		return nil, false
	}
	region := a.buf[a.lastOff : a.lastOff+newN : a.lastOff+aligned]
	for i := oldN; i < newN; i++ {
		region[i] = 0
	}
	a.cursor += growth
	a.lastLen = newN
	return region, true
}

// Reset moves the bump cursor back to zero, making the whole region
// available for the next keep-alive request on the same connection. The
// caller is responsible for discarding all slices obtained before Reset.
func (a *Arena) Reset() {
	a.cursor = 0
	a.lastOff, a.lastLen = -1, 0
}

// Pool recycles *Arena wrapper values (not just their backing regions) so
// repeated connection setup/teardown avoids allocating the Arena struct
// itself, mirroring the teacher's perCPUPool strategy in spirit without
// depending on the goexperiment.arenas build tag.
type Pool struct {
	defaultCap int
	p          sync.Pool
}

// NewPool creates a Pool that hands out Arenas of at least defaultCap bytes.
func NewPool(defaultCap int) *Pool {
	return &Pool{defaultCap: defaultCap}
}

// Get returns a ready-to-use Arena, either recycled or freshly built.
func (p *Pool) Get() *Arena {
	if v := p.p.Get(); v != nil {
		a := v.(*Arena)
		a.Reset()
		return a
	}
	return New(p.defaultCap)
}

// Put resets the arena (its backing region is kept, not released) and
// returns the wrapper to the pool.
func (p *Pool) Put(a *Arena) {
	if a == nil {
		return
	}
	a.Reset()
	p.p.Put(a)
}
