// Package arena provides bump-allocated scratch buffers with typed
// sub-views. Kernel launchers carve per-thread tile scratch out of an
// arena instead of doing pointer arithmetic over a raw stack buffer, and
// the graph evaluator resets one arena per forward call.
package arena

import (
	"fmt"
	"unsafe"
)

// Alignment for all typed views. 64 covers a cache line and the widest
// vector the kernels assume.
const DefaultAlign = 64

type Arena struct {
	buf []byte
	off int
}

// New allocates an arena with the given capacity in bytes.
func New(capacity int) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena{buf: make([]byte, capacity)}
}

// Cap returns total capacity in bytes.
func (a *Arena) Cap() int { return len(a.buf) }

// Used returns bytes consumed since the last Reset, including alignment
// padding.
func (a *Arena) Used() int { return a.off }

// Reset discards all sub-views. Views handed out before Reset must not be
// used afterwards; the memory is reissued.
func (a *Arena) Reset() { a.off = 0 }

// Alloc returns an aligned byte view of length n. Fails when the arena
// cannot satisfy the request, so callers see sizing bugs instead of
// silently clobbering neighbors.
func (a *Arena) Alloc(n, align int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation %d", n)
	}
	if align <= 0 {
		align = DefaultAlign
	}
	off := (a.off + align - 1) &^ (align - 1)
	if off+n > len(a.buf) {
		return nil, fmt.Errorf("arena: out of capacity: need %d at offset %d, cap %d", n, off, len(a.buf))
	}
	a.off = off + n
	return a.buf[off : off+n : off+n], nil
}

// Float32 returns a zeroed view of count float32s.
func (a *Arena) Float32(count int) ([]float32, error) {
	b, err := a.Alloc(count*4, DefaultAlign)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	s := unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), count)
	clear(s)
	return s, nil
}

// Int32 returns a zeroed view of count int32s.
func (a *Arena) Int32(count int) ([]int32, error) {
	b, err := a.Alloc(count*4, DefaultAlign)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	s := unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), count)
	clear(s)
	return s, nil
}

// Int8 returns a zeroed view of count int8s.
func (a *Arena) Int8(count int) ([]int8, error) {
	b, err := a.Alloc(count, DefaultAlign)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	s := unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), count)
	clear(s)
	return s, nil
}

// Uint8 returns a zeroed view of count uint8s.
func (a *Arena) Uint8(count int) ([]uint8, error) {
	b, err := a.Alloc(count, DefaultAlign)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	clear(b)
	return b, nil
}

// Uint16 returns a zeroed view of count uint16s.
func (a *Arena) Uint16(count int) ([]uint16, error) {
	b, err := a.Alloc(count*2, DefaultAlign)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	s := unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), count)
	clear(s)
	return s, nil
}
