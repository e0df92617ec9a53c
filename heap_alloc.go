package guestcore

import (
	"fmt"
	"sort"
)

const HEAP_ALIGN = 4

type heapBlock struct {
	addr GuestAddr
	size uint32
	tag  string
}

// HeapAllocator hands out guest heap ranges first-fit. Block bookkeeping
// lives on the host side so guest code cannot corrupt it. Address 0 and the
// first HEAP_RESERVED bytes are never returned.
type HeapAllocator struct {
	mem  *GuestMemory
	used []heapBlock // sorted by addr
}

func NewHeapAllocator(mem *GuestMemory) *HeapAllocator {
	return &HeapAllocator{mem: mem}
}

// Alloc reserves size bytes, zeroes them and returns their address.
func (h *HeapAllocator) Alloc(size uint32, tag string) (GuestAddr, error) {
	if size == 0 {
		size = HEAP_ALIGN
	}
	size = (size + HEAP_ALIGN - 1) &^ (HEAP_ALIGN - 1)

	cursor := uint32(HEAP_RESERVED)
	at := len(h.used)
	for i, b := range h.used {
		if uint32(b.addr) >= cursor && uint32(b.addr)-cursor >= size {
			at = i
			break
		}
		cursor = uint32(b.addr) + b.size
	}
	if uint64(cursor)+uint64(size) > uint64(h.mem.Size()) {
		return GuestNull, fmt.Errorf("alloc %d bytes for %s: %w", size, tag, ErrHeapExhausted)
	}

	addr := GuestAddr(cursor)
	h.used = append(h.used, heapBlock{})
	copy(h.used[at+1:], h.used[at:])
	h.used[at] = heapBlock{addr: addr, size: size, tag: tag}
	h.mem.Zero(addr, size)
	return addr, nil
}

// Free releases a block returned by Alloc.
func (h *HeapAllocator) Free(addr GuestAddr) error {
	i := sort.Search(len(h.used), func(i int) bool { return h.used[i].addr >= addr })
	if i == len(h.used) || h.used[i].addr != addr {
		return fmt.Errorf("free 0x%08X: %w", uint32(addr), ErrInvalidFree)
	}
	h.used = append(h.used[:i], h.used[i+1:]...)
	return nil
}

// BlockSize reports the rounded size of the block at addr, or 0.
func (h *HeapAllocator) BlockSize(addr GuestAddr) uint32 {
	i := sort.Search(len(h.used), func(i int) bool { return h.used[i].addr >= addr })
	if i < len(h.used) && h.used[i].addr == addr {
		return h.used[i].size
	}
	return 0
}

// InUse returns the number of live blocks and their total size.
func (h *HeapAllocator) InUse() (blocks int, bytes uint32) {
	for _, b := range h.used {
		bytes += b.size
	}
	return len(h.used), bytes
}

// Leaks lists live blocks as "tag@addr+size" strings for teardown logging.
func (h *HeapAllocator) Leaks() []string {
	out := make([]string, 0, len(h.used))
	for _, b := range h.used {
		out = append(out, fmt.Sprintf("%s@0x%08X+%d", b.tag, uint32(b.addr), b.size))
	}
	return out
}
