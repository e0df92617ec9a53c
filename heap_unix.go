//go:build unix

package guestcore

import "golang.org/x/sys/unix"

// allocHeapBacking maps an anonymous, page-rounded region so heap-relative
// host pointers stay fixed for the lifetime of a launch.
func allocHeapBacking(size uint32) ([]byte, func() error, error) {
	page := uint32(unix.Getpagesize())
	mapped := int((size + page - 1) / page * page)
	buf, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return buf[:size:size], func() error { return unix.Munmap(buf) }, nil
}
