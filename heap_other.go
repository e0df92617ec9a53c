//go:build !unix

package guestcore

func allocHeapBacking(size uint32) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
