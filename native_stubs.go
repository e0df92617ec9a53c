package guestcore

import "fmt"

// 68K helper routines for system calls that must call back into guest code.
// They are copied into the guest heap at launch so a full 68K core can run them.
var (
	// Packs a pointer array into a string list, calling back into the guest.
	stubPointerArrayToStrings = []byte{
		0x4E, 0x56, 0x00, 0x00, 0x48, 0xE7, 0x18, 0x20, 0x24, 0x6E, 0x00, 0x08, 0x38, 0x2E, 0x00, 0x0C,
		0x76, 0x00, 0xB4, 0xFC, 0x00, 0x00, 0x67, 0x52, 0x30, 0x04, 0x48, 0xC0, 0xE5, 0x88, 0x2F, 0x00,
		0x4E, 0x4F, 0xA0, 0x1E, 0x26, 0x08, 0x58, 0x8F, 0x67, 0x40, 0x2F, 0x03, 0x4E, 0x4F, 0xA0, 0x21,
		0x58, 0x8F, 0xB0, 0xFC, 0x00, 0x00, 0x67, 0x32, 0x42, 0x40, 0x42, 0x41, 0xB8, 0x41, 0x6F, 0x24,
		0x32, 0x40, 0x4A, 0x31, 0xA8, 0x00, 0x66, 0x16, 0x30, 0x01, 0x48, 0xC0, 0xE5, 0x88, 0x21, 0x8A,
		0x08, 0x00, 0x45, 0xF2, 0x98, 0x01, 0x42, 0x40, 0x52, 0x41, 0x60, 0x00, 0xFF, 0xE0, 0x52, 0x40,
		0x60, 0x00, 0xFF, 0xDA, 0x2F, 0x03, 0x4E, 0x4F, 0xA0, 0x22, 0x20, 0x43, 0x4C, 0xEE, 0x04, 0x18,
		0xFF, 0xF4, 0x4E, 0x5E, 0x4E, 0x75,
	}

	// Draws a form, invoking gadget handlers through the guest.
	stubFormDraw = []byte{
		0x4E, 0x56, 0x00, 0x00, 0x48, 0xE7, 0x18, 0x20, 0x28, 0x2E, 0x00, 0x08, 0x67, 0x40, 0x42, 0x43,
		0x60, 0x00, 0x00, 0x2A, 0x3F, 0x03, 0x2F, 0x04, 0x4E, 0x4F, 0xA1, 0x82, 0x5C, 0x8F, 0x0C, 0x00,
		0x00, 0x0C, 0x66, 0x16, 0x20, 0x6A, 0x00, 0x10, 0xB0, 0xFC, 0x00, 0x00, 0x67, 0x0C, 0x42, 0xA7,
		0x42, 0x67, 0x2F, 0x0A, 0x4E, 0x90, 0x4F, 0xEF, 0x00, 0x0A, 0x52, 0x43, 0x3F, 0x03, 0x2F, 0x04,
		0x4E, 0x4F, 0xA5, 0x02, 0x24, 0x48, 0x5C, 0x8F, 0xB4, 0xFC, 0x00, 0x00, 0x66, 0xC6, 0x4C, 0xEE,
		0x04, 0x18, 0xFF, 0xF4, 0x4E, 0x5E, 0x4E, 0x75,
	}

	// Quicksort that calls a guest comparison function.
	stubQSort = []byte{
		0x4E, 0x56, 0x00, 0x00, 0x48, 0xE7, 0x1F, 0x38, 0x26, 0x6E, 0x00, 0x08, 0x3E, 0x2E, 0x00, 0x0E,
		0x28, 0x6E, 0x00, 0x10, 0xB6, 0xFC, 0x00, 0x00, 0x67, 0x00, 0x00, 0xE2, 0x0C, 0x6E, 0x00, 0x01,
		0x00, 0x0C, 0x63, 0x00, 0x00, 0xD8, 0x4A, 0x47, 0x6F, 0x00, 0x00, 0xD2, 0xB8, 0xFC, 0x00, 0x00,
		0x67, 0x00, 0x00, 0xCA, 0x30, 0x7C, 0x00, 0x04, 0x0C, 0x47, 0x00, 0x01, 0x6F, 0x02, 0x30, 0x47,
		0x2F, 0x08, 0x4E, 0x4F, 0xA0, 0x13, 0x2A, 0x08, 0x58, 0x8F, 0x67, 0x00, 0x00, 0xB0, 0x72, 0x01,
		0x60, 0x00, 0x00, 0x98, 0x26, 0x01, 0x2C, 0x01, 0x52, 0x86, 0x60, 0x00, 0x00, 0x56, 0x2F, 0x0A,
		0x2F, 0x0A, 0x2F, 0x03, 0x61, 0x00, 0xFF, 0x9A, 0x50, 0x8F, 0x48, 0x73, 0x08, 0x00, 0x2F, 0x05,
		0x4E, 0x4F, 0xA0, 0x26, 0x2F, 0x0A, 0x2F, 0x0A, 0x2F, 0x04, 0x61, 0x00, 0xFF, 0x84, 0x50, 0x8F,
		0x48, 0x73, 0x08, 0x00, 0x2F, 0x0A, 0x2F, 0x03, 0x61, 0x00, 0xFF, 0x76, 0x50, 0x8F, 0x48, 0x73,
		0x08, 0x00, 0x4E, 0x4F, 0xA0, 0x26, 0x2F, 0x0A, 0x2F, 0x05, 0x2F, 0x0A, 0x2F, 0x04, 0x61, 0x00,
		0xFF, 0x60, 0x50, 0x8F, 0x48, 0x73, 0x08, 0x00, 0x4E, 0x4F, 0xA0, 0x26, 0x26, 0x04, 0x4F, 0xEF,
		0x00, 0x24, 0x4A, 0x83, 0x6F, 0x32, 0x2F, 0x2E, 0x00, 0x14, 0x34, 0x47, 0x2F, 0x0A, 0x2F, 0x03,
		0x61, 0x00, 0xFF, 0x3E, 0x50, 0x8F, 0x48, 0x73, 0x08, 0x00, 0x28, 0x03, 0x53, 0x84, 0x2F, 0x0A,
		0x2F, 0x04, 0x61, 0x00, 0xFF, 0x2C, 0x50, 0x8F, 0x48, 0x73, 0x08, 0x00, 0x4E, 0x94, 0x4F, 0xEF,
		0x00, 0x0C, 0x4A, 0x40, 0x6E, 0x00, 0xFF, 0x78, 0x22, 0x06, 0x42, 0x80, 0x30, 0x2E, 0x00, 0x0C,
		0xB0, 0x81, 0x6E, 0x00, 0xFF, 0x60, 0x2F, 0x05, 0x4E, 0x4F, 0xA0, 0x12, 0x4C, 0xEE, 0x1C, 0xF8,
		0xFF, 0xE0, 0x4E, 0x5E, 0x4E, 0x75,
	}

	// Opens a shared library database and calls its install entry point.
	stubLibLoad = []byte{
		0x4E, 0x56, 0xFF, 0xC8, 0x48, 0xE7, 0x1F, 0x30, 0x2E, 0x2E, 0x00, 0x08, 0x2C, 0x2E, 0x00, 0x0C,
		0x26, 0x6E, 0x00, 0x10, 0x36, 0x3C, 0x05, 0x0A, 0x48, 0x6E, 0xFF, 0xCC, 0x48, 0x6E, 0xFF, 0xCA,
		0x42, 0x27, 0x2F, 0x06, 0x2F, 0x07, 0x48, 0x6E, 0xFF, 0xE0, 0x1F, 0x3C, 0x00, 0x01, 0x4E, 0x4F,
		0xA0, 0x78, 0x4F, 0xEF, 0x00, 0x18, 0x4A, 0x40, 0x66, 0x00, 0x00, 0xB6, 0x3F, 0x3C, 0x00, 0x01,
		0x2F, 0x2E, 0xFF, 0xCC, 0x3F, 0x2E, 0xFF, 0xCA, 0x4E, 0x4F, 0xA0, 0x49, 0x2A, 0x08, 0x50, 0x8F,
		0x67, 0x00, 0x00, 0x9E, 0x42, 0x67, 0x2F, 0x3C, 0x6C, 0x69, 0x62, 0x72, 0x4E, 0x4F, 0xA0, 0x60,
		0x28, 0x08, 0x5C, 0x8F, 0x67, 0x00, 0x00, 0x84, 0x2F, 0x04, 0x4E, 0x4F, 0xA0, 0x21, 0x24, 0x48,
		0x58, 0x8F, 0xB4, 0xFC, 0x00, 0x00, 0x67, 0x6A, 0x2F, 0x0B, 0x2F, 0x06, 0x2F, 0x07, 0x4E, 0x4F,
		0xA5, 0x03, 0x4F, 0xEF, 0x00, 0x0C, 0x4A, 0x00, 0x67, 0x06, 0x42, 0x43, 0x60, 0x00, 0x00, 0x4C,
		0x42, 0x27, 0x48, 0x78, 0x00, 0x10, 0x76, 0xD0, 0xD6, 0x8E, 0x2F, 0x03, 0x4E, 0x4F, 0xA0, 0x27,
		0x2F, 0x03, 0x3F, 0x13, 0x4E, 0x92, 0x36, 0x00, 0x4F, 0xEF, 0x00, 0x10, 0x66, 0x24, 0x2F, 0x2E,
		0xFF, 0xD4, 0x2F, 0x2E, 0xFF, 0xD0, 0x2F, 0x04, 0x4E, 0x4F, 0xA0, 0x2D, 0x2E, 0x80, 0x2F, 0x0A,
		0x2F, 0x2E, 0xFF, 0xCC, 0x3F, 0x13, 0x4E, 0x4F, 0xA5, 0x04, 0x36, 0x00, 0x4F, 0xEF, 0x00, 0x16,
		0x67, 0x08, 0x3F, 0x13, 0x4E, 0x4F, 0xA5, 0x05, 0x54, 0x8F, 0x2F, 0x04, 0x4E, 0x4F, 0xA0, 0x22,
		0x58, 0x8F, 0x2F, 0x04, 0x4E, 0x4F, 0xA0, 0x61, 0x58, 0x8F, 0x2F, 0x05, 0x4E, 0x4F, 0xA0, 0x4A,
		0x30, 0x03, 0x4C, 0xEE, 0x0C, 0xF8, 0xFF, 0xAC, 0x4E, 0x5E, 0x4E, 0x75,
	}
)

// NativeStubs records where the helper routines were installed.
type NativeStubs struct {
	Base                  GuestAddr
	PointerArrayToStrings GuestAddr
	FormDraw              GuestAddr
	QSort                 GuestAddr
	LibLoad               GuestAddr
}

// installNativeStubs copies every helper into one heap block.
func (s *EmulatorState) installNativeStubs() error {
	blobs := [][]byte{stubPointerArrayToStrings, stubFormDraw, stubQSort, stubLibLoad}
	var total uint32
	for _, b := range blobs {
		total += uint32(len(b))
	}
	base, err := s.Heap.Alloc(total, "nativeStubs")
	if err != nil {
		return fmt.Errorf("install native stubs: %w", err)
	}

	addrs := make([]GuestAddr, len(blobs))
	at := base
	for i, b := range blobs {
		s.Mem.CopyIn(at, b)
		addrs[i] = s.TrapOut(at)
		at += GuestAddr(len(b))
	}
	s.Stubs = NativeStubs{
		Base:                  base,
		PointerArrayToStrings: addrs[0],
		FormDraw:              addrs[1],
		QSort:                 addrs[2],
		LibLoad:               addrs[3],
	}
	s.log.Tracef("EmuPalmOS", "native stubs at 0x%08X (%d bytes)", uint32(base), total)
	return nil
}

func (s *EmulatorState) releaseNativeStubs() {
	if s.Stubs.Base == GuestNull {
		return
	}
	if err := s.Heap.Free(s.Stubs.Base); err != nil {
		s.log.Errorf("EmuPalmOS", "release native stubs: %v", err)
	}
	s.Stubs = NativeStubs{}
}
