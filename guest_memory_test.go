package guestcore

import (
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

type faultRecord struct {
	msg  string
	code FaultCode
}

func newTestMemory(t *testing.T) (*GuestMemory, *[]faultRecord) {
	t.Helper()
	mem, err := NewGuestMemory(testHeapSize, DiscardLogger())
	if err != nil {
		t.Fatalf("NewGuestMemory: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	faults := &[]faultRecord{}
	mem.SetFaultHandler(func(msg string, code FaultCode) {
		*faults = append(*faults, faultRecord{msg, code})
	})
	return mem, faults
}

func TestGuestMemoryBounds(t *testing.T) {
	const H = testHeapSize
	tests := []struct {
		name  string
		addr  GuestAddr
		width int
		ok    bool
	}{
		{"long at H-4", H - 4, 4, true},
		{"long at H-3", H - 3, 4, false},
		{"long at H-1", H - 1, 4, false},
		{"word at H-2", H - 2, 2, true},
		{"word at H-1", H - 1, 2, false},
		{"byte at H-1", H - 1, 1, true},
		{"byte at H", H, 1, false},
		{"long at low heap", 0x100, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, faults := newTestMemory(t)
			switch tt.width {
			case 1:
				mem.Write8(tt.addr, 0x5A)
			case 2:
				mem.Write16(tt.addr, 0x5A5A)
			case 4:
				mem.Write32(tt.addr, 0x5A5A5A5A)
			}
			if got := len(*faults) == 0; got != tt.ok {
				t.Fatalf("write%d at 0x%X valid = %v, want %v", tt.width*8, uint32(tt.addr), got, tt.ok)
			}
			if !tt.ok {
				if (*faults)[0].code != FaultInvalidAddress {
					t.Errorf("fault code = %v, want %v", (*faults)[0].code, FaultInvalidAddress)
				}
				return
			}
			var got uint32
			switch tt.width {
			case 1:
				got = uint32(mem.Read8(tt.addr))
			case 2:
				got = uint32(mem.Read16(tt.addr))
			case 4:
				got = mem.Read32(tt.addr)
			}
			want := uint32(0x5A5A5A5A) >> (32 - 8*tt.width)
			if got != want {
				t.Errorf("read back 0x%X, want 0x%X", got, want)
			}
		})
	}
}

func TestGuestMemoryInvalidReadYieldsZero(t *testing.T) {
	mem, faults := newTestMemory(t)
	if v := mem.Read32(testHeapSize - 3); v != 0 {
		t.Errorf("Read32 past heap = 0x%X, want 0", v)
	}
	if len(*faults) != 1 {
		t.Fatalf("faults = %d, want 1", len(*faults))
	}
	want := "Read 4 bytes(s) from invalid 68K address 0x0003FFFD"
	if (*faults)[0].msg != want {
		t.Errorf("fault message = %q, want %q", (*faults)[0].msg, want)
	}
}

func TestGuestMemoryTrapBandReads(t *testing.T) {
	const H = testHeapSize
	mem, faults := newTestMemory(t)

	if v := mem.Read16(H); v != RTS_OPCODE {
		t.Errorf("Read16(H) = 0x%04X, want RTS", v)
	}
	if v := mem.Read16(H + TRAPS_SIZE - 2); v != RTS_OPCODE {
		t.Errorf("Read16(last slot) = 0x%04X, want RTS", v)
	}
	if v := mem.Read32(H + 0x100); v != 0x4E754E75 {
		t.Errorf("Read32 in band = 0x%08X", v)
	}
	if v := mem.Read8(H); v != 0x4E {
		t.Errorf("Read8(H) = 0x%02X, want 0x4E", v)
	}
	if v := mem.Read8(H + 1); v != 0x75 {
		t.Errorf("Read8(H+1) = 0x%02X, want 0x75", v)
	}
	if len(*faults) != 0 {
		t.Fatalf("trap band reads faulted: %v", *faults)
	}

	mem.Read16(H + TRAPS_SIZE)
	if len(*faults) != 1 {
		t.Errorf("read past the trap band did not fault")
	}
	mem.Write16(H, 0)
	if len(*faults) != 2 {
		t.Errorf("write into the trap band did not fault")
	}
}

func TestGuestMemoryTrapForAddress(t *testing.T) {
	mem, _ := newTestMemory(t)
	for _, n := range []uint16{0, 1, 0x123, SYSTRAP_MASK} {
		a := trapAddress(mem.Size(), n)
		if !mem.InTrapBand(a) {
			t.Errorf("trap %X address 0x%X not in band", n, uint32(a))
		}
		if got := mem.TrapForAddress(a); got != n {
			t.Errorf("TrapForAddress(0x%X) = 0x%X, want 0x%X", uint32(a), got, n)
		}
	}
}

func TestGuestMemoryBigEndian(t *testing.T) {
	mem, _ := newTestMemory(t)
	mem.Write32(0x1000, 0x11223344)
	got := []uint8{mem.Read8(0x1000), mem.Read8(0x1001), mem.Read8(0x1002), mem.Read8(0x1003)}
	if diff := cmp.Diff([]uint8{0x11, 0x22, 0x33, 0x44}, got); diff != "" {
		t.Errorf("byte order mismatch (-want +got):\n%s", diff)
	}
	if v := mem.Read16(0x1002); v != 0x3344 {
		t.Errorf("Read16 = 0x%04X, want 0x3344", v)
	}
}

func TestGuestMemoryRegisterWindow(t *testing.T) {
	mem, faults := newTestMemory(t)

	if v := mem.Read32(REG_LSSA); v != 0 {
		t.Errorf("LSSA without display = 0x%X, want 0", v)
	}
	mem.SetDisplay(NewFramebufferSurface(0x12340, 4, 4))
	if v := mem.Read32(REG_LSSA); v != 0x12340 {
		t.Errorf("LSSA = 0x%X, want 0x12340", v)
	}
	if v := mem.Read16(REG_LSSA + 2); v != 0x2340 {
		t.Errorf("LSSA low word = 0x%X, want 0x2340", v)
	}
	if v := mem.Read32(0xFFFFF100); v != 0 {
		t.Errorf("unmapped register = 0x%X, want 0", v)
	}
	mem.Write16(0xFFFFF100, 0xBEEF)
	if len(*faults) != 0 {
		t.Errorf("register window access faulted: %v", *faults)
	}

	var written []uint32
	mem.MapRegister("TEST", 0xFFFFF200, 0xFFFFF203, func(GuestAddr) uint32 { return 0xCAFEF00D },
		func(_ GuestAddr, v uint32, _ int) { written = append(written, v) })
	if v := mem.Read8(0xFFFFF201); v != 0xFE {
		t.Errorf("register byte = 0x%X, want 0xFE", v)
	}
	mem.Write32(0xFFFFF200, 7)
	if diff := cmp.Diff([]uint32{7}, written); diff != "" {
		t.Errorf("register writes (-want +got):\n%s", diff)
	}
}

func TestGuestMemoryDisplayMirror(t *testing.T) {
	mem, _ := newTestMemory(t)
	fb := NewFramebufferSurface(0x8000, 4, 2)
	mem.SetDisplay(fb)

	mem.Write16(0x8002, 0xF800) // pixel (1,0) red
	mem.Write32(0x8008, 0x07E0001F)
	mem.Write8(0x7FFF, 0xFF) // just below the framebuffer

	if n := fb.Writes(); n != 2 {
		t.Errorf("mirrored writes = %d, want 2", n)
	}
	img := fb.Image()
	if c := img.RGBAAt(1, 0); c.R != 0xFF || c.G != 0 || c.B != 0 {
		t.Errorf("pixel (1,0) = %v, want red", c)
	}
	if c := img.RGBAAt(0, 1); c.G != 0xFF || c.R != 0 {
		t.Errorf("pixel (0,1) = %v, want green", c)
	}
	if c := img.RGBAAt(1, 1); c.B != 0xFF || c.R != 0 {
		t.Errorf("pixel (1,1) = %v, want blue", c)
	}
}

func TestGuestMemoryBulkAccess(t *testing.T) {
	mem, faults := newTestMemory(t)

	if b := mem.Bytes(0x2000, 0); b != nil {
		t.Errorf("Bytes(n=0) = %v, want nil", b)
	}
	if !mem.CopyIn(0x2000, []byte("palm")) {
		t.Fatal("CopyIn failed")
	}
	if got := string(mem.Bytes(0x2000, 4)); got != "palm" {
		t.Errorf("Bytes = %q", got)
	}
	if got := mem.ReadCString(0x2000, 3); got != "pal" {
		t.Errorf("ReadCString(max 3) = %q", got)
	}
	if got := mem.ReadCString(0x2000, 64); got != "palm" {
		t.Errorf("ReadCString = %q", got)
	}
	if len(*faults) != 0 {
		t.Fatalf("unexpected faults %v", *faults)
	}

	if mem.CopyIn(testHeapSize-2, []byte("palm")) {
		t.Error("CopyIn across the heap end succeeded")
	}
	if b := mem.Bytes(testHeapSize-3, 4); b != nil {
		t.Error("Bytes across the heap end returned a view")
	}
	if len(*faults) != 2 {
		t.Errorf("faults = %d, want 2", len(*faults))
	}
}

func TestGuestMemoryHostPointers(t *testing.T) {
	mem, _ := newTestMemory(t)

	p := mem.HostPtr(0x3000)
	if p == nil {
		t.Fatal("HostPtr returned nil")
	}
	*(*byte)(p) = 0x42
	if v := mem.Read8(0x3000); v != 0x42 {
		t.Errorf("write through host pointer not visible: 0x%X", v)
	}
	if a := mem.GuestPtr(p); a != 0x3000 {
		t.Errorf("GuestPtr = 0x%X, want 0x3000", uint32(a))
	}
	if mem.HostPtr(GuestNull) != nil || mem.HostPtr(testHeapSize) != nil {
		t.Error("HostPtr of null or out of range address is not nil")
	}
	var local int
	if a := mem.GuestPtr(unsafe.Pointer(&local)); a != GuestNull {
		t.Errorf("GuestPtr of host variable = 0x%X, want null", uint32(a))
	}
}

func TestNewGuestMemoryRejectsOversizedHeap(t *testing.T) {
	if _, err := NewGuestMemory(REG_WINDOW_BASE, nil); err == nil {
		t.Error("heap reaching the register window was accepted")
	}
	if _, err := NewGuestMemory(0, nil); err == nil {
		t.Error("empty heap was accepted")
	}
}
