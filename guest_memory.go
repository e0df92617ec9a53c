// guest_memory.go - Bounds-checked guest address space

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

/*
guest_memory.go - Guest Memory Arbiter

Every guest read and write goes through GuestMemory. The arbiter decides
which of the three address bands an access falls into:

    register window   addr >= REG_WINDOW_BASE, dispatched to IORegion handlers
    trap band         [H, H+TRAPS_SIZE), reads synthesise RTS
    heap              [0, H), bounds checked as addr <= H-width

Multi-byte values are big-endian. A failed bounds check never returns an
error: the fault hook halts the CPU and hands the launch to the panic path,
and the access yields zero so the halted instruction stream does not run on
undefined data.

Heap writes landing in the display sink's framebuffer range are stored and
then mirrored to the sink, byte offset relative to the framebuffer start.
*/

package guestcore

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// GuestAddr is a byte offset into the guest heap. It is never a host pointer.
type GuestAddr uint32

const GuestNull GuestAddr = 0

// GuestBus is the big-endian access surface the interpreter and codec use.
type GuestBus interface {
	Read8(addr GuestAddr) uint8
	Read16(addr GuestAddr) uint16
	Read32(addr GuestAddr) uint32
	Write8(addr GuestAddr, value uint8)
	Write16(addr GuestAddr, value uint16)
	Write32(addr GuestAddr, value uint32)
}

// DisplaySink receives framebuffer writes for live mirroring.
type DisplaySink interface {
	// FramebufferRange returns the current framebuffer as [start, end).
	FramebufferRange() (start, end GuestAddr)
	Mirror8(offset uint32, value uint8)
	Mirror16(offset uint32, value uint16)
	Mirror32(offset uint32, value uint32)
}

// FaultFunc is called once per failed access, after which the access
// returns zero.
type FaultFunc func(msg string, code FaultCode)

type IORegion struct {
	/*
		IORegion is one hardware register in the register window. onRead
		returns the full 32-bit register value; narrower reads are sliced
		out of it big-endian. onWrite may be nil, in which case writes are
		logged and dropped.
	*/
	name    string
	start   GuestAddr
	end     GuestAddr // inclusive
	onRead  func(addr GuestAddr) uint32
	onWrite func(addr GuestAddr, value uint32, width int)
}

type GuestMemory struct {
	/*
		GuestMemory owns the heap bytes of one launch. The backing is
		released by Close; HostPtr values must not be used afterwards.

		There is no mutex: a GuestMemory is owned by exactly one
		EmulatorState and is only touched from the goroutine running it.
	*/

	heap    []byte
	size    uint32
	release func() error

	regs    []IORegion
	display DisplaySink
	fault   FaultFunc
	log     *Logger

	monitorStart GuestAddr
	monitorLen   uint32
}

// NewGuestMemory maps a zeroed heap of size bytes.
func NewGuestMemory(size uint32, log *Logger) (*GuestMemory, error) {
	if size == 0 || uint64(size)+TRAPS_SIZE > REG_WINDOW_BASE {
		return nil, fmt.Errorf("guest heap size 0x%X out of range", size)
	}
	heap, release, err := allocHeapBacking(size)
	if err != nil {
		return nil, fmt.Errorf("allocate guest heap: %w", err)
	}
	if log == nil {
		log = DiscardLogger()
	}
	mem := &GuestMemory{
		heap:    heap,
		size:    size,
		release: release,
		log:     log,
	}
	mem.MapRegister("LSSA", REG_LSSA, REG_LSSA+3, mem.readLSSA, nil)
	return mem, nil
}

// Close unmaps the heap. It is safe to call more than once.
func (m *GuestMemory) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.heap = nil
	return err
}

func (m *GuestMemory) Size() uint32 { return m.size }

func (m *GuestMemory) SetFaultHandler(fn FaultFunc) { m.fault = fn }
func (m *GuestMemory) SetDisplay(sink DisplaySink)  { m.display = sink }
func (m *GuestMemory) Display() DisplaySink         { return m.display }

// Monitor registers the debugging window [addr, addr+n). Every access in it
// is logged before the bounds check.
func (m *GuestMemory) Monitor(addr GuestAddr, n uint32) {
	m.monitorStart, m.monitorLen = addr, n
}

// MapRegister adds a register to the window. Later mappings shadow earlier
// ones over the same range.
func (m *GuestMemory) MapRegister(name string, start, end GuestAddr, onRead func(GuestAddr) uint32, onWrite func(GuestAddr, uint32, int)) {
	m.regs = append([]IORegion{{name: name, start: start, end: end, onRead: onRead, onWrite: onWrite}}, m.regs...)
}

func (m *GuestMemory) readLSSA(GuestAddr) uint32 {
	if m.display == nil {
		return 0
	}
	start, _ := m.display.FramebufferRange()
	return uint32(start)
}

func (m *GuestMemory) InTrapBand(addr GuestAddr) bool {
	return uint32(addr) >= m.size && uint64(addr) < uint64(m.size)+TRAPS_SIZE
}

// TrapForAddress returns the trap number a call to addr dispatches.
func (m *GuestMemory) TrapForAddress(addr GuestAddr) uint16 {
	return uint16((uint32(addr) - m.size) >> 2)
}

func (m *GuestMemory) monitored(addr GuestAddr) bool {
	return m.monitorLen != 0 && addr >= m.monitorStart && uint64(addr) < uint64(m.monitorStart)+uint64(m.monitorLen)
}

// valid is the single bounds rule: addr <= H - width.
func (m *GuestMemory) valid(addr GuestAddr, width uint32) bool {
	return width <= m.size && uint32(addr) <= m.size-width
}

func (m *GuestMemory) invalid(write bool, addr GuestAddr, width uint32) {
	dir, prep := "Read", "from"
	if write {
		dir, prep = "Write", "to"
	}
	msg := fmt.Sprintf("%s %d bytes(s) %s invalid 68K address 0x%08X", dir, width, prep, uint32(addr))
	recordFault()
	m.log.Errorf("M68K", "%s", msg)
	if m.fault != nil {
		m.fault(msg, FaultInvalidAddress)
	}
}

func (m *GuestMemory) register(addr GuestAddr) *IORegion {
	for i := range m.regs {
		if addr >= m.regs[i].start && addr <= m.regs[i].end {
			return &m.regs[i]
		}
	}
	return nil
}

func (m *GuestMemory) readRegister(addr GuestAddr, width uint32) uint32 {
	r := m.register(addr)
	if r == nil || r.onRead == nil {
		m.log.Tracef("M68K", "read%d unmapped register 0x%08X", width*8, uint32(addr))
		return 0
	}
	// Slice the requested bytes out of the big-endian register value.
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], r.onRead(r.start))
	off := uint32(addr - r.start)
	if off+width > 4 {
		return 0
	}
	switch width {
	case 1:
		return uint32(buf[off])
	case 2:
		return uint32(binary.BigEndian.Uint16(buf[off:]))
	default:
		return binary.BigEndian.Uint32(buf[:])
	}
}

func (m *GuestMemory) writeRegister(addr GuestAddr, value uint32, width int) {
	r := m.register(addr)
	if r == nil || r.onWrite == nil {
		m.log.Infof("M68K", "write%d 0x%X to register 0x%08X ignored", width*8, value, uint32(addr))
		return
	}
	r.onWrite(addr, value, width)
}

// trapBandValue reads the synthetic RTS pattern repeating through the band.
func trapBandValue(addr GuestAddr, width uint32) uint32 {
	pattern := [2]byte{RTS_OPCODE >> 8, RTS_OPCODE & 0xFF}
	var v uint32
	for i := uint32(0); i < width; i++ {
		v = v<<8 | uint32(pattern[(uint32(addr)+i)&1])
	}
	return v
}

func (m *GuestMemory) Read8(addr GuestAddr) uint8 {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor read8 0x%08X", uint32(addr))
	}
	switch {
	case addr >= REG_WINDOW_BASE:
		return uint8(m.readRegister(addr, 1))
	case m.InTrapBand(addr):
		return uint8(trapBandValue(addr, 1))
	case !m.valid(addr, 1):
		m.invalid(false, addr, 1)
		return 0
	}
	return m.heap[addr]
}

func (m *GuestMemory) Read16(addr GuestAddr) uint16 {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor read16 0x%08X", uint32(addr))
	}
	switch {
	case addr >= REG_WINDOW_BASE:
		return uint16(m.readRegister(addr, 2))
	case m.InTrapBand(addr):
		return uint16(trapBandValue(addr, 2))
	case !m.valid(addr, 2):
		m.invalid(false, addr, 2)
		return 0
	}
	return binary.BigEndian.Uint16(m.heap[addr:])
}

func (m *GuestMemory) Read32(addr GuestAddr) uint32 {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor read32 0x%08X", uint32(addr))
	}
	switch {
	case addr >= REG_WINDOW_BASE:
		return m.readRegister(addr, 4)
	case m.InTrapBand(addr):
		return trapBandValue(addr, 4)
	case !m.valid(addr, 4):
		m.invalid(false, addr, 4)
		return 0
	}
	return binary.BigEndian.Uint32(m.heap[addr:])
}

func (m *GuestMemory) Write8(addr GuestAddr, value uint8) {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor write8 0x%08X = 0x%02X", uint32(addr), value)
	}
	if addr >= REG_WINDOW_BASE {
		m.writeRegister(addr, uint32(value), 1)
		return
	}
	if !m.valid(addr, 1) {
		m.invalid(true, addr, 1)
		return
	}
	m.heap[addr] = value
	if off, ok := m.framebufferOffset(addr); ok {
		m.display.Mirror8(off, value)
	}
}

func (m *GuestMemory) Write16(addr GuestAddr, value uint16) {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor write16 0x%08X = 0x%04X", uint32(addr), value)
	}
	if addr >= REG_WINDOW_BASE {
		m.writeRegister(addr, uint32(value), 2)
		return
	}
	if !m.valid(addr, 2) {
		m.invalid(true, addr, 2)
		return
	}
	binary.BigEndian.PutUint16(m.heap[addr:], value)
	if off, ok := m.framebufferOffset(addr); ok {
		m.display.Mirror16(off, value)
	}
}

func (m *GuestMemory) Write32(addr GuestAddr, value uint32) {
	if m.monitored(addr) {
		m.log.Infof("M68K", "monitor write32 0x%08X = 0x%08X", uint32(addr), value)
	}
	if addr >= REG_WINDOW_BASE {
		m.writeRegister(addr, value, 4)
		return
	}
	if !m.valid(addr, 4) {
		m.invalid(true, addr, 4)
		return
	}
	binary.BigEndian.PutUint32(m.heap[addr:], value)
	if off, ok := m.framebufferOffset(addr); ok {
		m.display.Mirror32(off, value)
	}
}

func (m *GuestMemory) framebufferOffset(addr GuestAddr) (uint32, bool) {
	if m.display == nil {
		return 0, false
	}
	start, end := m.display.FramebufferRange()
	if addr < start || addr >= end {
		return 0, false
	}
	return uint32(addr - start), true
}

// Bytes returns a view of n heap bytes at addr, or nil after raising an
// invalid-address fault.
func (m *GuestMemory) Bytes(addr GuestAddr, n uint32) []byte {
	if n == 0 {
		return nil
	}
	if !m.valid(addr, n) {
		m.invalid(false, addr, n)
		return nil
	}
	return m.heap[addr : uint32(addr)+n : uint32(addr)+n]
}

// CopyIn writes src at addr. Nothing is written when the range is invalid.
func (m *GuestMemory) CopyIn(addr GuestAddr, src []byte) bool {
	if len(src) == 0 {
		return true
	}
	if !m.valid(addr, uint32(len(src))) {
		m.invalid(true, addr, uint32(len(src)))
		return false
	}
	copy(m.heap[addr:], src)
	return true
}

func (m *GuestMemory) Zero(addr GuestAddr, n uint32) bool {
	if n == 0 {
		return true
	}
	if !m.valid(addr, n) {
		m.invalid(true, addr, n)
		return false
	}
	clear(m.heap[addr : uint32(addr)+n])
	return true
}

// ReadCString reads a NUL terminated string of at most max bytes.
func (m *GuestMemory) ReadCString(addr GuestAddr, max uint32) string {
	if addr == GuestNull {
		return ""
	}
	var out []byte
	for i := uint32(0); i < max; i++ {
		b := m.Read8(addr + GuestAddr(i))
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out)
}

// HostPtr converts a guest address to a host pointer. GuestNull and
// out-of-heap addresses map to nil.
func (m *GuestMemory) HostPtr(addr GuestAddr) unsafe.Pointer {
	if addr == GuestNull || uint32(addr) >= m.size {
		return nil
	}
	return unsafe.Pointer(&m.heap[addr])
}

// GuestPtr converts a host pointer inside the heap back to a guest address.
// nil and pointers outside the heap map to GuestNull.
func (m *GuestMemory) GuestPtr(p unsafe.Pointer) GuestAddr {
	if p == nil || len(m.heap) == 0 {
		return GuestNull
	}
	base := uintptr(unsafe.Pointer(&m.heap[0]))
	off := uintptr(p) - base
	if uintptr(p) < base || off >= uintptr(m.size) {
		return GuestNull
	}
	return GuestAddr(off)
}
