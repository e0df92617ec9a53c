package guestcore

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
)

const (
	testHeapSize  = 0x40000
	testStackSize = 0x1000
)

func testConfig() Config {
	return Config{
		HeapSize:  testHeapSize,
		StackSize: testStackSize,
		BatchSize: 1000,
		LogLevel:  LogError,
	}
}

// newTestState returns a state with the test configuration that is closed
// when the test ends.
func newTestState(t *testing.T) *EmulatorState {
	t.Helper()
	return newTestStateWith(t, StateOptions{})
}

func newTestStateWith(t *testing.T, opts StateOptions) *EmulatorState {
	t.Helper()
	if opts.Config == (Config{}) {
		opts.Config = testConfig()
	}
	if opts.Logger == nil {
		opts.Logger = DiscardLogger()
	}
	s, err := NewEmulatorState(opts)
	if err != nil {
		t.Fatalf("NewEmulatorState: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func be16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func words(ws ...uint16) []byte {
	out := make([]byte, 0, 2*len(ws))
	for _, w := range ws {
		out = binary.BigEndian.AppendUint16(out, w)
	}
	return out
}

// guestCode copies ws into a fresh heap block and returns its address.
func guestCode(t *testing.T, s *EmulatorState, ws ...uint16) GuestAddr {
	t.Helper()
	code := words(ws...)
	a, err := s.Heap.Alloc(uint32(len(code)), "test code")
	if err != nil {
		t.Fatalf("alloc code: %v", err)
	}
	s.Mem.CopyIn(a, code)
	return a
}

// guestStack gives the CPU a fresh stack and returns the stack pointer.
func guestStack(t *testing.T, s *EmulatorState) uint32 {
	t.Helper()
	a, err := s.Heap.Alloc(testStackSize, "test stack")
	if err != nil {
		t.Fatalf("alloc stack: %v", err)
	}
	ctx := s.CPU.Context()
	ctx.SetSP(uint32(a) + testStackSize - STACK_SLACK)
	s.CPU.SetContext(ctx)
	return ctx.SP()
}

// runProgram runs ws as a main routine returning to the null address.
func runProgram(t *testing.T, s *EmulatorState, ws ...uint16) {
	t.Helper()
	code := guestCode(t, s, ws...)
	sp := guestStack(t, s) - 4
	s.Mem.Write32(GuestAddr(sp), 0)
	ctx := s.CPU.Context()
	ctx.PC = uint32(code)
	ctx.SetSP(sp)
	s.CPU.SetContext(ctx)
	s.Run(context.Background())
}

// spyFunction registers fn as trap n and returns the trap band address
// that calls it. Called through the bridge it behaves like a guest
// subroutine whose arguments start at ArgBase.
func spyFunction(s *EmulatorState, n uint16, fn TrapFunc) GuestAddr {
	s.Traps.Register(SYSTRAP_BASE|n, "spy", fn)
	return trapAddress(s.Mem.Size(), n)
}

// Opcodes used by the test programs.
const (
	opMoveqD0     = 0x7000 // moveq #n,d0 (or in n)
	opMoveL4SPD0  = 0x202F // move.l d16(a7),d0
	opMoveW4SPD0  = 0x302F // move.w d16(a7),d0
	opMoveaL4SPA0 = 0x206F // movea.l d16(a7),a0
	opMoveWA0D0   = 0x3010 // move.w (a0),d0
	opMoveWImmPre = 0x3F3C // move.w #imm,-(a7)
	opJsrAbsL     = 0x4EB9
	opAddqL2SP    = 0x548F // addq.l #2,a7
	opBraSelf     = 0x60FE // bra.s *
	opTrap15      = 0x4E4F
)

type compatCall struct {
	Creator uint32
	Status  CompatStatus
	Code    uint32
}

// recordingHost remembers every supervisor call.
type recordingHost struct {
	mu      sync.Mutex
	compat  []compatCall
	crashes []string
	alerts  []string
	posted  []uint32
}

func (h *recordingHost) SetCompat(creator uint32, status CompatStatus, code uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.compat = append(h.compat, compatCall{creator, status, code})
	return nil
}

func (h *recordingHost) CrashLog(app AppIdentity, code uint32, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.crashes = append(h.crashes, msg)
	return nil
}

func (h *recordingHost) FatalAlert(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, msg)
}

func (h *recordingHost) PostAppCrashed(app AppIdentity, code uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posted = append(h.posted, code)
}

// xrefTail is the part of a relocation program after the decompression
// chains: the given data xref chains, empty ones for the rest, and zero
// code xref counts.
func xrefTail(dataCounts ...[]byte) []byte {
	var out []byte
	for i := 0; i < XREF_CHAINS; i++ {
		if i < len(dataCounts) {
			out = append(out, dataCounts[i]...)
		} else {
			out = append(out, be32(0)...)
		}
	}
	return append(out, concat(be32(0), be32(0), be32(0))...)
}

// emptyDecomp is a decompression chain that starts at A5 and does nothing.
func emptyDecomp() []byte { return concat(be32(0), []byte{0x00}) }

// testApp builds the three launch resources: a code 0 header, the entry
// segment and a relocation program.
func testApp(above, below uint32, code []byte, data0 []byte) ResourceMap {
	res := ResourceMap{}
	res.Put(ResCode, 0, concat(be32(above), be32(below)))
	res.Put(ResCode, 1, code)
	if data0 != nil {
		res.Put(ResData, 0, data0)
	}
	return res
}

// testContext stands in for t.Context (Go 1.24+): it is canceled when the
// test finishes.
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
