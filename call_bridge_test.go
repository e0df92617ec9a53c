package guestcore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestCallGuestTrapPreservesSP(t *testing.T) {
	s := newTestState(t)
	sp := guestStack(t, s)

	var gotBase GuestAddr
	var gotSP uint32
	s.Traps.Register(SYSTRAP_BASE|0x123, "Sum", func(s *EmulatorState) {
		gotBase = s.ArgBase()
		gotSP = s.CPU.Context().SP()
		s.SetD0(s.ArgLong(0) + uint32(s.ArgWord(4)))
		s.SetA0(0xA0A0)
	})

	var args ArgWriter
	args.Long(1000).Word(234)
	if r := s.CallGuest(0x123, args.Bytes(), false); r != 1234 {
		t.Errorf("result = %d, want 1234", r)
	}
	if gotBase != GuestAddr(sp-6) || gotSP != sp-6 {
		t.Errorf("handler saw base 0x%X sp 0x%X, want 0x%X", uint32(gotBase), gotSP, sp-6)
	}
	if after := s.CPU.Context().SP(); after != sp {
		t.Errorf("SP after call = 0x%X, want 0x%X", after, sp)
	}
	if r := s.CallGuest(0x123, args.Bytes(), true); r != 0xA0A0 {
		t.Errorf("A0 result = 0x%X, want 0xA0A0", r)
	}
}

func TestCallGuestTrapStackBalance(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{"no arguments", 0},
		{"one byte", 1},
		{"odd length", 7},
		{"whole stack", testStackSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			sp := guestStack(t, s)
			args := make([]byte, tt.n)
			for i := range args {
				args[i] = byte(i + 1)
			}

			var gotBase GuestAddr
			s.Traps.Register(SYSTRAP_BASE|0x124, "Echo", func(s *EmulatorState) {
				gotBase = s.ArgBase()
				s.SetD0(uint32(len(s.Mem.Bytes(s.ArgBase(), uint32(tt.n)))))
			})
			if r := s.CallGuest(0x124, args, false); r != uint32(tt.n) {
				t.Errorf("handler saw %d argument bytes, want %d", r, tt.n)
			}
			if gotBase != GuestAddr(sp-uint32(tt.n)) {
				t.Errorf("argument base = 0x%X, want 0x%X", uint32(gotBase), sp-uint32(tt.n))
			}
			if diff := cmp.Diff(args, s.Mem.Bytes(gotBase, uint32(tt.n)), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("arguments on the stack (-want +got):\n%s", diff)
			}
			if after := s.CPU.Context().SP(); after != sp {
				t.Errorf("SP after call = 0x%X, want 0x%X", after, sp)
			}
			if _, _, crashed := s.PanicMessage(); crashed {
				t.Error("call crashed the guest")
			}
		})
	}
}

func TestCallGuestUnmappedTrap(t *testing.T) {
	s := newTestState(t)
	sp := guestStack(t, s)
	s.SetD0(55)
	if r := s.CallGuest(0x456, nil, false); r != 55 {
		t.Errorf("unmapped trap result = %d, want D0 untouched", r)
	}
	if s.CPU.Context().SP() != sp {
		t.Error("SP not restored")
	}
	if _, _, crashed := s.PanicMessage(); crashed {
		t.Error("unmapped trap through the bridge crashed the guest")
	}
}

func TestCallGuestFunctionRestoresContext(t *testing.T) {
	s := newTestState(t)
	fn := guestCode(t, s, M68K_RTS)
	guestStack(t, s)

	outer := s.CPU.Context()
	outer.D[0] = 0xDEADBEEF
	outer.D[3] = 3
	outer.A[2] = 0x2222
	outer.A[REG_A5] = 0x2000
	outer.PC = 0x4000
	outer.SR = SR_S | SR_Z
	s.CPU.SetContext(outer)

	if r := s.CallGuest(uint32(fn), nil, false); r != 0 {
		t.Errorf("result = 0x%X, want the fresh D0 of 0", r)
	}
	if n := s.LastCallSteps(); n != 1 {
		t.Errorf("LastCallSteps = %d, want 1", n)
	}
	if d := s.CallDepth(); d != 0 {
		t.Errorf("CallDepth = %d after return", d)
	}
	if diff := cmp.Diff(outer, s.CPU.Context()); diff != "" {
		t.Errorf("outer context changed (-want +got):\n%s", diff)
	}
}

func TestCallGuestFunctionArguments(t *testing.T) {
	tests := []struct {
		name    string
		program []uint16
		args    func(*ArgWriter)
		wantA0  bool
		want    uint32
	}{
		{
			name:    "long argument",
			program: []uint16{opMoveL4SPD0, 4, M68K_RTS},
			args:    func(w *ArgWriter) { w.Long(0x11223344) },
			want:    0x11223344,
		},
		{
			name:    "second word argument",
			program: []uint16{opMoveW4SPD0, 6, M68K_RTS},
			args:    func(w *ArgWriter) { w.Word(7).Word(9) },
			want:    9,
		},
		{
			name:    "pointer result",
			program: []uint16{opMoveaL4SPA0, 4, M68K_RTS},
			args:    func(w *ArgWriter) { w.Long(0x1234) },
			wantA0:  true,
			want:    0x1234,
		},
		{
			name:    "globals base is inherited",
			program: []uint16{0x200D, M68K_RTS}, // move.l a5,d0
			args:    func(*ArgWriter) {},
			want:    0x2468,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			fn := guestCode(t, s, tt.program...)
			guestStack(t, s)
			ctx := s.CPU.Context()
			ctx.A[REG_A5] = 0x2468
			s.CPU.SetContext(ctx)

			var w ArgWriter
			tt.args(&w)
			if r := s.CallGuest(uint32(fn), w.Bytes(), tt.wantA0); r != tt.want {
				t.Errorf("result = 0x%X, want 0x%X", r, tt.want)
			}
			if n := s.LastCallSteps(); n != 2 {
				t.Errorf("LastCallSteps = %d, want 2", n)
			}
		})
	}
}

func TestCallGuestFaultingCallee(t *testing.T) {
	s := newTestState(t)
	fn := guestCode(t, s, M68K_ILLEGAL)
	guestStack(t, s)
	outer := s.CPU.Context()
	outer.D[7] = 77
	s.CPU.SetContext(outer)

	s.CallGuest(uint32(fn), nil, false)
	if _, code, crashed := s.PanicMessage(); !crashed || code != FaultIllegalInstruction {
		t.Errorf("crashed=%v code=%v, want illegal instruction", crashed, code)
	}
	if diff := cmp.Diff(outer, s.CPU.Context()); diff != "" {
		t.Errorf("outer context not restored after fault (-want +got):\n%s", diff)
	}
	if s.CallDepth() != 0 {
		t.Errorf("CallDepth = %d", s.CallDepth())
	}
}

func TestCallGuestFromTrapHandler(t *testing.T) {
	s := newTestState(t)
	inner := guestCode(t, s, opMoveqD0|9, M68K_RTS)

	depth := -1
	spy := spyFunction(s, 0x30, func(s *EmulatorState) { depth = s.CallDepth() })
	s.Traps.Register(0xA020, "Callback", func(s *EmulatorState) {
		r := s.CallGuest(uint32(inner), nil, false)
		s.CallGuest(uint32(spy), nil, false)
		s.SetD0(r + 1)
	})

	runProgram(t, s, 0xA020, M68K_RTS)
	if msg, _, crashed := s.PanicMessage(); crashed {
		t.Fatalf("guest crashed: %s", msg)
	}
	if s.D0() != 10 {
		t.Errorf("D0 = %d, want 10", s.D0())
	}
	if depth != 1 {
		t.Errorf("depth inside nested call = %d, want 1", depth)
	}
	if !s.Finished() {
		t.Error("main routine did not return after the callback")
	}
}

func TestCall68KFunc(t *testing.T) {
	s := newTestState(t)
	guestStack(t, s)
	s.Traps.Register(SYSTRAP_BASE|0x124, "Ptr", func(s *EmulatorState) {
		s.SetA0(s.ArgLong(0) + 1)
		s.SetD0(7)
	})
	var seen uint32
	fn := spyFunction(s, 0x125, func(s *EmulatorState) {
		seen = s.ArgLong(0)
		s.SetD0(seen * 2)
	})

	argsP, err := s.Heap.Alloc(4, "args")
	if err != nil {
		t.Fatal(err)
	}
	s.Mem.Write32(argsP, 0x1000)

	if r := s.Call68KFunc(0, 0x124, uint32(argsP), 4|NATIVE_WANT_A0); r != 0x1001 {
		t.Errorf("trap with A0 result = 0x%X", r)
	}
	if r := s.Call68KFunc(0, 0x124, uint32(argsP), 4); r != 7 {
		t.Errorf("trap with D0 result = %d", r)
	}
	if r := s.Call68KFunc(0xFFFF, uint32(fn), uint32(argsP), 4); r != 0x2000 || seen != 0x1000 {
		t.Errorf("function result = 0x%X (saw 0x%X)", r, seen)
	}

	if r := s.Call68KFunc(0, 0x124, testHeapSize-2, 4); r != 0 {
		t.Errorf("arguments outside the heap returned 0x%X", r)
	}
	if _, code, crashed := s.PanicMessage(); !crashed || code != FaultInvalidAddress {
		t.Errorf("out of range arguments: crashed=%v code=%v", crashed, code)
	}
}

func TestArgWriter(t *testing.T) {
	var w ArgWriter
	w.Word(0x0102).Long(0x03040506).Byte(7)
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6, 7}, w.Bytes()); diff != "" {
		t.Errorf("bytes (-want +got):\n%s", diff)
	}
	if w.Len() != 7 {
		t.Errorf("Len = %d", w.Len())
	}
}
