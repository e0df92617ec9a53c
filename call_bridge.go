// call_bridge.go - Host to guest calls

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
call_bridge.go - Call Bridge

Host code reaches guest code in two ways:

  - A trap number below NATIVE_TRAP_NO_MASK runs the registered handler on
    the caller's context. The arguments are pushed on the current stack
    and popped again afterwards, so handlers that call back in nest
    cleanly.
  - Any other value is a guest subroutine address. The outer context is
    saved, a fresh one is built below the current stack with a zero return
    address, and the interpreter runs until PC reaches zero. The outer
    context is then put back untouched, even when the callee faulted.

Results come from D0, or from A0 when the caller asks for a pointer.
*/

package guestcore

const (
	NATIVE_TRAP_NO_MASK = 0x0FFF
	NATIVE_WANT_A0      = 0x10000000
)

// CallGuest invokes a trap (addrOrTrap < NATIVE_TRAP_NO_MASK) or a guest
// subroutine with args copied onto the guest stack, first byte lowest.
func (s *EmulatorState) CallGuest(addrOrTrap uint32, args []byte, wantA0 bool) uint32 {
	recordGuestCall()
	if addrOrTrap < NATIVE_TRAP_NO_MASK {
		return s.callTrap(uint16(addrOrTrap), args, wantA0)
	}
	return s.callFunction(GuestAddr(addrOrTrap), args, wantA0)
}

// Call68KFunc is the guest-memory flavour of CallGuest used by secondary
// ISAs: the arguments already live in the heap at argsOnStackP and the
// size word may carry NATIVE_WANT_A0. emulStateP is accepted for
// signature compatibility and ignored.
func (s *EmulatorState) Call68KFunc(emulStateP, trapOrFunction, argsOnStackP, argsSizeAndWantA0 uint32) uint32 {
	size := argsSizeAndWantA0 &^ NATIVE_WANT_A0
	wantA0 := argsSizeAndWantA0&NATIVE_WANT_A0 != 0
	s.log.Tracef("Bridge", "Call68KFunc(0x%08X, 0x%08X, 0x%08X, %d, a0=%v)", emulStateP, trapOrFunction, argsOnStackP, size, wantA0)

	var args []byte
	if size > 0 {
		view := s.Mem.Bytes(GuestAddr(argsOnStackP), size)
		if view == nil {
			return 0
		}
		// The view may overlap the stack area we are about to push onto.
		args = append([]byte(nil), view...)
	}
	return s.CallGuest(trapOrFunction, args, wantA0)
}

func (s *EmulatorState) result(wantA0 bool) uint32 {
	ctx := s.CPU.Context()
	if wantA0 {
		return ctx.A[0]
	}
	return ctx.D[0]
}

func (s *EmulatorState) callTrap(n uint16, args []byte, wantA0 bool) uint32 {
	trap := SYSTRAP_BASE | n
	s.log.Tracef("Bridge", "call trap 0x%04X with %d argument bytes", trap, len(args))

	ctx := s.CPU.Context()
	sp := ctx.SP()
	argSP := sp - uint32(len(args))
	if !s.Mem.CopyIn(GuestAddr(argSP), args) {
		return 0
	}
	ctx.SetSP(argSP)
	s.CPU.SetContext(ctx)

	if !s.DispatchTrap(trap, GuestAddr(argSP)) {
		s.log.Errorf("Bridge", "trap 0x%04X not mapped", trap)
	}
	r := s.result(wantA0)

	ctx = s.CPU.Context()
	ctx.SetSP(sp)
	s.CPU.SetContext(ctx)
	return r
}

func (s *EmulatorState) callFunction(addr GuestAddr, args []byte, wantA0 bool) uint32 {
	s.log.Tracef("Bridge", "call function 0x%08X with %d argument bytes", uint32(addr), len(args))

	outer := s.CPU.Context()
	sp := outer.SP() - uint32(len(args))
	if !s.Mem.CopyIn(GuestAddr(sp), args) {
		return 0
	}
	// A zero return address ends the inner run when the callee returns.
	sp -= 4
	s.Mem.Write32(GuestAddr(sp), 0)

	inner := ResetContext()
	inner.PC = uint32(addr)
	inner.SetSP(sp)
	inner.A[REG_A5] = outer.A[REG_A5]
	s.CPU.SetContext(inner)

	s.callDepth++
	steps := 0
	for !s.Finished() && !s.MustEnd() {
		steps += s.CPU.Execute(s.cfg.BatchSize)
		if s.CPU.Halted() || s.CPU.Context().PC == 0 {
			break
		}
	}
	s.callDepth--
	s.lastCallSteps = steps

	r := s.result(wantA0)
	s.log.Tracef("Bridge", "function 0x%08X returned 0x%08X after %d steps", uint32(addr), r, steps)
	s.CPU.SetContext(outer)
	return r
}

// CallDepth is the number of nested guest subroutine calls in progress.
func (s *EmulatorState) CallDepth() int { return s.callDepth }

// LastCallSteps is the instruction count of the last finished subroutine call.
func (s *EmulatorState) LastCallSteps() int { return s.lastCallSteps }

// ArgWriter builds a big-endian argument block for CallGuest.
type ArgWriter struct {
	buf []byte
}

func (w *ArgWriter) Word(v uint16) *ArgWriter {
	w.buf = append(w.buf, byte(v>>8), byte(v))
	return w
}

func (w *ArgWriter) Long(v uint32) *ArgWriter {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return w
}

func (w *ArgWriter) Byte(v uint8) *ArgWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *ArgWriter) Bytes() []byte { return w.buf }
func (w *ArgWriter) Len() int      { return len(w.buf) }
