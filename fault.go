package guestcore

import "fmt"

// FaultCode is the numeric crash cause attached to compatibility records.
type FaultCode uint32

const (
	FaultInvalidAddress     = FaultCode(ERR_INVALID_ADDRESS)
	FaultInvalidTrap        = FaultCode(ERR_INVALID_TRAP)
	FaultInvalidXref        = FaultCode(ERR_INVALID_XREF)
	FaultIllegalInstruction = FaultCode(ERR_ILLEGAL_INSTR)
)

func (c FaultCode) String() string {
	switch c {
	case FaultInvalidAddress:
		return "invalid address"
	case FaultInvalidTrap:
		return "invalid trap"
	case FaultInvalidXref:
		return "invalid xref"
	case FaultIllegalInstruction:
		return "illegal instruction"
	default:
		return fmt.Sprintf("fault %d", uint32(c))
	}
}

// CompatStatus is the per-application compatibility verdict.
type CompatStatus uint8

const (
	CompatUnknown CompatStatus = iota
	CompatOK
	CompatCrash
)

func (c CompatStatus) String() string {
	switch c {
	case CompatOK:
		return "ok"
	case CompatCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// FaultPhase tracks a launch through Running -> Panicked -> Reported ->
// Terminated.
type FaultPhase uint8

const (
	PhaseRunning FaultPhase = iota
	PhasePanicked
	PhaseReported
	PhaseTerminated
)

// HostSupervisor receives crash bookkeeping for guest applications. None of
// its methods may terminate the host process.
type HostSupervisor interface {
	SetCompat(creator uint32, status CompatStatus, code uint32) error
	CrashLog(app AppIdentity, code uint32, msg string) error
	FatalAlert(msg string)
	PostAppCrashed(app AppIdentity, code uint32)
}

// Panic halts the guest and records a fatal fault. Only the first fault of
// a launch is recorded; later ones are logged and dropped because they are
// usually fallout from the first.
func (s *EmulatorState) Panic(msg string, code FaultCode) {
	if s.CPU != nil {
		s.CPU.Halt()
	}
	if s.faultPhase != PhaseRunning {
		s.log.Errorf("EmuPalmOS", "secondary panic ignored: %s", msg)
		return
	}

	s.log.Errorf("EmuPalmOS", "panic: %s", msg)
	s.panicMsg = msg
	s.panicCode = code
	s.faultPhase = PhasePanicked
	s.Finish(true)
	recordCrash()

	if s.Host == nil {
		return
	}
	if err := s.Host.SetCompat(s.App.Creator, CompatCrash, uint32(code)); err != nil {
		s.log.Errorf("EmuPalmOS", "set compat for %s: %v", s.App, err)
	}
	if err := s.Host.CrashLog(s.App, uint32(code), msg); err != nil {
		s.log.Errorf("EmuPalmOS", "crash log for %s: %v", s.App, err)
	}
}

// PanicMessage returns the recorded fault, if any.
func (s *EmulatorState) PanicMessage() (string, FaultCode, bool) {
	return s.panicMsg, s.panicCode, s.faultPhase != PhaseRunning
}

func (s *EmulatorState) FaultPhase() FaultPhase { return s.faultPhase }

// reportFault surfaces a recorded panic to the user and the supervisor.
// It runs once, during launch teardown.
func (s *EmulatorState) reportFault() {
	if s.faultPhase != PhasePanicked {
		return
	}
	if s.Host != nil {
		s.Host.FatalAlert(s.panicMsg)
		s.Host.PostAppCrashed(s.App, uint32(s.panicCode))
	}
	s.faultPhase = PhaseReported
}

// TrapIn converts a handler argument to a host pointer, raising an invalid
// address fault naming the trap when the address is outside the heap.
// sel < 0 and arg < 0 leave the selector and argument out of the message.
func (s *EmulatorState) TrapIn(addr GuestAddr, trap uint16, sel, arg int) (GuestAddr, bool) {
	if uint32(addr) <= s.Mem.Size()-4 {
		return addr, true
	}
	s.CPU.Halt()
	name := s.trapName(trap)
	selector, argument := "", ""
	if sel >= 0 {
		selector = fmt.Sprintf(" selector %d", sel)
	}
	if arg >= 0 {
		argument = fmt.Sprintf(" argument %d", arg)
	}
	s.Panic(fmt.Sprintf("Invalid address 0x%08X for %s%s%s.", uint32(addr), name, selector, argument), FaultInvalidAddress)
	return GuestNull, false
}

// TrapOut validates a guest address produced by a handler before it is
// returned to guest code.
func (s *EmulatorState) TrapOut(addr GuestAddr) GuestAddr {
	if addr == GuestNull {
		return GuestNull
	}
	if uint32(addr) > s.Mem.Size()-4 {
		s.Panic(fmt.Sprintf("Invalid address 0x%08X.", uint32(addr)), FaultInvalidAddress)
		return GuestNull
	}
	return addr
}

func (s *EmulatorState) trapName(trap uint16) string {
	if s.Traps != nil {
		if name := s.Traps.Name(trap); name != "" {
			return name
		}
	}
	return fmt.Sprintf("trap %04X", trap)
}

// terminate closes the fault record once the launch has been torn down.
func (s *EmulatorState) terminate() {
	if s.faultPhase == PhaseReported {
		s.faultPhase = PhaseTerminated
	}
}
