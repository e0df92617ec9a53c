// emu_state.go - Per-launch emulator state

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
emu_state.go - Emulator State

An EmulatorState is everything one running guest owns: its heap, its
interpreter, the segment layout the loader produced and the fault record.
It is passed explicitly to every trap handler and bridge call; nothing is
looked up through ambient per-thread storage.

Concurrent launches each get their own state. StateRegistry indexes them
by task id for host code that only knows which task it is serving.

The only field meant to be touched from another goroutine is the
must-end flag, which a shutdown coordinator may set at any time. The run
loops poll it between batches.
*/

package guestcore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// SegmentLayout records where the loader placed each per-launch block.
type SegmentLayout struct {
	CodeStart  GuestAddr
	CodeSize   uint32
	DataStart  GuestAddr
	DataSize   uint32 // below A5
	AboveSize  uint32 // above A5
	StackStart GuestAddr
	StackSize  uint32
	SysAppInfo GuestAddr
	ParamBlock GuestAddr
}

// A5 is the globals base: the end of the below-A5 data.
func (l SegmentLayout) A5() GuestAddr { return l.DataStart + GuestAddr(l.DataSize) }

// StateOptions configures NewEmulatorState.
type StateOptions struct {
	Config  Config
	Logger  *Logger
	Traps   *TrapTable
	Host    HostSupervisor
	Display DisplaySink
	// MustEnd is the cooperative termination flag. It may be shared by
	// several states; a private flag is created when nil.
	MustEnd *atomic.Bool
	// NewInterpreter replaces the built-in M68KCore.
	NewInterpreter func(s *EmulatorState) Interpreter
	TaskID         uint64
}

type EmulatorState struct {
	/*
		Mem, Heap and CPU are valid from NewEmulatorState until Close.
		Layout and Stubs are filled in by the loader.
	*/

	TaskID uint64
	Mem    *GuestMemory
	Heap   *HeapAllocator
	CPU    Interpreter
	Traps  *TrapTable
	Host   HostSupervisor
	App    AppIdentity
	Layout SegmentLayout
	Stubs  NativeStubs

	// Secondary is an optional second guest ISA reachable through
	// NativeCall.
	Secondary SecondaryCPU

	cfg     Config
	log     *Logger
	phase   LoadPhase
	argBase GuestAddr

	faultPhase FaultPhase
	panicMsg   string
	panicCode  FaultCode

	finished atomic.Bool
	mustEnd  *atomic.Bool

	callDepth     int
	lastCallSteps int
}

func NewEmulatorState(opts StateOptions) (*EmulatorState, error) {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, GuestError{Code: ERR_BAD_CONFIG, message: "guest: " + err.Error()}
	}
	log := opts.Logger
	if log == nil {
		log = NewLogger(nil, cfg.LogLevel)
	}

	mem, err := NewGuestMemory(cfg.HeapSize, log)
	if err != nil {
		return nil, err
	}
	s := &EmulatorState{
		TaskID:  opts.TaskID,
		Mem:     mem,
		Heap:    NewHeapAllocator(mem),
		Traps:   opts.Traps,
		Host:    opts.Host,
		cfg:     cfg,
		log:     log,
		mustEnd: opts.MustEnd,
	}
	if s.Traps == nil {
		s.Traps = NewTrapTable()
	}
	if s.mustEnd == nil {
		s.mustEnd = new(atomic.Bool)
	}
	mem.SetDisplay(opts.Display)
	mem.SetFaultHandler(s.Panic)

	if opts.NewInterpreter != nil {
		s.CPU = opts.NewInterpreter(s)
	} else {
		s.CPU = NewM68KCore(mem, s, s.Panic, log)
	}
	return s, nil
}

// Close releases the guest heap. The state must not be used afterwards.
func (s *EmulatorState) Close() error {
	if s.Mem == nil {
		return nil
	}
	if blocks, bytes := s.Heap.InUse(); blocks > 0 {
		s.log.Tracef("EmuPalmOS", "closing heap with %d live blocks (%d bytes): %v", blocks, bytes, s.Heap.Leaks())
	}
	err := s.Mem.Close()
	s.Mem = nil
	return err
}

func (s *EmulatorState) Config() Config   { return s.cfg }
func (s *EmulatorState) Logger() *Logger  { return s.log }
func (s *EmulatorState) Phase() LoadPhase { return s.phase }

func (s *EmulatorState) setPhase(p LoadPhase) {
	s.log.Tracef("Loader", "%s -> %s", s.phase, p)
	s.phase = p
}

// Finish sets or clears the finished flag that ends the run loops.
func (s *EmulatorState) Finish(f bool)  { s.finished.Store(f) }
func (s *EmulatorState) Finished() bool { return s.finished.Load() }

// RequestEnd asks every loop sharing this state's must-end flag to stop.
func (s *EmulatorState) RequestEnd()   { s.mustEnd.Store(true) }
func (s *EmulatorState) MustEnd() bool { return s.mustEnd.Load() }

// DispatchTrap implements TrapDispatcher for the built-in core.
func (s *EmulatorState) DispatchTrap(trap uint16, argBase GuestAddr) bool {
	saved := s.argBase
	s.argBase = argBase
	ok := s.Traps.Dispatch(s, trap)
	s.argBase = saved
	return ok
}

func (s *EmulatorState) HasTrap(trap uint16) bool { return s.Traps.Has(trap) }

// Arguments of the running trap, by byte offset from the first argument.
func (s *EmulatorState) ArgByte(off uint32) uint8 {
	return s.Mem.Read8(s.argBase + GuestAddr(off))
}

func (s *EmulatorState) ArgWord(off uint32) uint16 {
	return s.Mem.Read16(s.argBase + GuestAddr(off))
}

func (s *EmulatorState) ArgLong(off uint32) uint32 {
	return s.Mem.Read32(s.argBase + GuestAddr(off))
}

func (s *EmulatorState) ArgBase() GuestAddr { return s.argBase }

func (s *EmulatorState) D0() uint32 { return s.CPU.Context().D[0] }
func (s *EmulatorState) A0() uint32 { return s.CPU.Context().A[0] }

func (s *EmulatorState) SetD0(v uint32) {
	ctx := s.CPU.Context()
	ctx.D[0] = v
	s.CPU.SetContext(ctx)
}

func (s *EmulatorState) SetA0(v uint32) {
	ctx := s.CPU.Context()
	ctx.A[0] = v
	s.CPU.SetContext(ctx)
}

// Run drives the interpreter in batches until the guest finishes, the
// must-end flag is raised or ctx is cancelled. Returning to the null
// address counts as finishing.
func (s *EmulatorState) Run(ctx context.Context) {
	for !s.Finished() && !s.MustEnd() {
		if ctx.Err() != nil {
			s.log.Infof("EmuPalmOS", "launch of %s cancelled: %v", s.App, ctx.Err())
			return
		}
		n := s.CPU.Execute(s.cfg.BatchSize)
		if s.CPU.Halted() {
			return
		}
		if s.CPU.Context().PC == 0 {
			s.log.Infof("EmuPalmOS", "%s returned from main after %d instructions in last batch", s.App, n)
			s.Finish(true)
			return
		}
	}
}

func (s *EmulatorState) String() string {
	return fmt.Sprintf("EmulatorState(task %d, %s, %s)", s.TaskID, s.App, s.phase)
}

// StateRegistry maps task ids to their emulator states.
type StateRegistry struct {
	mu     sync.RWMutex
	states map[uint64]*EmulatorState
}

func NewStateRegistry() *StateRegistry {
	return &StateRegistry{states: make(map[uint64]*EmulatorState)}
}

// Swap installs s for task and returns whatever was registered before, so
// a nested launch can put the outer state back when it ends. A nil s
// removes the entry.
func (r *StateRegistry) Swap(task uint64, s *EmulatorState) *EmulatorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.states[task]
	if s == nil {
		delete(r.states, task)
	} else {
		r.states[task] = s
	}
	return old
}

func (r *StateRegistry) Get(task uint64) (*EmulatorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[task]
	return s, ok
}

func (r *StateRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
