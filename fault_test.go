package guestcore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPanicFirstFaultWins(t *testing.T) {
	host := &recordingHost{}
	s := newTestStateWith(t, StateOptions{Host: host})
	s.App = AppIdentity{Name: "Crashy", Creator: testCreator}

	s.Panic("first", FaultInvalidAddress)
	s.Panic("second", FaultIllegalInstruction)

	msg, code, crashed := s.PanicMessage()
	if !crashed || msg != "first" || code != FaultInvalidAddress {
		t.Errorf("PanicMessage = %q %v %v", msg, code, crashed)
	}
	if !s.Finished() || !s.CPU.Halted() {
		t.Error("panic did not stop the guest")
	}
	want := []compatCall{{testCreator, CompatCrash, uint32(FaultInvalidAddress)}}
	if diff := cmp.Diff(want, host.compat); diff != "" {
		t.Errorf("compat (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"first"}, host.crashes); diff != "" {
		t.Errorf("crash log (-want +got):\n%s", diff)
	}
}

func TestFaultPhases(t *testing.T) {
	host := &recordingHost{}
	s := newTestStateWith(t, StateOptions{Host: host})

	var phases []FaultPhase
	step := func() { phases = append(phases, s.FaultPhase()) }

	step()
	s.reportFault()
	step()
	s.Panic("boom", FaultInvalidTrap)
	step()
	s.reportFault()
	step()
	s.reportFault()
	s.terminate()
	step()

	want := []FaultPhase{PhaseRunning, PhaseRunning, PhasePanicked, PhaseReported, PhaseTerminated}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phases (-want +got):\n%s", diff)
	}
	if len(host.alerts) != 1 || len(host.posted) != 1 {
		t.Errorf("fault reported %d alerts and %d notices, want one each", len(host.alerts), len(host.posted))
	}
}

func TestPanicWithoutHost(t *testing.T) {
	s := newTestState(t)
	s.Panic("alone", FaultInvalidXref)
	s.reportFault()
	s.terminate()
	if s.FaultPhase() != PhaseTerminated {
		t.Errorf("phase = %v", s.FaultPhase())
	}
}

func TestTrapIn(t *testing.T) {
	tests := []struct {
		name     string
		addr     GuestAddr
		sel, arg int
		ok       bool
		msg      string
	}{
		{"inside heap", 0x100, -1, -1, true, ""},
		{"last long", testHeapSize - 4, -1, -1, true, ""},
		{"plain", testHeapSize, -1, -1, false, "Invalid address 0x00040000 for MemMove."},
		{"selector", 0xFFFFFFF0, 3, -1, false, "Invalid address 0xFFFFFFF0 for MemMove selector 3."},
		{"argument", testHeapSize - 3, 2, 1, false, "Invalid address 0x0003FFFD for MemMove selector 2 argument 1."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t)
			s.Traps.Register(0xA026, "MemMove", func(*EmulatorState) {})
			got, ok := s.TrapIn(tt.addr, 0xA026, tt.sel, tt.arg)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			msg, code, crashed := s.PanicMessage()
			if tt.ok {
				if got != tt.addr || crashed {
					t.Errorf("valid address changed to 0x%X or crashed", uint32(got))
				}
				return
			}
			if got != GuestNull || code != FaultInvalidAddress || msg != tt.msg {
				t.Errorf("got 0x%X %v %q, want null %v %q", uint32(got), code, msg, FaultInvalidAddress, tt.msg)
			}
		})
	}
}

func TestTrapInUnnamedTrap(t *testing.T) {
	s := newTestState(t)
	s.TrapIn(testHeapSize, 0xA3FF, -1, -1)
	if msg, _, _ := s.PanicMessage(); msg != "Invalid address 0x00040000 for trap A3FF." {
		t.Errorf("message = %q", msg)
	}
}

func TestTrapOut(t *testing.T) {
	s := newTestState(t)
	if got := s.TrapOut(GuestNull); got != GuestNull {
		t.Errorf("null = 0x%X", uint32(got))
	}
	if got := s.TrapOut(0x200); got != 0x200 {
		t.Errorf("valid = 0x%X", uint32(got))
	}
	if _, _, crashed := s.PanicMessage(); crashed {
		t.Fatal("valid addresses crashed")
	}
	if got := s.TrapOut(testHeapSize); got != GuestNull {
		t.Errorf("invalid = 0x%X", uint32(got))
	}
	if msg, code, _ := s.PanicMessage(); msg != "Invalid address 0x00040000." || code != FaultInvalidAddress {
		t.Errorf("panic %q %v", msg, code)
	}
}

func TestFaultCodeString(t *testing.T) {
	for code, want := range map[FaultCode]string{
		FaultInvalidAddress:     "invalid address",
		FaultIllegalInstruction: "illegal instruction",
	} {
		if got := code.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", code, got, want)
		}
	}
}
