package guestcore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestLuaTraps(t *testing.T, table *TrapTable, script string) *LuaTraps {
	t.Helper()
	lt, err := NewLuaTraps(table, script, DiscardLogger())
	if err != nil {
		t.Fatalf("NewLuaTraps: %v", err)
	}
	t.Cleanup(lt.Close)
	return lt
}

func TestLuaTrapReadsStack(t *testing.T) {
	s := newTestState(t)
	newTestLuaTraps(t, s.Traps, `
		trap(0xA100, "Triple", function()
			set_d0(stack_word(0) * 3)
		end)
	`)
	if !s.Traps.Has(0xA100) || s.Traps.Name(0xA100) != "Triple" {
		t.Fatal("trap not registered")
	}
	runProgram(t, s, opMoveWImmPre, 5, 0xA100, opAddqL2SP, M68K_RTS)
	if d0 := s.D0(); d0 != 15 {
		t.Errorf("D0 = %d, want 15", d0)
	}
}

func TestLuaTrapMemoryBindings(t *testing.T) {
	s := newTestState(t)
	guestStack(t, s)
	buf, err := s.Heap.Alloc(16, "buf")
	if err != nil {
		t.Fatal(err)
	}
	s.Mem.CopyIn(buf, []byte("palm\x00"))

	newTestLuaTraps(t, s.Traps, `
		trap(0xA101, "Poke", function()
			local p = stack_long(0)
			local name = read_string(p)
			write8(p + 8, #name)
			write16(p + 10, read16(p) + 1)
			write32(p + 12, read32(p))
			set_a0(p + 8)
		end)
	`)
	var args ArgWriter
	args.Long(uint32(buf))
	if r := s.CallGuest(0x101, args.Bytes(), true); r != uint32(buf)+8 {
		t.Errorf("A0 = 0x%X, want 0x%X", r, uint32(buf)+8)
	}
	want := []byte{'p', 'a', 'l', 'm', 0, 0, 0, 0, 4, 0, 'p', 'b', 'p', 'a', 'l', 'm'}
	if diff := cmp.Diff(want, s.Mem.Bytes(buf, 16)); diff != "" {
		t.Errorf("buffer (-want +got):\n%s", diff)
	}
}

func TestLuaTrapCallsGuest(t *testing.T) {
	s := newTestState(t)
	guestStack(t, s)
	var seen []uint32
	fn := spyFunction(s, 0x30, func(s *EmulatorState) {
		seen = []uint32{s.ArgLong(0), uint32(s.ArgWord(4)), uint32(s.ArgByte(6))}
		s.SetD0(s.ArgLong(0) + uint32(s.ArgWord(4)))
	})

	newTestLuaTraps(t, s.Traps, `
		trap(0xA102, "Callback", function()
			local r = call_guest(stack_long(0), false, "lwb", 40, 2, 9)
			set_d0(r)
		end)
	`)
	var args ArgWriter
	args.Long(uint32(fn))
	if r := s.CallGuest(0x102, args.Bytes(), false); r != 42 {
		t.Errorf("result = %d, want 42", r)
	}
	if diff := cmp.Diff([]uint32{40, 2, 9}, seen); diff != "" {
		t.Errorf("arguments (-want +got):\n%s", diff)
	}
}

func TestLuaTrapErrorIsLogged(t *testing.T) {
	var logBuf bytes.Buffer
	s := newTestStateWith(t, StateOptions{Logger: NewLogger(&logBuf, LogError)})
	lt, err := NewLuaTraps(s.Traps, `
		trap(0xA103, "Broken", function()
			error("no such form")
		end)
	`, NewLogger(&logBuf, LogError))
	if err != nil {
		t.Fatal(err)
	}
	defer lt.Close()

	runProgram(t, s, 0xA103, M68K_RTS)
	if _, _, crashed := s.PanicMessage(); crashed {
		t.Error("script error crashed the guest")
	}
	if !strings.Contains(logBuf.String(), "trap Broken:") || !strings.Contains(logBuf.String(), "no such form") {
		t.Errorf("log = %q", logBuf.String())
	}
}

func TestLuaScriptErrors(t *testing.T) {
	tests := []struct {
		name, script, want string
	}{
		{"syntax", "trap(", "lua traps"},
		{"binding outside handler", "stack_word(0)", "outside a trap handler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLuaTraps(NewTrapTable(), tt.script, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLuaCallGuestBadWidth(t *testing.T) {
	var logBuf bytes.Buffer
	s := newTestState(t)
	guestStack(t, s)
	lt, err := NewLuaTraps(s.Traps, `trap(0xA106, "Bad", function() call_guest(0x106, false, "q", 1) end)`, NewLogger(&logBuf, LogError))
	if err != nil {
		t.Fatal(err)
	}
	defer lt.Close()
	s.CallGuest(0x106, nil, false)
	if !strings.Contains(logBuf.String(), "unknown width") {
		t.Errorf("log = %q", logBuf.String())
	}
}

func TestLoadLuaTrapsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traps.lua")
	script := `trap(0xA104, "Answer", function() set_d0(42) end)`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	table := NewTrapTable()
	lt, err := LoadLuaTraps(table, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer lt.Close()
	if table.Name(0xA104) != "Answer" {
		t.Error("file trap not registered")
	}

	if _, err := LoadLuaTraps(table, path+".missing", nil); err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestLuaTrapsSharedByLaunches(t *testing.T) {
	table := NewTrapTable()
	newTestLuaTraps(t, table, `
		count = 0
		trap(0xA105, "Count", function()
			count = count + 1
			set_d0(count)
		end)
	`)
	const launches = 4
	reqs := make([]LaunchRequest, launches)
	for i := range reqs {
		reqs[i] = testLaunch(testApp(0, 0, words(0xA105, 0xA105, 0xA105, M68K_RTS), nil), &recordingHost{})
		reqs[i].State.Traps = table
	}
	results, err := NewSupervisor(nil, nil, nil).RunAll(context.Background(), reqs, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Crashed {
			t.Errorf("launch %d crashed: %s", i, r.PanicMessage)
		}
	}
}
