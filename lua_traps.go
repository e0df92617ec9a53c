package guestcore

import (
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

const LUA_STRING_MAX = 4096

// LuaTraps implements system traps as Lua functions. A script registers
// handlers with trap(number, name, fn); handlers use the bindings below to
// reach the calling guest:
//
//	stack_byte(off) stack_word(off) stack_long(off)
//	read8(a) read16(a) read32(a) write8(a,v) write16(a,v) write32(a,v)
//	read_string(a)
//	d0() a0() set_d0(v) set_a0(v)
//	call_guest(addr_or_trap, want_a0, widths, ...)   widths like "wl"
//	log(msg)
//
// One Lua state serves every launch using the table. Handlers from
// different launches are serialized; a handler that re-enters the guest
// may be re-entered by the same launch.
type LuaTraps struct {
	L     *lua.LState
	mu    sync.Mutex
	owner atomic.Pointer[EmulatorState]
	table *TrapTable
	log   *Logger
}

// NewLuaTraps runs script, registering its handlers in table.
func NewLuaTraps(table *TrapTable, script string, log *Logger) (*LuaTraps, error) {
	lt := newLuaTraps(table, log)
	if err := lt.L.DoString(script); err != nil {
		lt.Close()
		return nil, fmt.Errorf("lua traps: %w", err)
	}
	return lt, nil
}

// LoadLuaTraps runs the script file at path.
func LoadLuaTraps(table *TrapTable, path string, log *Logger) (*LuaTraps, error) {
	lt := newLuaTraps(table, log)
	if err := lt.L.DoFile(path); err != nil {
		lt.Close()
		return nil, fmt.Errorf("lua traps %s: %w", path, err)
	}
	return lt, nil
}

func newLuaTraps(table *TrapTable, log *Logger) *LuaTraps {
	if log == nil {
		log = DiscardLogger()
	}
	lt := &LuaTraps{L: lua.NewState(), table: table, log: log}
	lt.bind()
	return lt
}

func (lt *LuaTraps) Close() { lt.L.Close() }

// state returns the launch running the current handler.
func (lt *LuaTraps) state(L *lua.LState) *EmulatorState {
	s := lt.owner.Load()
	if s == nil {
		L.RaiseError("guest binding used outside a trap handler")
	}
	return s
}

func (lt *LuaTraps) bind() {
	L := lt.L
	fns := map[string]lua.LGFunction{
		"trap": func(L *lua.LState) int {
			num := uint16(L.CheckInt(1))
			name := L.CheckString(2)
			fn := L.CheckFunction(3)
			lt.table.Register(num, name, func(s *EmulatorState) { lt.invoke(s, name, fn) })
			return 0
		},
		"stack_byte": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).ArgByte(uint32(L.CheckInt(1)))))
			return 1
		},
		"stack_word": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).ArgWord(uint32(L.CheckInt(1)))))
			return 1
		},
		"stack_long": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).ArgLong(uint32(L.CheckInt(1)))))
			return 1
		},
		"read8": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).Mem.Read8(GuestAddr(L.CheckInt64(1)))))
			return 1
		},
		"read16": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).Mem.Read16(GuestAddr(L.CheckInt64(1)))))
			return 1
		},
		"read32": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).Mem.Read32(GuestAddr(L.CheckInt64(1)))))
			return 1
		},
		"write8": func(L *lua.LState) int {
			lt.state(L).Mem.Write8(GuestAddr(L.CheckInt64(1)), uint8(L.CheckInt64(2)))
			return 0
		},
		"write16": func(L *lua.LState) int {
			lt.state(L).Mem.Write16(GuestAddr(L.CheckInt64(1)), uint16(L.CheckInt64(2)))
			return 0
		},
		"write32": func(L *lua.LState) int {
			lt.state(L).Mem.Write32(GuestAddr(L.CheckInt64(1)), uint32(L.CheckInt64(2)))
			return 0
		},
		"read_string": func(L *lua.LState) int {
			L.Push(lua.LString(lt.state(L).Mem.ReadCString(GuestAddr(L.CheckInt64(1)), LUA_STRING_MAX)))
			return 1
		},
		"d0": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).D0()))
			return 1
		},
		"a0": func(L *lua.LState) int {
			L.Push(lua.LNumber(lt.state(L).A0()))
			return 1
		},
		"set_d0": func(L *lua.LState) int {
			lt.state(L).SetD0(uint32(L.CheckInt64(1)))
			return 0
		},
		"set_a0": func(L *lua.LState) int {
			lt.state(L).SetA0(uint32(L.CheckInt64(1)))
			return 0
		},
		"call_guest": lt.callGuest,
		"log": func(L *lua.LState) int {
			lt.log.Infof("Lua", "%s", L.CheckString(1))
			return 0
		},
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// callGuest packs the trailing arguments by the width letters in argument
// 3 and calls the guest.
func (lt *LuaTraps) callGuest(L *lua.LState) int {
	s := lt.state(L)
	target := uint32(L.CheckInt64(1))
	wantA0 := L.ToBool(2)
	widths := L.OptString(3, "")

	var args ArgWriter
	for i, w := range widths {
		v := L.CheckInt64(4 + i)
		switch w {
		case 'b':
			args.Byte(uint8(v))
		case 'w':
			args.Word(uint16(v))
		case 'l':
			args.Long(uint32(v))
		default:
			L.ArgError(3, fmt.Sprintf("unknown width %q", w))
		}
	}
	L.Push(lua.LNumber(s.CallGuest(target, args.Bytes(), wantA0)))
	return 1
}

func (lt *LuaTraps) invoke(s *EmulatorState, name string, fn *lua.LFunction) {
	// Only s's own goroutine can have made it the owner, so this is a
	// nested call from a handler of the same launch.
	if lt.owner.Load() != s {
		lt.mu.Lock()
		defer lt.mu.Unlock()
		lt.owner.Store(s)
		defer lt.owner.Store(nil)
	}
	if err := lt.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		lt.log.Errorf("Lua", "trap %s: %v", name, err)
	}
}
