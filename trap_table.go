package guestcore

import (
	"fmt"
	"sort"
	"sync"
)

// TrapFunc implements one system trap. Arguments are read with the Arg*
// helpers of the state and results are left in D0 or A0.
type TrapFunc func(s *EmulatorState)

type trapEntry struct {
	name string
	fn   TrapFunc
}

// TrapTable maps 0xA000|n trap numbers to host handlers. One table is
// normally shared by every launch, so it is safe for concurrent use.
type TrapTable struct {
	mu      sync.RWMutex
	entries map[uint16]trapEntry
}

func NewTrapTable() *TrapTable {
	return &TrapTable{entries: make(map[uint16]trapEntry)}
}

// Register installs or replaces the handler for trap.
func (t *TrapTable) Register(trap uint16, name string, fn TrapFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[trap] = trapEntry{name: name, fn: fn}
}

func (t *TrapTable) lookup(trap uint16) (trapEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[trap]
	return e, ok
}

func (t *TrapTable) Has(trap uint16) bool {
	_, ok := t.lookup(trap)
	return ok
}

// Name returns the registered name of trap, or "" when unknown.
func (t *TrapTable) Name(trap uint16) string {
	e, _ := t.lookup(trap)
	return e.name
}

func (t *TrapTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Traps lists the registered trap numbers in ascending order.
func (t *TrapTable) Traps() []uint16 {
	t.mu.RLock()
	out := make([]uint16, 0, len(t.entries))
	for trap := range t.entries {
		out = append(out, trap)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs trap on s and reports whether a handler was found.
func (t *TrapTable) Dispatch(s *EmulatorState, trap uint16) bool {
	e, ok := t.lookup(trap)
	if !ok || e.fn == nil {
		recordUnknownTrap()
		return false
	}
	recordTrap()
	s.log.Tracef("EmuPalmOS", "trap %s (0x%04X)", e.name, trap)
	e.fn(s)
	return true
}

func (t *TrapTable) String() string {
	return fmt.Sprintf("TrapTable(%d traps)", t.Len())
}
