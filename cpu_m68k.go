// cpu_m68k.go - Built-in M68K interpreter core

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
cpu_m68k.go - M68K Interpreter Core

M68KCore runs the part of the 68000 instruction set that application
start-up glue, system call sequences and simple callbacks are made of:

    Trap dispatch       TRAP #15 + trap word, raw A-line words
    Subroutines         JSR, JMP, BSR, BRA, Bcc, RTS, LINK, UNLK
    Data movement       MOVE.B/W/L, MOVEA, MOVEQ, LEA, PEA, CLR, TST
    Arithmetic          ADDQ, SUBQ
    Control             NOP, ILLEGAL

Anything outside the subset raises FaultIllegalInstruction. A complete
68020 core plugs in through the Interpreter interface instead.

Two addresses are special to the fetch loop. PC == 0 is the sentinel
return address pushed by nested guest calls, so Execute stops there
before fetching. A PC inside the trap band is a direct call to the
system trap (PC-H)>>2: the trap is dispatched with its arguments above
the return address and the synthetic RTS then returns to the caller.

Effective address modes: Dn, An, (An), (An)+, -(An), d16(An), d16(PC),
abs.W, abs.L and #imm. Indexed modes are outside the subset.
*/

package guestcore

import (
	"fmt"
	"sync/atomic"
)

const (
	M68K_NOP     = 0x4E71
	M68K_RTS     = 0x4E75
	M68K_ILLEGAL = 0x4AFC
	M68K_TRAP    = 0x4E40
	M68K_LINK    = 0x4E50
	M68K_UNLK    = 0x4E58
	M68K_JSR     = 0x4E80
	M68K_JMP     = 0x4EC0

	M68K_SYSTRAP_VECTOR = 15 // TRAP #15 carries a system trap word

	M68K_SIZE_BYTE = 1
	M68K_SIZE_WORD = 2
	M68K_SIZE_LONG = 4
)

// TrapDispatcher runs host-implemented system traps for the core.
type TrapDispatcher interface {
	// DispatchTrap runs trap (0xA000|n) with its stack arguments starting
	// at argBase. It reports false when the trap is not registered.
	DispatchTrap(trap uint16, argBase GuestAddr) bool
	// HasTrap reports whether a direct call to the trap band can be served.
	HasTrap(trap uint16) bool
}

type M68KCore struct {
	/*
		ctx is the live register file. Nested guest calls swap it out
		wholesale through SetContext, so nothing else caches register
		values across Execute calls.

		halted is the only field touched from outside the owning
		goroutine (a fault raised while a handler runs on behalf of the
		core sets it too).
	*/

	ctx       M68KContext
	currentIR uint16
	instrPC   uint32

	bus   GuestBus
	mem   *GuestMemory
	traps TrapDispatcher
	fault FaultFunc
	log   *Logger

	halted atomic.Bool

	InstructionCount uint64
}

func NewM68KCore(mem *GuestMemory, traps TrapDispatcher, fault FaultFunc, log *Logger) *M68KCore {
	if log == nil {
		log = DiscardLogger()
	}
	return &M68KCore{
		ctx:   ResetContext(),
		bus:   mem,
		mem:   mem,
		traps: traps,
		fault: fault,
		log:   log,
	}
}

func (cpu *M68KCore) Context() M68KContext      { return cpu.ctx }
func (cpu *M68KCore) SetContext(ctx M68KContext) { cpu.ctx = ctx }
func (cpu *M68KCore) Halt()                      { cpu.halted.Store(true) }
func (cpu *M68KCore) Halted() bool               { return cpu.halted.Load() }
func (cpu *M68KCore) Resume()                    { cpu.halted.Store(false) }

func (cpu *M68KCore) Execute(budget int) int {
	executed := 0
	for executed < budget && !cpu.halted.Load() {
		pc := cpu.ctx.PC
		if pc == 0 {
			break
		}
		if pc&1 != 0 {
			cpu.raise(fmt.Sprintf("Odd program counter 0x%08X", pc), FaultInvalidAddress)
			break
		}
		cpu.instrPC = pc
		if cpu.mem != nil && cpu.mem.InTrapBand(GuestAddr(pc)) {
			cpu.execTrapSlot(pc)
			executed++
			continue
		}

		cpu.currentIR = cpu.Fetch16()
		if cpu.halted.Load() {
			break
		}
		if cpu.log.Enabled(LogTrace) {
			cpu.log.Tracef("M68K", "%08X: %04X D0=%08X A0=%08X SP=%08X", pc, cpu.currentIR, cpu.ctx.D[0], cpu.ctx.A[0], cpu.ctx.A[REG_SP])
		}
		cpu.FetchAndDecodeInstruction()
		executed++
	}
	cpu.InstructionCount += uint64(executed)
	return executed
}

func (cpu *M68KCore) raise(msg string, code FaultCode) {
	cpu.Halt()
	if cpu.fault != nil {
		cpu.fault(msg, code)
	}
}

func (cpu *M68KCore) execTrapSlot(pc uint32) {
	n := cpu.mem.TrapForAddress(GuestAddr(pc))
	if n > SYSTRAP_MASK || cpu.traps == nil || !cpu.traps.HasTrap(SYSTRAP_BASE|n) {
		cpu.raise(fmt.Sprintf("trap 0x%04X unknown (pc 0x%08X)", n, pc), FaultInvalidTrap)
		return
	}
	// The caller's return address sits on top of the stack.
	cpu.traps.DispatchTrap(SYSTRAP_BASE|n, GuestAddr(cpu.ctx.A[REG_SP]+4))
	if cpu.halted.Load() {
		return
	}
	cpu.ExecRTS()
}

func (cpu *M68KCore) FetchAndDecodeInstruction() {
	opcode := cpu.currentIR
	switch opcode >> 12 {
	case 0x1, 0x2, 0x3:
		cpu.decodeMove(opcode)
	case 0x4:
		cpu.decodeGroup4(opcode)
	case 0x5:
		cpu.decodeGroup5(opcode)
	case 0x6:
		cpu.decodeGroup6(opcode)
	case 0x7:
		if opcode&0x0100 != 0 {
			cpu.illegal()
			return
		}
		cpu.ExecMoveq((opcode>>9)&7, int8(opcode))
	case 0xA:
		cpu.ExecALine(opcode)
	default:
		cpu.illegal()
	}
}

func (cpu *M68KCore) illegal() {
	cpu.raise(fmt.Sprintf("Illegal instruction 0x%04X at 0x%08X", cpu.currentIR, cpu.instrPC), FaultIllegalInstruction)
}

func (cpu *M68KCore) decodeMove(opcode uint16) {
	var size int
	switch opcode >> 12 {
	case 1:
		size = M68K_SIZE_BYTE
	case 3:
		size = M68K_SIZE_WORD
	default:
		size = M68K_SIZE_LONG
	}
	srcMode, srcReg := (opcode>>3)&7, opcode&7
	dstMode, dstReg := (opcode>>6)&7, (opcode>>9)&7
	if dstMode == 1 && size == M68K_SIZE_BYTE {
		cpu.illegal()
		return
	}
	cpu.ExecMove(srcMode, srcReg, dstMode, dstReg, size)
}

func (cpu *M68KCore) decodeGroup4(opcode uint16) {
	switch opcode {
	case M68K_NOP:
		return
	case M68K_RTS:
		cpu.ExecRTS()
		return
	case M68K_ILLEGAL:
		cpu.illegal()
		return
	}

	switch {
	case opcode&0xFFF0 == M68K_TRAP:
		cpu.ExecTRAP(opcode & 0xF)
	case opcode&0xFFF8 == M68K_LINK:
		cpu.ExecLink(opcode & 7)
	case opcode&0xFFF8 == M68K_UNLK:
		cpu.ExecUnlk(opcode & 7)
	case opcode&0xFFC0 == M68K_JSR:
		cpu.ExecJsr((opcode>>3)&7, opcode&7)
	case opcode&0xFFC0 == M68K_JMP:
		cpu.ExecJmp((opcode>>3)&7, opcode&7)
	case opcode&0xF1C0 == 0x41C0:
		cpu.ExecLea((opcode>>9)&7, (opcode>>3)&7, opcode&7)
	case opcode&0xFFC0 == 0x4840 && (opcode>>3)&7 >= 2:
		cpu.ExecPea((opcode>>3)&7, opcode&7)
	case opcode&0xFF00 == 0x4200 && (opcode>>6)&3 != 3:
		cpu.ExecClr(sizeFromBits((opcode>>6)&3), (opcode>>3)&7, opcode&7)
	case opcode&0xFF00 == 0x4A00 && (opcode>>6)&3 != 3:
		cpu.ExecTst(sizeFromBits((opcode>>6)&3), (opcode>>3)&7, opcode&7)
	default:
		cpu.illegal()
	}
}

func (cpu *M68KCore) decodeGroup5(opcode uint16) {
	if (opcode>>6)&3 == 3 {
		// Scc / DBcc
		cpu.illegal()
		return
	}
	data := uint32((opcode >> 9) & 7)
	if data == 0 {
		data = 8
	}
	size := sizeFromBits((opcode >> 6) & 3)
	mode, reg := (opcode>>3)&7, opcode&7
	if opcode&0x0100 != 0 {
		cpu.ExecSubq(data, size, mode, reg)
	} else {
		cpu.ExecAddq(data, size, mode, reg)
	}
}

func (cpu *M68KCore) decodeGroup6(opcode uint16) {
	cond := uint8((opcode >> 8) & 0xF)
	base := cpu.ctx.PC
	disp := int32(int8(opcode))
	if disp == 0 {
		disp = int32(int16(cpu.Fetch16()))
	} else if opcode&0xFF == 0xFF {
		// 32-bit displacement is a 68020 extension
		disp = int32(cpu.Fetch32())
	}
	target := uint32(int32(base) + disp)

	switch cond {
	case 0: // BRA
		cpu.ctx.PC = target
	case 1: // BSR
		cpu.Push32(cpu.ctx.PC)
		cpu.ctx.PC = target
	default:
		if cpu.CheckCondition(cond) {
			cpu.ctx.PC = target
		}
	}
}

func sizeFromBits(bits uint16) int {
	switch bits {
	case 0:
		return M68K_SIZE_BYTE
	case 1:
		return M68K_SIZE_WORD
	default:
		return M68K_SIZE_LONG
	}
}

func (cpu *M68KCore) Fetch16() uint16 {
	v := cpu.bus.Read16(GuestAddr(cpu.ctx.PC))
	cpu.ctx.PC += 2
	return v
}

func (cpu *M68KCore) Fetch32() uint32 {
	high := uint32(cpu.Fetch16()) << 16
	return high | uint32(cpu.Fetch16())
}

func (cpu *M68KCore) Push16(value uint16) {
	cpu.ctx.A[REG_SP] -= 2
	cpu.bus.Write16(GuestAddr(cpu.ctx.A[REG_SP]), value)
}

func (cpu *M68KCore) Push32(value uint32) {
	cpu.ctx.A[REG_SP] -= 4
	cpu.bus.Write32(GuestAddr(cpu.ctx.A[REG_SP]), value)
}

func (cpu *M68KCore) Pop32() uint32 {
	v := cpu.bus.Read32(GuestAddr(cpu.ctx.A[REG_SP]))
	cpu.ctx.A[REG_SP] += 4
	return v
}

// effectiveAddress resolves a memory operand. Register direct and immediate
// modes have no address and report ok == false.
func (cpu *M68KCore) effectiveAddress(mode, reg uint16, size int) (GuestAddr, bool) {
	switch mode {
	case 2:
		return GuestAddr(cpu.ctx.A[reg]), true
	case 3:
		addr := cpu.ctx.A[reg]
		cpu.ctx.A[reg] += stepFor(reg, size)
		return GuestAddr(addr), true
	case 4:
		cpu.ctx.A[reg] -= stepFor(reg, size)
		return GuestAddr(cpu.ctx.A[reg]), true
	case 5:
		disp := int16(cpu.Fetch16())
		return GuestAddr(uint32(int32(cpu.ctx.A[reg]) + int32(disp))), true
	case 7:
		switch reg {
		case 0:
			return GuestAddr(uint32(int32(int16(cpu.Fetch16())))), true
		case 1:
			return GuestAddr(cpu.Fetch32()), true
		case 2:
			base := cpu.ctx.PC
			disp := int16(cpu.Fetch16())
			return GuestAddr(uint32(int32(base) + int32(disp))), true
		}
	}
	return 0, false
}

// Byte pushes through A7 keep the stack word aligned.
func stepFor(reg uint16, size int) uint32 {
	if size == M68K_SIZE_BYTE && reg == REG_SP {
		return 2
	}
	return uint32(size)
}

func (cpu *M68KCore) readSized(addr GuestAddr, size int) uint32 {
	switch size {
	case M68K_SIZE_BYTE:
		return uint32(cpu.bus.Read8(addr))
	case M68K_SIZE_WORD:
		return uint32(cpu.bus.Read16(addr))
	default:
		return cpu.bus.Read32(addr)
	}
}

func (cpu *M68KCore) writeSized(addr GuestAddr, size int, value uint32) {
	switch size {
	case M68K_SIZE_BYTE:
		cpu.bus.Write8(addr, uint8(value))
	case M68K_SIZE_WORD:
		cpu.bus.Write16(addr, uint16(value))
	default:
		cpu.bus.Write32(addr, value)
	}
}

func (cpu *M68KCore) readEA(mode, reg uint16, size int) (uint32, bool) {
	switch {
	case mode == 0:
		return cpu.ctx.D[reg] & sizeMask(size), true
	case mode == 1:
		return cpu.ctx.A[reg] & sizeMask(size), true
	case mode == 7 && reg == 4:
		if size == M68K_SIZE_LONG {
			return cpu.Fetch32(), true
		}
		return uint32(cpu.Fetch16()) & sizeMask(size), true
	}
	addr, ok := cpu.effectiveAddress(mode, reg, size)
	if !ok {
		return 0, false
	}
	return cpu.readSized(addr, size), true
}

func (cpu *M68KCore) writeEA(mode, reg uint16, size int, value uint32) bool {
	switch mode {
	case 0:
		mask := sizeMask(size)
		cpu.ctx.D[reg] = cpu.ctx.D[reg]&^mask | value&mask
		return true
	case 1:
		// Address register writes are always sign extended to 32 bits.
		if size == M68K_SIZE_WORD {
			value = uint32(int32(int16(value)))
		}
		cpu.ctx.A[reg] = value
		return true
	}
	if mode == 7 && reg >= 2 {
		return false
	}
	addr, ok := cpu.effectiveAddress(mode, reg, size)
	if !ok {
		return false
	}
	cpu.writeSized(addr, size, value)
	return true
}

func sizeMask(size int) uint32 {
	switch size {
	case M68K_SIZE_BYTE:
		return 0xFF
	case M68K_SIZE_WORD:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

func signBit(size int) uint32 {
	return 1 << (uint(size)*8 - 1)
}

func (cpu *M68KCore) SetFlagsNZ(result uint32, size int) {
	sr := cpu.ctx.SR &^ (SR_N | SR_Z | SR_V | SR_C)
	result &= sizeMask(size)
	if result == 0 {
		sr |= SR_Z
	}
	if result&signBit(size) != 0 {
		sr |= SR_N
	}
	cpu.ctx.SR = sr
}

func (cpu *M68KCore) CheckCondition(cond uint8) bool {
	sr := cpu.ctx.SR
	c, v := sr&SR_C != 0, sr&SR_V != 0
	z, n := sr&SR_Z != 0, sr&SR_N != 0
	switch cond {
	case 0x0:
		return true
	case 0x1:
		return false
	case 0x2: // HI
		return !c && !z
	case 0x3: // LS
		return c || z
	case 0x4: // CC
		return !c
	case 0x5: // CS
		return c
	case 0x6: // NE
		return !z
	case 0x7: // EQ
		return z
	case 0x8: // VC
		return !v
	case 0x9: // VS
		return v
	case 0xA: // PL
		return !n
	case 0xB: // MI
		return n
	case 0xC: // GE
		return n == v
	case 0xD: // LT
		return n != v
	case 0xE: // GT
		return !z && n == v
	default: // LE
		return z || n != v
	}
}

func (cpu *M68KCore) ExecMove(srcMode, srcReg, dstMode, dstReg uint16, size int) {
	value, ok := cpu.readEA(srcMode, srcReg, size)
	if !ok {
		cpu.illegal()
		return
	}
	if !cpu.writeEA(dstMode, dstReg, size, value) {
		cpu.illegal()
		return
	}
	if dstMode != 1 {
		cpu.SetFlagsNZ(value, size)
	}
}

func (cpu *M68KCore) ExecMoveq(reg uint16, data int8) {
	cpu.ctx.D[reg] = uint32(int32(data))
	cpu.SetFlagsNZ(cpu.ctx.D[reg], M68K_SIZE_LONG)
}

func (cpu *M68KCore) ExecRTS() {
	cpu.ctx.PC = cpu.Pop32()
}

func (cpu *M68KCore) ExecJsr(mode, reg uint16) {
	target, ok := cpu.effectiveAddress(mode, reg, M68K_SIZE_LONG)
	if !ok || mode == 3 || mode == 4 {
		cpu.illegal()
		return
	}
	cpu.Push32(cpu.ctx.PC)
	cpu.ctx.PC = uint32(target)
}

func (cpu *M68KCore) ExecJmp(mode, reg uint16) {
	target, ok := cpu.effectiveAddress(mode, reg, M68K_SIZE_LONG)
	if !ok || mode == 3 || mode == 4 {
		cpu.illegal()
		return
	}
	cpu.ctx.PC = uint32(target)
}

func (cpu *M68KCore) ExecLea(reg, mode, xreg uint16) {
	addr, ok := cpu.effectiveAddress(mode, xreg, M68K_SIZE_LONG)
	if !ok || mode == 3 || mode == 4 {
		cpu.illegal()
		return
	}
	cpu.ctx.A[reg] = uint32(addr)
}

func (cpu *M68KCore) ExecPea(mode, reg uint16) {
	addr, ok := cpu.effectiveAddress(mode, reg, M68K_SIZE_LONG)
	if !ok || mode == 3 || mode == 4 {
		cpu.illegal()
		return
	}
	cpu.Push32(uint32(addr))
}

func (cpu *M68KCore) ExecLink(reg uint16) {
	disp := int16(cpu.Fetch16())
	cpu.Push32(cpu.ctx.A[reg])
	cpu.ctx.A[reg] = cpu.ctx.A[REG_SP]
	cpu.ctx.A[REG_SP] = uint32(int32(cpu.ctx.A[REG_SP]) + int32(disp))
}

func (cpu *M68KCore) ExecUnlk(reg uint16) {
	cpu.ctx.A[REG_SP] = cpu.ctx.A[reg]
	cpu.ctx.A[reg] = cpu.Pop32()
}

func (cpu *M68KCore) ExecClr(size int, mode, reg uint16) {
	if mode == 1 || !cpu.writeEA(mode, reg, size, 0) {
		cpu.illegal()
		return
	}
	cpu.SetFlagsNZ(0, size)
}

func (cpu *M68KCore) ExecTst(size int, mode, reg uint16) {
	value, ok := cpu.readEA(mode, reg, size)
	if !ok {
		cpu.illegal()
		return
	}
	cpu.SetFlagsNZ(value, size)
}

func (cpu *M68KCore) ExecAddq(data uint32, size int, mode, reg uint16) {
	cpu.addSubQuick(data, size, mode, reg, false)
}

func (cpu *M68KCore) ExecSubq(data uint32, size int, mode, reg uint16) {
	cpu.addSubQuick(data, size, mode, reg, true)
}

func (cpu *M68KCore) addSubQuick(data uint32, size int, mode, reg uint16, sub bool) {
	if mode == 1 {
		// Address registers use the whole register and leave CCR alone.
		if sub {
			cpu.ctx.A[reg] -= data
		} else {
			cpu.ctx.A[reg] += data
		}
		return
	}
	if mode != 0 {
		cpu.illegal()
		return
	}
	mask := sizeMask(size)
	dest := cpu.ctx.D[reg] & mask
	var result uint32
	if sub {
		result = (dest - data) & mask
	} else {
		result = (dest + data) & mask
	}
	cpu.ctx.D[reg] = cpu.ctx.D[reg]&^mask | result

	cpu.SetFlagsNZ(result, size)
	sign := signBit(size)
	var carry, overflow bool
	if sub {
		carry = data > dest
		overflow = (dest^data)&(dest^result)&sign != 0
	} else {
		carry = uint64(dest)+uint64(data) > uint64(mask)
		overflow = (^(dest ^ data))&(dest^result)&sign != 0
	}
	if carry {
		cpu.ctx.SR |= SR_C | SR_X
	} else {
		cpu.ctx.SR &^= SR_X
	}
	if overflow {
		cpu.ctx.SR |= SR_V
	}
}

func (cpu *M68KCore) ExecTRAP(vector uint16) {
	if vector != M68K_SYSTRAP_VECTOR {
		cpu.illegal()
		return
	}
	trap := cpu.Fetch16()
	cpu.dispatch(trap)
}

// ExecALine treats a raw 0xAxxx word as a system trap.
func (cpu *M68KCore) ExecALine(opcode uint16) {
	cpu.dispatch(opcode)
}

func (cpu *M68KCore) dispatch(trap uint16) {
	if cpu.traps == nil || !cpu.traps.DispatchTrap(trap, GuestAddr(cpu.ctx.A[REG_SP])) {
		cpu.log.Errorf("M68K", "trap 0x%04X not mapped (pc 0x%08X)", trap, cpu.instrPC)
		cpu.ctx.D[0] = 0
	}
}
