package guestcore

// M68KContext is the full register file of one interpreter instance. It is
// a plain value: assigning it copies it, so a saved context can never alias
// the live one.
type M68KContext struct {
	D   [8]uint32
	A   [8]uint32 // A[7] is the active stack pointer
	PC  uint32
	SR  uint16
	USP uint32
	SSP uint32
}

const (
	REG_A5 = 5 // Globals base
	REG_SP = 7
)

// Status register bits.
const (
	SR_C = 1 << 0
	SR_V = 1 << 1
	SR_Z = 1 << 2
	SR_N = 1 << 3
	SR_X = 1 << 4
	SR_S = 1 << 13

	SR_CCR_MASK = 0x1F
)

// ResetContext returns the power-on context used for a fresh interpreter:
// supervisor mode, every other register zero.
func ResetContext() M68KContext {
	return M68KContext{SR: SR_S}
}

func (c M68KContext) SP() uint32     { return c.A[REG_SP] }
func (c *M68KContext) SetSP(v uint32) { c.A[REG_SP] = v }

func (c M68KContext) Equal(o M68KContext) bool { return c == o }

// Interpreter is the instruction-dispatch loop the core drives. Execute runs
// at most budget instructions and returns how many it executed; it returns
// early when halted or when PC reaches the null address.
//
// A full 68020 core is installed with StateOptions.NewInterpreter. It
// reaches guest memory only through the state's GuestMemory, which has the
// big-endian Read8/16/32 and Write8/16/32 shape of a 32-bit bus, sends
// TRAP #15 and A-line words to the state's DispatchTrap and leaves bad
// accesses to the fault handler already installed on the memory.
type Interpreter interface {
	Execute(budget int) int
	Context() M68KContext
	SetContext(ctx M68KContext)
	Halt()
	Halted() bool
	Resume()
}
