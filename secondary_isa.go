package guestcore

// Call68KFuncType is the trampoline a secondary interpreter invokes when
// its program branches to the call descriptor address.
type Call68KFuncType func(emulStateP, trapOrFunction, argsOnStackP, argsSizeAndWantA0 uint32) uint32

// SecondaryCPU is a second guest instruction set sharing the guest heap.
type SecondaryCPU interface {
	SetReg(n int, v uint32)
	Reg(n int) uint32
	// Run executes up to budget instructions. A branch to callAddr calls
	// bridge with r0-r3 and stores the result in r0. It returns true once
	// the program has returned to retAddr.
	Run(budget int, callAddr uint32, bridge Call68KFuncType, retAddr uint32) bool
}

// Register numbers of the secondary ISA entry convention.
const (
	SEC_REG_R0 = 0
	SEC_REG_R1 = 1
	SEC_REG_R2 = 2
	SEC_REG_SP = 13
	SEC_REG_LR = 14
	SEC_REG_PC = 15

	SECONDARY_BATCH  = 1000
	TRAMPOLINE_SLOTS = 8
)

// NativeCall runs nativeFunc on the secondary CPU as
// unsigned long fn(const void *emulStateP, void *userData, Call68KFuncType *call68K)
// and returns its r0. Scratch return, descriptor and stack blocks come
// from the guest heap and are freed before returning.
func (s *EmulatorState) NativeCall(nativeFunc, userData uint32) uint32 {
	if s.Secondary == nil {
		s.log.Errorf("Bridge", "native call 0x%08X without a secondary CPU", nativeFunc)
		return 0
	}
	recordNativeCall()

	stackSize := uint32(NATIVE_STACK_SIZE)
	var blocks []GuestAddr
	defer func() {
		for _, b := range blocks {
			if err := s.Heap.Free(b); err != nil {
				s.log.Errorf("Bridge", "native call scratch: %v", err)
			}
		}
	}()
	alloc := func(size uint32, tag string) (GuestAddr, bool) {
		a, err := s.Heap.Alloc(size, tag)
		if err != nil {
			s.log.Errorf("Bridge", "native call 0x%08X: %v", nativeFunc, err)
			return GuestNull, false
		}
		blocks = append(blocks, a)
		return a, true
	}

	retAddr, ok := alloc(TRAMPOLINE_SLOTS, "returnAddr")
	if !ok {
		return 0
	}
	callAddr, ok := alloc(TRAMPOLINE_SLOTS, "call68kAddr")
	if !ok {
		return 0
	}
	stack, ok := alloc(stackSize, "nativeStack")
	if !ok {
		return 0
	}

	cpu := s.Secondary
	cpu.SetReg(SEC_REG_PC, nativeFunc)
	cpu.SetReg(SEC_REG_LR, uint32(retAddr))
	cpu.SetReg(SEC_REG_SP, uint32(stack)+stackSize)
	cpu.SetReg(SEC_REG_R0, 0)
	cpu.SetReg(SEC_REG_R1, userData)
	cpu.SetReg(SEC_REG_R2, uint32(callAddr))
	s.log.Tracef("Bridge", "native call 0x%08X(0x%08X) stack 0x%08X", nativeFunc, userData, uint32(stack)+stackSize)

	for !s.Finished() && !s.MustEnd() {
		if cpu.Run(SECONDARY_BATCH, uint32(callAddr), s.Call68KFunc, uint32(retAddr)) {
			break
		}
	}

	r := cpu.Reg(SEC_REG_R0)
	s.log.Tracef("Bridge", "native call 0x%08X returned 0x%08X", nativeFunc, r)
	return r
}
