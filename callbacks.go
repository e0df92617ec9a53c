package guestcore

// Typed wrappers for the guest callbacks system-call handlers invoke. Each
// one builds its argument block and any structures it points at in a
// single scratch heap block, calls the guest through the bridge and frees
// the block again.

const DM_ERR_INVALID_PARAM = 0x0203

// withScratch runs fn on a zeroed heap block of size bytes. It reports
// false when the heap is exhausted.
func (s *EmulatorState) withScratch(size uint32, tag string, fn func(a GuestAddr)) bool {
	a, err := s.Heap.Alloc(size, tag)
	if err != nil {
		s.log.Errorf("Bridge", "%s: %v", tag, err)
		return false
	}
	fn(a)
	if err := s.Heap.Free(a); err != nil {
		s.log.Errorf("Bridge", "%s: %v", tag, err)
	}
	return true
}

// args returns the first n bytes of the scratch block as the argument
// image pushed for the call.
func (s *EmulatorState) args(a GuestAddr, n uint32) []byte {
	return append([]byte(nil), s.Mem.Bytes(a, n)...)
}

// CallFormHandler runs a form event handler: Boolean handler(EventType *).
func (s *EmulatorState) CallFormHandler(addr GuestAddr, e *Event) bool {
	const argsSize = 4
	handled := false
	s.withScratch(argsSize+EVENT_SIZE, "CallForm", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(a+argsSize))
		EncodeEvent(s.Mem, a+argsSize, e)
		handled = uint8(s.CallGuest(uint32(addr), s.args(a, argsSize), false)) != 0
	})
	return handled
}

// CallGadgetHandler runs Boolean handler(FormGadgetType *, UInt16 cmd, void *param).
// The event pointer is null when e is nil.
func (s *EmulatorState) CallGadgetHandler(addr GuestAddr, g *FormGadget, cmd uint8, e *Event) bool {
	const (
		argsSize    = 4 + 2 + 4
		gadgetOff   = argsSize
		eventOffset = argsSize + GADGET_SIZE
	)
	handled := false
	s.withScratch(argsSize+GADGET_SIZE+EVENT_SIZE, "CallGadget", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(a+gadgetOff))
		s.Mem.Write16(a+4, uint16(cmd))
		if e != nil {
			s.Mem.Write32(a+6, uint32(a+eventOffset))
			EncodeEvent(s.Mem, a+eventOffset, e)
		}
		EncodeFormGadget(s.Mem, a+gadgetOff, g)
		handled = uint8(s.CallGuest(uint32(addr), s.args(a, argsSize), false)) != 0
	})
	return handled
}

// CallListDrawItem runs void draw(Int16 item, RectangleType *bounds, Char **text).
func (s *EmulatorState) CallListDrawItem(addr GuestAddr, item int16, bounds *Rectangle, text GuestAddr) {
	const argsSize = 2 + 4 + 4
	s.withScratch(argsSize+RECTANGLE_SIZE, "CallList", func(a GuestAddr) {
		s.Mem.Write16(a, uint16(item))
		s.Mem.Write32(a+2, uint32(a+argsSize))
		s.Mem.Write32(a+6, uint32(text))
		EncodeRectangle(s.Mem, a+argsSize, bounds)
		s.CallGuest(uint32(addr), s.args(a, argsSize), false)
	})
}

// CallTableDrawItem runs void draw(void *table, Int16 row, Int16 column, RectangleType *bounds).
func (s *EmulatorState) CallTableDrawItem(addr, table GuestAddr, row, column int16, bounds *Rectangle) {
	const argsSize = 4 + 2 + 2 + 4
	s.withScratch(argsSize+RECTANGLE_SIZE, "CallTable", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(table))
		s.Mem.Write16(a+4, uint16(row))
		s.Mem.Write16(a+6, uint16(column))
		s.Mem.Write32(a+8, uint32(a+argsSize))
		EncodeRectangle(s.Mem, a+argsSize, bounds)
		s.CallGuest(uint32(addr), s.args(a, argsSize), false)
	})
}

// CallTableSaveData runs Boolean save(void *table, Int16 row, Int16 column).
func (s *EmulatorState) CallTableSaveData(addr, table GuestAddr, row, column int16) bool {
	const argsSize = 4 + 2 + 2
	r := false
	s.withScratch(argsSize, "CallTable", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(table))
		s.Mem.Write16(a+4, uint16(row))
		s.Mem.Write16(a+6, uint16(column))
		r = uint8(s.CallGuest(uint32(addr), s.args(a, argsSize), false)) != 0
	})
	return r
}

// TableLoadResult carries the out-parameters of a table load-data callback.
type TableLoadResult struct {
	Handle GuestAddr
	Offset int16
	Size   int16
	Err    uint16
}

// CallTableLoadData runs Err load(void *table, Int16 row, Int16 column,
// Boolean editable, MemHandle *dataH, Int16 *dataOffset, Int16 *dataSize,
// FieldPtr fld).
func (s *EmulatorState) CallTableLoadData(addr, table GuestAddr, row, column int16, editable bool, field GuestAddr) TableLoadResult {
	const (
		argsSize  = 4 + 3*2 + 4*4
		handleOff = argsSize
		dataOff   = handleOff + 4
	)
	var res TableLoadResult
	s.withScratch(argsSize+4+2*2, "CallTable", func(a GuestAddr) {
		m := s.Mem
		m.Write32(a, uint32(table))
		m.Write16(a+4, uint16(row))
		m.Write16(a+6, uint16(column))
		m.Write16(a+8, uint16(boolByte(editable)))
		m.Write32(a+10, uint32(a+handleOff))
		m.Write32(a+14, uint32(a+dataOff))
		m.Write32(a+18, uint32(a+dataOff+2))
		m.Write32(a+22, uint32(field))
		res.Err = uint16(s.CallGuest(uint32(addr), s.args(a, argsSize), false))
		res.Handle = GuestAddr(m.Read32(a + handleOff))
		res.Offset = int16(m.Read16(a + dataOff))
		res.Size = int16(m.Read16(a + dataOff + 2))
	})
	return res
}

// CallDmCompare runs a record comparison callback:
// Int16 cmp(void *rec1, void *rec2, Int16 other, SortRecordInfoPtr, SortRecordInfoPtr, MemHandle appInfoH).
func (s *EmulatorState) CallDmCompare(addr, rec1, rec2 GuestAddr, other int16, sort1, sort2, appInfoH GuestAddr) int16 {
	const argsSize = 5*4 + 2
	var r int16
	s.withScratch(argsSize, "CallDmCompare", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(rec1))
		s.Mem.Write32(a+4, uint32(rec2))
		s.Mem.Write16(a+8, uint16(other))
		s.Mem.Write32(a+10, uint32(sort1))
		s.Mem.Write32(a+14, uint32(sort2))
		s.Mem.Write32(a+18, uint32(appInfoH))
		r = int16(s.CallGuest(uint32(addr), s.args(a, argsSize), false))
	})
	return r
}

// CallNotifyProc runs Err proc(SysNotifyParamType *). Changes the callee
// makes to the parameter block are decoded back into n.
func (s *EmulatorState) CallNotifyProc(addr GuestAddr, n *SysNotifyParam) uint16 {
	const argsSize = 4
	err := uint16(DM_ERR_INVALID_PARAM)
	s.withScratch(argsSize+4*4+2, "CallNotify", func(a GuestAddr) {
		s.Mem.Write32(a, uint32(a+argsSize))
		s.EncodeNotify(a+argsSize, n, true)
		err = uint16(s.CallGuest(uint32(addr), s.args(a, argsSize), false))
		s.DecodeNotify(a+argsSize, n, true)
	})
	return err
}
