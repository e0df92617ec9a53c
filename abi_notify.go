package guestcore

import "unsafe"

const (
	NOTIFY_PARAM_SIZE = 18

	SysNotifyDisplayChangeEvent = 0x73637264 // 'scrd'
	SysNotifyGPSDataEvent       = 0x67707364 // 'gpsd'

	SysAppLaunchCmdNormalLaunch = 0
	SysAppLaunchCmdNotify       = 56
)

// NotifyDetails is the payload hanging off a notification. Only the
// detail blocks listed below cross the guest boundary; any other type is
// passed as a null pointer.
type NotifyDetails interface {
	notifyType() uint32
}

type DisplayChangeDetails struct {
	OldDepth uint32
	NewDepth uint32
}

type GPSDataDetails struct {
	Data uint16
}

func (*DisplayChangeDetails) notifyType() uint32 { return SysNotifyDisplayChangeEvent }
func (*GPSDataDetails) notifyType() uint32       { return SysNotifyGPSDataEvent }

type SysNotifyParam struct {
	NotifyType  uint32
	Broadcaster uint32
	Details     NotifyDetails
	UserData    unsafe.Pointer
	Handled     bool
}

// EncodeNotify writes a notification block. Detail blocks are allocated on
// the guest heap when allocDetails is set; otherwise the display-change
// details are written through the pointer already stored in the block.
// GPS details are always freshly allocated.
func (s *EmulatorState) EncodeNotify(addr GuestAddr, n *SysNotifyParam, allocDetails bool) {
	if addr == GuestNull || n == nil {
		return
	}
	m := s.Mem
	var detailsP GuestAddr

	if n.Details != nil && n.Details.notifyType() == n.NotifyType {
		switch d := n.Details.(type) {
		case *DisplayChangeDetails:
			if allocDetails {
				detailsP = s.allocDetails(8)
			} else {
				detailsP = GuestAddr(m.Read32(addr + 8))
			}
			if detailsP != GuestNull {
				m.Write32(detailsP, d.OldDepth)
				m.Write32(detailsP+4, d.NewDepth)
			}
		case *GPSDataDetails:
			detailsP = s.allocDetails(2)
			if detailsP != GuestNull {
				m.Write16(detailsP, d.Data)
			}
		}
	}

	m.Write32(addr, n.NotifyType)
	m.Write32(addr+4, n.Broadcaster)
	m.Write32(addr+8, uint32(detailsP))
	m.writePtr(addr+12, n.UserData)
	m.Write8(addr+16, boolByte(n.Handled))
}

func (s *EmulatorState) allocDetails(size uint32) GuestAddr {
	p, err := s.Heap.Alloc(size, "notifyDetails")
	if err != nil {
		s.log.Errorf("EmuPalmOS", "notify details: %v", err)
		return GuestNull
	}
	return p
}

// DecodeNotify reads a notification block back into n. Details are decoded
// into n.Details when its type matches, or into a new value otherwise. With
// freeDetails the guest detail block is released afterwards.
func (s *EmulatorState) DecodeNotify(addr GuestAddr, n *SysNotifyParam, freeDetails bool) {
	if addr == GuestNull || n == nil {
		return
	}
	m := s.Mem
	n.NotifyType = m.Read32(addr)
	n.Broadcaster = m.Read32(addr + 4)
	detailsP := GuestAddr(m.Read32(addr + 8))
	n.UserData = m.readPtr(addr + 12)
	n.Handled = m.Read8(addr+16) != 0

	s.log.Tracef("EmuPalmOS", "notify '%s' from '%s' details 0x%08X handled %v",
		FourCC(n.NotifyType), FourCC(n.Broadcaster), uint32(detailsP), n.Handled)

	if detailsP == GuestNull {
		return
	}
	switch n.NotifyType {
	case SysNotifyDisplayChangeEvent:
		d, ok := n.Details.(*DisplayChangeDetails)
		if !ok {
			d = &DisplayChangeDetails{}
			n.Details = d
		}
		d.OldDepth = m.Read32(detailsP)
		d.NewDepth = m.Read32(detailsP + 4)
	case SysNotifyGPSDataEvent:
		d, ok := n.Details.(*GPSDataDetails)
		if !ok {
			d = &GPSDataDetails{}
			n.Details = d
		}
		d.Data = m.Read16(detailsP)
	}
	if freeDetails {
		if err := s.Heap.Free(detailsP); err != nil {
			s.log.Errorf("EmuPalmOS", "notify details: %v", err)
		}
	}
}
