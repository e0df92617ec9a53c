package guestcore

import (
	"fmt"
	"unsafe"
)

// EventType is the discriminant of the guest event union.
type EventType uint16

const (
	NilEvent               EventType = 0
	PenDownEvent           EventType = 1
	PenUpEvent             EventType = 2
	PenMoveEvent           EventType = 3
	KeyDownEvent           EventType = 4
	WinEnterEvent          EventType = 5
	WinExitEvent           EventType = 6
	CtlEnterEvent          EventType = 7
	CtlExitEvent           EventType = 8
	CtlSelectEvent         EventType = 9
	CtlRepeatEvent         EventType = 10
	LstEnterEvent          EventType = 11
	LstSelectEvent         EventType = 12
	LstExitEvent           EventType = 13
	PopSelectEvent         EventType = 14
	FldEnterEvent          EventType = 15
	FldHeightChanged       EventType = 16
	FldChangedEvent        EventType = 17
	TblEnterEvent          EventType = 18
	TblSelectEvent         EventType = 19
	DaySelectEvent         EventType = 20
	MenuEvent              EventType = 21
	AppStopEvent           EventType = 22
	FrmLoadEvent           EventType = 23
	FrmOpenEvent           EventType = 24
	FrmGotoEvent           EventType = 25
	FrmUpdateEvent         EventType = 26
	FrmSaveEvent           EventType = 27
	FrmCloseEvent          EventType = 28
	FrmTitleEnterEvent     EventType = 29
	FrmTitleSelectEvent    EventType = 30
	TblExitEvent           EventType = 31
	SclEnterEvent          EventType = 32
	SclExitEvent           EventType = 33
	SclRepeatEvent         EventType = 34
	FrmGadgetEnterEvent    EventType = 0x0803
	FrmGadgetMiscEvent     EventType = 0x0804
	WinDisplayChangedEvent EventType = 0x4101
	AppRaiseEvent          EventType = 0x4102

	FirstUserEvent EventType = 0x6000
	LastUserEvent  EventType = 0x7FFF
)

const EVENT_SIZE = 24 // Header plus the largest payload (popSelect)

func (t EventType) IsUser() bool { return t >= FirstUserEvent && t <= LastUserEvent }

// Event is the host form of the guest event union. Data holds the payload
// selected by Type and is nil for payload-less events.
type Event struct {
	Type     EventType
	PenDown  bool
	TapCount uint8
	ScreenX  int16
	ScreenY  int16
	Data     EventData
}

// EventData is implemented by every event payload.
type EventData interface {
	encode(m *GuestMemory, addr GuestAddr)
}

type KeyDownData struct {
	Chr, KeyCode, Modifiers uint16
}

type PenUpData struct {
	Start, End Point
}

// FormData carries a form id (load, open, close, title enter/select).
type FormData struct {
	FormID uint16
}

type FormUpdateData struct {
	FormID, UpdateCode uint16
}

type MenuData struct {
	ItemID uint16
}

type FieldData struct {
	FieldID uint16
	Field   unsafe.Pointer
}

type ControlData struct {
	ControlID uint16
	Control   unsafe.Pointer
}

type CtlSelectData struct {
	ControlID uint16
	Control   unsafe.Pointer
	On        bool
	Value     uint16
}

type ListData struct {
	ListID    uint16
	List      unsafe.Pointer
	Selection int16
}

type ListExitData struct {
	ListID uint16
	List   unsafe.Pointer
}

type PopSelectData struct {
	ControlID      uint16
	Control        unsafe.Pointer
	ListID         uint16
	List           unsafe.Pointer
	Selection      int16
	PriorSelection int16
}

type ScrollBarData struct {
	ScrollBarID uint16
	ScrollBar   unsafe.Pointer
}

type SclExitData struct {
	ScrollBarID uint16
	ScrollBar   unsafe.Pointer
	Value       int16
	NewValue    int16
}

type SclRepeatData struct {
	ScrollBarID uint16
	ScrollBar   unsafe.Pointer
	Value       int16
	NewValue    int16
	Time        uint32
}

// GadgetEnterData refers to a gadget living at GadgetP in the guest heap.
// When Gadget is set it is encoded at that address as well.
type GadgetEnterData struct {
	GadgetID uint16
	GadgetP  unsafe.Pointer
	Gadget   *FormGadget
}

type GadgetMiscData struct {
	GadgetID uint16
	GadgetP  unsafe.Pointer
	Gadget   *FormGadget
	Selector uint16
	DataP    unsafe.Pointer
}

type TableData struct {
	TableID uint16
	Table   unsafe.Pointer
	Row     int16
	Column  int16
}

type WindowData struct {
	EnterWindow unsafe.Pointer
	ExitWindow  unsafe.Pointer
}

func (d *KeyDownData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.Chr)
	m.Write16(addr+10, d.KeyCode)
	m.Write16(addr+12, d.Modifiers)
}

func (d *PenUpData) encode(m *GuestMemory, addr GuestAddr) {
	EncodePoint(m, addr+8, &d.Start)
	EncodePoint(m, addr+12, &d.End)
}

func (d *FormData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.FormID)
}

func (d *FormUpdateData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.FormID)
	m.Write16(addr+10, d.UpdateCode)
}

func (d *MenuData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ItemID)
}

func (d *FieldData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.FieldID)
	m.writePtr(addr+10, d.Field)
}

func (d *ControlData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ControlID)
	m.writePtr(addr+10, d.Control)
}

func (d *CtlSelectData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ControlID)
	m.writePtr(addr+10, d.Control)
	m.Write8(addr+14, boolByte(d.On))
	m.Write8(addr+15, 0)
	m.Write16(addr+16, d.Value)
}

func (d *ListData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ListID)
	m.writePtr(addr+10, d.List)
	m.Write16(addr+14, uint16(d.Selection))
}

func (d *ListExitData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ListID)
	m.writePtr(addr+10, d.List)
}

func (d *PopSelectData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ControlID)
	m.writePtr(addr+10, d.Control)
	m.Write16(addr+14, d.ListID)
	m.writePtr(addr+16, d.List)
	m.Write16(addr+20, uint16(d.Selection))
	m.Write16(addr+22, uint16(d.PriorSelection))
}

func (d *ScrollBarData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ScrollBarID)
	m.writePtr(addr+10, d.ScrollBar)
}

func (d *SclExitData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ScrollBarID)
	m.writePtr(addr+10, d.ScrollBar)
	m.Write16(addr+14, uint16(d.Value))
	m.Write16(addr+16, uint16(d.NewValue))
}

func (d *SclRepeatData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.ScrollBarID)
	m.writePtr(addr+10, d.ScrollBar)
	m.Write16(addr+14, uint16(d.Value))
	m.Write16(addr+16, uint16(d.NewValue))
	m.Write32(addr+18, d.Time)
}

func (d *GadgetEnterData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.GadgetID)
	m.writePtr(addr+10, d.GadgetP)
	EncodeFormGadget(m, m.GuestPtr(d.GadgetP), d.Gadget)
}

func (d *GadgetMiscData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.GadgetID)
	m.writePtr(addr+10, d.GadgetP)
	m.Write16(addr+14, d.Selector)
	m.writePtr(addr+16, d.DataP)
	EncodeFormGadget(m, m.GuestPtr(d.GadgetP), d.Gadget)
}

func (d *TableData) encode(m *GuestMemory, addr GuestAddr) {
	m.Write16(addr+8, d.TableID)
	m.writePtr(addr+10, d.Table)
	m.Write16(addr+14, uint16(d.Row))
	m.Write16(addr+16, uint16(d.Column))
}

func (d *WindowData) encode(m *GuestMemory, addr GuestAddr) {
	m.writePtr(addr+8, d.EnterWindow)
	m.writePtr(addr+12, d.ExitWindow)
}

// eventLayout names the payload shape a discriminant selects.
type eventLayout uint8

const (
	layoutNone eventLayout = iota
	layoutKeyDown
	layoutPenUp
	layoutForm
	layoutFormUpdate
	layoutMenu
	layoutField
	layoutControl
	layoutCtlSelect
	layoutList
	layoutListExit
	layoutPopSelect
	layoutScrollBar
	layoutSclExit
	layoutSclRepeat
	layoutGadgetEnter
	layoutGadgetMisc
	layoutTable
	layoutWindow
	layoutUnknown
)

func layoutOf(t EventType) eventLayout {
	switch t {
	case NilEvent, PenDownEvent, PenMoveEvent, AppStopEvent, WinDisplayChangedEvent, AppRaiseEvent:
		return layoutNone
	case KeyDownEvent:
		return layoutKeyDown
	case PenUpEvent:
		return layoutPenUp
	case FrmLoadEvent, FrmOpenEvent, FrmCloseEvent, FrmTitleEnterEvent, FrmTitleSelectEvent:
		return layoutForm
	case FrmUpdateEvent:
		return layoutFormUpdate
	case MenuEvent:
		return layoutMenu
	case FldEnterEvent, FldChangedEvent:
		return layoutField
	case CtlEnterEvent, CtlExitEvent:
		return layoutControl
	case CtlSelectEvent:
		return layoutCtlSelect
	case LstEnterEvent, LstSelectEvent:
		return layoutList
	case LstExitEvent:
		return layoutListExit
	case PopSelectEvent:
		return layoutPopSelect
	case SclEnterEvent:
		return layoutScrollBar
	case SclExitEvent:
		return layoutSclExit
	case SclRepeatEvent:
		return layoutSclRepeat
	case FrmGadgetEnterEvent:
		return layoutGadgetEnter
	case FrmGadgetMiscEvent:
		return layoutGadgetMisc
	case TblEnterEvent, TblExitEvent, TblSelectEvent:
		return layoutTable
	case WinEnterEvent, WinExitEvent:
		return layoutWindow
	default:
		return layoutUnknown
	}
}

// EncodeEvent writes the event header and the payload for e.Type. A
// payload of the wrong type for the discriminant is logged and skipped.
func EncodeEvent(m *GuestMemory, addr GuestAddr, e *Event) {
	if addr == GuestNull || e == nil {
		return
	}
	m.Write16(addr, uint16(e.Type))
	m.Write8(addr+2, boolByte(e.PenDown))
	m.Write8(addr+3, e.TapCount)
	m.Write16(addr+4, uint16(e.ScreenX))
	m.Write16(addr+6, uint16(e.ScreenY))

	layout := layoutOf(e.Type)
	switch {
	case layout == layoutUnknown:
		if !e.Type.IsUser() {
			m.log.Errorf("EmuPalmOS", "encode event %d (0x%04X) incomplete", uint16(e.Type), uint16(e.Type))
		}
		return
	case layout == layoutNone || e.Data == nil:
		return
	case layoutOfData(e.Data) != layout:
		m.log.Errorf("EmuPalmOS", "encode event 0x%04X: payload %T does not match", uint16(e.Type), e.Data)
		return
	}
	e.Data.encode(m, addr)
}

func layoutOfData(d EventData) eventLayout {
	switch d.(type) {
	case *KeyDownData:
		return layoutKeyDown
	case *PenUpData:
		return layoutPenUp
	case *FormData:
		return layoutForm
	case *FormUpdateData:
		return layoutFormUpdate
	case *MenuData:
		return layoutMenu
	case *FieldData:
		return layoutField
	case *ControlData:
		return layoutControl
	case *CtlSelectData:
		return layoutCtlSelect
	case *ListData:
		return layoutList
	case *ListExitData:
		return layoutListExit
	case *PopSelectData:
		return layoutPopSelect
	case *ScrollBarData:
		return layoutScrollBar
	case *SclExitData:
		return layoutSclExit
	case *SclRepeatData:
		return layoutSclRepeat
	case *GadgetEnterData:
		return layoutGadgetEnter
	case *GadgetMiscData:
		return layoutGadgetMisc
	case *TableData:
		return layoutTable
	case *WindowData:
		return layoutWindow
	default:
		return layoutUnknown
	}
}

// DecodeEvent reads an event back. Pointer fields become host pointers
// into the guest heap; gadget payloads also decode the gadget they refer to.
func DecodeEvent(m *GuestMemory, addr GuestAddr) Event {
	if addr == GuestNull {
		return Event{}
	}
	e := Event{
		Type:     EventType(m.Read16(addr)),
		PenDown:  m.Read8(addr+2) != 0,
		TapCount: m.Read8(addr + 3),
		ScreenX:  int16(m.Read16(addr + 4)),
		ScreenY:  int16(m.Read16(addr + 6)),
	}

	switch layoutOf(e.Type) {
	case layoutNone:
	case layoutKeyDown:
		e.Data = &KeyDownData{Chr: m.Read16(addr + 8), KeyCode: m.Read16(addr + 10), Modifiers: m.Read16(addr + 12)}
	case layoutPenUp:
		e.Data = &PenUpData{Start: DecodePoint(m, addr+8), End: DecodePoint(m, addr+12)}
	case layoutForm:
		e.Data = &FormData{FormID: m.Read16(addr + 8)}
	case layoutFormUpdate:
		e.Data = &FormUpdateData{FormID: m.Read16(addr + 8), UpdateCode: m.Read16(addr + 10)}
	case layoutMenu:
		e.Data = &MenuData{ItemID: m.Read16(addr + 8)}
	case layoutField:
		e.Data = &FieldData{FieldID: m.Read16(addr + 8), Field: m.readPtr(addr + 10)}
	case layoutControl:
		e.Data = &ControlData{ControlID: m.Read16(addr + 8), Control: m.readPtr(addr + 10)}
	case layoutCtlSelect:
		e.Data = &CtlSelectData{
			ControlID: m.Read16(addr + 8),
			Control:   m.readPtr(addr + 10),
			On:        m.Read8(addr+14) != 0,
			Value:     m.Read16(addr + 16),
		}
	case layoutList:
		e.Data = &ListData{ListID: m.Read16(addr + 8), List: m.readPtr(addr + 10), Selection: int16(m.Read16(addr + 14))}
	case layoutListExit:
		e.Data = &ListExitData{ListID: m.Read16(addr + 8), List: m.readPtr(addr + 10)}
	case layoutPopSelect:
		e.Data = &PopSelectData{
			ControlID:      m.Read16(addr + 8),
			Control:        m.readPtr(addr + 10),
			ListID:         m.Read16(addr + 14),
			List:           m.readPtr(addr + 16),
			Selection:      int16(m.Read16(addr + 20)),
			PriorSelection: int16(m.Read16(addr + 22)),
		}
	case layoutScrollBar:
		e.Data = &ScrollBarData{ScrollBarID: m.Read16(addr + 8), ScrollBar: m.readPtr(addr + 10)}
	case layoutSclExit:
		e.Data = &SclExitData{
			ScrollBarID: m.Read16(addr + 8),
			ScrollBar:   m.readPtr(addr + 10),
			Value:       int16(m.Read16(addr + 14)),
			NewValue:    int16(m.Read16(addr + 16)),
		}
	case layoutSclRepeat:
		e.Data = &SclRepeatData{
			ScrollBarID: m.Read16(addr + 8),
			ScrollBar:   m.readPtr(addr + 10),
			Value:       int16(m.Read16(addr + 14)),
			NewValue:    int16(m.Read16(addr + 16)),
			Time:        m.Read32(addr + 18),
		}
	case layoutGadgetEnter:
		d := &GadgetEnterData{GadgetID: m.Read16(addr + 8), GadgetP: m.readPtr(addr + 10)}
		d.Gadget = decodeGadgetAt(m, d.GadgetP)
		e.Data = d
	case layoutGadgetMisc:
		d := &GadgetMiscData{
			GadgetID: m.Read16(addr + 8),
			GadgetP:  m.readPtr(addr + 10),
			Selector: m.Read16(addr + 14),
			DataP:    m.readPtr(addr + 16),
		}
		d.Gadget = decodeGadgetAt(m, d.GadgetP)
		e.Data = d
	case layoutTable:
		e.Data = &TableData{
			TableID: m.Read16(addr + 8),
			Table:   m.readPtr(addr + 10),
			Row:     int16(m.Read16(addr + 14)),
			Column:  int16(m.Read16(addr + 16)),
		}
	case layoutWindow:
		e.Data = &WindowData{EnterWindow: m.readPtr(addr + 8), ExitWindow: m.readPtr(addr + 12)}
	case layoutUnknown:
		if !e.Type.IsUser() {
			m.log.Errorf("EmuPalmOS", "decode event %d (0x%04X) incomplete", uint16(e.Type), uint16(e.Type))
		}
	}
	return e
}

func decodeGadgetAt(m *GuestMemory, p unsafe.Pointer) *FormGadget {
	if p == nil {
		return nil
	}
	g := DecodeFormGadget(m, m.GuestPtr(p))
	return &g
}

func (t EventType) String() string {
	if t.IsUser() {
		return fmt.Sprintf("userEvent+%d", uint16(t-FirstUserEvent))
	}
	return fmt.Sprintf("event 0x%04X", uint16(t))
}
