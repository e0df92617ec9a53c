package guestcore

import "unsafe"

// Fixed wire sizes of the encodable structures.
const (
	POINT_SIZE       = 4
	RECTANGLE_SIZE   = 8
	RGB_COLOR_SIZE   = 4
	DATETIME_SIZE    = 14
	APPINFO_SIZE     = 2 + CATEGORY_COUNT*CATEGORY_LENGTH
	GADGET_SIZE      = 20
	LOCALE_SIZE      = 4
	DEVICE_INFO_SIZE = 20
	VOLUME_INFO_SIZE = 28
	FILE_INFO_SIZE   = 10
	SMF_OPTIONS_SIZE = 12

	CATEGORY_COUNT  = 16
	CATEGORY_LENGTH = 16
)

func (m *GuestMemory) readPtr(addr GuestAddr) unsafe.Pointer {
	return m.HostPtr(GuestAddr(m.Read32(addr)))
}

func (m *GuestMemory) writePtr(addr GuestAddr, p unsafe.Pointer) {
	m.Write32(addr, uint32(m.GuestPtr(p)))
}

type Point struct {
	X, Y int16
}

func EncodePoint(m *GuestMemory, addr GuestAddr, p *Point) {
	if addr == GuestNull || p == nil {
		return
	}
	m.Write16(addr, uint16(p.X))
	m.Write16(addr+2, uint16(p.Y))
}

func DecodePoint(m *GuestMemory, addr GuestAddr) Point {
	if addr == GuestNull {
		return Point{}
	}
	return Point{X: int16(m.Read16(addr)), Y: int16(m.Read16(addr + 2))}
}

type Rectangle struct {
	TopLeft Point
	Extent  Point
}

func EncodeRectangle(m *GuestMemory, addr GuestAddr, r *Rectangle) {
	if addr == GuestNull || r == nil {
		return
	}
	EncodePoint(m, addr, &r.TopLeft)
	EncodePoint(m, addr+4, &r.Extent)
}

func DecodeRectangle(m *GuestMemory, addr GuestAddr) Rectangle {
	if addr == GuestNull {
		return Rectangle{}
	}
	return Rectangle{TopLeft: DecodePoint(m, addr), Extent: DecodePoint(m, addr+4)}
}

type RGBColor struct {
	Index, R, G, B uint8
}

func EncodeRGBColor(m *GuestMemory, addr GuestAddr, c *RGBColor) {
	if addr == GuestNull || c == nil {
		return
	}
	m.Write8(addr, c.Index)
	m.Write8(addr+1, c.R)
	m.Write8(addr+2, c.G)
	m.Write8(addr+3, c.B)
}

func DecodeRGBColor(m *GuestMemory, addr GuestAddr) RGBColor {
	if addr == GuestNull {
		return RGBColor{}
	}
	return RGBColor{Index: m.Read8(addr), R: m.Read8(addr + 1), G: m.Read8(addr + 2), B: m.Read8(addr + 3)}
}

type DateTime struct {
	Second, Minute, Hour int16
	Day, Month, Year     int16
	WeekDay              int16
}

func (d *DateTime) fields() [7]*int16 {
	return [7]*int16{&d.Second, &d.Minute, &d.Hour, &d.Day, &d.Month, &d.Year, &d.WeekDay}
}

func EncodeDateTime(m *GuestMemory, addr GuestAddr, d *DateTime) {
	if addr == GuestNull || d == nil {
		return
	}
	for i, f := range d.fields() {
		m.Write16(addr+GuestAddr(2*i), uint16(*f))
	}
}

func DecodeDateTime(m *GuestMemory, addr GuestAddr) DateTime {
	var d DateTime
	if addr == GuestNull {
		return d
	}
	for i, f := range d.fields() {
		*f = int16(m.Read16(addr + GuestAddr(2*i)))
	}
	return d
}

// AppInfo is the category block at the head of a database's app info.
type AppInfo struct {
	RenamedCategories uint16
	CategoryLabels    [CATEGORY_COUNT][CATEGORY_LENGTH]byte
}

func EncodeAppInfo(m *GuestMemory, addr GuestAddr, a *AppInfo) {
	if addr == GuestNull || a == nil {
		return
	}
	m.Write16(addr, a.RenamedCategories)
	k := addr + 2
	for i := range a.CategoryLabels {
		for _, b := range a.CategoryLabels[i] {
			m.Write8(k, b)
			k++
		}
	}
}

func DecodeAppInfo(m *GuestMemory, addr GuestAddr) AppInfo {
	var a AppInfo
	if addr == GuestNull {
		return a
	}
	a.RenamedCategories = m.Read16(addr)
	k := addr + 2
	for i := range a.CategoryLabels {
		for j := range a.CategoryLabels[i] {
			a.CategoryLabels[i][j] = m.Read8(k)
			k++
		}
	}
	return a
}

// FormGadget is the guest view of a form gadget. Data and Handler are
// guest addresses owned by the application.
type FormGadget struct {
	ID      uint16
	Attr    uint16
	Rect    Rectangle
	Data    GuestAddr
	Handler GuestAddr
}

func EncodeFormGadget(m *GuestMemory, addr GuestAddr, g *FormGadget) {
	if addr == GuestNull || g == nil {
		return
	}
	m.Write16(addr, g.ID)
	m.Write16(addr+2, g.Attr)
	EncodeRectangle(m, addr+4, &g.Rect)
	m.Write32(addr+12, uint32(g.Data))
	m.Write32(addr+16, uint32(g.Handler))
}

func DecodeFormGadget(m *GuestMemory, addr GuestAddr) FormGadget {
	if addr == GuestNull {
		return FormGadget{}
	}
	return FormGadget{
		ID:      m.Read16(addr),
		Attr:    m.Read16(addr + 2),
		Rect:    DecodeRectangle(m, addr+4),
		Data:    GuestAddr(m.Read32(addr + 12)),
		Handler: GuestAddr(m.Read32(addr + 16)),
	}
}

type Locale struct {
	Language uint16
	Country  uint16
}

func EncodeLocale(m *GuestMemory, addr GuestAddr, l *Locale) {
	if addr == GuestNull || l == nil {
		return
	}
	m.Write16(addr, l.Language)
	m.Write16(addr+2, l.Country)
}

func DecodeLocale(m *GuestMemory, addr GuestAddr) Locale {
	if addr == GuestNull {
		return Locale{}
	}
	return Locale{Language: m.Read16(addr), Country: m.Read16(addr + 2)}
}

// DeviceInfo describes a serial device. PortInfoStr points at a string in
// the guest heap.
type DeviceInfo struct {
	Creator       uint32
	FtrInfo       uint32
	MaxBaudRate   uint32
	HandshakeBaud uint32
	PortInfoStr   unsafe.Pointer
}

func EncodeDeviceInfo(m *GuestMemory, addr GuestAddr, d *DeviceInfo) {
	if addr == GuestNull || d == nil {
		return
	}
	m.Write32(addr, d.Creator)
	m.Write32(addr+4, d.FtrInfo)
	m.Write32(addr+8, d.MaxBaudRate)
	m.Write32(addr+12, d.HandshakeBaud)
	m.writePtr(addr+16, d.PortInfoStr)
}

func DecodeDeviceInfo(m *GuestMemory, addr GuestAddr) DeviceInfo {
	if addr == GuestNull {
		return DeviceInfo{}
	}
	return DeviceInfo{
		Creator:       m.Read32(addr),
		FtrInfo:       m.Read32(addr + 4),
		MaxBaudRate:   m.Read32(addr + 8),
		HandshakeBaud: m.Read32(addr + 12),
		PortInfoStr:   m.readPtr(addr + 16),
	}
}

type VolumeInfo struct {
	Attributes    uint32
	FSType        uint32
	FSCreator     uint32
	MountClass    uint32
	SlotLibRefNum uint16
	SlotRefNum    uint16
	MediaType     uint32
	Reserved      uint32
}

func EncodeVolumeInfo(m *GuestMemory, addr GuestAddr, v *VolumeInfo) {
	if addr == GuestNull || v == nil {
		return
	}
	m.Write32(addr, v.Attributes)
	m.Write32(addr+4, v.FSType)
	m.Write32(addr+8, v.FSCreator)
	m.Write32(addr+12, v.MountClass)
	m.Write16(addr+16, v.SlotLibRefNum)
	m.Write16(addr+18, v.SlotRefNum)
	m.Write32(addr+20, v.MediaType)
	m.Write32(addr+24, v.Reserved)
}

func DecodeVolumeInfo(m *GuestMemory, addr GuestAddr) VolumeInfo {
	if addr == GuestNull {
		return VolumeInfo{}
	}
	return VolumeInfo{
		Attributes:    m.Read32(addr),
		FSType:        m.Read32(addr + 4),
		FSCreator:     m.Read32(addr + 8),
		MountClass:    m.Read32(addr + 12),
		SlotLibRefNum: m.Read16(addr + 16),
		SlotRefNum:    m.Read16(addr + 18),
		MediaType:     m.Read32(addr + 20),
		Reserved:      m.Read32(addr + 24),
	}
}

// FileInfo is filled in by directory enumeration. The name buffer belongs
// to the guest: NameP is whatever the guest stored at offset 4, and
// encoding copies Name into it, truncated to NameBufLen including the
// terminator.
type FileInfo struct {
	Attributes uint32
	NameP      unsafe.Pointer
	NameBufLen uint16
	Name       string
}

func EncodeFileInfo(m *GuestMemory, addr GuestAddr, f *FileInfo) {
	if addr == GuestNull || f == nil {
		return
	}
	m.Write32(addr, f.Attributes)
	nameP := GuestAddr(m.Read32(addr + 4))
	if nameP == GuestNull || f.NameBufLen == 0 {
		return
	}
	n := min(len(f.Name), int(f.NameBufLen)-1)
	for i := 0; i < int(f.NameBufLen); i++ {
		var b byte
		if i < n {
			b = f.Name[i]
		}
		m.Write8(nameP+GuestAddr(i), b)
	}
}

func DecodeFileInfo(m *GuestMemory, addr GuestAddr) FileInfo {
	if addr == GuestNull {
		return FileInfo{}
	}
	f := FileInfo{
		Attributes: m.Read32(addr),
		NameP:      m.readPtr(addr + 4),
		NameBufLen: m.Read16(addr + 8),
	}
	if f.NameP != nil {
		f.Name = m.ReadCString(m.GuestPtr(f.NameP), uint32(f.NameBufLen))
	}
	return f
}

// SmfOptions controls standard MIDI file playback.
type SmfOptions struct {
	StartMilliSec uint32
	EndMilliSec   uint32
	Amplitude     uint16
	Interruptible bool
}

func DecodeSmfOptions(m *GuestMemory, addr GuestAddr) SmfOptions {
	if addr == GuestNull {
		return SmfOptions{}
	}
	return SmfOptions{
		StartMilliSec: m.Read32(addr),
		EndMilliSec:   m.Read32(addr + 4),
		Amplitude:     m.Read16(addr + 8),
		Interruptible: m.Read8(addr+10) != 0,
	}
}

func EncodeSmfOptions(m *GuestMemory, addr GuestAddr, o *SmfOptions) {
	if addr == GuestNull || o == nil {
		return
	}
	m.Write32(addr, o.StartMilliSec)
	m.Write32(addr+4, o.EndMilliSec)
	m.Write16(addr+8, o.Amplitude)
	m.Write8(addr+10, boolByte(o.Interruptible))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
