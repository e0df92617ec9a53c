package guestcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// PRC resource database layout.
const (
	PRC_HEADER_SIZE  = 78
	PRC_ENTRY_SIZE   = 10
	PRC_NAME_SIZE    = 32
	PRC_ATTR_RESDB   = 0x0001
	PRC_TYPE_APPL    = 0x6170706C // 'appl'
	PRC_MAX_ENTRIES  = 0x4000
	prcOffAttributes = 32
	prcOffVersion    = 34
	prcOffType       = 60
	prcOffCreator    = 64
	prcOffNumRecords = 76
)

// PRCResource is one entry of the resource table.
type PRCResource struct {
	Type   ResType
	ID     uint16
	Offset uint32
	Size   uint32
}

// PRCFile is a parsed resource database. Resource data aliases the buffer
// passed to ParsePRC.
type PRCFile struct {
	Name       string
	Type       uint32
	Creator    uint32
	Attributes uint16
	Version    uint16
	Resources  []PRCResource

	data []byte
}

// OpenPRC reads and parses a resource database file.
func OpenPRC(path string) (*PRCFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParsePRC(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func ParsePRC(data []byte) (*PRCFile, error) {
	if len(data) < PRC_HEADER_SIZE {
		return nil, fmt.Errorf("header truncated at %d bytes: %w", len(data), ErrBadPRC)
	}
	be := binary.BigEndian
	p := &PRCFile{
		Attributes: be.Uint16(data[prcOffAttributes:]),
		Version:    be.Uint16(data[prcOffVersion:]),
		Type:       be.Uint32(data[prcOffType:]),
		Creator:    be.Uint32(data[prcOffCreator:]),
		data:       data,
	}
	name := data[:PRC_NAME_SIZE]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	p.Name = string(name)

	if p.Attributes&PRC_ATTR_RESDB == 0 {
		return nil, fmt.Errorf("%q is a record database: %w", p.Name, ErrBadPRC)
	}
	n := int(be.Uint16(data[prcOffNumRecords:]))
	if n > PRC_MAX_ENTRIES || PRC_HEADER_SIZE+n*PRC_ENTRY_SIZE > len(data) {
		return nil, fmt.Errorf("resource table of %d entries truncated: %w", n, ErrBadPRC)
	}

	p.Resources = make([]PRCResource, n)
	for i := range p.Resources {
		e := data[PRC_HEADER_SIZE+i*PRC_ENTRY_SIZE:]
		p.Resources[i] = PRCResource{
			Type:   ResType(be.Uint32(e)),
			ID:     be.Uint16(e[4:]),
			Offset: be.Uint32(e[6:]),
		}
	}

	// Sizes run to the next resource in file order, the last one to EOF.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return p.Resources[order[a]].Offset < p.Resources[order[b]].Offset
	})
	for k, i := range order {
		end := uint32(len(data))
		if k+1 < n {
			end = p.Resources[order[k+1]].Offset
		}
		r := &p.Resources[i]
		if r.Offset > end || r.Offset < uint32(PRC_HEADER_SIZE+n*PRC_ENTRY_SIZE) {
			return nil, fmt.Errorf("resource %s %d at offset %d out of range: %w", r.Type, r.ID, r.Offset, ErrBadPRC)
		}
		r.Size = end - r.Offset
	}
	return p, nil
}

// Resource implements ResourceSource.
func (p *PRCFile) Resource(typ ResType, id uint16) ([]byte, bool) {
	for _, r := range p.Resources {
		if r.Type == typ && r.ID == id {
			return p.data[r.Offset : r.Offset+r.Size : r.Offset+r.Size], true
		}
	}
	return nil, false
}

// Identity fingerprints the entry segment of the database.
func (p *PRCFile) Identity() AppIdentity {
	code, _ := p.Resource(ResCode, 1)
	return NewAppIdentity(p.Name, p.Creator, p.Type, code)
}

// IsApplication reports whether the database is a launchable application.
func (p *PRCFile) IsApplication() bool { return p.Type == PRC_TYPE_APPL }

// BuildPRC serializes a resource database holding res in the given order.
// The inverse of ParsePRC; used to produce fixtures.
func BuildPRC(name string, typ, creator uint32, res []PRCResource, data [][]byte) []byte {
	be := binary.BigEndian
	hdr := make([]byte, PRC_HEADER_SIZE+len(res)*PRC_ENTRY_SIZE+2)
	copy(hdr[:PRC_NAME_SIZE-1], name)
	be.PutUint16(hdr[prcOffAttributes:], PRC_ATTR_RESDB)
	be.PutUint16(hdr[prcOffVersion:], 1)
	be.PutUint32(hdr[prcOffType:], typ)
	be.PutUint32(hdr[prcOffCreator:], creator)
	be.PutUint16(hdr[prcOffNumRecords:], uint16(len(res)))

	off := uint32(len(hdr))
	var body []byte
	for i, r := range res {
		e := hdr[PRC_HEADER_SIZE+i*PRC_ENTRY_SIZE:]
		be.PutUint32(e, uint32(r.Type))
		be.PutUint16(e[4:], r.ID)
		be.PutUint32(e[6:], off)
		body = append(body, data[i]...)
		off += uint32(len(data[i]))
	}
	return append(hdr, body...)
}
