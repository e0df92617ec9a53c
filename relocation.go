package guestcore

import (
	"encoding/binary"
	"fmt"
)

/*
relocation.go - data0 relocation program

Layout of the program, all integers big-endian:

	u32 code xref offset (unused)
	3 x { i32 A5 offset, opcode stream ending at 0x00 }   decompression
	3 x { u32 count, count packed deltas }                 data xrefs
	3 x { u32 count }                                      code xrefs

Chains report their own outcome instead of aborting the load. The loader
aggregates them into a LoadReport.
*/

const (
	DECOMP_CHAINS = 3
	XREF_CHAINS   = 3
)

// DecompKind is the operation selected by one decompression opcode.
type DecompKind uint8

const (
	DecompEnd DecompKind = iota
	DecompLiteral
	DecompZeros
	DecompRepeat
	DecompFill
	DecompIdiom
	DecompUnknown
)

func (k DecompKind) String() string {
	switch k {
	case DecompEnd:
		return "end"
	case DecompLiteral:
		return "literal"
	case DecompZeros:
		return "zeros"
	case DecompRepeat:
		return "repeat"
	case DecompFill:
		return "fill"
	case DecompIdiom:
		return "idiom"
	default:
		return "unknown"
	}
}

// DecompOp is one decoded opcode. Count is the number of output bytes for
// the run-length kinds; Idiom selects the template for DecompIdiom.
type DecompOp struct {
	Kind  DecompKind
	Count int
	Idiom uint8
}

// idiomTemplates are the fixed 8-byte patterns of opcodes 0x01-0x04.
// Negative entries are filled from the input stream in order.
var idiomTemplates = [5][8]int16{
	1: {0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, -1, -1},
	2: {0x00, 0x00, 0x00, 0x00, 0xFF, -1, -1, -1},
	3: {0xA9, 0xF0, 0x00, 0x00, -1, -1, 0x00, -1},
	4: {0xA9, 0xF0, 0x00, -1, -1, -1, 0x00, -1},
}

func decodeDecompOp(b byte) DecompOp {
	switch {
	case b == 0x00:
		return DecompOp{Kind: DecompEnd}
	case b&0x80 == 0x80:
		return DecompOp{Kind: DecompLiteral, Count: int(b&0x7F) + 1}
	case b&0xC0 == 0x40:
		return DecompOp{Kind: DecompZeros, Count: int(b&0x3F) + 1}
	case b&0xE0 == 0x20:
		return DecompOp{Kind: DecompRepeat, Count: int(b&0x1F) + 2}
	case b&0xF0 == 0x10:
		return DecompOp{Kind: DecompFill, Count: int(b&0x0F) + 1}
	case b >= 0x01 && b <= 0x04:
		return DecompOp{Kind: DecompIdiom, Count: 8, Idiom: b}
	default:
		return DecompOp{Kind: DecompUnknown}
	}
}

// inputLen is the number of stream bytes the op consumes after the opcode.
func (op DecompOp) inputLen() int {
	switch op.Kind {
	case DecompLiteral:
		return op.Count
	case DecompRepeat:
		return 1
	case DecompIdiom:
		n := 0
		for _, v := range idiomTemplates[op.Idiom] {
			if v < 0 {
				n++
			}
		}
		return n
	default:
		return 0
	}
}

// XrefForm is the width class of a packed data xref delta.
type XrefForm uint8

const (
	Xref8 XrefForm = iota
	Xref16
	Xref24
)

func (f XrefForm) String() string {
	switch f {
	case Xref8:
		return "8-bit"
	case Xref16:
		return "16-bit"
	default:
		return "24-bit"
	}
}

// XrefEntry is one decoded data xref: a signed step for the offset cursor.
type XrefEntry struct {
	Form  XrefForm
	Delta int32
}

// decodeXrefEntry decodes the entry at src[pos] and returns it with the
// number of bytes used. ok is false when the input is truncated.
func decodeXrefEntry(src []byte, pos int) (e XrefEntry, n int, ok bool) {
	if pos >= len(src) {
		return XrefEntry{}, 0, false
	}
	b := src[pos]
	switch {
	case b&0x80 != 0:
		// 7 bit magnitude, shifted left once into a signed byte.
		return XrefEntry{Form: Xref8, Delta: int32(int8((b & 0x7F) << 1))}, 1, true
	case b&0x40 != 0:
		if pos+1 >= len(src) {
			return XrefEntry{}, 0, false
		}
		// 14 bits shifted left twice, then arithmetic shift right once.
		w := (uint16(b)<<8 | uint16(src[pos+1])) << 2
		return XrefEntry{Form: Xref16, Delta: int32(int16(w) >> 1)}, 2, true
	default:
		return XrefEntry{Form: Xref24}, 1, true
	}
}

// ChainKind names the three chain families of a relocation program.
type ChainKind uint8

const (
	ChainDecompress ChainKind = iota
	ChainDataXref
	ChainCodeXref
)

func (k ChainKind) String() string {
	switch k {
	case ChainDecompress:
		return "decompress"
	case ChainDataXref:
		return "data xref"
	default:
		return "code xref"
	}
}

// ChainStatus is the outcome of one chain.
type ChainStatus uint8

const (
	ChainApplied ChainStatus = iota
	ChainPartiallyApplied
	ChainUnsupported
)

func (s ChainStatus) String() string {
	switch s {
	case ChainApplied:
		return "applied"
	case ChainPartiallyApplied:
		return "partially applied"
	default:
		return "unsupported"
	}
}

// ChainResult describes one processed chain. Entries counts opcodes for
// decompression chains and fixups for xref chains.
type ChainResult struct {
	Kind    ChainKind
	Index   int
	Status  ChainStatus
	Reason  string
	Entries int
}

func (r ChainResult) String() string {
	s := fmt.Sprintf("%s chain %d: %s (%d entries)", r.Kind, r.Index, r.Status, r.Entries)
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	return s
}

// relocator walks one relocation program over a data image. image is the
// whole above+below block; below is the size of the part below A5 and
// base the guest address of image[0].
type relocator struct {
	src       []byte
	pos       int
	image     []byte
	below     uint32
	base      GuestAddr
	zeroWords bool
	log       *Logger
	results   []ChainResult
	aborted   string
}

func (r *relocator) u32() (uint32, bool) {
	if r.pos+4 > len(r.src) {
		r.pos = len(r.src)
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.src[r.pos:])
	r.pos += 4
	return v, true
}

// truncated marks res as cut short by the end of a non-empty program. An
// empty program relocates nothing and applies cleanly.
func (r *relocator) truncated(res ChainResult) ChainResult {
	if len(r.src) > 0 {
		res.Status = ChainPartiallyApplied
		res.Reason = "stream truncated"
	}
	return res
}

func (r *relocator) add(res ChainResult) {
	if res.Status != ChainApplied {
		r.log.Errorf("Loader", "%s", res)
	} else {
		r.log.Tracef("Loader", "%s", res)
	}
	r.results = append(r.results, res)
}

// decompressAll reads the header word and the decompression chains.
func (r *relocator) decompressAll() {
	r.u32() // code xref offset
	for m := 0; m < DECOMP_CHAINS; m++ {
		r.add(r.decompress(m))
	}
}

func (r *relocator) dataXrefsAll() {
	for m := 0; m < XREF_CHAINS; m++ {
		if r.aborted != "" {
			r.add(ChainResult{Kind: ChainDataXref, Index: m, Status: ChainUnsupported, Reason: r.aborted})
			continue
		}
		res := r.dataXrefs(m)
		if res.Status == ChainUnsupported {
			r.aborted = fmt.Sprintf("skipped after unsupported data xref in chain %d", m)
		}
		r.add(res)
	}
}

func (r *relocator) codeXrefsAll() {
	for m := 0; m < XREF_CHAINS; m++ {
		if r.aborted != "" {
			// The cursor is somewhere inside the abandoned entries.
			r.add(ChainResult{Kind: ChainCodeXref, Index: m, Status: ChainUnsupported, Reason: r.aborted})
			continue
		}
		res := ChainResult{Kind: ChainCodeXref, Index: m}
		// Trailing zero counts may be left out entirely.
		if r.pos == len(r.src) {
			r.add(res)
			continue
		}
		count, ok := r.u32()
		if !ok {
			r.add(r.truncated(res))
			continue
		}
		if count == 0 {
			r.add(res)
			continue
		}
		res.Status, res.Entries, res.Reason = ChainUnsupported, int(count), "code xrefs are not supported"
		r.add(res)
		r.aborted = fmt.Sprintf("skipped after unsupported code xref in chain %d", m)
	}
}

func (r *relocator) decompress(m int) ChainResult {
	res := ChainResult{Kind: ChainDecompress, Index: m}
	raw, ok := r.u32()
	if !ok {
		return r.truncated(res)
	}
	start := int64(r.below) + int64(int32(raw))
	r.log.Tracef("Loader", "data chain %d starts at A5%+d (image offset %d)", m, int32(raw), start)
	if start < 0 || start > int64(len(r.image)) {
		res.Status = ChainUnsupported
		res.Reason = fmt.Sprintf("start offset %d outside %d byte image", start, len(r.image))
		r.skipChain()
		return res
	}
	out := int(start)

	for {
		if r.pos >= len(r.src) {
			res.Status = ChainPartiallyApplied
			res.Reason = "stream truncated"
			return res
		}
		op := decodeDecompOp(r.src[r.pos])
		r.pos++
		if op.Kind == DecompEnd {
			return res
		}
		if op.Kind == DecompUnknown {
			// The byte carries no operands, so the stream stays in step.
			res.Status = ChainPartiallyApplied
			res.Reason = fmt.Sprintf("unknown opcode 0x%02X", r.src[r.pos-1])
			continue
		}
		in := op.inputLen()
		if r.pos+in > len(r.src) {
			r.pos = len(r.src)
			res.Status = ChainPartiallyApplied
			res.Reason = "stream truncated"
			return res
		}
		if out+op.Count > len(r.image) {
			res.Status = ChainPartiallyApplied
			res.Reason = fmt.Sprintf("%s run of %d bytes at offset %d overflows image", op.Kind, op.Count, out)
			r.pos += in
			r.skipChain()
			return res
		}
		r.emit(op, r.src[r.pos:r.pos+in], r.image[out:out+op.Count])
		r.pos += in
		out += op.Count
		res.Entries++
	}
}

// emit expands op with its operands into dst.
func (r *relocator) emit(op DecompOp, operands, dst []byte) {
	switch op.Kind {
	case DecompLiteral:
		copy(dst, operands)
	case DecompZeros:
		clear(dst)
	case DecompRepeat:
		for i := range dst {
			dst[i] = operands[0]
		}
	case DecompFill:
		for i := range dst {
			dst[i] = 0xFF
		}
	case DecompIdiom:
		next := 0
		for i, v := range idiomTemplates[op.Idiom] {
			if v < 0 {
				dst[i] = operands[next]
				next++
			} else {
				dst[i] = byte(v)
			}
		}
	}
}

// skipChain moves past the rest of a chain that cannot be applied.
func (r *relocator) skipChain() {
	for r.pos < len(r.src) {
		op := decodeDecompOp(r.src[r.pos])
		r.pos++
		if op.Kind == DecompEnd {
			return
		}
		r.pos += op.inputLen()
	}
}

func (r *relocator) dataXrefs(m int) ChainResult {
	res := ChainResult{Kind: ChainDataXref, Index: m}
	count, ok := r.u32()
	if !ok {
		return r.truncated(res)
	}
	r.log.Tracef("Loader", "decoding %d xrefs for chain %d at 0x%04X", count, m, r.pos)
	offset := int64(r.below)
	a5 := uint32(r.base) + r.below

	for xr := uint32(0); xr < count; xr++ {
		e, n, ok := decodeXrefEntry(r.src, r.pos)
		if !ok {
			r.pos = len(r.src)
			res.Status = ChainPartiallyApplied
			res.Reason = "stream truncated"
			return res
		}
		r.pos += n
		if e.Form == Xref24 {
			res.Status = ChainUnsupported
			res.Reason = fmt.Sprintf("24-bit data xref at entry %d", xr)
			return res
		}
		offset += int64(e.Delta)
		if offset < 0 || offset+4 > int64(len(r.image)) {
			res.Status = ChainPartiallyApplied
			res.Reason = fmt.Sprintf("xref offset %d outside %d byte image", offset, len(r.image))
			r.skipXrefs(count - xr - 1)
			return res
		}
		word := r.image[offset : offset+4]
		value := binary.BigEndian.Uint32(word) + a5
		if e.Form == Xref16 && r.zeroWords {
			value = 0
		}
		binary.BigEndian.PutUint32(word, value)
		res.Entries++
	}
	return res
}

func (r *relocator) skipXrefs(n uint32) {
	for ; n > 0; n-- {
		_, used, ok := decodeXrefEntry(r.src, r.pos)
		if !ok {
			r.pos = len(r.src)
			return
		}
		r.pos += used
	}
}

// LoadReport aggregates every chain outcome of one load.
type LoadReport struct {
	Chains []ChainResult
	Layout SegmentLayout
}

// Clean reports whether every chain was fully applied.
func (r *LoadReport) Clean() bool {
	return len(r.Problems()) == 0
}

// Problems lists the chains that were not fully applied.
func (r *LoadReport) Problems() []ChainResult {
	var out []ChainResult
	for _, c := range r.Chains {
		if c.Status != ChainApplied {
			out = append(out, c)
		}
	}
	return out
}

// Err returns ErrUnsupportedXref naming the first problem, or nil.
func (r *LoadReport) Err() error {
	p := r.Problems()
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", p[0], ErrUnsupportedXref)
}
