// loader.go - Application segment loader

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
loader.go - Segment Loader

Turns the three launch resources into a runnable image:

	code 0   u32 above-A5 size, u32 below-A5 size
	code 1   entry segment, copied verbatim
	data 0   relocation program (see relocation.go)

The loader walks ResourcesLoaded through RegistersInitialized. Every
block it takes from the guest heap is recorded in the state's layout and
released by releaseSegments, whether the launch ends normally or not.
*/

package guestcore

import (
	"encoding/binary"
	"fmt"
)

// ResType is a four character resource type.
type ResType uint32

const (
	ResCode ResType = 0x636F6465 // 'code'
	ResData ResType = 0x64617461 // 'data'

	CODE0_HEADER_SIZE = 8
)

func (t ResType) String() string { return FourCC(uint32(t)) }

// ResourceSource provides typed, indexed resource blobs.
type ResourceSource interface {
	Resource(typ ResType, id uint16) ([]byte, bool)
}

type ResourceKey struct {
	Type ResType
	ID   uint16
}

// ResourceMap is an in-memory ResourceSource.
type ResourceMap map[ResourceKey][]byte

func (m ResourceMap) Put(typ ResType, id uint16, data []byte) {
	m[ResourceKey{typ, id}] = data
}

func (m ResourceMap) Resource(typ ResType, id uint16) ([]byte, bool) {
	data, ok := m[ResourceKey{typ, id}]
	return data, ok
}

// LoadPhase is the loader and run state of a launch.
type LoadPhase uint8

const (
	LoadIdle LoadPhase = iota
	LoadResourcesLoaded
	LoadHeaderParsed
	LoadDataAllocated
	LoadDataDecompressed
	LoadDataXrefsApplied
	LoadCodeXrefsChecked
	LoadStackAllocated
	LoadRegistersInitialized
	LoadRunning
	LoadFinished
	LoadPanicked
)

var loadPhaseNames = [...]string{
	LoadIdle:                 "Idle",
	LoadResourcesLoaded:      "ResourcesLoaded",
	LoadHeaderParsed:         "HeaderParsed",
	LoadDataAllocated:        "DataAllocated",
	LoadDataDecompressed:     "DataDecompressed",
	LoadDataXrefsApplied:     "DataXrefsApplied",
	LoadCodeXrefsChecked:     "CodeXrefsChecked",
	LoadStackAllocated:       "StackAllocated",
	LoadRegistersInitialized: "RegistersInitialized",
	LoadRunning:              "Running",
	LoadFinished:             "Finished",
	LoadPanicked:             "Panicked",
}

func (p LoadPhase) String() string {
	if int(p) < len(loadPhaseNames) {
		return loadPhaseNames[p]
	}
	return fmt.Sprintf("LoadPhase(%d)", uint8(p))
}

// Load builds the launch image from src. A missing entry segment returns
// ErrNoEntrySegment and leaves the heap untouched. Relocation problems are
// reported in the LoadReport and only fail the load under
// Config.StrictRelocations.
func (s *EmulatorState) Load(src ResourceSource) (*LoadReport, error) {
	if s.phase != LoadIdle {
		return nil, ErrStateBusy
	}
	code1, ok := src.Resource(ResCode, 1)
	if !ok {
		return nil, ErrNoEntrySegment
	}
	code0, hasHeader := src.Resource(ResCode, 0)
	data0, hasReloc := src.Resource(ResData, 0)
	s.setPhase(LoadResourcesLoaded)

	report, err := s.load(code0, hasHeader, code1, data0, hasReloc)
	if err != nil {
		s.releaseSegments()
		s.phase = LoadIdle
		return nil, err
	}
	return report, nil
}

func (s *EmulatorState) load(code0 []byte, hasHeader bool, code1, data0 []byte, hasReloc bool) (*LoadReport, error) {
	l := &s.Layout

	// The entry segment may be empty; the block still needs an address.
	code, err := s.Heap.Alloc(uint32(len(code1)), "code1")
	if err != nil {
		return nil, fmt.Errorf("load entry segment: %w", err)
	}
	s.Mem.CopyIn(code, code1)
	l.CodeStart, l.CodeSize = code, uint32(len(code1))

	var above, below uint32
	if hasHeader {
		if len(code0) < CODE0_HEADER_SIZE {
			return nil, fmt.Errorf("code 0 is %d bytes: %w", len(code0), ErrBadHeader)
		}
		above = binary.BigEndian.Uint32(code0[0:])
		below = binary.BigEndian.Uint32(code0[4:])
		if uint64(above)+uint64(below) >= uint64(s.Mem.Size()) {
			return nil, fmt.Errorf("globals of %d+%d bytes exceed the heap: %w", above, below, ErrBadHeader)
		}
	}
	s.log.Infof("Loader", "dataSize %d aboveSize %d", below, above)
	s.setPhase(LoadHeaderParsed)

	var image []byte
	if above+below > 0 {
		data, err := s.Heap.Alloc(above+below, "data")
		if err != nil {
			return nil, fmt.Errorf("allocate globals: %w", err)
		}
		l.DataStart = data
		image = s.Mem.Bytes(data, above+below)
	}
	l.DataSize, l.AboveSize = below, above
	s.setPhase(LoadDataAllocated)

	r := &relocator{
		src:       data0,
		image:     image,
		below:     below,
		base:      l.DataStart,
		zeroWords: s.cfg.ZeroWordXrefs,
		log:       s.log,
	}
	if hasReloc {
		r.decompressAll()
	}
	s.setPhase(LoadDataDecompressed)
	if hasReloc {
		r.dataXrefsAll()
	}
	s.setPhase(LoadDataXrefsApplied)
	if hasReloc {
		r.codeXrefsAll()
	}
	s.setPhase(LoadCodeXrefsChecked)

	report := &LoadReport{Chains: r.results}
	if s.cfg.StrictRelocations {
		if err := report.Err(); err != nil {
			return nil, err
		}
	}

	stack, err := s.Heap.Alloc(s.cfg.StackSize, "stack")
	if err != nil {
		return nil, fmt.Errorf("allocate stack: %w", err)
	}
	l.StackStart, l.StackSize = stack, s.cfg.StackSize
	s.setPhase(LoadStackAllocated)

	if err := s.installNativeStubs(); err != nil {
		return nil, err
	}

	ctx := ResetContext()
	ctx.PC = uint32(l.CodeStart)
	ctx.SetSP(uint32(l.StackStart) + l.StackSize - STACK_SLACK)
	ctx.A[REG_A5] = uint32(l.A5())
	s.CPU.SetContext(ctx)
	s.CPU.Resume()
	s.setPhase(LoadRegistersInitialized)

	s.log.Infof("Loader", "code  segment from 0x%08X to 0x%08X size 0x%04X", uint32(l.CodeStart), uint32(l.CodeStart)+l.CodeSize-1, l.CodeSize)
	s.log.Infof("Loader", "stack segment from 0x%08X to 0x%08X size 0x%04X", uint32(l.StackStart), uint32(l.StackStart)+l.StackSize-1, l.StackSize)
	if above+below > 0 {
		s.log.Infof("Loader", "data  segment from 0x%08X to 0x%08X size 0x%04X", uint32(l.DataStart), uint32(l.DataStart)+above+below-1, above+below)
	}
	report.Layout = *l
	return report, nil
}

// releaseSegments frees every block the loader and launcher took from the
// heap and clears the layout.
func (s *EmulatorState) releaseSegments() {
	s.releaseNativeStubs()
	l := s.Layout
	for _, b := range []struct {
		addr GuestAddr
		tag  string
	}{
		{l.CodeStart, "code1"},
		{l.DataStart, "data"},
		{l.StackStart, "stack"},
		{l.SysAppInfo, "sysAppInfo"},
		{l.ParamBlock, "paramBlock"},
	} {
		if b.addr == GuestNull {
			continue
		}
		if err := s.Heap.Free(b.addr); err != nil {
			s.log.Errorf("Loader", "release %s: %v", b.tag, err)
		}
	}
	s.Layout = SegmentLayout{}
}
