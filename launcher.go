// launcher.go - Application launch

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
launcher.go - Launch Sequence

Launch owns one EmulatorState for the lifetime of a guest application:

	load -> SysAppInfo -> param block -> compat OK -> run batches
	     -> fault report -> param block decode -> release

Teardown runs the same way after a normal exit, a panic, cancellation of
the context or the must-end flag.
*/

package guestcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SysAppInfo block.
const (
	SYS_APP_INFO_SIZE    = 16
	SYS_APP_INFO_CMD     = 0
	SYS_APP_INFO_CMD_PBP = 2
	SYS_APP_INFO_FLAGS   = 6
	SYS_APP_INFO_CODE_H  = 12
)

// LaunchRequest describes one application launch.
type LaunchRequest struct {
	Resources  ResourceSource
	App        AppIdentity
	LaunchCode uint16
	Flags      uint16
	// Notify is the parameter block for SysAppLaunchCmdNotify launches.
	// Changes the application makes are decoded back into it.
	Notify *SysNotifyParam

	State     StateOptions
	Registry  *StateRegistry
	Secondary SecondaryCPU
}

// LaunchResult reports how a launch ended.
type LaunchResult struct {
	Ran          bool
	Report       *LoadReport
	Phase        LoadPhase
	Crashed      bool
	PanicMessage string
	FaultCode    FaultCode
	Instructions uint64
	Duration     time.Duration
	// Leaks lists heap blocks still allocated after teardown.
	Leaks []string
}

// Launch loads and runs one application to completion. A missing entry
// segment is not an error: the result has Ran == false.
func Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	started := time.Now()
	s, err := NewEmulatorState(req.State)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	s.App = req.App
	s.Secondary = req.Secondary

	res := &LaunchResult{}
	report, err := s.Load(req.Resources)
	if errors.Is(err, ErrNoEntrySegment) {
		s.log.Infof("EmuPalmOS", "%s has no entry segment, nothing to run", s.App)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", s.App, err)
	}
	res.Ran = true
	res.Report = report

	if req.Registry != nil {
		outer := req.Registry.Swap(s.TaskID, s)
		defer req.Registry.Swap(s.TaskID, outer)
	}

	if err := s.buildLaunchBlocks(req); err != nil {
		s.releaseSegments()
		return nil, fmt.Errorf("launch %s: %w", s.App, err)
	}

	s.execute(ctx)

	s.reportFault()
	if s.Layout.ParamBlock != GuestNull && req.Notify != nil {
		s.DecodeNotify(s.Layout.ParamBlock, req.Notify, true)
	}
	s.releaseSegments()
	s.terminate()

	res.Phase = s.phase
	res.PanicMessage, res.FaultCode, res.Crashed = s.PanicMessage()
	if core, ok := s.CPU.(*M68KCore); ok {
		res.Instructions = core.InstructionCount
	}
	res.Leaks = s.Heap.Leaks()
	res.Duration = time.Since(started)
	recordLaunch(res.Duration)
	return res, nil
}

// buildLaunchBlocks writes the SysAppInfo block and, for notify launches,
// the parameter block it points at.
func (s *EmulatorState) buildLaunchBlocks(req LaunchRequest) error {
	if req.LaunchCode == SysAppLaunchCmdNotify && req.Notify != nil {
		pb, err := s.Heap.Alloc(NOTIFY_PARAM_SIZE, "paramBlock")
		if err != nil {
			return err
		}
		s.Layout.ParamBlock = pb
		s.EncodeNotify(pb, req.Notify, true)
	}

	info, err := s.Heap.Alloc(SYS_APP_INFO_SIZE, "sysAppInfo")
	if err != nil {
		return err
	}
	s.Layout.SysAppInfo = info
	s.Mem.Write16(info+SYS_APP_INFO_CMD, req.LaunchCode)
	s.Mem.Write32(info+SYS_APP_INFO_CMD_PBP, uint32(s.Layout.ParamBlock))
	s.Mem.Write16(info+SYS_APP_INFO_FLAGS, req.Flags)
	s.Mem.Write32(info+SYS_APP_INFO_CODE_H, uint32(s.Layout.CodeStart))
	s.log.Tracef("EmuPalmOS", "sysAppInfo 0x%08X cmdPBP 0x%08X", uint32(info), uint32(s.Layout.ParamBlock))
	return nil
}

// SysAppInfo returns the guest address of the launch's SysAppInfo block.
func (s *EmulatorState) SysAppInfo() GuestAddr { return s.Layout.SysAppInfo }

func (s *EmulatorState) execute(ctx context.Context) {
	if s.faultPhase == PhaseRunning && s.Host != nil {
		if err := s.Host.SetCompat(s.App.Creator, CompatOK, 0); err != nil {
			s.log.Errorf("EmuPalmOS", "set compat for %s: %v", s.App, err)
		}
	}
	s.Finish(false)
	s.setPhase(LoadRunning)
	if s.faultPhase == PhaseRunning {
		s.Run(ctx)
	}
	if s.faultPhase != PhaseRunning {
		s.setPhase(LoadPanicked)
	} else {
		s.setPhase(LoadFinished)
	}
}
