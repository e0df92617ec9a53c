package guestcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const CRASH_NOTICE_QUEUE = 64

// CrashNotice is the asynchronous "application crashed" message.
type CrashNotice struct {
	App  AppIdentity
	Code uint32
	Time time.Time
}

// Supervisor is the host side of guest crash handling. It stores verdicts
// and diagnostics, shows alerts and queues crash notices for whoever
// manages the running applications. Launches never block on it.
type Supervisor struct {
	store   *CrashStore
	alert   Alerter
	log     *Logger
	notices chan CrashNotice

	mu      sync.Mutex
	dropped int
}

// NewSupervisor wires a supervisor. store and alert may be nil.
func NewSupervisor(store *CrashStore, alert Alerter, log *Logger) *Supervisor {
	if log == nil {
		log = DiscardLogger()
	}
	return &Supervisor{
		store:   store,
		alert:   alert,
		log:     log,
		notices: make(chan CrashNotice, CRASH_NOTICE_QUEUE),
	}
}

func (sv *Supervisor) SetCompat(creator uint32, status CompatStatus, code uint32) error {
	sv.log.Tracef("Supervisor", "compat %s = %s (%d)", FourCC(creator), status, code)
	if sv.store == nil {
		return nil
	}
	return sv.store.SetCompat(creator, status, code)
}

func (sv *Supervisor) CrashLog(app AppIdentity, code uint32, msg string) error {
	sv.log.Errorf("Supervisor", "%s crashed (%d): %s", app, code, msg)
	if sv.store == nil {
		return nil
	}
	return sv.store.CrashLog(app, code, msg)
}

func (sv *Supervisor) FatalAlert(msg string) {
	if sv.alert != nil {
		sv.alert.FatalAlert(msg)
	}
}

// PostAppCrashed queues a crash notice. When the queue is full the notice
// is counted and dropped.
func (sv *Supervisor) PostAppCrashed(app AppIdentity, code uint32) {
	select {
	case sv.notices <- CrashNotice{App: app, Code: code, Time: time.Now()}:
	default:
		sv.mu.Lock()
		sv.dropped++
		sv.mu.Unlock()
		sv.log.Errorf("Supervisor", "crash notice for %s dropped", app)
	}
}

// Notices delivers queued crash notices.
func (sv *Supervisor) Notices() <-chan CrashNotice { return sv.notices }

func (sv *Supervisor) Dropped() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.dropped
}

// RunAll launches every request concurrently, at most limit at a time
// (no limit when limit <= 0). Each launch gets its own EmulatorState; the
// supervisor becomes its host unless one is set and task ids default to
// the request index plus one. A failed launch cancels the ones not yet
// finished. Guest crashes are not failures.
func (sv *Supervisor) RunAll(ctx context.Context, reqs []LaunchRequest, limit int) ([]*LaunchResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	results := make([]*LaunchResult, len(reqs))
	for i, req := range reqs {
		i, req := i, req
		if req.State.Host == nil {
			req.State.Host = sv
		}
		if req.State.TaskID == 0 {
			req.State.TaskID = uint64(i + 1)
		}
		g.Go(func() error {
			res, err := Launch(ctx, req)
			if err != nil {
				return fmt.Errorf("task %d: %w", req.State.TaskID, err)
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
