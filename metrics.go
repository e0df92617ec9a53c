package guestcore

import (
	"sync/atomic"
	"time"
)

// Process-wide counters, shared by every EmulatorState.
var (
	launchCount      uint64
	crashCount       uint64
	faultCount       uint64
	trapCount        uint64
	unknownTrapCount uint64
	guestCallCount   uint64
	nativeCallCount  uint64

	totalRunTime uint64 // nanoseconds spent in launch run loops
)

// Metrics is a snapshot of the counters.
type Metrics struct {
	Launches       uint64 `json:"launches"`
	Crashes        uint64 `json:"crashes"`
	Faults         uint64 `json:"faults"`
	TrapsRun       uint64 `json:"traps_dispatched"`
	UnknownTraps   uint64 `json:"unknown_traps"`
	GuestCalls     uint64 `json:"guest_calls"`
	NativeCalls    uint64 `json:"native_calls"`
	AvgRunTimeNs   uint64 `json:"avg_run_time_ns"`
	TotalRunTimeNs uint64 `json:"total_run_time_ns"`
}

// GetMetrics returns the current counter values.
func GetMetrics() Metrics {
	launches := atomic.LoadUint64(&launchCount)
	total := atomic.LoadUint64(&totalRunTime)
	var avg uint64
	if launches > 0 {
		avg = total / launches
	}
	return Metrics{
		Launches:       launches,
		Crashes:        atomic.LoadUint64(&crashCount),
		Faults:         atomic.LoadUint64(&faultCount),
		TrapsRun:       atomic.LoadUint64(&trapCount),
		UnknownTraps:   atomic.LoadUint64(&unknownTrapCount),
		GuestCalls:     atomic.LoadUint64(&guestCallCount),
		NativeCalls:    atomic.LoadUint64(&nativeCallCount),
		AvgRunTimeNs:   avg,
		TotalRunTimeNs: total,
	}
}

// ResetMetrics clears all counters.
func ResetMetrics() {
	atomic.StoreUint64(&launchCount, 0)
	atomic.StoreUint64(&crashCount, 0)
	atomic.StoreUint64(&faultCount, 0)
	atomic.StoreUint64(&trapCount, 0)
	atomic.StoreUint64(&unknownTrapCount, 0)
	atomic.StoreUint64(&guestCallCount, 0)
	atomic.StoreUint64(&nativeCallCount, 0)
	atomic.StoreUint64(&totalRunTime, 0)
}

func recordLaunch(d time.Duration) {
	atomic.AddUint64(&launchCount, 1)
	atomic.AddUint64(&totalRunTime, uint64(d.Nanoseconds()))
}

func recordCrash()       { atomic.AddUint64(&crashCount, 1) }
func recordFault()       { atomic.AddUint64(&faultCount, 1) }
func recordTrap()        { atomic.AddUint64(&trapCount, 1) }
func recordUnknownTrap() { atomic.AddUint64(&unknownTrapCount, 1) }
func recordGuestCall()   { atomic.AddUint64(&guestCallCount, 1) }
func recordNativeCall()  { atomic.AddUint64(&nativeCallCount, 1) }
