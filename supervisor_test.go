package guestcore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *recordingAlerter) FatalAlert(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
}

func TestSupervisorRunAll(t *testing.T) {
	store := newMemCrashStore(t)
	alerts := &recordingAlerter{}
	sv := NewSupervisor(store, alerts, nil)

	good := testLaunch(testApp(0, 0, words(opMoveqD0|1, M68K_RTS), nil), nil)
	good.App = AppIdentity{Name: "Good", Creator: 0x676F6F64}
	bad := testLaunch(testApp(0, 0, words(M68K_ILLEGAL), nil), nil)
	bad.App = AppIdentity{Name: "Bad", Creator: 0x62616421}
	empty := testLaunch(ResourceMap{}, nil)

	results, err := sv.RunAll(context.Background(), []LaunchRequest{good, bad, empty}, 2)
	if err != nil {
		t.Fatal(err)
	}
	var summary []string
	for _, r := range results {
		switch {
		case !r.Ran:
			summary = append(summary, "not run")
		case r.Crashed:
			summary = append(summary, "crashed")
		default:
			summary = append(summary, "exited")
		}
	}
	if diff := cmp.Diff([]string{"exited", "crashed", "not run"}, summary); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}

	goodCompat, _, _ := store.Compat(good.App.Creator)
	badCompat, _, _ := store.Compat(bad.App.Creator)
	if goodCompat.Status != CompatOK || badCompat.Status != CompatCrash {
		t.Errorf("compat good=%v bad=%v", goodCompat.Status, badCompat.Status)
	}
	crashes, err := store.Crashes(bad.App.Creator)
	if err != nil || len(crashes) != 1 || crashes[0].Message != results[1].PanicMessage {
		t.Errorf("crash log = %+v, %v", crashes, err)
	}
	if diff := cmp.Diff([]string{results[1].PanicMessage}, alerts.msgs); diff != "" {
		t.Errorf("alerts (-want +got):\n%s", diff)
	}

	select {
	case n := <-sv.Notices():
		if n.App.Creator != bad.App.Creator || n.Code != uint32(FaultIllegalInstruction) {
			t.Errorf("notice = %+v", n)
		}
	default:
		t.Error("no crash notice queued")
	}
}

func TestSupervisorKeepsExplicitHost(t *testing.T) {
	host := &recordingHost{}
	sv := NewSupervisor(nil, nil, nil)
	req := testLaunch(testApp(0, 0, words(M68K_ILLEGAL), nil), host)
	if _, err := sv.RunAll(context.Background(), []LaunchRequest{req}, 0); err != nil {
		t.Fatal(err)
	}
	if len(host.alerts) != 1 {
		t.Errorf("explicit host got %d alerts", len(host.alerts))
	}
	select {
	case n := <-sv.Notices():
		t.Errorf("supervisor received a notice for a launch it does not host: %+v", n)
	default:
	}
}

func TestSupervisorLaunchFailure(t *testing.T) {
	sv := NewSupervisor(nil, nil, nil)
	req := testLaunch(testApp(0, 0, words(M68K_RTS), nil), nil)
	req.State.Config.StackSize = 0
	_, err := sv.RunAll(context.Background(), []LaunchRequest{req}, 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("err = %v, want ErrBadConfig", err)
	}
	if !strings.HasPrefix(err.Error(), "task 1: ") {
		t.Errorf("error %q does not name the task", err)
	}
}

func TestSupervisorDropsNoticesWhenFull(t *testing.T) {
	var logBuf bytes.Buffer
	sv := NewSupervisor(nil, nil, NewLogger(&logBuf, LogError))
	app := AppIdentity{Name: "Loop", Creator: testCreator}
	for i := 0; i < CRASH_NOTICE_QUEUE+3; i++ {
		sv.PostAppCrashed(app, uint32(i))
	}
	if sv.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", sv.Dropped())
	}
	if n := <-sv.Notices(); n.Code != 0 {
		t.Errorf("oldest notice code = %d", n.Code)
	}
	if !strings.Contains(logBuf.String(), "crash notice for Loop 'TEST' dropped") {
		t.Errorf("log = %q", logBuf.String())
	}
}

func TestSupervisorWithoutStore(t *testing.T) {
	sv := NewSupervisor(nil, nil, nil)
	if err := sv.SetCompat(testCreator, CompatOK, 0); err != nil {
		t.Error(err)
	}
	if err := sv.CrashLog(AppIdentity{}, 1, "x"); err != nil {
		t.Error(err)
	}
	sv.FatalAlert("nobody listens")
}
