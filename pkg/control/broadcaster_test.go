package control

import (
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/rules"
	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

type fakeController struct {
	status       supervisor.Status
	paused       bool
	pauseCalls   int
	unpauseCalls int
	restartCalls int
}

func (f *fakeController) GetStatus() supervisor.Status { return f.status }
func (f *fakeController) GetPaused() bool               { return f.paused }
func (f *fakeController) Pause()                        { f.pauseCalls++ }
func (f *fakeController) Unpause()                      { f.unpauseCalls++ }
func (f *fakeController) Restart()                      { f.restartCalls++ }

type fakeFocusSource struct {
	events []rules.FocusEvent
	accept bool
	calls  int
}

func (f *fakeFocusSource) Push(event rules.FocusEvent) bool {
	f.calls++
	if !f.accept {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func TestSwitcherObjectDelegatesToController(t *testing.T) {
	ctrl := &fakeController{status: supervisor.Status{Layer: "browser", Vks: []string{"vkB"}, Source: "focus"}}
	focus := &fakeFocusSource{accept: true}
	obj := &switcherObject{ctrl: ctrl, focus: focus, logger: testLogger()}

	if err := obj.WindowFocus("firefox", "News"); err != nil {
		t.Fatalf("WindowFocus: %v", err)
	}
	want := []rules.FocusEvent{{Class: "firefox", Title: "News"}}
	if !reflect.DeepEqual(focus.events, want) {
		t.Errorf("pushed events = %v, want %v", focus.events, want)
	}

	layer, vks, source, err := obj.GetStatus()
	if err != nil || layer != "browser" || source != "focus" || !reflect.DeepEqual(vks, []string{"vkB"}) {
		t.Errorf("GetStatus() = (%q, %v, %q, %v), want (browser, [vkB], focus, nil)", layer, vks, source, err)
	}

	ctrl.paused = true
	if paused, err := obj.GetPaused(); err != nil || !paused {
		t.Errorf("GetPaused() = (%v, %v), want (true, nil)", paused, err)
	}

	obj.Pause()
	obj.Unpause()
	obj.Restart()
	if ctrl.pauseCalls != 1 || ctrl.unpauseCalls != 1 || ctrl.restartCalls != 1 {
		t.Errorf("call counts = %d/%d/%d, want 1/1/1", ctrl.pauseCalls, ctrl.unpauseCalls, ctrl.restartCalls)
	}
}

func TestWindowFocusDroppedWhenBufferFull(t *testing.T) {
	ctrl := &fakeController{}
	focus := &fakeFocusSource{accept: false}
	obj := &switcherObject{ctrl: ctrl, focus: focus, logger: testLogger()}

	if err := obj.WindowFocus("firefox", "News"); err != nil {
		t.Fatalf("WindowFocus: %v", err)
	}
	if focus.calls != 1 || len(focus.events) != 0 {
		t.Errorf("expected a dropped push with no stored event, got calls=%d events=%v", focus.calls, focus.events)
	}
}

func TestGetStatusNeverReturnsNilSlice(t *testing.T) {
	ctrl := &fakeController{status: supervisor.Status{Layer: "base"}}
	obj := &switcherObject{ctrl: ctrl, focus: &fakeFocusSource{}, logger: testLogger()}

	_, vks, _, _ := obj.GetStatus()
	if vks == nil {
		t.Error("GetStatus() vks should be an empty slice, not nil, for stable DBus marshaling")
	}
}
