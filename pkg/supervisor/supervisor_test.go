package supervisor_test

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/kanata"
	"github.com/kanata-switcher/switchd/pkg/rules"
	"github.com/kanata-switcher/switchd/pkg/statestore/memory"
	"github.com/kanata-switcher/switchd/pkg/supervisor"
	"github.com/kanata-switcher/switchd/pkg/wire"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

const scenarioRules = `[
	{"default":"base"},
	{"class":"^firefox$","layer":"browser","virtual_key":"vkB","fallthrough":true},
	{"class":"^firefox$","title":"YouTube","virtual_key":"vkY"}
]`

func scenarioSet(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.Parse([]byte(scenarioRules))
	if err != nil {
		t.Fatalf("rules.Parse: %v", err)
	}
	return set
}

type fakeKanata struct {
	defaultLayer   string
	hasDefault     bool
	dispatched     []wire.Action
	lastVks        []string
	shutdownCalled bool
}

func (f *fakeKanata) Dispatch(actions []wire.Action, managedVks []string) {
	f.dispatched = actions
	f.lastVks = managedVks
}
func (f *fakeKanata) DefaultLayer() (string, bool)             { return f.defaultLayer, f.hasDefault }
func (f *fakeKanata) ShutdownReset(ctx context.Context) error  { f.shutdownCalled = true; return nil }
func (f *fakeKanata) Stats() kanata.Stats                      { return kanata.Stats{} }

type fakeBackend struct {
	events       chan rules.FocusEvent
	refreshCount int
}

func (f *fakeBackend) Events() <-chan rules.FocusEvent { return f.events }
func (f *fakeBackend) RefreshFocus() error              { f.refreshCount++; return nil }

type fakeBroadcaster struct {
	statuses      []supervisor.Status
	pausedChanges []bool
}

func (f *fakeBroadcaster) PublishStatus(s supervisor.Status) { f.statuses = append(f.statuses, s) }
func (f *fakeBroadcaster) PublishPaused(p bool)   { f.pausedChanges = append(f.pausedChanges, p) }

// audit and pause-flag persistence are exercised through the real
// statestore/memory implementations rather than hand-rolled fakes, so
// these tests also cover that package's AuditLog/PauseStore contracts.
type harness struct {
	sup         *supervisor.Supervisor
	kan         *fakeKanata
	backend     *fakeBackend
	broadcaster *fakeBroadcaster
	audit       *memory.AuditLog
	pauseStore  *memory.PauseStore
	cancel      context.CancelFunc
	runErr      chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		kan:         &fakeKanata{defaultLayer: "base", hasDefault: true},
		backend:     &fakeBackend{events: make(chan rules.FocusEvent)},
		broadcaster: &fakeBroadcaster{},
		audit:       memory.NewAuditLog(),
		pauseStore:  memory.NewPauseStore(),
		cancel:      cancel,
		runErr:      make(chan error, 1),
	}
	h.sup = supervisor.New(ctx, scenarioSet(t), h.kan, h.backend, h.broadcaster, h.audit, h.pauseStore, testLogger())
	go func() { h.runErr <- h.sup.Run(ctx) }()
	return h
}

func TestFocusEventDrivesPlanAndStatus(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	status := h.sup.GetStatus()

	want := supervisor.Status{Layer: "browser", Vks: []string{"vkB"}, Source: supervisor.SourceFocus}
	if !reflect.DeepEqual(status, want) {
		t.Fatalf("GetStatus() = %+v, want %+v", status, want)
	}
	wantActions := []wire.Action{wire.NewChangeLayer("browser"), wire.NewVkAction("vkB", wire.Press)}
	if !reflect.DeepEqual(h.kan.dispatched, wantActions) {
		t.Errorf("dispatched = %v, want %v", h.kan.dispatched, wantActions)
	}
	if len(h.audit.Entries) == 0 {
		t.Error("expected an audit entry for the committed status")
	}
}

func TestPauseReleasesVksAndPersists(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	h.sup.GetStatus()

	h.sup.Pause()

	wantActions := []wire.Action{wire.NewVkAction("vkB", wire.Release), wire.NewChangeLayer("base")}
	if !reflect.DeepEqual(h.kan.dispatched, wantActions) {
		t.Errorf("dispatched = %v, want %v", h.kan.dispatched, wantActions)
	}
	if !h.sup.GetPaused() {
		t.Error("GetPaused() = false, want true")
	}
	if !h.pauseStore.Paused() {
		t.Error("pause flag was not persisted")
	}
	if len(h.broadcaster.pausedChanges) != 1 || !h.broadcaster.pausedChanges[0] {
		t.Errorf("pausedChanges = %v, want [true]", h.broadcaster.pausedChanges)
	}

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "YouTube"}
	status := h.sup.GetStatus()
	if status.Layer != "base" || len(status.Vks) != 0 {
		t.Errorf("focus events while paused must not produce a new plan, got %+v", status)
	}
}

func TestUnpauseRefreshesRatherThanReplays(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.sup.Pause()
	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	h.sup.GetStatus() // synchronize; stored but not acted on

	h.sup.Unpause()

	if h.backend.refreshCount != 1 {
		t.Errorf("RefreshFocus called %d times, want 1", h.backend.refreshCount)
	}
	if h.pauseStore.Paused() {
		t.Error("pause flag should be cleared")
	}
	if len(h.broadcaster.pausedChanges) != 2 || h.broadcaster.pausedChanges[1] {
		t.Errorf("pausedChanges = %v, want [true false]", h.broadcaster.pausedChanges)
	}
}

func TestExternalLayerChangeUpdatesLastStatusOnly(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	focusStatus := h.sup.GetStatus()

	h.sup.NotifyExternalLayerChange("gaming")
	// synchronize via GetStatus again
	status := h.sup.GetStatus()

	if status.Source != supervisor.SourceExternal || status.Layer != "gaming" {
		t.Errorf("lastStatus = %+v, want external/gaming", status)
	}
	if focusStatus.Source != supervisor.SourceFocus {
		t.Errorf("prior focusStatus unexpectedly changed: %+v", focusStatus)
	}
}

func TestExternalLayerChangeIgnoresOwnEcho(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	h.sup.GetStatus()
	before := len(h.broadcaster.statuses)

	h.sup.NotifyExternalLayerChange("browser") // exactly what we just requested
	h.sup.GetStatus()

	if len(h.broadcaster.statuses) != before {
		t.Errorf("expected no additional broadcast for an echoed layer, got %d new", len(h.broadcaster.statuses)-before)
	}
}

func TestNativeTerminalEnterAndLeave(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.backend.events <- rules.FocusEvent{Class: "firefox", Title: "News"}
	h.sup.GetStatus()

	h.sup.NotifySessionActive(false) // entering a native terminal
	status := h.sup.GetStatus()
	if status.Layer != "base" {
		t.Errorf("native terminal with no NativeTerminalRule should fall back to default layer, got %+v", status)
	}

	h.sup.NotifySessionActive(true) // leaving
	h.sup.GetStatus()
	if h.backend.refreshCount != 1 {
		t.Errorf("RefreshFocus called %d times on leaving native terminal, want 1", h.backend.refreshCount)
	}
}

func TestRestartPerformsShutdownResetAndReturnsSentinel(t *testing.T) {
	h := newHarness(t)
	h.sup.Restart()

	err := <-h.runErr
	if err != supervisor.ErrRestartRequested {
		t.Fatalf("Run() = %v, want supervisor.ErrRestartRequested", err)
	}
	if !h.kan.shutdownCalled {
		t.Error("expected ShutdownReset to be called before restart")
	}
}

func TestContextCancelPerformsShutdownReset(t *testing.T) {
	h := newHarness(t)
	h.cancel()

	err := <-h.runErr
	if err != context.Canceled {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if !h.kan.shutdownCalled {
		t.Error("expected ShutdownReset to be called on shutdown")
	}
}
