// Package supervisor owns the single serialized reducer loop (spec §4.6):
// it is the only goroutine that mutates SupervisorState, and every input —
// focus events, session-active transitions, external Kanata layer changes,
// and control requests — is funneled into it over channels so nothing else
// ever touches the managed-VK set, the pause flag, or the published status
// concurrently.
package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/reducer"
	"github.com/kanata-switcher/switchd/pkg/rules"
)

// ErrRestartRequested is returned by Run when a Restart control request was
// processed. The caller (main) is expected to re-exec the binary.
var ErrRestartRequested = errors.New("supervisor: restart requested")

const shutdownResetTimeout = time.Second

type controlKind int

const (
	ctrlPause controlKind = iota
	ctrlUnpause
	ctrlRestart
	ctrlGetStatus
	ctrlGetPaused
)

type controlRequest struct {
	kind        controlKind
	ack         chan struct{}
	statusReply chan Status
	pausedReply chan bool
}

// state is mutated exclusively inside Run's goroutine.
type state struct {
	paused            bool
	currentLayer      string
	currentManagedVks []string
	currentFocus      rules.FocusEvent
	nativeTerminal    bool
	lastStatus        Status
	focusStatus       Status
	lastRequestedLayer string
}

// Supervisor is the event-loop reducer described in spec §4.6.
type Supervisor struct {
	rules       *rules.Set
	kanata      KanataSink
	backend     Backend
	broadcaster Broadcaster
	audit       AuditLog
	pauseStore  PauseStore
	logger      *zap.SugaredLogger

	ctx             context.Context
	sessionCh       chan bool
	externalLayerCh chan string
	controlCh       chan controlRequest

	state state
}

// New builds a Supervisor. ctx governs the lifetime of every channel send
// the Supervisor's public methods perform — once ctx is cancelled, calls
// from other goroutines (NotifySessionActive, Pause, ...) stop blocking and
// return without effect instead of leaking.
func New(ctx context.Context, ruleSet *rules.Set, kanata KanataSink, backend Backend, broadcaster Broadcaster, audit AuditLog, pauseStore PauseStore, logger *zap.SugaredLogger) *Supervisor {
	paused := false
	if pauseStore != nil {
		paused = pauseStore.Paused()
	}
	return &Supervisor{
		rules:           ruleSet,
		kanata:          kanata,
		backend:         backend,
		broadcaster:     broadcaster,
		audit:           audit,
		pauseStore:      pauseStore,
		logger:          logger,
		ctx:             ctx,
		sessionCh:       make(chan bool, 1),
		externalLayerCh: make(chan string, 8),
		controlCh:       make(chan controlRequest),
		state:           state{paused: paused},
	}
}

// Run drives the event loop until ctx is cancelled, at which point it
// performs the shutdown-reset guarantee and returns ctx.Err(). A Restart
// control request instead performs the same reset and returns
// ErrRestartRequested.
func (s *Supervisor) Run(ctx context.Context) error {
	focusCh := s.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return s.runShutdown()
		case ev, ok := <-focusCh:
			if !ok {
				focusCh = nil
				continue
			}
			s.handleFocusEvent(ev)
		case active, ok := <-s.sessionCh:
			if !ok {
				s.sessionCh = nil
				continue
			}
			s.handleSessionActive(active)
		case layer, ok := <-s.externalLayerCh:
			if !ok {
				s.externalLayerCh = nil
				continue
			}
			s.handleExternalLayerChange(layer)
		case req := <-s.controlCh:
			if restart := s.handleControl(req); restart {
				return s.runRestart()
			}
		}
	}
}

func (s *Supervisor) runShutdown() error {
	resetCtx, cancel := context.WithTimeout(context.Background(), shutdownResetTimeout)
	defer cancel()
	if err := s.kanata.ShutdownReset(resetCtx); err != nil {
		s.logger.Warnw("shutdown reset failed", "error", err)
	}
	return s.ctx.Err()
}

func (s *Supervisor) runRestart() error {
	resetCtx, cancel := context.WithTimeout(context.Background(), shutdownResetTimeout)
	defer cancel()
	if err := s.kanata.ShutdownReset(resetCtx); err != nil {
		s.logger.Warnw("shutdown reset failed before restart", "error", err)
	}
	return ErrRestartRequested
}

// NotifySessionActive feeds a logind Active transition into the loop.
func (s *Supervisor) NotifySessionActive(active bool) {
	select {
	case s.sessionCh <- active:
	case <-s.ctx.Done():
	}
}

// NotifyExternalLayerChange feeds a Kanata-originated LayerChange into the
// loop (spec §4.6 rule 6).
func (s *Supervisor) NotifyExternalLayerChange(layer string) {
	select {
	case s.externalLayerCh <- layer:
	case <-s.ctx.Done():
	}
}

// Pause and Unpause implement the Pause/Unpause control methods (spec §4.4,
// §4.6 rules 1-2). They block until the corresponding state change is
// committed by the loop, but not for any Kanata side effect beyond that.
func (s *Supervisor) Pause()   { s.sendControl(controlRequest{kind: ctrlPause}) }
func (s *Supervisor) Unpause() { s.sendControl(controlRequest{kind: ctrlUnpause}) }

// Restart implements the Restart control method. It returns once the
// request has been accepted by the loop; the loop then tears itself down
// and Run returns ErrRestartRequested for main to act on.
func (s *Supervisor) Restart() { s.sendControl(controlRequest{kind: ctrlRestart}) }

func (s *Supervisor) GetStatus() Status {
	req := controlRequest{kind: ctrlGetStatus, statusReply: make(chan Status, 1)}
	select {
	case s.controlCh <- req:
	case <-s.ctx.Done():
		return Status{}
	}
	select {
	case st := <-req.statusReply:
		return st
	case <-s.ctx.Done():
		return Status{}
	}
}

func (s *Supervisor) GetPaused() bool {
	req := controlRequest{kind: ctrlGetPaused, pausedReply: make(chan bool, 1)}
	select {
	case s.controlCh <- req:
	case <-s.ctx.Done():
		return false
	}
	select {
	case p := <-req.pausedReply:
		return p
	case <-s.ctx.Done():
		return false
	}
}

func (s *Supervisor) sendControl(req controlRequest) {
	req.ack = make(chan struct{})
	select {
	case s.controlCh <- req:
	case <-s.ctx.Done():
		return
	}
	select {
	case <-req.ack:
	case <-s.ctx.Done():
	}
}

func (s *Supervisor) handleControl(req controlRequest) (restart bool) {
	switch req.kind {
	case ctrlPause:
		s.doPause()
		close(req.ack)
	case ctrlUnpause:
		s.doUnpause()
		close(req.ack)
	case ctrlGetStatus:
		req.statusReply <- s.state.lastStatus
	case ctrlGetPaused:
		req.pausedReply <- s.state.paused
	case ctrlRestart:
		close(req.ack)
		return true
	}
	return false
}

// handleFocusEvent implements spec §4.6 rule 3. Focus events received while
// paused are stored but produce no plan; likewise while a native terminal
// is foreground, since that pseudo-focus owns the layer until it's left.
func (s *Supervisor) handleFocusEvent(ev rules.FocusEvent) {
	s.state.currentFocus = ev
	if s.state.paused || s.state.nativeTerminal {
		return
	}
	plan := s.rules.Match(ev, false, s.defaultLayerOrEmpty())
	s.applyPlan(plan, SourceFocus)
}

// handleSessionActive implements spec §4.6 rules 4-5. Entry is gated on
// paused exactly like an ordinary focus event: a paused daemon must not
// dispatch a layer change to Kanata just because the user switched to a
// native terminal.
func (s *Supervisor) handleSessionActive(active bool) {
	entering := !active && !s.state.nativeTerminal
	leaving := active && s.state.nativeTerminal
	s.state.nativeTerminal = !active

	switch {
	case entering:
		if s.state.paused {
			return
		}
		plan := s.rules.Match(rules.FocusEvent{}, true, s.defaultLayerOrEmpty())
		s.applyPlan(plan, SourceFocus)
	case leaving:
		if err := s.backend.RefreshFocus(); err != nil {
			s.logger.Warnw("refresh focus after leaving native terminal failed", "error", err)
		}
	}
}

// handleExternalLayerChange implements spec §4.6 rule 6: a LayerChange we
// didn't just request ourselves updates lastStatus with source "external"
// and leaves focusStatus untouched.
func (s *Supervisor) handleExternalLayerChange(layer string) {
	if s.state.paused || layer == s.state.lastRequestedLayer {
		return
	}
	s.state.currentLayer = layer
	status := Status{Layer: layer, Vks: s.state.currentManagedVks, Source: SourceExternal}
	s.state.lastStatus = status
	s.publish(status)
}

// doPause implements spec §4.6 rule 1: release everything, switch to the
// default layer, mark paused, and persist that across a future restart.
func (s *Supervisor) doPause() {
	if s.state.paused {
		return
	}
	s.state.paused = true
	plan := s.rules.Match(rules.FocusEvent{}, false, s.defaultLayerOrEmpty())
	s.applyPlan(plan, SourceFocus)
	s.broadcaster.PublishPaused(true)
	if s.pauseStore != nil {
		if err := s.pauseStore.SetPaused(true); err != nil {
			s.logger.Warnw("persist paused state failed", "error", err)
		}
	}
}

// doUnpause implements spec §4.6 rule 2: a fresh focus refresh, not a
// replay of whatever focus event arrived while paused, since that could be
// stale by the time Unpause is called.
func (s *Supervisor) doUnpause() {
	if !s.state.paused {
		return
	}
	s.state.paused = false
	s.broadcaster.PublishPaused(false)
	if s.pauseStore != nil {
		if err := s.pauseStore.SetPaused(false); err != nil {
			s.logger.Warnw("persist paused state failed", "error", err)
		}
	}
	if err := s.backend.RefreshFocus(); err != nil {
		s.logger.Warnw("refresh focus after unpause failed", "error", err)
	}
}

func (s *Supervisor) applyPlan(plan rules.FocusActions, source string) {
	wireActions, nextVks := reducer.Reduce(s.state.currentManagedVks, plan)
	s.state.currentManagedVks = nextVks
	if layer, ok := lastChangeLayer(plan); ok {
		s.state.currentLayer = layer
		s.state.lastRequestedLayer = layer
	}
	s.kanata.Dispatch(wireActions, nextVks)

	status := Status{Layer: s.state.currentLayer, Vks: nextVks, Source: source}
	s.state.lastStatus = status
	if source == SourceFocus {
		s.state.focusStatus = status
	}
	s.publish(status)
}

// publish force-broadcasts status regardless of whether it differs from the
// previous broadcast, and best-effort audits it.
func (s *Supervisor) publish(status Status) {
	s.broadcaster.PublishStatus(status)
	s.audit.Append(AuditEntry{Layer: status.Layer, Vks: status.Vks, Source: status.Source, Paused: s.state.paused})
}

func (s *Supervisor) defaultLayerOrEmpty() string {
	if layer, ok := s.kanata.DefaultLayer(); ok {
		return layer
	}
	return ""
}

// lastChangeLayer returns the layer of the last ChangeLayer entry in plan,
// mirroring the wire coalescing rule that only the final ChangeLayer sent
// in a batch is observable.
func lastChangeLayer(plan rules.FocusActions) (layer string, ok bool) {
	for _, e := range plan {
		if e.Kind == rules.EntryChangeLayer {
			layer, ok = e.Layer, true
		}
	}
	return layer, ok
}
