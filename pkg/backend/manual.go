// Package backend provides the default desktop-adapter (spec §4.7): a
// push-only backend fed exclusively by the DBus WindowFocus method, used
// when no compiled-in desktop integration is present.
package backend

import (
	"errors"

	"github.com/kanata-switcher/switchd/pkg/rules"
)

// ErrNoPullSupport is returned by Manual.RefreshFocus: a push-only backend
// has no way to actively re-query the current window, so a refresh request
// (e.g. after Unpause or leaving a native terminal) is a no-op the caller
// must be prepared for.
var ErrNoPullSupport = errors.New("backend: manual adapter cannot actively refresh focus")

// Manual is a supervisor.Backend that only ever emits events pushed into it
// via Push (wired to the DBus WindowFocus method).
type Manual struct {
	events chan rules.FocusEvent
}

// NewManual returns a Manual backend with the given event buffer size.
func NewManual(bufferSize int) *Manual {
	return &Manual{events: make(chan rules.FocusEvent, bufferSize)}
}

// Push injects a focus event, dropping it if the buffer is full rather than
// blocking the DBus method dispatch goroutine.
func (m *Manual) Push(event rules.FocusEvent) bool {
	select {
	case m.events <- event:
		return true
	default:
		return false
	}
}

// Events implements supervisor.Backend.
func (m *Manual) Events() <-chan rules.FocusEvent { return m.events }

// RefreshFocus implements supervisor.Backend. The manual backend has no way
// to re-query current focus on its own; it always returns ErrNoPullSupport.
func (m *Manual) RefreshFocus() error { return ErrNoPullSupport }
