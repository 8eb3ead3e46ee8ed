package supervisor

import (
	"context"

	"github.com/kanata-switcher/switchd/pkg/kanata"
	"github.com/kanata-switcher/switchd/pkg/rules"
	"github.com/kanata-switcher/switchd/pkg/wire"
)

// KanataSink is the supervisor's view of the Kanata client: the reducer
// dispatches wire actions into it and never touches the socket directly,
// per spec §5's "reducer communicates via an internal channel of wire
// actions" resource policy. *kanata.Client satisfies this interface.
type KanataSink interface {
	Dispatch(actions []wire.Action, managedVks []string)
	DefaultLayer() (string, bool)
	ShutdownReset(ctx context.Context) error
	Stats() kanata.Stats
}

// Backend is the desktop-adapter contract (spec §4.7): a stream of focus
// events plus a bounded-latency refresh that forces exactly one fresh
// delivery. Implementations must not cache "last focus" to answer
// RefreshFocus — callers rely on a genuine re-query.
type Backend interface {
	Events() <-chan rules.FocusEvent
	RefreshFocus() error
}

// Broadcaster publishes committed state changes to the control surface
// (spec §4.4). Signal emission happens after the state mutation it reports.
type Broadcaster interface {
	PublishStatus(status Status)
	PublishPaused(paused bool)
}

// AuditLog records every committed status change, best-effort: Append
// reports no error to the reducer. Append is called on the reducer
// goroutine, so the time it takes adds to the loop's latency.
type AuditLog interface {
	Append(entry AuditEntry)
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	Layer  string
	Vks    []string
	Source string
	Paused bool
}

// PauseStore persists the pause flag across a Restart re-exec.
type PauseStore interface {
	Paused() bool
	SetPaused(paused bool) error
}
