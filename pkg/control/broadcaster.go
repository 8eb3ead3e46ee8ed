// Package control exposes the daemon's control and status surface on the
// session bus (spec §4.4): WindowFocus/GetStatus/GetPaused/Pause/Unpause/
// Restart as methods, StatusChanged/PausedChanged as signals. Grounded in
// witnessd's IBus engine export pattern (conn.RequestName + conn.Export).
package control

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/rules"
	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

const (
	busName       = "com.github.kanata.Switcher"
	objectPath    = dbus.ObjectPath("/com/github/kanata/Switcher")
	interfaceName = "com.github.kanata.Switcher"
)

// Controller is the supervisor surface the exported D-Bus methods drive.
// *supervisor.Supervisor satisfies this.
type Controller interface {
	GetStatus() supervisor.Status
	GetPaused() bool
	Pause()
	Unpause()
	Restart()
}

// FocusSource is the push-model backend surface the WindowFocus D-Bus
// method drives (spec §4.4, §4.7). *backend.Manual satisfies this; the
// event lands on the backend's Events() channel like any other focus
// delivery, rather than bypassing the backend contract.
type FocusSource interface {
	Push(event rules.FocusEvent) bool
}

// Broadcaster owns the session-bus connection and publishes supervisor
// state changes as signals.
type Broadcaster struct {
	conn   *dbus.Conn
	logger *zap.SugaredLogger
}

// New connects to the session bus and claims busName. Attach must be called
// once a Controller exists before any method call will succeed; splitting
// connection from export lets the supervisor and the broadcaster be built
// in either order despite each needing the other.
func New(logger *zap.SugaredLogger) (*Broadcaster, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already owned", busName)
	}

	return &Broadcaster{conn: conn, logger: logger}, nil
}

// Attach exports the control methods backed by ctrl, with WindowFocus
// pushing into focus.
func (b *Broadcaster) Attach(ctrl Controller, focus FocusSource) error {
	obj := &switcherObject{ctrl: ctrl, focus: focus, logger: b.logger}
	if err := b.conn.Export(obj, objectPath, interfaceName); err != nil {
		return fmt.Errorf("export %s: %w", interfaceName, err)
	}
	return nil
}

// PublishStatus emits StatusChanged. The supervisor force-broadcasts even
// when the text is unchanged, so this never suppresses duplicates.
func (b *Broadcaster) PublishStatus(status supervisor.Status) {
	vks := status.Vks
	if vks == nil {
		vks = []string{}
	}
	if err := b.conn.Emit(objectPath, interfaceName+".StatusChanged", status.Layer, vks, status.Source); err != nil {
		b.logger.Warnw("emit StatusChanged failed", "error", err)
	}
}

// PublishPaused emits PausedChanged.
func (b *Broadcaster) PublishPaused(paused bool) {
	if err := b.conn.Emit(objectPath, interfaceName+".PausedChanged", paused); err != nil {
		b.logger.Warnw("emit PausedChanged failed", "error", err)
	}
}

// Close releases the bus connection.
func (b *Broadcaster) Close() error {
	return b.conn.Close()
}

// switcherObject is the struct conn.Export turns into the DBus-callable
// methods of com.github.kanata.Switcher.
type switcherObject struct {
	ctrl   Controller
	focus  FocusSource
	logger *zap.SugaredLogger
}

// WindowFocus implements the push-model WindowFocus method (spec §4.4):
// it injects a FocusEvent by pushing it onto the backend's event stream,
// the same path any other backend delivery takes. A dropped push (buffer
// full) is logged, not surfaced as a D-Bus error: the caller already
// treats this as fire-and-forget.
func (o *switcherObject) WindowFocus(class, title string) *dbus.Error {
	if !o.focus.Push(rules.FocusEvent{Class: class, Title: title}) {
		o.logger.Warnw("WindowFocus: event buffer full, dropped", "class", class, "title", title)
	}
	return nil
}

func (o *switcherObject) GetStatus() (string, []string, string, *dbus.Error) {
	status := o.ctrl.GetStatus()
	vks := status.Vks
	if vks == nil {
		vks = []string{}
	}
	return status.Layer, vks, status.Source, nil
}

func (o *switcherObject) GetPaused() (bool, *dbus.Error) {
	return o.ctrl.GetPaused(), nil
}

func (o *switcherObject) Pause() *dbus.Error {
	o.ctrl.Pause()
	return nil
}

func (o *switcherObject) Unpause() *dbus.Error {
	o.ctrl.Unpause()
	return nil
}

func (o *switcherObject) Restart() *dbus.Error {
	o.ctrl.Restart()
	return nil
}
