// Package logind watches the user's graphical session "Active" property on
// the system bus (spec §4.5), tolerating the various shapes different
// logind releases use to report object-path-valued properties and method
// replies.
package logind

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busName            = "org.freedesktop.login1"
	managerPath        = dbus.ObjectPath("/org/freedesktop/login1")
	managerInterface   = "org.freedesktop.login1.Manager"
	sessionInterface   = "org.freedesktop.login1.Session"
	userInterface      = "org.freedesktop.login1.User"
	noSessionForPIDErr = "org.freedesktop.login1.NoSessionForPID"
	emptyObjectPath    = dbus.ObjectPath("/")
)

// Watcher tracks the Active property of the resolved logind session and
// invokes onChange whenever it transitions.
type Watcher struct {
	logger    *zap.SugaredLogger
	onChange  func(active bool)
	conn      *dbus.Conn
	sessionOP dbus.ObjectPath
}

// New connects to the system bus, resolves the session, and returns a
// Watcher ready for Run. Per spec §4.5, if the watcher cannot start (no
// system bus, insufficient privilege) the caller should log once at WARN
// and proceed as if Active is always true — New returning an error is the
// caller's signal to do so.
func New(ctx context.Context, onChange func(active bool), logger *zap.SugaredLogger) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	sessionOP, err := resolveSessionPath(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve logind session: %w", err)
	}
	logger.Infow("logind: resolved session", "path", sessionOP)

	return &Watcher{logger: logger, onChange: onChange, conn: conn, sessionOP: sessionOP}, nil
}

// Close releases the bus connection.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// Run reads the session's current Active state, reports it once, then
// watches PropertiesChanged signals until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	sessionObj := w.conn.Object(busName, w.sessionOP)
	active, err := getBoolProperty(sessionObj, sessionInterface, "Active")
	if err != nil {
		return fmt.Errorf("read initial Active property: %w", err)
	}
	last := active
	w.onChange(active)

	if err := w.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(w.sessionOP),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("subscribe to PropertiesChanged: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("logind signal channel closed")
			}
			next, ok := parsePropertiesChangedActive(sig)
			if !ok || next == last {
				continue
			}
			last = next
			w.onChange(next)
		}
	}
}

// parsePropertiesChangedActive extracts the Active value from a
// PropertiesChanged(interface, changed map[string]dbus.Variant, invalidated
// []string) signal body. The Active entry must be a variant holding a bool;
// any other shape reports ok=false.
func parsePropertiesChangedActive(sig *dbus.Signal) (active bool, ok bool) {
	if len(sig.Body) < 2 {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, present := changed["Active"]
	if !present {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func getBoolProperty(obj dbus.BusObject, iface, name string) (bool, error) {
	var variant dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.Properties.Get", 0, iface, name).Store(&variant); err != nil {
		return false, fmt.Errorf("get %s.%s: %w", iface, name, err)
	}
	b, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s.%s returned non-bool value %v", iface, name, variant.Value())
	}
	return b, nil
}

// resolveSessionPath implements the §4.5 resolution chain: XDG_SESSION_ID
// env var, then GetSessionByPID, then GetUserByPID+Display.
func resolveSessionPath(conn *dbus.Conn) (dbus.ObjectPath, error) {
	manager := conn.Object(busName, managerPath)

	if sessionID := os.Getenv("XDG_SESSION_ID"); sessionID != "" {
		call := manager.Call(managerInterface+".GetSession", 0, sessionID)
		if call.Err == nil {
			if path, err := decodeObjectPath(call.Body[0], "GetSession"); err == nil {
				return path, nil
			}
		}
	}

	pid := uint32(os.Getpid())
	call := manager.Call(managerInterface+".GetSessionByPID", 0, pid)
	if call.Err == nil {
		return decodeObjectPath(call.Body[0], "GetSessionByPID")
	}
	if !isNoSessionForPID(call.Err) {
		return "", fmt.Errorf("GetSessionByPID(%d): %w", pid, call.Err)
	}

	return resolveDisplaySessionPath(conn, manager, pid)
}

func resolveDisplaySessionPath(conn *dbus.Conn, manager dbus.BusObject, pid uint32) (dbus.ObjectPath, error) {
	userCall := manager.Call(managerInterface+".GetUserByPID", 0, pid)
	if userCall.Err != nil {
		return "", fmt.Errorf("GetUserByPID(%d): %w", pid, userCall.Err)
	}
	userPath, err := decodeObjectPath(userCall.Body[0], "GetUserByPID")
	if err != nil {
		return "", err
	}

	userObj := conn.Object(busName, userPath)
	var variant dbus.Variant
	if err := userObj.Call("org.freedesktop.DBus.Properties.Get", 0, userInterface, "Display").Store(&variant); err != nil {
		return "", fmt.Errorf("User.Display: %w", err)
	}
	display, err := decodeObjectPath(variant, "User.Display")
	if err != nil {
		return "", err
	}
	if display == emptyObjectPath {
		return "", fmt.Errorf("logind user of pid %d has no display session", pid)
	}
	return display, nil
}

func isNoSessionForPID(err error) bool {
	dbusErr, ok := err.(dbus.Error)
	return ok && dbusErr.Name == noSessionForPIDErr
}

// decodeObjectPath tolerates the reply being an object path, a string, a
// variant wrapping either, or a structure containing one of those in any
// field — different logind releases expose properties differently.
func decodeObjectPath(v interface{}, context string) (dbus.ObjectPath, error) {
	switch val := v.(type) {
	case dbus.ObjectPath:
		return val, nil
	case string:
		return dbus.ObjectPath(val), nil
	case dbus.Variant:
		return decodeObjectPath(val.Value(), context)
	case []interface{}:
		for _, field := range val {
			if path, err := decodeObjectPath(field, context); err == nil {
				return path, nil
			}
		}
		return "", fmt.Errorf("logind %s returned a structure with no object-path field", context)
	default:
		return "", fmt.Errorf("logind %s returned unexpected type %T: %v", context, v, v)
	}
}
