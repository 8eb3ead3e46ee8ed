package logind

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestDecodeObjectPathVariants(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want dbus.ObjectPath
	}{
		{"object path", dbus.ObjectPath("/org/freedesktop/login1/session/_31"), "/org/freedesktop/login1/session/_31"},
		{"string", "/org/freedesktop/login1/session/_31", "/org/freedesktop/login1/session/_31"},
		{"variant wrapping path", dbus.MakeVariant(dbus.ObjectPath("/x")), "/x"},
		{"variant wrapping string", dbus.MakeVariant("/y"), "/y"},
		{"structure with path field", []interface{}{uint32(1), dbus.ObjectPath("/z")}, "/z"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := decodeObjectPath(c.in, "test")
			if err != nil {
				t.Fatalf("decodeObjectPath: %v", err)
			}
			if got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestDecodeObjectPathRejectsUnknownType(t *testing.T) {
	if _, err := decodeObjectPath(42, "test"); err == nil {
		t.Error("expected error decoding an int as an object path")
	}
}

func TestParsePropertiesChangedActive(t *testing.T) {
	sig := &dbus.Signal{
		Body: []interface{}{
			"org.freedesktop.login1.Session",
			map[string]dbus.Variant{"Active": dbus.MakeVariant(false)},
			[]string{},
		},
	}
	active, ok := parsePropertiesChangedActive(sig)
	if !ok || active {
		t.Fatalf("got (%v, %v), want (false, true)", active, ok)
	}
}

func TestParsePropertiesChangedActiveIgnoresUnrelatedProperty(t *testing.T) {
	sig := &dbus.Signal{
		Body: []interface{}{
			"org.freedesktop.login1.Session",
			map[string]dbus.Variant{"IdleHint": dbus.MakeVariant(true)},
			[]string{},
		},
	}
	if _, ok := parsePropertiesChangedActive(sig); ok {
		t.Error("expected ok=false when Active is not among the changed properties")
	}
}
