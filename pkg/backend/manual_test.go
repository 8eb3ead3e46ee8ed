package backend

import (
	"errors"
	"testing"

	"github.com/kanata-switcher/switchd/pkg/rules"
)

func TestPushDeliversToEvents(t *testing.T) {
	m := NewManual(1)
	if !m.Push(rules.FocusEvent{Class: "firefox", Title: "News"}) {
		t.Fatal("Push returned false with room in the buffer")
	}
	select {
	case ev := <-m.Events():
		if ev.Class != "firefox" || ev.Title != "News" {
			t.Errorf("got %+v, want firefox/News", ev)
		}
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestPushDropsWhenFull(t *testing.T) {
	m := NewManual(1)
	m.Push(rules.FocusEvent{Class: "a"})
	if m.Push(rules.FocusEvent{Class: "b"}) {
		t.Fatal("expected Push to report drop when buffer is full")
	}
}

func TestRefreshFocusUnsupported(t *testing.T) {
	m := NewManual(1)
	if !errors.Is(m.RefreshFocus(), ErrNoPullSupport) {
		t.Error("expected ErrNoPullSupport")
	}
}
