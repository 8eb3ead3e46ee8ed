package sqlite

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func TestAppendAndRecent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "audit.db"), 0, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Append(supervisor.AuditEntry{Layer: "base", Vks: nil, Source: "focus", Paused: false})
	s.Append(supervisor.AuditEntry{Layer: "browser", Vks: []string{"vkB"}, Source: "focus", Paused: false})

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
	if recent[0].Layer != "browser" || len(recent[0].Vks) != 1 || recent[0].Vks[0] != "vkB" {
		t.Errorf("recent[0] = %+v, want layer=browser vks=[vkB]", recent[0])
	}
}

func TestAppendTrimsToMaxRows(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "audit.db"), 2, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// The trim runs once every trimEvery appends.
	for i := 0; i < trimEvery; i++ {
		s.Append(supervisor.AuditEntry{Layer: "base", Source: "focus"})
	}

	recent, err := s.Recent(100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want trimmed to 2", len(recent))
	}
}
