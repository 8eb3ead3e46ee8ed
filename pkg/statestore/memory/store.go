// Package memory provides in-memory statestore implementations for tests:
// an AuditLog that just appends to a slice, and a PauseStore that never
// touches disk.
package memory

import (
	"sync"

	"github.com/kanata-switcher/switchd/pkg/supervisor"
)

// AuditLog is an in-memory supervisor.AuditLog.
type AuditLog struct {
	mu      sync.Mutex
	Entries []supervisor.AuditEntry
}

func NewAuditLog() *AuditLog { return &AuditLog{} }

func (a *AuditLog) Append(entry supervisor.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, entry)
}

func (a *AuditLog) Snapshot() []supervisor.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]supervisor.AuditEntry(nil), a.Entries...)
}

// PauseStore is an in-memory supervisor.PauseStore.
type PauseStore struct {
	mu     sync.Mutex
	paused bool
}

func NewPauseStore() *PauseStore { return &PauseStore{} }

func (p *PauseStore) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *PauseStore) SetPaused(paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	return nil
}
