// Package json persists the daemon's pause flag to a small JSON file so it
// survives a Restart re-exec (spec §4.6 rule 7). Unlike the teacher's
// layout store, which batches writes on a one-minute SaveLooper, this store
// saves synchronously on every SetPaused: there's no steady stream of
// writes to batch, and a pause flag that didn't make it to disk before
// re-exec would silently unpause the daemon.
package json

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type document struct {
	Paused bool `json:"paused"`
}

// Store is a PauseStore backed by a single JSON file.
type Store struct {
	mu     sync.Mutex
	file   *os.File
	doc    document
}

// Open loads filename if it exists, or creates it with Paused=false.
func Open(filename string) (*Store, error) {
	_, statErr := os.Stat(filename)
	existed := statErr == nil

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}

	s := &Store{file: file}
	if existed {
		if err := s.load(); err != nil {
			file.Close()
			return nil, fmt.Errorf("load %s: %w", filename, err)
		}
	} else if err := s.save(); err != nil {
		file.Close()
		return nil, fmt.Errorf("initialize %s: %w", filename, err)
	}
	return s, nil
}

func (s *Store) load() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	dec := json.NewDecoder(s.file)
	if err := dec.Decode(&s.doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (s *Store) save() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	enc := json.NewEncoder(s.file)
	if err := enc.Encode(s.doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.file.Sync()
}

// Paused reports the last persisted pause flag.
func (s *Store) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Paused
}

// SetPaused persists paused immediately.
func (s *Store) SetPaused(paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Paused == paused {
		return nil
	}
	s.doc.Paused = paused
	if err := s.save(); err != nil {
		s.doc.Paused = !paused
		return err
	}
	return nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}
