package chat

import "sync"

// MemoryStore holds the snapshot in memory only. It backs the
// no-persistence mode and keeps tests off the filesystem.
type MemoryStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone(), nil
}

func (s *MemoryStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap.clone()
	s.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
