package store

import (
	"errors"
	"sync"
	"time"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

var (
	// ErrNotFound is returned when no batch is stored under the requested ID.
	ErrNotFound = errors.New("no batch result found")
)

// MemoryStore is a concurrency-safe in-memory history of batch results.
type MemoryStore struct {
	mu sync.RWMutex

	// key: batch ID
	data map[string]weather.BatchResult
	// batch IDs in save order, oldest first
	order []string

	// retention configuration
	maxHistory int           // max number of batches kept
	maxAge     time.Duration // optional max age, measured from CompletedAt

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]weather.BatchResult),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveBatch stores a completed batch and enforces retention.
// Saving an existing ID replaces it and moves it to the newest position.
func (s *MemoryStore) SaveBatch(batch weather.BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[batch.ID]; ok {
		s.removeLocked(batch.ID)
	}
	s.data[batch.ID] = batch
	s.order = append(s.order, batch.ID)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.order) > s.maxHistory {
		over := len(s.order) - s.maxHistory
		for _, id := range s.order[:over] {
			delete(s.data, id)
		}
		s.order = s.order[over:]
	}

	s.expireLocked()
}

// GetBatch returns the batch with the given ID.
func (s *MemoryStore) GetBatch(id string) (weather.BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.data[id]
	if !ok || s.expired(batch) {
		return weather.BatchResult{}, ErrNotFound
	}
	return batch, nil
}

// Latest returns the most recently saved batch.
func (s *MemoryStore) Latest() (weather.BatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return weather.BatchResult{}, ErrNotFound
	}
	batch := s.data[s.order[len(s.order)-1]]
	if s.expired(batch) {
		return weather.BatchResult{}, ErrNotFound
	}
	return batch, nil
}

// Len returns the number of stored batches.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) expired(batch weather.BatchResult) bool {
	if s.maxAge <= 0 {
		return false
	}
	return batch.CompletedAt.Before(s.now().Add(-s.maxAge))
}

// expireLocked drops batches older than maxAge. order is by save time, not
// completion time, so every entry is checked.
func (s *MemoryStore) expireLocked() {
	if s.maxAge <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if s.expired(s.data[id]) {
			delete(s.data, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *MemoryStore) removeLocked(id string) {
	delete(s.data, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
