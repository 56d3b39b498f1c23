package checkin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	model "github.com/cheqin-app/backend/internal/model/checkin"
)

var ErrNotFound = errors.New("check-in not found")

// Store keeps completed check-in records. In-memory for now, the
// interface stays narrow enough to swap in a database later.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.CheckIn
}

// NewStore bootstraps the in-memory check-in store.
func NewStore() *Store {
	return &Store{records: make(map[string]model.CheckIn)}
}

// Save persists a record, assigning an ID and timestamp when missing.
func (s *Store) Save(_ context.Context, record model.CheckIn) (model.CheckIn, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()

	return record, nil
}

// Get retrieves a record by identifier.
func (s *Store) Get(_ context.Context, id string) (model.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return model.CheckIn{}, ErrNotFound
	}
	return record, nil
}

// List returns all records, newest first.
func (s *Store) List(_ context.Context) ([]model.CheckIn, error) {
	s.mu.RLock()
	records := make([]model.CheckIn, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}
