package companion

// Store exposes companion profile retrieval for HTTP handlers and the
// check-in orchestrator.
type Store interface {
	List() []Companion
	FindByID(id string) (Companion, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Companion
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Companion) *MemoryStore {
	return &MemoryStore{items: append([]Companion(nil), items...)}
}

// List returns the configured companion profiles.
func (s *MemoryStore) List() []Companion {
	return append([]Companion(nil), s.items...)
}

// FindByID looks up a companion by identifier.
func (s *MemoryStore) FindByID(id string) (Companion, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Companion{}, false
}
