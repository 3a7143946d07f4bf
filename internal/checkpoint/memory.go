package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type key struct {
	programID string
	eventName string
}

// MemoryStore is an in-process Store, used in tests and as a stand-in when
// no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[key]Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[key]Checkpoint),
	}
}

func (s *MemoryStore) Get(ctx context.Context, programID, eventName string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.byKey[key{programID, eventName}]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, cp *Checkpoint) error {
	if cp.ProgramID == "" || cp.EventName == "" {
		return fmt.Errorf("checkpoint identity fields must be non-empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{cp.ProgramID, cp.EventName}
	now := time.Now()

	stored := *cp
	if existing, ok := s.byKey[k]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	s.byKey[k] = stored
	return nil
}

func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}
