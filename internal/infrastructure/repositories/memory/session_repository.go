package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
)

type MemorySessionRepository struct {
	sessions map[domain.SessionID]ports.PlaybackSession
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]ports.PlaybackSession),
	}
}

func (r *MemorySessionRepository) Add(ctx context.Context, session ports.PlaybackSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID()]; exists {
		return fmt.Errorf("session already exists: %s", session.ID())
	}

	r.sessions[session.ID()] = session
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (ports.PlaybackSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	return session, nil
}

func (r *MemorySessionRepository) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.sessions, id)
	return nil
}

// List returns sessions ordered by id.
func (r *MemorySessionRepository) List(ctx context.Context) ([]ports.PlaybackSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]ports.PlaybackSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID() < sessions[j].ID()
	})
	return sessions, nil
}

func (r *MemorySessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), nil
}
