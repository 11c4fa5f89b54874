package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/menta2k/coin-id/pkg/calibration"
)

// MemoryRepository is an in-memory session store
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryRepository creates a new in-memory session store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string][]byte),
	}
}

// Get returns the session by ID, creating a new one if not found
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Session, error) {
	return LoadOrCreate(ctx, r, id, *calibration.NewState())
}

// Load returns a copy of the stored session.
func (r *MemoryRepository) Load(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	data, exists := r.sessions[id]
	r.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// Save stores a snapshot of the session. Later changes to s are not visible
// until the next Save.
func (r *MemoryRepository) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session without id")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}

	r.mu.Lock()
	r.sessions[s.ID] = data
	r.mu.Unlock()

	return nil
}

// Delete removes a session.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// List returns all sessions, most recently updated first.
func (r *MemoryRepository) List(ctx context.Context) ([]Summary, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
