// Package store persists completed backtest runs
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"portsim/internal/result"
	simerrors "portsim/pkg/errors"
)

// Run is one persisted backtest execution.
type Run struct {
	ID        string         `json:"id"`
	Policy    string         `json:"policy"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Steps     int            `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	Summary   result.Summary `json:"summary"`
}

// RunStore saves and retrieves runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context) ([]*Run, error)
	Close() error
}

// MemoryStore keeps runs in memory; used by tests and zero-persistence runs.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore builds an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// SaveRun implements RunStore.
func (s *MemoryStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// GetRun implements RunStore.
func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, simerrors.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns implements RunStore, newest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Close implements RunStore.
func (s *MemoryStore) Close() error { return nil }
