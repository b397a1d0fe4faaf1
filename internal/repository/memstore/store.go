// Package memstore is a process-local repository.Store guarded by a mutex.
package memstore

import (
	"context"
	"sort"
	"sync"

	"SessionScan/internal/domain/models"
)

type Store struct {
	mu       sync.Mutex
	items    map[string]*models.QueueItem
	next     int
	state    *models.RunState
	log      []models.LogEntry
	logLimit int
}

func New(logLimit int) *Store {
	if logLimit <= 0 {
		logLimit = 200
	}
	return &Store{items: map[string]*models.QueueItem{}, logLimit: logLimit}
}

func (s *Store) Close() error { return nil }

func (s *Store) Enqueue(_ context.Context, symbol string, modes models.ModeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[symbol]; ok {
		it.Modes = it.Modes.Union(modes)
		return nil
	}
	s.items[symbol] = &models.QueueItem{
		Symbol:   symbol,
		Modes:    models.NewModeSet(modes...),
		Status:   models.ItemPending,
		Position: s.next,
	}
	s.next++
	return nil
}

func (s *Store) ClaimBatch(_ context.Context, max int) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.QueueItem
	for _, it := range s.items {
		if it.Status == models.ItemPending {
			cp := *it
			cp.Modes = append(models.ModeSet(nil), it.Modes...)
			pending = append(pending, cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Position < pending[j].Position })
	if len(pending) > max {
		pending = pending[:max]
	}
	return pending, nil
}

func (s *Store) MarkCompleted(_ context.Context, runID, symbol string) error {
	return s.setStatus(runID, symbol, models.ItemCompleted)
}

func (s *Store) MarkError(_ context.Context, runID, symbol string) error {
	return s.setStatus(runID, symbol, models.ItemError)
}

func (s *Store) setStatus(runID, symbol string, status models.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current().RunID != runID {
		return models.ErrRunSuperseded
	}
	if it, ok := s.items[symbol]; ok {
		it.Status = status
	}
	return nil
}

func (s *Store) CountByStatus(_ context.Context) (models.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p models.Progress
	for _, it := range s.items {
		switch it.Status {
		case models.ItemPending:
			p.Pending++
		case models.ItemCompleted:
			p.Completed++
		case models.ItemError:
			p.Error++
		}
	}
	return p, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]*models.QueueItem{}
	s.next = 0
	return nil
}

func (s *Store) LoadRunState(_ context.Context) (models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(), nil
}

func (s *Store) current() models.RunState {
	if s.state == nil {
		return models.IdleRunState()
	}
	st := *s.state
	st.Modes = append(models.ModeSet(nil), s.state.Modes...)
	st.Initialized = make(map[models.Mode]bool, len(s.state.Initialized))
	for m, v := range s.state.Initialized {
		st.Initialized[m] = v
	}
	return st
}

func (s *Store) SaveRunState(_ context.Context, st models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &st
	cp := s.current()
	s.state = &cp
	return nil
}

func (s *Store) SetRunStatus(_ context.Context, status models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current()
	st.Status = status
	s.state = &st
	return nil
}

func (s *Store) MarkInitialized(_ context.Context, runID string, mode models.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.current()
	if st.RunID != runID {
		return models.ErrRunSuperseded
	}
	st.Initialized[mode] = true
	s.state = &st
	return nil
}

func (s *Store) ClearRunState(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

func (s *Store) AppendLog(_ context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	if over := len(s.log) - s.logLimit; over > 0 {
		s.log = append([]models.LogEntry(nil), s.log[over:]...)
	}
	return nil
}

func (s *Store) RecentLogs(_ context.Context, limit int) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.log) {
		limit = len(s.log)
	}
	out := make([]models.LogEntry, 0, limit)
	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.log[i])
	}
	return out, nil
}
