package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SweepSentinel/internal/model"
)

// MemoryStore is an in-process Store used when SQLite is not configured and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	swings    map[string]*model.SwingLevel
	sweeps    map[string]*model.SweepEvent
	sequences map[string]*model.Sequence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		swings:    make(map[string]*model.SwingLevel),
		sweeps:    make(map[string]*model.SweepEvent),
		sequences: make(map[string]*model.Sequence),
	}
}

func (m *MemoryStore) ActiveSwing(_ context.Context, res model.Resolution, dir model.Direction) (*model.SwingLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.swings {
		if s.Active && s.Resolution == res && s.Direction == dir {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SwingByID(_ context.Context, id string) (*model.SwingLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.swings[id]
	if !ok {
		return nil, fmt.Errorf("swing %s: %w", id, ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) ReplaceSwing(_ context.Context, lvl *model.SwingLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.swings[lvl.ID]; ok {
		return fmt.Errorf("swing %s already exists", lvl.ID)
	}
	for _, s := range m.swings {
		if s.Active && s.Resolution == lvl.Resolution && s.Direction == lvl.Direction {
			s.Active = false
		}
	}
	c := *lvl
	c.Active = true
	m.swings[c.ID] = &c
	return nil
}

func (m *MemoryStore) ActiveSweep(_ context.Context) (*model.SweepEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sweeps {
		if s.Active {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SweepByID(_ context.Context, id string) (*model.SweepEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sweeps[id]
	if !ok {
		return nil, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) LevelSwept(_ context.Context, swingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sweeps {
		if s.SwingID == swingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) OpenSweep(_ context.Context, sw *model.SweepEvent, seq *model.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sweeps[sw.ID]; ok {
		return fmt.Errorf("sweep %s already exists", sw.ID)
	}
	if _, ok := m.sequences[seq.ID]; ok {
		return fmt.Errorf("sequence %s already exists", seq.ID)
	}
	for _, s := range m.sweeps {
		s.Active = false
	}
	c := *sw
	c.Active = true
	m.sweeps[c.ID] = &c
	m.sequences[seq.ID] = seq.Clone()
	return nil
}

func (m *MemoryStore) DeactivateSweep(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sweeps[id]
	if !ok {
		return fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	s.Active = false
	return nil
}

func (m *MemoryStore) ExpireSweeps(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sweeps {
		if s.Active && s.Time.Before(cutoff) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SequenceByID(_ context.Context, id string) (*model.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequences[id]
	if !ok {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ActiveSequences(_ context.Context) ([]*model.Sequence, error) {
	return m.filterSequences(func(s *model.Sequence) bool { return !s.Stage.Terminal() }), nil
}

func (m *MemoryStore) CompletedSince(_ context.Context, since time.Time) ([]*model.Sequence, error) {
	return m.filterSequences(func(s *model.Sequence) bool {
		return s.Stage == model.StageComplete && !s.UpdatedAt.Before(since)
	}), nil
}

func (m *MemoryStore) filterSequences(keep func(*model.Sequence) bool) []*model.Sequence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Sequence
	for _, s := range m.sequences {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) UpdateSequence(_ context.Context, seq *model.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[seq.ID]; !ok {
		return fmt.Errorf("sequence %s: %w", seq.ID, ErrNotFound)
	}
	m.sequences[seq.ID] = seq.Clone()
	return nil
}

// PutSequence inserts or overwrites a sequence without touching sweeps.
// Used to seed state that did not come through OpenSweep.
func (m *MemoryStore) PutSequence(seq *model.Sequence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[seq.ID] = seq.Clone()
}

func (m *MemoryStore) Close() error { return nil }
