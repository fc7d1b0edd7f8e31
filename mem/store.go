package mem

import (
	"context"
	"sync"

	"bsid.es/diana"
)

// AlarmStore keeps alarms in memory, in insertion order.
type AlarmStore struct {
	mu     sync.RWMutex
	alarms []*diana.Alarm
	byID   map[diana.AlarmID]int
}

var _ diana.AlarmStore = (*AlarmStore)(nil)

func NewAlarmStore() *AlarmStore {
	return &AlarmStore{
		byID: make(map[diana.AlarmID]int),
	}
}

func (s *AlarmStore) Add(ctx context.Context, a *diana.Alarm) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; ok {
		return diana.Errorf(diana.ErrDuplicateID, "alarm %s already exists", a.ID)
	}
	s.byID[a.ID] = len(s.alarms)
	s.alarms = append(s.alarms, a.Clone())
	return nil
}

func (s *AlarmStore) Update(ctx context.Context, id diana.AlarmID, fn func(*diana.Alarm) error) (*diana.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, notFound(id)
	}

	a := s.alarms[i].Clone()
	if err := fn(a); err != nil {
		return nil, err
	}
	// The mutator must not move the alarm to another key.
	a.ID = id
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s.alarms[i] = a
	return a.Clone(), nil
}

func (s *AlarmStore) Remove(ctx context.Context, id diana.AlarmID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return notFound(id)
	}

	copy(s.alarms[i:], s.alarms[i+1:])
	s.alarms[len(s.alarms)-1] = nil
	s.alarms = s.alarms[:len(s.alarms)-1]
	delete(s.byID, id)
	for j := i; j < len(s.alarms); j++ {
		s.byID[s.alarms[j].ID] = j
	}
	return nil
}

func (s *AlarmStore) Find(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	return s.alarms[i].Clone(), nil
}

func (s *AlarmStore) List(ctx context.Context) ([]*diana.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alarms := make([]*diana.Alarm, len(s.alarms))
	for i, a := range s.alarms {
		alarms[i] = a.Clone()
	}
	return alarms, nil
}

func notFound(id diana.AlarmID) error {
	return diana.Errorf(diana.ErrNotFound, "alarm %s not found", id)
}
