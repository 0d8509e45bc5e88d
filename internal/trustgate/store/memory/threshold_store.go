package memory

import (
	"context"
	"sync"
)

// ThresholdStore is an in-memory per-group trust floor map for tests and dev.
type ThresholdStore struct {
	mu               sync.RWMutex
	thresholds       map[string]int
	defaultThreshold int
}

func NewThresholdStore(defaultThreshold int) *ThresholdStore {
	return &ThresholdStore{
		thresholds:       make(map[string]int),
		defaultThreshold: defaultThreshold,
	}
}

func (s *ThresholdStore) Get(_ context.Context, groupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.thresholds[groupID]; ok {
		return v, nil
	}
	return s.defaultThreshold, nil
}

func (s *ThresholdStore) Set(_ context.Context, groupID string, threshold int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[groupID] = threshold
	return nil
}

func (s *ThresholdStore) All(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}
	return out, nil
}
