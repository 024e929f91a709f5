package distribution

import (
	"context"
	"sync"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// InMemoryStore keeps pools and distribution records in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	pools         map[PoolID]Pool
	active        PoolID
	hasActive     bool
	distributions map[id.CitizenID]UserDistribution
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		pools:         make(map[PoolID]Pool),
		distributions: make(map[id.CitizenID]UserDistribution),
	}
}

func (s *InMemoryStore) CreatePool(_ context.Context, pool Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasActive && pool.Status == PoolActive {
		return sentinel.ErrConflict
	}
	s.pools[pool.ID] = pool
	if pool.Status == PoolActive {
		s.active = pool.ID
		s.hasActive = true
	}
	return nil
}

func (s *InMemoryStore) ActivePool(_ context.Context) (Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasActive {
		return Pool{}, sentinel.ErrNotFound
	}
	return s.pools[s.active], nil
}

func (s *InMemoryStore) UpdatePool(_ context.Context, pool Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.pools[pool.ID] = pool
	if pool.Status != PoolActive && s.hasActive && s.active == pool.ID {
		s.hasActive = false
	}
	return nil
}

func (s *InMemoryStore) CreateUserDistribution(_ context.Context, dist UserDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.distributions[dist.CitizenID]; exists {
		return sentinel.ErrConflict
	}
	dist.ReceivedByLevel = cloneLevels(dist.ReceivedByLevel)
	s.distributions[dist.CitizenID] = dist
	return nil
}

func (s *InMemoryStore) UserDistribution(_ context.Context, citizenID id.CitizenID) (UserDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dist, ok := s.distributions[citizenID]
	if !ok {
		return UserDistribution{}, sentinel.ErrNotFound
	}
	dist.ReceivedByLevel = cloneLevels(dist.ReceivedByLevel)
	return dist, nil
}

func (s *InMemoryStore) UpdateUserDistribution(_ context.Context, dist UserDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.distributions[dist.CitizenID]; !ok {
		return sentinel.ErrNotFound
	}
	dist.ReceivedByLevel = cloneLevels(dist.ReceivedByLevel)
	s.distributions[dist.CitizenID] = dist
	return nil
}
