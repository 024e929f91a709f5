package membership

import (
	"context"
	"sort"
	"sync"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// InMemoryStore keeps the registry in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	citizens    map[id.CitizenID]Citizen
	groups      map[id.GroupID]Group
	federations map[id.FederationID]Federation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		citizens:    make(map[id.CitizenID]Citizen),
		groups:      make(map[id.GroupID]Group),
		federations: make(map[id.FederationID]Federation),
	}
}

func (s *InMemoryStore) UpsertCitizen(_ context.Context, citizen Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citizens[citizen.ID] = citizen
	return nil
}

func (s *InMemoryStore) Citizen(_ context.Context, citizenID id.CitizenID) (Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	citizen, ok := s.citizens[citizenID]
	if !ok {
		return Citizen{}, sentinel.ErrNotFound
	}
	return citizen, nil
}

func (s *InMemoryStore) ListByMinLevel(_ context.Context, level VerificationLevel) ([]Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Citizen
	for _, citizen := range s.citizens {
		if citizen.System || !citizen.Level.AtLeast(level) {
			continue
		}
		out = append(out, citizen)
	}
	// Stable order so batch runs are reproducible.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemoryStore) SaveGroup(_ context.Context, group Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[group.ID]; exists {
		return sentinel.ErrConflict
	}
	s.groups[group.ID] = group
	return nil
}

func (s *InMemoryStore) Group(_ context.Context, groupID id.GroupID) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return Group{}, sentinel.ErrNotFound
	}
	return group, nil
}

func (s *InMemoryStore) SaveFederation(_ context.Context, federation Federation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.federations[federation.ID]; exists {
		return sentinel.ErrConflict
	}
	s.federations[federation.ID] = federation
	return nil
}

func (s *InMemoryStore) Federation(_ context.Context, federationID id.FederationID) (Federation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	federation, ok := s.federations[federationID]
	if !ok {
		return Federation{}, sentinel.ErrNotFound
	}
	return federation, nil
}
