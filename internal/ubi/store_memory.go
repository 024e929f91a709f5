package ubi

import (
	"context"
	"sort"
	"sync"
	"time"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// InMemoryStore keeps payment rows in process memory. The map key carries
// the (citizen, week start) uniqueness constraint.
type InMemoryStore struct {
	mu       sync.Mutex
	payments map[paymentKey]Payment
	byID     map[id.PaymentID]paymentKey
}

type paymentKey struct {
	citizen   id.CitizenID
	weekStart int64
}

func newPaymentKey(citizen id.CitizenID, weekStart time.Time) paymentKey {
	return paymentKey{citizen: citizen, weekStart: weekStart.UTC().Unix()}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		payments: make(map[paymentKey]Payment),
		byID:     make(map[id.PaymentID]paymentKey),
	}
}

func (s *InMemoryStore) CreatePending(_ context.Context, payment Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := newPaymentKey(payment.CitizenID, payment.WeekStart)
	if _, exists := s.payments[key]; exists {
		return sentinel.ErrConflict
	}
	s.payments[key] = payment
	s.byID[payment.ID] = key
	return nil
}

func (s *InMemoryStore) MarkCompleted(_ context.Context, paymentID id.PaymentID, transferID id.TransferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[paymentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	payment := s.payments[key]
	payment.Status = PaymentCompleted
	payment.TransferID = transferID
	payment.UpdatedAt = time.Now().UTC()
	s.payments[key] = payment
	return nil
}

func (s *InMemoryStore) UpsertFailed(_ context.Context, payment Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := newPaymentKey(payment.CitizenID, payment.WeekStart)
	existing, ok := s.payments[key]
	if ok {
		existing.Status = PaymentFailed
		existing.FailureReason = payment.FailureReason
		existing.UpdatedAt = time.Now().UTC()
		s.payments[key] = existing
		return nil
	}
	payment.Status = PaymentFailed
	s.payments[key] = payment
	s.byID[payment.ID] = key
	return nil
}

func (s *InMemoryStore) Payment(_ context.Context, citizenID id.CitizenID, weekStart time.Time) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[newPaymentKey(citizenID, weekStart)]
	if !ok {
		return Payment{}, sentinel.ErrNotFound
	}
	return payment, nil
}

func (s *InMemoryStore) ListForWeek(_ context.Context, weekStart time.Time) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week := weekStart.UTC().Unix()
	var out []Payment
	for key, payment := range s.payments {
		if key.weekStart == week {
			out = append(out, payment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CitizenID.String() < out[j].CitizenID.String()
	})
	return out, nil
}
