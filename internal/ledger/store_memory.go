package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in process memory. A single mutex covers
// every balance mutation, which gives the same serialization guarantee the
// PostgreSQL store gets from row locks.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.CitizenID]*Account
	byRef    map[id.AccountRef]id.CitizenID
	records  []TransferRecord
	// memoKeys enforces the (to, memo) uniqueness used as the tier-award
	// idempotency witness.
	memoKeys map[memoKey]struct{}
}

type memoKey struct {
	to   id.CitizenID
	memo string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[id.CitizenID]*Account),
		byRef:    make(map[id.AccountRef]id.CitizenID),
		memoKeys: make(map[memoKey]struct{}),
	}
}

func (s *InMemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.CitizenID]; exists {
		return sentinel.ErrConflict
	}
	acc := account
	s.accounts[account.CitizenID] = &acc
	s.byRef[account.Ref] = account.CitizenID
	return nil
}

func (s *InMemoryStore) Account(_ context.Context, citizenID id.CitizenID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[citizenID]
	if !ok {
		return Account{}, sentinel.ErrNotFound
	}
	return *acc, nil
}

func (s *InMemoryStore) AccountByRef(_ context.Context, ref id.AccountRef) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	citizenID, ok := s.byRef[ref]
	if !ok {
		return Account{}, sentinel.ErrNotFound
	}
	return *s.accounts[citizenID], nil
}

func (s *InMemoryStore) Apply(_ context.Context, in Instruction) (TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := in.Record

	if in.UniqueMemo {
		if _, dup := s.memoKeys[memoKey{to: rec.To, memo: rec.Memo}]; dup {
			return TransferRecord{}, sentinel.ErrConflict
		}
	}

	source, ok := s.accounts[rec.From]
	if !ok {
		return TransferRecord{}, sentinel.ErrNotFound
	}
	dest, ok := s.accounts[rec.To]
	if !ok {
		return TransferRecord{}, sentinel.ErrNotFound
	}

	totalDebit := in.TotalDebit()
	if source.Balance.LessThan(totalDebit) {
		return TransferRecord{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	source.Balance = source.Balance.Sub(totalDebit)
	source.UpdatedAt = now
	dest.Balance = dest.Balance.Add(rec.Amount)
	dest.UpdatedAt = now

	s.records = append(s.records, rec)
	if in.UniqueMemo {
		s.memoKeys[memoKey{to: rec.To, memo: rec.Memo}] = struct{}{}
	}

	if in.Fee.IsPositive() {
		feeAcc, ok := s.accounts[in.FeeTo]
		if !ok {
			// Fee account vanished mid-unit: roll the balances back so the
			// unit stays all-or-nothing.
			source.Balance = source.Balance.Add(totalDebit)
			dest.Balance = dest.Balance.Sub(rec.Amount)
			s.records = s.records[:len(s.records)-1]
			delete(s.memoKeys, memoKey{to: rec.To, memo: rec.Memo})
			return TransferRecord{}, sentinel.ErrNotFound
		}
		feeAcc.Balance = feeAcc.Balance.Add(in.Fee)
		feeAcc.UpdatedAt = now
		s.records = append(s.records, TransferRecord{
			ID:        id.NewTransferID(),
			From:      rec.From,
			To:        in.FeeTo,
			FromRef:   rec.FromRef,
			ToRef:     in.FeeToRef,
			Amount:    in.Fee,
			Category:  CategoryFee,
			Status:    StatusCompleted,
			CreatedAt: now,
		})
	}

	return rec, nil
}

func (s *InMemoryStore) FindByMemo(_ context.Context, to id.CitizenID, memo string) (TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.To == to && rec.Memo == memo && rec.Status == StatusCompleted {
			return rec, nil
		}
	}
	return TransferRecord{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) History(_ context.Context, ref id.AccountRef, limit int) ([]TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TransferRecord
	for i := len(s.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		rec := s.records[i]
		if rec.FromRef == ref || rec.ToRef == ref {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SeedBalance sets an account balance directly, bypassing the transfer path.
// Test helper standing in for external emission into reserve accounts.
func (s *InMemoryStore) SeedBalance(citizenID id.CitizenID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[citizenID]
	if !ok {
		return sentinel.ErrNotFound
	}
	acc.Balance = balance
	acc.UpdatedAt = time.Now().UTC()
	return nil
}

// TotalBalance sums every account balance. Test helper for conservation checks.
func (s *InMemoryStore) TotalBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, acc := range s.accounts {
		total = total.Add(acc.Balance)
	}
	return total
}
