package ledger

import (
	"context"
	"errors"

	id "khural/pkg/domain"
)

// ErrInsufficientFunds is returned by stores when the source balance cannot
// cover the total debit. Services translate it into a domain error.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Store is the durable ledger. Implementations must execute Apply as one
// atomic unit with serialized balance access: two concurrent transfers
// against the same source must not both pass a stale sufficient-funds check.
type Store interface {
	// CreateAccount inserts a new zero-history account row.
	// Returns sentinel.ErrConflict when the citizen already has one.
	CreateAccount(ctx context.Context, account Account) error

	// Account returns the row for a citizen, or sentinel.ErrNotFound.
	Account(ctx context.Context, citizenID id.CitizenID) (Account, error)

	// AccountByRef resolves an external reference, or sentinel.ErrNotFound.
	AccountByRef(ctx context.Context, ref id.AccountRef) (Account, error)

	// Apply executes the instruction atomically: check source balance
	// (ErrInsufficientFunds), debit source, credit destination, append the
	// record(s). Either all effects are visible or none are.
	Apply(ctx context.Context, in Instruction) (TransferRecord, error)

	// FindByMemo returns the completed record with the given (to, memo)
	// pair, or sentinel.ErrNotFound. The idempotency witness for tier awards.
	FindByMemo(ctx context.Context, to id.CitizenID, memo string) (TransferRecord, error)

	// History lists records touching the ref, newest first.
	History(ctx context.Context, ref id.AccountRef, limit int) ([]TransferRecord, error)
}
