package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	id "khural/pkg/domain"
)

// Account is a citizen's ledger row. Balance is mutated only through the
// transfer primitive; direct writes elsewhere would break conservation.
type Account struct {
	CitizenID id.CitizenID
	// Ref is the opaque external reference bound to the account at creation.
	// Immutable. All externally-visible records carry the ref, never the
	// citizen id.
	Ref       id.AccountRef
	Balance   decimal.Decimal
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountStatus is the lifecycle state of an account link.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
)

// Category tags a transfer with its economic purpose.
type Category string

const (
	// CategoryTransfer is citizen-to-citizen money movement.
	CategoryTransfer Category = "TRANSFER"
	// CategoryAward is a one-time verification-tier award from the reserve.
	CategoryAward Category = "AWARD"
	// CategoryDistribution is an emission-pool slice release.
	CategoryDistribution Category = "DISTRIBUTION"
	// CategoryUBI is a weekly universal basic income payout.
	CategoryUBI Category = "UBI"
	// CategoryFee is the optional transfer fee leg.
	CategoryFee Category = "FEE"
)

// Status of a transfer record. There is no internal pending state: a record
// exists only once the whole atomic unit has committed.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
)

// TransferRecord is immutable. Both internal ids and external references are
// always populated on every record.
type TransferRecord struct {
	ID        id.TransferID
	From      id.CitizenID
	To        id.CitizenID
	FromRef   id.AccountRef
	ToRef     id.AccountRef
	Amount    decimal.Decimal
	Category  Category
	Memo      string
	Status    Status
	CreatedAt time.Time
}

// Instruction is the atomic unit handed to a store: debit source, credit
// destination, append the record, optionally move a fee leg — all or nothing.
type Instruction struct {
	Record TransferRecord

	// UniqueMemo asks the store to reject the write when a completed record
	// with the same (To, Memo) pair already exists. Enforced by the store
	// under its own serialization, not by check-then-act, so concurrent
	// retries cannot double-pay. Violation surfaces as sentinel.ErrConflict.
	UniqueMemo bool

	// Fee, when positive, debits the source additionally and credits FeeTo
	// within the same atomic unit, recorded as a second CategoryFee record.
	Fee      decimal.Decimal
	FeeTo    id.CitizenID
	FeeToRef id.AccountRef
}

// TotalDebit is the full amount leaving the source account.
func (in Instruction) TotalDebit() decimal.Decimal {
	return in.Record.Amount.Add(in.Fee)
}
