// Package ubi implements the weekly universal basic income batch: one fixed
// payout per eligible citizen per week, idempotent under re-runs through the
// (citizen, week start) uniqueness of the payment row.
package ubi

import (
	"time"

	"github.com/shopspring/decimal"

	id "khural/pkg/domain"
)

// PaymentStatus is the lifecycle of one payment row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is one citizen-week payout attempt. The (CitizenID, WeekStart)
// pair is unique; its existence in any status is the idempotency witness.
type Payment struct {
	ID        id.PaymentID
	CitizenID id.CitizenID
	WeekStart time.Time
	WeekEnd   time.Time
	Amount    decimal.Decimal
	Status    PaymentStatus
	// TransferID links the COMPLETED payment to its ledger record.
	TransferID id.TransferID
	// FailureReason carries the error text for FAILED payments, kept for
	// manual reconciliation; failed payments are never auto-retried.
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BatchReport aggregates one distribution run.
type BatchReport struct {
	WeekStart time.Time
	WeekEnd   time.Time
	Eligible  int
	Succeeded int
	Skipped   int
	Failed    int
}
