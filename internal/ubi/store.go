package ubi

import (
	"context"
	"time"

	id "khural/pkg/domain"
)

// Store persists payment rows. The (citizen, week start) uniqueness must be
// a storage constraint: concurrent batch runs racing on the same citizen-week
// must collapse to one row.
type Store interface {
	// CreatePending inserts a PENDING row. Returns sentinel.ErrConflict when
	// a row for (citizen, week start) already exists in any status.
	CreatePending(ctx context.Context, payment Payment) error

	// MarkCompleted flips a row to COMPLETED with its transfer id.
	MarkCompleted(ctx context.Context, paymentID id.PaymentID, transferID id.TransferID) error

	// UpsertFailed converges the (citizen, week start) row to FAILED with the
	// reason, whether the row is PENDING or absent.
	UpsertFailed(ctx context.Context, payment Payment) error

	// Payment returns the row for a citizen-week, or sentinel.ErrNotFound.
	Payment(ctx context.Context, citizenID id.CitizenID, weekStart time.Time) (Payment, error)

	// ListForWeek returns every row for the week.
	ListForWeek(ctx context.Context, weekStart time.Time) ([]Payment, error)
}
