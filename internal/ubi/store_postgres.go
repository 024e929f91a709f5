package ubi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// PostgresStore persists payment rows. A UNIQUE constraint on
// (citizen_id, week_start) enforces the idempotency key.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreatePending(ctx context.Context, payment Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ubi_payments
			(id, citizen_id, week_start, week_end, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		payment.ID.String(),
		payment.CitizenID.String(),
		payment.WeekStart,
		payment.WeekEnd,
		payment.Amount,
		string(PaymentPending),
		payment.CreatedAt,
		payment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pending payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, paymentID id.PaymentID, transferID id.TransferID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ubi_payments SET status = $1, transfer_id = $2, updated_at = $3 WHERE id = $4
	`, string(PaymentCompleted), transferID.String(), time.Now().UTC(), paymentID.String())
	if err != nil {
		return fmt.Errorf("mark payment completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark payment completed: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertFailed(ctx context.Context, payment Payment) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ubi_payments
			(id, citizen_id, week_start, week_end, amount, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (citizen_id, week_start) DO UPDATE
			SET status = EXCLUDED.status,
			    failure_reason = EXCLUDED.failure_reason,
			    updated_at = EXCLUDED.updated_at
	`,
		payment.ID.String(),
		payment.CitizenID.String(),
		payment.WeekStart,
		payment.WeekEnd,
		payment.Amount,
		string(PaymentFailed),
		payment.FailureReason,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert failed payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Payment(ctx context.Context, citizenID id.CitizenID, weekStart time.Time) (Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, citizen_id, week_start, week_end, amount, status, transfer_id, failure_reason, created_at, updated_at
		FROM ubi_payments WHERE citizen_id = $1 AND week_start = $2
	`, citizenID.String(), weekStart)

	payment, err := scanPayment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, sentinel.ErrNotFound
		}
		return Payment{}, err
	}
	return payment, nil
}

func (s *PostgresStore) ListForWeek(ctx context.Context, weekStart time.Time) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, citizen_id, week_start, week_end, amount, status, transfer_id, failure_reason, created_at, updated_at
		FROM ubi_payments WHERE week_start = $1 ORDER BY citizen_id
	`, weekStart)
	if err != nil {
		return nil, fmt.Errorf("query payments for week: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		payment, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func scanPayment(scan func(...any) error) (Payment, error) {
	var (
		payment            Payment
		rawID, rawCitizen  string
		status             string
		transferID, reason sql.NullString
	)
	err := scan(&rawID, &rawCitizen, &payment.WeekStart, &payment.WeekEnd,
		&payment.Amount, &status, &transferID, &reason,
		&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, err
		}
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	paymentID, err := id.ParsePaymentID(rawID)
	if err != nil {
		return Payment{}, fmt.Errorf("corrupt payment id %q: %w", rawID, err)
	}
	citizenID, err := id.ParseCitizenID(rawCitizen)
	if err != nil {
		return Payment{}, fmt.Errorf("corrupt citizen id %q: %w", rawCitizen, err)
	}
	payment.ID = paymentID
	payment.CitizenID = citizenID
	payment.Status = PaymentStatus(status)
	if transferID.Valid {
		parsed, err := id.ParseTransferID(transferID.String)
		if err != nil {
			return Payment{}, fmt.Errorf("corrupt transfer id %q: %w", transferID.String, err)
		}
		payment.TransferID = parsed
	}
	if reason.Valid {
		payment.FailureReason = reason.String
	}
	return payment, nil
}
