package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// PostgresStore persists the ledger in PostgreSQL. Apply runs in a single
// transaction with SELECT ... FOR UPDATE on both balance rows, so concurrent
// transfers against the same account serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	query := `
		INSERT INTO accounts (citizen_id, ref, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		account.CitizenID.String(),
		account.Ref.String(),
		account.Balance,
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, citizenID id.CitizenID) (Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT citizen_id, ref, balance, status, created_at, updated_at
		FROM accounts WHERE citizen_id = $1
	`, citizenID.String()))
}

func (s *PostgresStore) AccountByRef(ctx context.Context, ref id.AccountRef) (Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT citizen_id, ref, balance, status, created_at, updated_at
		FROM accounts WHERE ref = $1
	`, ref.String()))
}

func (s *PostgresStore) scanAccount(row *sql.Row) (Account, error) {
	var (
		acc         Account
		citizenID   string
		ref, status string
	)
	err := row.Scan(&citizenID, &ref, &acc.Balance, &status, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, sentinel.ErrNotFound
		}
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	parsed, err := id.ParseCitizenID(citizenID)
	if err != nil {
		return Account{}, fmt.Errorf("corrupt citizen id %q: %w", citizenID, err)
	}
	acc.CitizenID = parsed
	acc.Ref = id.AccountRef(ref)
	acc.Status = AccountStatus(status)
	return acc, nil
}

// Apply executes the debit/credit/record unit in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, in Instruction) (TransferRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return TransferRecord{}, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rec := in.Record

	if in.UniqueMemo {
		// The keys table carries a primary key on (to_citizen_id, memo);
		// losing the race surfaces here, before any balance moves.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_memo_keys (to_citizen_id, memo) VALUES ($1, $2)
		`, rec.To.String(), rec.Memo)
		if err != nil {
			if isUniqueViolation(err) {
				return TransferRecord{}, sentinel.ErrConflict
			}
			return TransferRecord{}, fmt.Errorf("claim memo key: %w", err)
		}
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM accounts WHERE citizen_id = $1 FOR UPDATE
	`, rec.From.String()).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransferRecord{}, sentinel.ErrNotFound
		}
		return TransferRecord{}, fmt.Errorf("lock source balance: %w", err)
	}

	totalDebit := in.TotalDebit()
	if balance.LessThan(totalDebit) {
		return TransferRecord{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	if err := s.adjustBalance(ctx, tx, rec.From, totalDebit.Neg(), now); err != nil {
		return TransferRecord{}, err
	}
	if err := s.adjustBalance(ctx, tx, rec.To, rec.Amount, now); err != nil {
		return TransferRecord{}, err
	}

	if err := s.insertRecord(ctx, tx, rec); err != nil {
		return TransferRecord{}, err
	}

	if in.Fee.IsPositive() {
		if err := s.adjustBalance(ctx, tx, in.FeeTo, in.Fee, now); err != nil {
			return TransferRecord{}, err
		}
		feeRec := TransferRecord{
			ID:        id.NewTransferID(),
			From:      rec.From,
			To:        in.FeeTo,
			FromRef:   rec.FromRef,
			ToRef:     in.FeeToRef,
			Amount:    in.Fee,
			Category:  CategoryFee,
			Status:    StatusCompleted,
			CreatedAt: now,
		}
		if err := s.insertRecord(ctx, tx, feeRec); err != nil {
			return TransferRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return TransferRecord{}, fmt.Errorf("commit transfer: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) adjustBalance(ctx context.Context, tx *sql.Tx, citizen id.CitizenID, delta decimal.Decimal, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE citizen_id = $3
	`, delta, now, citizen.String())
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) insertRecord(ctx context.Context, tx *sql.Tx, rec TransferRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_citizen_id, to_citizen_id, from_ref, to_ref, amount, category, memo, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID.String(),
		rec.From.String(),
		rec.To.String(),
		rec.FromRef.String(),
		rec.ToRef.String(),
		rec.Amount,
		string(rec.Category),
		rec.Memo,
		string(rec.Status),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByMemo(ctx context.Context, to id.CitizenID, memo string) (TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_citizen_id, to_citizen_id, from_ref, to_ref, amount, category, memo, status, created_at
		FROM transfers
		WHERE to_citizen_id = $1 AND memo = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, to.String(), memo, string(StatusCompleted))
	if err != nil {
		return TransferRecord{}, fmt.Errorf("query transfer by memo: %w", err)
	}
	defer rows.Close()

	recs, err := s.scanRecords(rows)
	if err != nil {
		return TransferRecord{}, err
	}
	if len(recs) == 0 {
		return TransferRecord{}, sentinel.ErrNotFound
	}
	return recs[0], nil
}

func (s *PostgresStore) History(ctx context.Context, ref id.AccountRef, limit int) ([]TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_citizen_id, to_citizen_id, from_ref, to_ref, amount, category, memo, status, created_at
		FROM transfers
		WHERE from_ref = $1 OR to_ref = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ref.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query transfer history: %w", err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

func (s *PostgresStore) scanRecords(rows *sql.Rows) ([]TransferRecord, error) {
	var out []TransferRecord
	for rows.Next() {
		var (
			rec                 TransferRecord
			recID, fromID, toID string
			fromRef, toRef      string
			category, status    string
		)
		if err := rows.Scan(&recID, &fromID, &toID, &fromRef, &toRef, &rec.Amount, &category, &rec.Memo, &status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		parsedID, err := id.ParseTransferID(recID)
		if err != nil {
			return nil, fmt.Errorf("corrupt transfer id %q: %w", recID, err)
		}
		from, err := id.ParseCitizenID(fromID)
		if err != nil {
			return nil, fmt.Errorf("corrupt from id %q: %w", fromID, err)
		}
		to, err := id.ParseCitizenID(toID)
		if err != nil {
			return nil, fmt.Errorf("corrupt to id %q: %w", toID, err)
		}
		rec.ID = parsedID
		rec.From = from
		rec.To = to
		rec.FromRef = id.AccountRef(fromRef)
		rec.ToRef = id.AccountRef(toRef)
		rec.Category = Category(category)
		rec.Status = Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer records: %w", err)
	}
	return out, nil
}
