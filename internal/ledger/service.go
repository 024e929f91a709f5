package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"khural/internal/ledger/metrics"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/audit"
	"khural/pkg/platform/sentinel"
)

// feeDenominator converts basis points to a fraction.
var feeDenominator = decimal.NewFromInt(10_000)

// Service owns the transfer primitive. Every balance mutation in the system
// goes through Transfer; the other engines (allocation, distribution, UBI)
// are callers of this service, never of the store directly.
type Service struct {
	store   Store
	audit   *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// feeBps, when > 0, skims a fee on CategoryTransfer movements into the
	// feeCollector account. Disabled by default.
	feeBps       int64
	feeCollector id.CitizenID
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTransferFee enables the fee leg on peer transfers. The collector
// account must exist before the first fee-bearing transfer.
func WithTransferFee(bps int64, collector id.CitizenID) Option {
	return func(s *Service) {
		s.feeBps = bps
		s.feeCollector = collector
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	svc := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("khural/ledger"),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// TransferRequest describes one movement of ALTAN between two accounts.
type TransferRequest struct {
	From     id.CitizenID
	To       id.CitizenID
	Amount   decimal.Decimal
	Category Category
	Memo     string

	// UniqueMemo makes the (To, Memo) pair an idempotency key: a second
	// request with the same pair fails with CodeConflict instead of paying
	// twice. Used by the tier-award and UBI flows.
	UniqueMemo bool
}

// OpenAccount creates a zero-balance account with a fresh external reference.
// Idempotent: if the citizen already holds an account it is returned as-is.
func (s *Service) OpenAccount(ctx context.Context, citizenID id.CitizenID) (Account, error) {
	if citizenID.IsNil() {
		return Account{}, dErrors.New(dErrors.CodeInvalidInput, "citizen id is required")
	}

	now := time.Now().UTC()
	account := Account{
		CitizenID: citizenID,
		Ref:       id.NewAccountRef(),
		Balance:   decimal.Zero,
		Status:    AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.CreateAccount(ctx, account)
	if errors.Is(err, sentinel.ErrConflict) {
		existing, getErr := s.store.Account(ctx, citizenID)
		if getErr != nil {
			return Account{}, dErrors.Wrap(getErr, dErrors.CodeInternal, "failed to load existing account")
		}
		return existing, nil
	}
	if err != nil {
		return Account{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	s.logger.InfoContext(ctx, "account opened", "ref", account.Ref.Short())
	s.emitAudit(ctx, audit.Event{
		Action:  audit.ActionAccountOpened,
		Subject: account.Ref.String(),
	})

	return account, nil
}

// Transfer moves Amount from one account to the other as a single atomic
// unit. The destination account is opened on the fly when missing; the
// source must already exist and cover the full debit.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferRecord, error) {
	start := time.Now()
	category := req.Category
	if category == "" {
		category = CategoryTransfer
	}

	ctx, span := s.tracer.Start(ctx, "ledger.transfer",
		trace.WithAttributes(attribute.String("transfer.category", string(category))))
	defer span.End()

	if err := s.validate(req); err != nil {
		s.metrics.IncrementOutcome(string(category), "rejected")
		return TransferRecord{}, err
	}

	source, err := s.store.Account(ctx, req.From)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementOutcome(string(category), "rejected")
			return TransferRecord{}, dErrors.New(dErrors.CodeNotFound, "source account not found")
		}
		return TransferRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load source account")
	}
	if source.Status == AccountFrozen {
		s.metrics.IncrementOutcome(string(category), "rejected")
		return TransferRecord{}, dErrors.New(dErrors.CodeInvalidInput, "source account is frozen")
	}

	dest, err := s.destinationAccount(ctx, req.To)
	if err != nil {
		return TransferRecord{}, err
	}

	in := Instruction{
		Record: TransferRecord{
			ID:        id.NewTransferID(),
			From:      req.From,
			To:        req.To,
			FromRef:   source.Ref,
			ToRef:     dest.Ref,
			Amount:    req.Amount,
			Category:  category,
			Memo:      req.Memo,
			Status:    StatusCompleted,
			CreatedAt: time.Now().UTC(),
		},
		UniqueMemo: req.UniqueMemo,
	}

	if fee := s.fee(req, category); fee.IsPositive() {
		collector, err := s.store.Account(ctx, s.feeCollector)
		if err != nil {
			return TransferRecord{}, dErrors.Wrap(err, dErrors.CodeConfiguration, "fee collector account unavailable")
		}
		in.Fee = fee
		in.FeeTo = collector.CitizenID
		in.FeeToRef = collector.Ref
	}

	rec, err := s.store.Apply(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			s.metrics.IncrementOutcome(string(category), "rejected")
			return TransferRecord{}, dErrors.New(dErrors.CodeInsufficientFunds, "insufficient funds")
		case errors.Is(err, sentinel.ErrConflict):
			s.metrics.IncrementOutcome(string(category), "duplicate")
			return TransferRecord{}, dErrors.Wrap(err, dErrors.CodeConflict, "transfer with this memo already completed")
		case errors.Is(err, sentinel.ErrNotFound):
			s.metrics.IncrementOutcome(string(category), "error")
			return TransferRecord{}, dErrors.Wrap(err, dErrors.CodeNotFound, "account disappeared during transfer")
		default:
			s.metrics.IncrementOutcome(string(category), "error")
			return TransferRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply transfer")
		}
	}

	amountStr := rec.Amount.String()
	s.logger.InfoContext(ctx, "transfer completed",
		"from", rec.FromRef.Short(),
		"to", rec.ToRef.Short(),
		"amount", amountStr,
		"category", string(rec.Category),
	)
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionTransferCompleted,
		Subject:   rec.FromRef.String(),
		Reference: rec.ToRef.String(),
		Amount:    amountStr,
		Category:  string(rec.Category),
	})

	amountF, _ := rec.Amount.Float64()
	s.metrics.IncrementOutcome(string(category), "completed")
	s.metrics.AddAmount(string(category), amountF)
	s.metrics.ObserveTransferLatency(time.Since(start))

	return rec, nil
}

func (s *Service) validate(req TransferRequest) error {
	if req.From.IsNil() || req.To.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "both accounts are required")
	}
	if req.From == req.To {
		return dErrors.New(dErrors.CodeInvalidInput, "cannot transfer to the same account")
	}
	if !req.Amount.IsPositive() {
		return dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	return nil
}

func (s *Service) destinationAccount(ctx context.Context, to id.CitizenID) (Account, error) {
	dest, err := s.store.Account(ctx, to)
	if err == nil {
		return dest, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Account{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load destination account")
	}
	// First credit opens the account.
	return s.OpenAccount(ctx, to)
}

func (s *Service) fee(req TransferRequest, category Category) decimal.Decimal {
	if s.feeBps <= 0 || category != CategoryTransfer {
		return decimal.Zero
	}
	if s.feeCollector.IsNil() || req.From == s.feeCollector {
		return decimal.Zero
	}
	return req.Amount.Mul(decimal.NewFromInt(s.feeBps)).Div(feeDenominator)
}

// Balance returns the account row for a citizen.
func (s *Service) Balance(ctx context.Context, citizenID id.CitizenID) (Account, error) {
	account, err := s.store.Account(ctx, citizenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Account{}, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return Account{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return account, nil
}

// AccountByRef resolves an external account reference.
func (s *Service) AccountByRef(ctx context.Context, ref id.AccountRef) (Account, error) {
	if ref.IsZero() {
		return Account{}, dErrors.New(dErrors.CodeInvalidInput, "account ref is required")
	}
	account, err := s.store.AccountByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Account{}, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return Account{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return account, nil
}

// defaultHistoryLimit caps history listings when the caller passes no limit.
const defaultHistoryLimit = 50

// History lists transfers touching the ref, newest first. A non-positive
// limit falls back to defaultHistoryLimit so both store implementations see
// a concrete cap.
func (s *Service) History(ctx context.Context, ref id.AccountRef, limit int) ([]TransferRecord, error) {
	if ref.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "account ref is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := s.store.History(ctx, ref, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transfer history")
	}
	return records, nil
}

// HasCompletedTransfer reports whether a completed transfer with the given
// (to, memo) pair exists. Callers use it to pre-check idempotent awards.
func (s *Service) HasCompletedTransfer(ctx context.Context, to id.CitizenID, memo string) (bool, error) {
	_, err := s.store.FindByMemo(ctx, to, memo)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up transfer by memo")
	}
	return true, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
