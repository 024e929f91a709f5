package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/safe"
	"github.com/shopspring/decimal"

	"khural/internal/distribution/metrics"
	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/audit"
	"khural/pkg/platform/sentinel"
)

// Cumulative release targets per verification level, in ALTAN. FULLY_VERIFIED
// releases whatever entitlement remains.
var (
	targetUnverified = decimal.NewFromInt(100)
	targetArban      = decimal.NewFromInt(1_000)
	targetZun        = decimal.NewFromInt(10_000)

	hundred = decimal.NewFromInt(100)
)

// Ledger is the slice of the ledger service the engine needs.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error)
	Balance(ctx context.Context, citizenID id.CitizenID) (ledger.Account, error)
}

// WalletMirror pushes balances to an external wallet view. Optional and
// strictly best-effort: a mirror failure never rolls back a transfer.
type WalletMirror interface {
	MirrorBalance(ctx context.Context, ref id.AccountRef, balance decimal.Decimal) error
}

type Service struct {
	store   Store
	ledger  Ledger
	funding id.CitizenID
	mirror  WalletMirror
	audit   *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// WithWalletMirror enables best-effort balance mirroring.
func WithWalletMirror(mirror WalletMirror) Option {
	return func(s *Service) {
		s.mirror = mirror
	}
}

// New builds the engine. The funding account holds the citizen pool and is
// resolved once by the caller.
func New(store Store, ledgerSvc Ledger, funding id.CitizenID, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("distribution store is required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}

	svc := &Service{
		store:   store,
		ledger:  ledgerSvc,
		funding: funding,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// InitializePool opens a new emission pool. The three percentages must sum
// to 100; the per-citizen share is the citizen sub-pool divided by the
// estimated population.
func (s *Service) InitializePool(ctx context.Context, total decimal.Decimal, citizenPct, treasuryPct, commonsPct int64, estimatedCitizens int64) (Pool, error) {
	if !total.IsPositive() {
		return Pool{}, dErrors.New(dErrors.CodeInvalidInput, "total emission must be positive")
	}
	if citizenPct+treasuryPct+commonsPct != 100 {
		return Pool{}, dErrors.New(dErrors.CodeInvalidInput, "sub-pool percentages must sum to 100")
	}
	if estimatedCitizens <= 0 {
		return Pool{}, dErrors.New(dErrors.CodeInvalidInput, "estimated citizen count must be positive")
	}

	if _, err := s.store.ActivePool(ctx); err == nil {
		return Pool{}, dErrors.New(dErrors.CodeConfiguration, "distribution pool already initialized")
	} else if !isNotFound(err) {
		return Pool{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check active pool")
	}

	citizenPool := total.Mul(decimal.NewFromInt(citizenPct)).Div(hundred)
	treasuryPool := total.Mul(decimal.NewFromInt(treasuryPct)).Div(hundred)
	commonsPool := total.Sub(citizenPool).Sub(treasuryPool)

	share, err := safe.DivideRound(citizenPool, decimal.NewFromInt(estimatedCitizens), 2)
	if err != nil {
		return Pool{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to compute per-citizen share")
	}

	pool := Pool{
		ID:                NewPoolID(),
		TotalEmission:     total,
		CitizenPool:       citizenPool,
		TreasuryPool:      treasuryPool,
		CommonsPool:       commonsPool,
		PerCitizenShare:   share,
		EstimatedCitizens: estimatedCitizens,
		TotalDistributed:  decimal.Zero,
		Status:            PoolActive,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.store.CreatePool(ctx, pool); err != nil {
		if isConflict(err) {
			return Pool{}, dErrors.New(dErrors.CodeConfiguration, "distribution pool already initialized")
		}
		return Pool{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pool")
	}

	s.logger.InfoContext(ctx, "distribution pool initialized",
		"pool_id", pool.ID.String(),
		"total", total.String(),
		"per_citizen_share", share.String(),
	)
	s.emitAudit(ctx, audit.Event{
		Action:  audit.ActionPoolInitialized,
		Subject: pool.ID.String(),
		Amount:  total.String(),
	})

	return pool, nil
}

// RegisterCitizen enrolls a citizen into the active pool. Idempotent: an
// already-registered citizen gets their existing record back unchanged. A new
// registration immediately releases the UNVERIFIED slice.
func (s *Service) RegisterCitizen(ctx context.Context, citizenID id.CitizenID) (UserDistribution, error) {
	if citizenID.IsNil() {
		return UserDistribution{}, dErrors.New(dErrors.CodeInvalidInput, "citizen id is required")
	}

	if existing, err := s.store.UserDistribution(ctx, citizenID); err == nil {
		return existing, nil
	} else if !isNotFound(err) {
		return UserDistribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check registration")
	}

	pool, err := s.activePool(ctx)
	if err != nil {
		return UserDistribution{}, err
	}

	dist := UserDistribution{
		CitizenID:       citizenID,
		PoolID:          pool.ID,
		Entitlement:     pool.PerCitizenShare,
		TotalReceived:   decimal.Zero,
		Remaining:       pool.PerCitizenShare,
		ReceivedByLevel: make(map[membership.VerificationLevel]decimal.Decimal),
	}
	if err := s.store.CreateUserDistribution(ctx, dist); err != nil {
		if isConflict(err) {
			existing, getErr := s.store.UserDistribution(ctx, citizenID)
			if getErr != nil {
				return UserDistribution{}, dErrors.Wrap(getErr, dErrors.CodeInternal, "failed to load registration")
			}
			return existing, nil
		}
		return UserDistribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register citizen")
	}

	pool.RegisteredCitizens++
	if err := s.store.UpdatePool(ctx, pool); err != nil {
		return UserDistribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update pool counters")
	}
	s.metrics.IncrementRegistered()

	// First slice goes out with registration.
	if _, err := s.DistributeByLevel(ctx, citizenID, membership.LevelUnverified); err != nil {
		return UserDistribution{}, err
	}

	final, err := s.store.UserDistribution(ctx, citizenID)
	if err != nil {
		return UserDistribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return final, nil
}

// DistributeResult reports one slice release. Distributed=false means the
// citizen had already received everything the level unlocks.
type DistributeResult struct {
	Distributed   bool
	Amount        decimal.Decimal
	TotalReceived decimal.Decimal
	Remaining     decimal.Decimal
}

// DistributeByLevel releases the slice the level unlocks: the delta between
// the level's cumulative target and what the citizen has already received,
// capped at the remaining entitlement.
func (s *Service) DistributeByLevel(ctx context.Context, citizenID id.CitizenID, level membership.VerificationLevel) (DistributeResult, error) {
	dist, err := s.store.UserDistribution(ctx, citizenID)
	if err != nil {
		if isNotFound(err) {
			return DistributeResult{}, dErrors.New(dErrors.CodeNotFound, "citizen not registered for distribution")
		}
		return DistributeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}

	pool, err := s.activePool(ctx)
	if err != nil {
		return DistributeResult{}, err
	}

	amount, err := s.sliceAmount(dist, level)
	if err != nil {
		return DistributeResult{}, err
	}
	if !amount.IsPositive() {
		s.metrics.IncrementSlice(string(level), "nothing_due")
		return DistributeResult{
			Distributed:   false,
			Amount:        decimal.Zero,
			TotalReceived: dist.TotalReceived,
			Remaining:     dist.Remaining,
		}, nil
	}

	rec, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		From:       s.funding,
		To:         citizenID,
		Amount:     amount,
		Category:   ledger.CategoryDistribution,
		Memo:       fmt.Sprintf("Distribution %s", level),
		UniqueMemo: true,
	})
	if err != nil {
		// A concurrent call released this slice first.
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementSlice(string(level), "nothing_due")
			return DistributeResult{Distributed: false, Amount: decimal.Zero, TotalReceived: dist.TotalReceived, Remaining: dist.Remaining}, nil
		}
		s.metrics.IncrementSlice(string(level), "error")
		return DistributeResult{}, err
	}

	now := time.Now().UTC()
	dist.TotalReceived = dist.TotalReceived.Add(amount)
	dist.Remaining = dist.Remaining.Sub(amount)
	dist.ReceivedByLevel[level] = dist.ReceivedByLevel[level].Add(amount)
	dist.LastDistributionAt = now
	if dist.FirstDistributionAt.IsZero() {
		dist.FirstDistributionAt = now
	}
	if dist.Remaining.IsZero() {
		dist.FullyDistributedAt = now
	}
	if err := s.store.UpdateUserDistribution(ctx, dist); err != nil {
		return DistributeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registration")
	}

	pool.TotalDistributed = pool.TotalDistributed.Add(amount)
	if err := s.store.UpdatePool(ctx, pool); err != nil {
		return DistributeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update pool counters")
	}

	s.mirrorBalance(ctx, rec.ToRef, citizenID)

	amountF, _ := amount.Float64()
	s.metrics.IncrementSlice(string(level), "released")
	s.metrics.AddReleased(amountF)

	s.logger.InfoContext(ctx, "distribution slice released",
		"level", string(level),
		"ref", rec.ToRef.Short(),
		"amount", amount.String(),
	)
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionSliceReleased,
		Subject:   rec.ToRef.String(),
		Amount:    amount.String(),
		Reference: string(level),
	})

	return DistributeResult{
		Distributed:   true,
		Amount:        amount,
		TotalReceived: dist.TotalReceived,
		Remaining:     dist.Remaining,
	}, nil
}

// sliceAmount computes the release for a level: cumulative target minus the
// amount already received, capped at the remaining entitlement.
func (s *Service) sliceAmount(dist UserDistribution, level membership.VerificationLevel) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch level {
	case membership.LevelUnverified:
		amount = targetUnverified.Sub(dist.TotalReceived)
	case membership.LevelArbanVerified:
		amount = targetArban.Sub(dist.TotalReceived)
	case membership.LevelZunVerified:
		amount = targetZun.Sub(dist.TotalReceived)
	case membership.LevelFullyVerified:
		amount = dist.Remaining
	default:
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidInput, "no distribution slice for this level")
	}

	if amount.GreaterThan(dist.Remaining) {
		amount = dist.Remaining
	}
	return amount, nil
}

// Status returns a citizen's distribution record.
func (s *Service) Status(ctx context.Context, citizenID id.CitizenID) (UserDistribution, error) {
	dist, err := s.store.UserDistribution(ctx, citizenID)
	if err != nil {
		if isNotFound(err) {
			return UserDistribution{}, dErrors.New(dErrors.CodeNotFound, "citizen not registered for distribution")
		}
		return UserDistribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return dist, nil
}

// PoolStats reports the active pool plus derived ratios.
type PoolStats struct {
	Pool               Pool
	PercentDistributed decimal.Decimal
	CitizenPoolLeft    decimal.Decimal
}

// Stats returns the active pool's progress.
func (s *Service) Stats(ctx context.Context) (PoolStats, error) {
	pool, err := s.activePool(ctx)
	if err != nil {
		return PoolStats{}, err
	}
	return PoolStats{
		Pool:               pool,
		PercentDistributed: safe.PercentageOrZero(pool.TotalDistributed, pool.CitizenPool),
		CitizenPoolLeft:    pool.CitizenPool.Sub(pool.TotalDistributed),
	}, nil
}

// ClosePool marks the active pool CLOSED, allowing a future epoch to open a
// new one. Per-citizen records keep their remaining entitlement.
func (s *Service) ClosePool(ctx context.Context) (Pool, error) {
	pool, err := s.activePool(ctx)
	if err != nil {
		return Pool{}, err
	}

	pool.Status = PoolClosed
	pool.ClosedAt = time.Now().UTC()
	if err := s.store.UpdatePool(ctx, pool); err != nil {
		return Pool{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to close pool")
	}

	s.logger.InfoContext(ctx, "distribution pool closed",
		"pool_id", pool.ID.String(),
		"total_distributed", pool.TotalDistributed.String(),
	)
	s.emitAudit(ctx, audit.Event{
		Action:  audit.ActionPoolClosed,
		Subject: pool.ID.String(),
		Amount:  pool.TotalDistributed.String(),
	})

	return pool, nil
}

func (s *Service) activePool(ctx context.Context) (Pool, error) {
	pool, err := s.store.ActivePool(ctx)
	if err != nil {
		if isNotFound(err) {
			return Pool{}, dErrors.New(dErrors.CodeConfiguration, "no active distribution pool")
		}
		return Pool{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active pool")
	}
	return pool, nil
}

// mirrorBalance pushes the citizen's new balance to the external wallet view.
// Failures are logged and counted, never propagated.
func (s *Service) mirrorBalance(ctx context.Context, ref id.AccountRef, citizenID id.CitizenID) {
	if s.mirror == nil {
		s.metrics.IncrementMirror("disabled")
		return
	}
	account, err := s.ledger.Balance(ctx, citizenID)
	if err != nil {
		s.metrics.IncrementMirror("failed")
		s.logger.WarnContext(ctx, "wallet mirror balance read failed", "ref", ref.Short(), "error", err)
		return
	}
	if err := s.mirror.MirrorBalance(ctx, ref, account.Balance); err != nil {
		s.metrics.IncrementMirror("failed")
		s.logger.WarnContext(ctx, "wallet mirror push failed", "ref", ref.Short(), "error", err)
		return
	}
	s.metrics.IncrementMirror("ok")
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, sentinel.ErrConflict)
}
