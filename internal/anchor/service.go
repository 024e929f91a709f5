package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"khural/internal/anchor/metrics"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/audit"
)

// Result is the outcome of anchoring one category window.
type Result struct {
	Category  Category
	Root      string
	LeafCount int
	// TxRef is the external ledger transaction reference, set when Published.
	TxRef     string
	Published bool
	// SkipReason explains an unpublished result: empty window, missing
	// publisher configuration, or the publish error.
	SkipReason string
}

type Service struct {
	source    Source
	publisher Publisher
	clock     clockwork.Clock
	audit     *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
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

// WithClock injects a fake clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New builds the anchor service. The publisher may be nil: deployments
// without an external ledger run the full pipeline and record each anchor as
// skipped instead of published.
func New(source Source, publisher Publisher, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("anchor source is required")
	}

	svc := &Service{
		source:    source,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AnchorVoteBatch commits the past week's votes.
func (s *Service) AnchorVoteBatch(ctx context.Context) (Result, error) {
	return s.anchorCategory(ctx, CategoryVoteBatch)
}

// AnchorElectionResults commits the past week's finalized election results.
func (s *Service) AnchorElectionResults(ctx context.Context) (Result, error) {
	return s.anchorCategory(ctx, CategoryElectionResult)
}

// AnchorSignedLaws commits the past week's signed laws.
func (s *Service) AnchorSignedLaws(ctx context.Context) (Result, error) {
	return s.anchorCategory(ctx, CategorySignedLaw)
}

// AnchorEmissionDecisions commits the past week's emission decisions.
func (s *Service) AnchorEmissionDecisions(ctx context.Context) (Result, error) {
	return s.anchorCategory(ctx, CategoryEmissionDecision)
}

// AnchorVerificationBatch commits the past week's verification events.
func (s *Service) AnchorVerificationBatch(ctx context.Context) (Result, error) {
	return s.anchorCategory(ctx, CategoryVerificationBatch)
}

// AnchorAll runs every weekly stream concurrently. Categories are isolated:
// one failed publish never blocks or fails the others, so the error is
// always nil today and the per-category outcomes live in the results.
func (s *Service) AnchorAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, len(batchCategories))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range batchCategories {
		g.Go(func() error {
			result, err := s.anchorCategory(gctx, category)
			if err != nil {
				result = Result{Category: category, SkipReason: err.Error()}
				s.logger.ErrorContext(gctx, "anchor category failed",
					"category", category.String(), "error", err)
			}
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// anchorCategory commits one category's weekly window. Publish failures are
// recorded, not returned: the next weekly window re-covers nothing, so the
// only remedy is the audit trail plus an operator-triggered re-run.
func (s *Service) anchorCategory(ctx context.Context, category Category) (Result, error) {
	since := lastWeekStart(s.clock.Now())
	label := weekLabel(since)

	leaves, err := s.source.Leaves(ctx, category, since)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load anchor leaves")
	}

	result := Result{Category: category, LeafCount: len(leaves)}
	if len(leaves) == 0 {
		s.logger.DebugContext(ctx, "nothing to anchor",
			"category", category.String(), "week", label)
		s.metrics.IncrementOutcome(category.String(), "empty")
		result.SkipReason = "no records in window"
		return result, nil
	}

	result.Root = ComputeMerkleRoot(leaves)

	if s.publisher == nil {
		s.logger.WarnContext(ctx, "external ledger not configured, anchor skipped",
			"category", category.String(), "week", label, "root", result.Root)
		s.metrics.IncrementOutcome(category.String(), "skipped")
		s.emitAudit(ctx, audit.Event{
			Action:    audit.ActionAnchorSkipped,
			Subject:   category.String(),
			Reference: result.Root,
			Reason:    "external ledger not configured",
		})
		result.SkipReason = "external ledger not configured"
		return result, nil
	}

	description := fmt.Sprintf("%s %s", category.String(), label)
	start := s.clock.Now()
	txRef, err := s.publisher.Publish(ctx, result.Root, category, description)
	s.metrics.ObservePublishLatency(s.clock.Since(start))
	if err != nil {
		s.logger.ErrorContext(ctx, "anchor publish failed",
			"category", category.String(), "week", label, "error", err)
		s.metrics.IncrementOutcome(category.String(), "failed")
		s.emitAudit(ctx, audit.Event{
			Action:    audit.ActionAnchorFailed,
			Subject:   category.String(),
			Reference: result.Root,
			Reason:    err.Error(),
		})
		result.SkipReason = err.Error()
		return result, nil
	}

	result.TxRef = txRef
	result.Published = true
	s.metrics.IncrementOutcome(category.String(), "published")
	s.metrics.AddLeaves(category.String(), len(leaves))
	s.logger.InfoContext(ctx, "anchor published",
		"category", category.String(),
		"week", label,
		"leaves", len(leaves),
		"root", result.Root,
		"tx_ref", txRef,
	)
	s.emitAudit(ctx, audit.Event{
		Action:    audit.ActionAnchorPublished,
		Subject:   txRef,
		Reference: result.Root,
		Category:  category.String(),
	})

	return result, nil
}

// lastWeekStart returns midnight UTC seven days before now; anchors cover a
// rolling one-week window rather than a calendar week.
func lastWeekStart(now time.Time) time.Time {
	now = now.UTC().AddDate(0, 0, -7)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// weekLabel renders the ISO week of the window start, e.g. "2026-W34".
func weekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", string(event.Action), "error", err)
	}
}
