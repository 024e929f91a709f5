// Package httpapi is the thin HTTP layer over the economic services. It
// delegates to domain services without embedding business logic so transport
// concerns stay isolated.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"khural/internal/allocation"
	"khural/internal/anchor"
	"khural/internal/distribution"
	"khural/internal/ledger"
	"khural/internal/membership"
	"khural/internal/ubi"
	id "khural/pkg/domain"
	adminmw "khural/pkg/platform/middleware/admin"
	request "khural/pkg/platform/middleware/request"
)

// LedgerService is the slice of the ledger the API exposes.
type LedgerService interface {
	OpenAccount(ctx context.Context, citizenID id.CitizenID) (ledger.Account, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error)
	Balance(ctx context.Context, citizenID id.CitizenID) (ledger.Account, error)
	AccountByRef(ctx context.Context, ref id.AccountRef) (ledger.Account, error)
	History(ctx context.Context, ref id.AccountRef, limit int) ([]ledger.TransferRecord, error)
}

type MembershipService interface {
	RegisterCitizen(ctx context.Context, citizenID id.CitizenID, level membership.VerificationLevel, system bool) (membership.Citizen, error)
	CreateGroup(ctx context.Context, group membership.Group) (membership.Group, error)
	CreateFederation(ctx context.Context, federation membership.Federation) (membership.Federation, error)
}

type AllocationService interface {
	AllocateLevel1(ctx context.Context, citizenID id.CitizenID) (allocation.Result, error)
	AllocateLevel2(ctx context.Context, citizenID id.CitizenID, groupID id.GroupID) (allocation.Result, error)
	AllocateLevel3(ctx context.Context, citizenID id.CitizenID, federationID id.FederationID) (allocation.Result, error)
	AllocationSummary(ctx context.Context, citizenID id.CitizenID) (allocation.Summary, error)
}

type DistributionService interface {
	InitializePool(ctx context.Context, total decimal.Decimal, citizenPct, treasuryPct, commonsPct int64, estimatedCitizens int64) (distribution.Pool, error)
	RegisterCitizen(ctx context.Context, citizenID id.CitizenID) (distribution.UserDistribution, error)
	DistributeByLevel(ctx context.Context, citizenID id.CitizenID, level membership.VerificationLevel) (distribution.DistributeResult, error)
	Status(ctx context.Context, citizenID id.CitizenID) (distribution.UserDistribution, error)
	Stats(ctx context.Context) (distribution.PoolStats, error)
	ClosePool(ctx context.Context) (distribution.Pool, error)
}

type UBIService interface {
	Manual(ctx context.Context, weekStart time.Time) (ubi.BatchReport, error)
	PaymentFor(ctx context.Context, citizenID id.CitizenID, weekStart time.Time) (ubi.Payment, error)
	PaymentsForWeek(ctx context.Context, weekStart time.Time) ([]ubi.Payment, error)
}

type AnchorService interface {
	AnchorAll(ctx context.Context) ([]anchor.Result, error)
}

// Handler wires the domain services into HTTP endpoints.
type Handler struct {
	logger       *slog.Logger
	ledger       LedgerService
	membership   MembershipService
	allocation   AllocationService
	distribution DistributionService
	ubi          UBIService
	anchor       AnchorService
}

func NewHandler(
	logger *slog.Logger,
	ledgerSvc LedgerService,
	membershipSvc MembershipService,
	allocationSvc AllocationService,
	distributionSvc DistributionService,
	ubiSvc UBIService,
	anchorSvc AnchorService,
) *Handler {
	return &Handler{
		logger:       logger,
		ledger:       ledgerSvc,
		membership:   membershipSvc,
		allocation:   allocationSvc,
		distribution: distributionSvc,
		ubi:          ubiSvc,
		anchor:       anchorSvc,
	}
}

// NewRouter wires all endpoints. Admin routes are mounted only when a token
// is configured.
func NewRouter(h *Handler, adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(request.ID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/citizens", h.handleRegisterCitizen)
		r.Get("/citizens/{citizenID}/balance", h.handleBalance)
		r.Get("/citizens/{citizenID}/allocations", h.handleAllocationSummary)
		r.Get("/citizens/{citizenID}/distribution", h.handleDistributionStatus)
		r.Get("/citizens/{citizenID}/ubi", h.handleUBIPayment)

		r.Post("/accounts", h.handleOpenAccount)
		r.Get("/accounts/{ref}", h.handleAccountByRef)
		r.Get("/accounts/{ref}/history", h.handleHistory)

		r.Post("/transfers", h.handleTransfer)

		r.Post("/groups", h.handleCreateGroup)
		r.Post("/federations", h.handleCreateFederation)

		r.Post("/allocations/level1", h.handleAllocateLevel1)
		r.Post("/allocations/level2", h.handleAllocateLevel2)
		r.Post("/allocations/level3", h.handleAllocateLevel3)

		r.Post("/distribution/slices", h.handleDistributeSlice)
		r.Get("/distribution/stats", h.handleDistributionStats)
	})

	if adminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminmw.RequireAdminToken(adminToken, h.logger))
			r.Post("/distribution/pool", h.handleInitializePool)
			r.Post("/distribution/pool/close", h.handleClosePool)
			r.Post("/ubi/run", h.handleUBIRun)
			r.Get("/ubi/payments", h.handleUBIWeekPayments)
			r.Post("/anchors/run", h.handleAnchorRun)
		})
	}

	return r
}
