package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"khural/internal/ledger"
	"khural/internal/membership"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/httputil"
	request "khural/pkg/platform/middleware/request"
)

// =============================================================================
// Citizens
// =============================================================================

// handleRegisterCitizen onboards a citizen: membership row, account link, and
// registration into the active distribution pool when one exists.
func (h *Handler) handleRegisterCitizen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerCitizenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	level, err := parseLevel(req.Level)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := h.membership.RegisterCitizen(ctx, citizenID, level, false); err != nil {
		h.logError(r, "citizen registration failed", err)
		httputil.WriteError(w, err)
		return
	}
	account, err := h.ledger.OpenAccount(ctx, citizenID)
	if err != nil {
		h.logError(r, "account open failed", err)
		httputil.WriteError(w, err)
		return
	}

	// No active pool is a valid deployment state; registration still succeeds.
	if _, err := h.distribution.RegisterCitizen(ctx, citizenID); err != nil &&
		!dErrors.HasCode(err, dErrors.CodeConfiguration) {
		h.logError(r, "distribution registration failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	citizenID, err := parseCitizenID(chi.URLParam(r, "citizenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	account, err := h.ledger.Balance(r.Context(), citizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

// =============================================================================
// Accounts and transfers
// =============================================================================

func (h *Handler) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	account, err := h.ledger.OpenAccount(r.Context(), citizenID)
	if err != nil {
		h.logError(r, "account open failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) handleAccountByRef(w http.ResponseWriter, r *http.Request) {
	ref, err := id.ParseAccountRef(chi.URLParam(r, "ref"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid account ref"))
		return
	}

	account, err := h.ledger.AccountByRef(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref, err := id.ParseAccountRef(chi.URLParam(r, "ref"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid account ref"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid limit"))
			return
		}
		limit = parsed
	}

	records, err := h.ledger.History(r.Context(), ref, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]transferResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toTransferResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, err := parseCitizenID(req.FromCitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseCitizenID(req.ToCitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.ledger.Transfer(r.Context(), ledger.TransferRequest{
		From:     from,
		To:       to,
		Amount:   amount,
		Category: ledger.CategoryTransfer,
		Memo:     req.Memo,
	})
	if err != nil {
		h.logError(r, "transfer failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTransferResponse(rec))
}

// =============================================================================
// Groups and federations
// =============================================================================

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	group := membership.Group{Kind: membership.GroupKind(req.Kind)}
	var err error
	if req.HusbandID != "" {
		if group.Husband, err = parseCitizenID(req.HusbandID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if req.WifeID != "" {
		if group.Wife, err = parseCitizenID(req.WifeID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if group.Children, err = parseCitizenIDs(req.Children); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if group.Members, err = parseCitizenIDs(req.Members); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.membership.CreateGroup(r.Context(), group)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": created.ID.String()})
}

func (h *Handler) handleCreateFederation(w http.ResponseWriter, r *http.Request) {
	var req createFederationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	federation := membership.Federation{Name: req.Name}
	for _, raw := range req.Groups {
		groupID, err := id.ParseGroupID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "invalid group id %q", raw))
			return
		}
		federation.Groups = append(federation.Groups, groupID)
	}

	created, err := h.membership.CreateFederation(r.Context(), federation)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": created.ID.String()})
}

func parseCitizenIDs(raw []string) ([]id.CitizenID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]id.CitizenID, 0, len(raw))
	for _, s := range raw {
		citizenID, err := parseCitizenID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, citizenID)
	}
	return out, nil
}

// =============================================================================
// Allocations
// =============================================================================

func (h *Handler) handleAllocateLevel1(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.allocation.AllocateLevel1(r.Context(), citizenID)
	if err != nil {
		h.logError(r, "level 1 allocation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAllocationResponse(result))
}

func (h *Handler) handleAllocateLevel2(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	groupID, err := id.ParseGroupID(req.GroupID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid group id"))
		return
	}

	result, err := h.allocation.AllocateLevel2(r.Context(), citizenID, groupID)
	if err != nil {
		h.logError(r, "level 2 allocation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAllocationResponse(result))
}

func (h *Handler) handleAllocateLevel3(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	federationID, err := id.ParseFederationID(req.FederationID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid federation id"))
		return
	}

	result, err := h.allocation.AllocateLevel3(r.Context(), citizenID, federationID)
	if err != nil {
		h.logError(r, "level 3 allocation failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAllocationResponse(result))
}

func (h *Handler) handleAllocationSummary(w http.ResponseWriter, r *http.Request) {
	citizenID, err := parseCitizenID(chi.URLParam(r, "citizenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summary, err := h.allocation.AllocationSummary(r.Context(), citizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, allocationSummaryResponse{
		Level1: summary.Level1,
		Level2: summary.Level2,
		Level3: summary.Level3,
		Total:  summary.Total.String(),
	})
}

// =============================================================================
// Distribution
// =============================================================================

func (h *Handler) handleDistributeSlice(w http.ResponseWriter, r *http.Request) {
	var req distributeSliceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	citizenID, err := parseCitizenID(req.CitizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	level, err := parseLevel(req.Level)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.distribution.DistributeByLevel(r.Context(), citizenID, level)
	if err != nil {
		h.logError(r, "slice release failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sliceResponse{
		Distributed:   result.Distributed,
		Amount:        result.Amount.String(),
		TotalReceived: result.TotalReceived.String(),
		Remaining:     result.Remaining.String(),
	})
}

func (h *Handler) handleDistributionStatus(w http.ResponseWriter, r *http.Request) {
	citizenID, err := parseCitizenID(chi.URLParam(r, "citizenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	dist, err := h.distribution.Status(r.Context(), citizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDistributionStatusResponse(dist))
}

func (h *Handler) handleDistributionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.distribution.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"pool":                toPoolResponse(stats.Pool),
		"percent_distributed": stats.PercentDistributed.String(),
		"citizen_pool_left":   stats.CitizenPoolLeft.String(),
	})
}

// =============================================================================
// UBI
// =============================================================================

func (h *Handler) handleUBIPayment(w http.ResponseWriter, r *http.Request) {
	citizenID, err := parseCitizenID(chi.URLParam(r, "citizenID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	raw := r.URL.Query().Get("week")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "week query parameter is required"))
		return
	}
	weekStart, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "invalid week %q", raw))
		return
	}

	payment, err := h.ubi.PaymentFor(r.Context(), citizenID, weekStart)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUBIPaymentResponse(payment))
}

// =============================================================================
// Admin
// =============================================================================

func (h *Handler) handleInitializePool(w http.ResponseWriter, r *http.Request) {
	var req initializePoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	total, err := parseAmount(req.TotalEmission)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	pool, err := h.distribution.InitializePool(r.Context(),
		total, req.CitizenPct, req.TreasuryPct, req.CommonsPct, req.EstimatedCitizens)
	if err != nil {
		h.logError(r, "pool initialization failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPoolResponse(pool))
}

func (h *Handler) handleClosePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.distribution.ClosePool(r.Context())
	if err != nil {
		h.logError(r, "pool close failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPoolResponse(pool))
}

func (h *Handler) handleUBIRun(w http.ResponseWriter, r *http.Request) {
	var req ubiRunRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}

	var weekStart time.Time
	if req.WeekStart != "" {
		var err error
		weekStart, err = time.Parse(time.DateOnly, req.WeekStart)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "invalid week_start %q", req.WeekStart))
			return
		}
	}

	report, err := h.ubi.Manual(r.Context(), weekStart)
	if err != nil {
		h.logError(r, "manual ubi run failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batchReportResponse{
		WeekStart: report.WeekStart.UTC().Format(time.DateOnly),
		Eligible:  report.Eligible,
		Succeeded: report.Succeeded,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
}

// handleUBIWeekPayments lists every payment row for one week, the operator's
// reconciliation view after a run.
func (h *Handler) handleUBIWeekPayments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("week")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "week query parameter is required"))
		return
	}
	weekStart, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "invalid week %q", raw))
		return
	}

	payments, err := h.ubi.PaymentsForWeek(r.Context(), weekStart.UTC())
	if err != nil {
		h.logError(r, "week payment listing failed", err)
		httputil.WriteError(w, err)
		return
	}

	out := make([]weekPaymentResponse, 0, len(payments))
	for _, payment := range payments {
		out = append(out, toWeekPaymentResponse(payment))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAnchorRun(w http.ResponseWriter, r *http.Request) {
	results, err := h.anchor.AnchorAll(r.Context())
	if err != nil {
		h.logError(r, "anchor run failed", err)
		httputil.WriteError(w, err)
		return
	}

	out := make([]anchorResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, anchorResultResponse{
			Category:   res.Category.String(),
			Root:       res.Root,
			LeafCount:  res.LeafCount,
			TxRef:      res.TxRef,
			Published:  res.Published,
			SkipReason: res.SkipReason,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// logError logs failures worth operator attention; expected domain rejections
// (bad input, not found) are left to the error response alone.
func (h *Handler) logError(r *http.Request, msg string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInvalidInput || code == dErrors.CodeNotFound {
		return
	}
	h.logger.ErrorContext(r.Context(), msg,
		"error", err,
		"code", string(code),
		"request_id", request.GetRequestID(r.Context()),
	)
}
