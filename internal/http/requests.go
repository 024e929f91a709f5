package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"khural/internal/allocation"
	"khural/internal/distribution"
	"khural/internal/ledger"
	"khural/internal/membership"
	"khural/internal/ubi"
	id "khural/pkg/domain"
	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/httputil"
)

// =============================================================================
// Request bodies
// =============================================================================

type registerCitizenRequest struct {
	CitizenID string `json:"citizen_id"`
	Level     string `json:"level"`
}

type openAccountRequest struct {
	CitizenID string `json:"citizen_id"`
}

type transferRequest struct {
	FromCitizenID string `json:"from_citizen_id"`
	ToCitizenID   string `json:"to_citizen_id"`
	Amount        string `json:"amount"`
	Memo          string `json:"memo"`
}

type createGroupRequest struct {
	Kind      string   `json:"kind"`
	HusbandID string   `json:"husband_id,omitempty"`
	WifeID    string   `json:"wife_id,omitempty"`
	Children  []string `json:"children,omitempty"`
	Members   []string `json:"members,omitempty"`
}

type createFederationRequest struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

type allocateRequest struct {
	CitizenID    string `json:"citizen_id"`
	GroupID      string `json:"group_id,omitempty"`
	FederationID string `json:"federation_id,omitempty"`
}

type distributeSliceRequest struct {
	CitizenID string `json:"citizen_id"`
	Level     string `json:"level"`
}

type initializePoolRequest struct {
	TotalEmission     string `json:"total_emission"`
	CitizenPct        int64  `json:"citizen_pct"`
	TreasuryPct       int64  `json:"treasury_pct"`
	CommonsPct        int64  `json:"commons_pct"`
	EstimatedCitizens int64  `json:"estimated_citizens"`
}

type ubiRunRequest struct {
	// WeekStart overrides the paid week; empty pays the previous week.
	WeekStart string `json:"week_start,omitempty"`
}

// =============================================================================
// Response bodies
// =============================================================================

type accountResponse struct {
	Ref       string `json:"ref"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toAccountResponse(acc ledger.Account) accountResponse {
	return accountResponse{
		Ref:       acc.Ref.String(),
		Balance:   acc.Balance.String(),
		Status:    string(acc.Status),
		CreatedAt: acc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type transferResponse struct {
	ID        string `json:"id"`
	FromRef   string `json:"from_ref"`
	ToRef     string `json:"to_ref"`
	Amount    string `json:"amount"`
	Category  string `json:"category"`
	Memo      string `json:"memo,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toTransferResponse(rec ledger.TransferRecord) transferResponse {
	return transferResponse{
		ID:        rec.ID.String(),
		FromRef:   rec.FromRef.String(),
		ToRef:     rec.ToRef.String(),
		Amount:    rec.Amount.String(),
		Category:  string(rec.Category),
		Memo:      rec.Memo,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type allocationResponse struct {
	Allocated bool   `json:"allocated"`
	Amount    string `json:"amount"`
	Ref       string `json:"ref,omitempty"`
}

func toAllocationResponse(res allocation.Result) allocationResponse {
	return allocationResponse{
		Allocated: res.Allocated,
		Amount:    res.Amount.String(),
		Ref:       res.Ref.String(),
	}
}

type allocationSummaryResponse struct {
	Level1 bool   `json:"level1"`
	Level2 bool   `json:"level2"`
	Level3 bool   `json:"level3"`
	Total  string `json:"total"`
}

type distributionStatusResponse struct {
	PoolID        string            `json:"pool_id"`
	Entitlement   string            `json:"entitlement"`
	TotalReceived string            `json:"total_received"`
	Remaining     string            `json:"remaining"`
	ByLevel       map[string]string `json:"by_level"`
}

func toDistributionStatusResponse(dist distribution.UserDistribution) distributionStatusResponse {
	byLevel := make(map[string]string, len(dist.ReceivedByLevel))
	for level, amount := range dist.ReceivedByLevel {
		byLevel[string(level)] = amount.String()
	}
	return distributionStatusResponse{
		PoolID:        dist.PoolID.String(),
		Entitlement:   dist.Entitlement.String(),
		TotalReceived: dist.TotalReceived.String(),
		Remaining:     dist.Remaining.String(),
		ByLevel:       byLevel,
	}
}

type sliceResponse struct {
	Distributed   bool   `json:"distributed"`
	Amount        string `json:"amount"`
	TotalReceived string `json:"total_received"`
	Remaining     string `json:"remaining"`
}

type poolResponse struct {
	ID                 string `json:"id"`
	TotalEmission      string `json:"total_emission"`
	CitizenPool        string `json:"citizen_pool"`
	TreasuryPool       string `json:"treasury_pool"`
	CommonsPool        string `json:"commons_pool"`
	PerCitizenShare    string `json:"per_citizen_share"`
	EstimatedCitizens  int64  `json:"estimated_citizens"`
	RegisteredCitizens int64  `json:"registered_citizens"`
	TotalDistributed   string `json:"total_distributed"`
	Status             string `json:"status"`
}

func toPoolResponse(pool distribution.Pool) poolResponse {
	return poolResponse{
		ID:                 pool.ID.String(),
		TotalEmission:      pool.TotalEmission.String(),
		CitizenPool:        pool.CitizenPool.String(),
		TreasuryPool:       pool.TreasuryPool.String(),
		CommonsPool:        pool.CommonsPool.String(),
		PerCitizenShare:    pool.PerCitizenShare.String(),
		EstimatedCitizens:  pool.EstimatedCitizens,
		RegisteredCitizens: pool.RegisteredCitizens,
		TotalDistributed:   pool.TotalDistributed.String(),
		Status:             string(pool.Status),
	}
}

type ubiPaymentResponse struct {
	WeekStart     string `json:"week_start"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func toUBIPaymentResponse(payment ubi.Payment) ubiPaymentResponse {
	return ubiPaymentResponse{
		WeekStart:     payment.WeekStart.UTC().Format(time.DateOnly),
		Amount:        payment.Amount.String(),
		Status:        string(payment.Status),
		FailureReason: payment.FailureReason,
	}
}

// weekPaymentResponse is the admin reconciliation row; unlike the public
// payment view it carries the citizen id.
type weekPaymentResponse struct {
	CitizenID     string `json:"citizen_id"`
	WeekStart     string `json:"week_start"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func toWeekPaymentResponse(payment ubi.Payment) weekPaymentResponse {
	return weekPaymentResponse{
		CitizenID:     payment.CitizenID.String(),
		WeekStart:     payment.WeekStart.UTC().Format(time.DateOnly),
		Amount:        payment.Amount.String(),
		Status:        string(payment.Status),
		FailureReason: payment.FailureReason,
	}
}

type batchReportResponse struct {
	WeekStart string `json:"week_start"`
	Eligible  int    `json:"eligible"`
	Succeeded int    `json:"succeeded"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

type anchorResultResponse struct {
	Category   string `json:"category"`
	Root       string `json:"root,omitempty"`
	LeafCount  int    `json:"leaf_count"`
	TxRef      string `json:"tx_ref,omitempty"`
	Published  bool   `json:"published"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// =============================================================================
// Decode and parse helpers
// =============================================================================

// decodeJSON parses the body into v, writing the error response itself on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func parseCitizenID(raw string) (id.CitizenID, error) {
	citizenID, err := id.ParseCitizenID(raw)
	if err != nil {
		return id.CitizenID{}, dErrors.Newf(dErrors.CodeInvalidInput, "invalid citizen id %q", raw)
	}
	return citizenID, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, dErrors.Newf(dErrors.CodeInvalidInput, "invalid amount %q", raw)
	}
	return amount, nil
}

func parseLevel(raw string) (membership.VerificationLevel, error) {
	level := membership.VerificationLevel(raw)
	if !level.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid verification level %q", raw)
	}
	return level, nil
}
