package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key economic actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// Events are externally visible: they carry account references, never citizen
// ids (privacy firewall).
type Event struct {
	Timestamp time.Time
	Action    Action
	// Subject is the externally-visible reference the event is about:
	// an account ref, an anchor transaction hash, a pool id.
	Subject string
	// Reason carries failure detail for *_failed and *_skipped actions.
	Reason string
	// Amount is the decimal string of the ALTAN amount involved, if any.
	Amount string
	// Category tags transfer events with the transfer category.
	Category string
	// Reference is a secondary subject: counterparty ref, merkle root, week label.
	Reference string
}

// Action names an auditable occurrence.
type Action string

const (
	// Ledger events
	ActionAccountOpened     Action = "account_opened"
	ActionTransferCompleted Action = "transfer_completed"

	// Allocation events
	ActionAllocationGranted Action = "allocation_granted"

	// Distribution events
	ActionPoolInitialized Action = "pool_initialized"
	ActionPoolClosed      Action = "pool_closed"
	ActionSliceReleased   Action = "slice_released"

	// UBI events
	ActionUBIRunCompleted Action = "ubi_run_completed"

	// Anchoring events
	ActionAnchorPublished Action = "anchor_published"
	ActionAnchorSkipped   Action = "anchor_skipped"
	ActionAnchorFailed    Action = "anchor_failed"
)

// Store is the append-only audit log. Implementations must never update or
// delete rows.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
