// Package domain holds shared domain primitives. Typed ids keep citizen,
// transfer and payment identifiers from being swapped at compile time.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	dErrors "khural/pkg/domain-errors"
)

// CitizenID identifies a citizen internally. It never appears in
// externally-visible records; AccountRef does.
type CitizenID uuid.UUID

// TransferID identifies an immutable transfer record.
type TransferID uuid.UUID

// PaymentID identifies a UBI payment row.
type PaymentID uuid.UUID

// ParseCitizenID validates and returns a CitizenID.
// IDs must be valid, non-nil UUIDs.
func ParseCitizenID(s string) (CitizenID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CitizenID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid citizen id")
	}
	if u == uuid.Nil {
		return CitizenID{}, dErrors.New(dErrors.CodeInvalidInput, "citizen id must not be nil")
	}
	return CitizenID(u), nil
}

// NewCitizenID returns a fresh random citizen id.
func NewCitizenID() CitizenID { return CitizenID(uuid.New()) }

func (id CitizenID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id CitizenID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseTransferID validates and returns a TransferID.
func ParseTransferID(s string) (TransferID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransferID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid transfer id")
	}
	return TransferID(u), nil
}

// NewTransferID returns a fresh random transfer id.
func NewTransferID() TransferID { return TransferID(uuid.New()) }

func (id TransferID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id TransferID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParsePaymentID validates and returns a PaymentID.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PaymentID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid payment id")
	}
	return PaymentID(u), nil
}

// NewPaymentID returns a fresh random payment id.
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

func (id PaymentID) String() string { return uuid.UUID(id).String() }

// GroupID identifies a membership circle (family or organizational).
type GroupID uuid.UUID

// NewGroupID returns a fresh random group id.
func NewGroupID() GroupID { return GroupID(uuid.New()) }

// ParseGroupID validates and returns a GroupID.
func ParseGroupID(s string) (GroupID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid group id")
	}
	return GroupID(u), nil
}

func (id GroupID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id GroupID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// FederationID identifies a federation of groups.
type FederationID uuid.UUID

// NewFederationID returns a fresh random federation id.
func NewFederationID() FederationID { return FederationID(uuid.New()) }

// ParseFederationID validates and returns a FederationID.
func ParseFederationID(s string) (FederationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return FederationID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid federation id")
	}
	return FederationID(u), nil
}

func (id FederationID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the id is the zero UUID.
func (id FederationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// AccountRef is the opaque external reference bound 1:1 to an account at
// creation. All externally-visible logs and records carry the ref, never the
// citizen id (privacy firewall).
type AccountRef string

const accountRefPrefix = "ALT"

// NewAccountRef generates an opaque account reference.
func NewAccountRef() AccountRef {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the OS entropy source is broken;
		// fall back to a UUID rather than panic.
		return AccountRef(fmt.Sprintf("%s-%s", accountRefPrefix, uuid.NewString()))
	}
	return AccountRef(fmt.Sprintf("%s-%s", accountRefPrefix, hex.EncodeToString(buf)))
}

// ParseAccountRef validates an externally supplied ref.
func ParseAccountRef(s string) (AccountRef, error) {
	if !strings.HasPrefix(s, accountRefPrefix+"-") || len(s) <= len(accountRefPrefix)+1 {
		return "", fmt.Errorf("invalid account ref %q", s)
	}
	return AccountRef(s), nil
}

func (r AccountRef) String() string { return string(r) }

// IsZero reports whether the ref is unset.
func (r AccountRef) IsZero() bool { return r == "" }

// Short returns a truncated form safe for log lines.
func (r AccountRef) Short() string {
	if len(r) <= 12 {
		return string(r)
	}
	return string(r[:12]) + "..."
}
