// Package anchor implements the state anchor service: weekly Merkle
// commitments of sensitive record batches to an external distributed ledger.
// Only the outcome of each publish is persisted, to the append-only audit
// log; the batches themselves are ephemeral.
package anchor

// Category tags one anchorable record stream. The numeric codes mirror the
// external ledger contract's anchor-type enum and must not be reordered.
type Category int

const (
	CategoryVoteBatch Category = iota
	CategoryElectionResult
	CategorySignedLaw
	CategoryEmissionDecision
	CategoryVerificationBatch
	CategoryGeneral
)

var categoryNames = map[Category]string{
	CategoryVoteBatch:         "VOTE_BATCH",
	CategoryElectionResult:    "ELECTION_RESULT",
	CategorySignedLaw:         "SIGNED_LAW",
	CategoryEmissionDecision:  "EMISSION_DECISION",
	CategoryVerificationBatch: "VERIFICATION_BATCH",
	CategoryGeneral:           "GENERAL",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// batchCategories are the streams the weekly run anchors, in publish order.
var batchCategories = []Category{
	CategoryVoteBatch,
	CategoryElectionResult,
	CategorySignedLaw,
	CategoryEmissionDecision,
	CategoryVerificationBatch,
}
