package allocation

import (
	"github.com/shopspring/decimal"
)

// Tier award amounts in ALTAN. Together they sum to the full per-citizen
// verification allocation of 14,483.
var (
	DefaultLevel1Amount = decimal.NewFromInt(100)
	DefaultLevel2Amount = decimal.NewFromInt(5_000)
	DefaultLevel3Amount = decimal.NewFromInt(9_383)
)

// Memos tag each tier's transfer. The (citizen, memo) pair on a completed
// transfer is the idempotency witness for that tier.
const (
	MemoLevel1 = "Verification Award Level 1"
	MemoLevel2 = "Verification Award Level 2"
	MemoLevel3 = "Verification Award Level 3"
)

// Config carries the tier amounts. The reserve account is passed to the
// service directly, resolved once at startup instead of looked up per call.
type Config struct {
	Level1Amount decimal.Decimal
	Level2Amount decimal.Decimal
	Level3Amount decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		Level1Amount: DefaultLevel1Amount,
		Level2Amount: DefaultLevel2Amount,
		Level3Amount: DefaultLevel3Amount,
	}
}
