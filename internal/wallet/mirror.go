// Package wallet mirrors ledger balances into Redis keyed by external
// account reference, giving wallet frontends a fast read path. The mirror is
// an optional projection: the ledger rows stay authoritative and a stale or
// missing mirror entry is never an error.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	id "khural/pkg/domain"
)

const keyPrefix = "wallet:balance:"

// RedisMirror pushes balances to Redis.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

type Option func(*RedisMirror)

// WithTTL bounds how long a mirrored balance may serve reads before the
// wallet falls back to the ledger. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *RedisMirror) {
		m.ttl = ttl
	}
}

func NewRedisMirror(client *redis.Client, opts ...Option) *RedisMirror {
	m := &RedisMirror{client: client}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MirrorBalance writes the balance under the account reference.
func (m *RedisMirror) MirrorBalance(ctx context.Context, ref id.AccountRef, balance decimal.Decimal) error {
	if err := m.client.Set(ctx, keyPrefix+ref.String(), balance.String(), m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror balance for %s: %w", ref.Short(), err)
	}
	return nil
}

// Balance reads a mirrored balance. Returns ok=false when the entry is
// missing or expired; callers then read the ledger.
func (m *RedisMirror) Balance(ctx context.Context, ref id.AccountRef) (decimal.Decimal, bool, error) {
	raw, err := m.client.Get(ctx, keyPrefix+ref.String()).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("read mirrored balance for %s: %w", ref.Short(), err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt mirrored balance for %s: %w", ref.Short(), err)
	}
	return balance, true, nil
}
