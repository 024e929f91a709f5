package anchor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Source yields the leaf payloads to commit for one category since a cutoff.
// Payloads are opaque strings (record hashes, serialized summaries); the
// service never inspects them.
type Source interface {
	Leaves(ctx context.Context, category Category, since time.Time) ([]string, error)
}

// Recorder accepts anchorable payloads from the rest of the platform.
type Recorder interface {
	Record(ctx context.Context, category Category, payload string, at time.Time) error
}

// =============================================================================
// In-Memory Source
// =============================================================================

type memoryRecord struct {
	payload string
	at      time.Time
}

// InMemorySource is a Source for tests and single-process deployments.
type InMemorySource struct {
	mu      sync.RWMutex
	records map[Category][]memoryRecord
}

func NewInMemorySource() *InMemorySource {
	return &InMemorySource{records: make(map[Category][]memoryRecord)}
}

func (s *InMemorySource) Record(_ context.Context, category Category, payload string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[category] = append(s.records[category], memoryRecord{payload: payload, at: at.UTC()})
	return nil
}

func (s *InMemorySource) Leaves(_ context.Context, category Category, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var leaves []string
	for _, rec := range s.records[category] {
		if rec.at.Before(since) {
			continue
		}
		leaves = append(leaves, rec.payload)
	}
	return leaves, nil
}

// =============================================================================
// Postgres Source
// =============================================================================

// PostgresSource reads anchorable records from the anchor_records table.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Record(ctx context.Context, category Category, payload string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anchor_records (category, payload, created_at)
		VALUES ($1, $2, $3)`,
		category.String(), payload, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert anchor record: %w", err)
	}
	return nil
}

func (s *PostgresSource) Leaves(ctx context.Context, category Category, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM anchor_records
		WHERE category = $1 AND created_at >= $2
		ORDER BY created_at`,
		category.String(), since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query anchor records: %w", err)
	}
	defer rows.Close()

	var leaves []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan anchor record: %w", err)
		}
		leaves = append(leaves, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anchor records: %w", err)
	}
	return leaves, nil
}
