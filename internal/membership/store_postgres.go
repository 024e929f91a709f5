package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	id "khural/pkg/domain"
	"khural/pkg/platform/sentinel"
)

// PostgresStore persists the registry in PostgreSQL. Group rosters and
// federation membership live in child tables written in the same transaction
// as the parent row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) UpsertCitizen(ctx context.Context, citizen Citizen) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO citizens (citizen_id, level, is_system, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (citizen_id) DO UPDATE SET level = EXCLUDED.level, is_system = EXCLUDED.is_system
	`, citizen.ID.String(), string(citizen.Level), citizen.System, citizen.RegisteredAt)
	if err != nil {
		return fmt.Errorf("upsert citizen: %w", err)
	}
	return nil
}

func (s *PostgresStore) Citizen(ctx context.Context, citizenID id.CitizenID) (Citizen, error) {
	var (
		citizen Citizen
		rawID   string
		level   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT citizen_id, level, is_system, registered_at FROM citizens WHERE citizen_id = $1
	`, citizenID.String()).Scan(&rawID, &level, &citizen.System, &citizen.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Citizen{}, sentinel.ErrNotFound
		}
		return Citizen{}, fmt.Errorf("query citizen: %w", err)
	}
	parsed, err := id.ParseCitizenID(rawID)
	if err != nil {
		return Citizen{}, fmt.Errorf("corrupt citizen id %q: %w", rawID, err)
	}
	citizen.ID = parsed
	citizen.Level = VerificationLevel(level)
	return citizen, nil
}

func (s *PostgresStore) ListByMinLevel(ctx context.Context, level VerificationLevel) ([]Citizen, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT citizen_id, level, is_system, registered_at
		FROM citizens
		WHERE is_system = FALSE
		ORDER BY citizen_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query citizens: %w", err)
	}
	defer rows.Close()

	var out []Citizen
	for rows.Next() {
		var (
			citizen  Citizen
			rawID    string
			rawLevel string
		)
		if err := rows.Scan(&rawID, &rawLevel, &citizen.System, &citizen.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan citizen: %w", err)
		}
		parsed, err := id.ParseCitizenID(rawID)
		if err != nil {
			return nil, fmt.Errorf("corrupt citizen id %q: %w", rawID, err)
		}
		citizen.ID = parsed
		citizen.Level = VerificationLevel(rawLevel)
		// Level ordering is domain knowledge, filter here instead of SQL.
		if citizen.Level.AtLeast(level) {
			out = append(out, citizen)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citizens: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveGroup(ctx context.Context, group Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save group: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var husband, wife sql.NullString
	if group.Kind == GroupFamily {
		husband = sql.NullString{String: group.Husband.String(), Valid: true}
		wife = sql.NullString{String: group.Wife.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, kind, husband_id, wife_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID.String(), string(group.Kind), husband, wife, group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert group: %w", err)
	}

	roster := group.Children
	if group.Kind == GroupOrganizational {
		roster = group.Members
	}
	for _, member := range roster {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, citizen_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, group.ID.String(), member.String())
		if err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save group: %w", err)
	}
	return nil
}

func (s *PostgresStore) Group(ctx context.Context, groupID id.GroupID) (Group, error) {
	var (
		group         Group
		rawID, kind   string
		husband, wife sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, husband_id, wife_id, created_at FROM groups WHERE id = $1
	`, groupID.String()).Scan(&rawID, &kind, &husband, &wife, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, sentinel.ErrNotFound
		}
		return Group{}, fmt.Errorf("query group: %w", err)
	}

	parsed, err := id.ParseGroupID(rawID)
	if err != nil {
		return Group{}, fmt.Errorf("corrupt group id %q: %w", rawID, err)
	}
	group.ID = parsed
	group.Kind = GroupKind(kind)
	if husband.Valid {
		if group.Husband, err = id.ParseCitizenID(husband.String); err != nil {
			return Group{}, fmt.Errorf("corrupt husband id: %w", err)
		}
	}
	if wife.Valid {
		if group.Wife, err = id.ParseCitizenID(wife.String); err != nil {
			return Group{}, fmt.Errorf("corrupt wife id: %w", err)
		}
	}

	roster, err := s.groupRoster(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if group.Kind == GroupFamily {
		group.Children = roster
	} else {
		group.Members = roster
	}
	return group, nil
}

func (s *PostgresStore) groupRoster(ctx context.Context, groupID id.GroupID) ([]id.CitizenID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT citizen_id FROM group_members WHERE group_id = $1 ORDER BY citizen_id
	`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("query group roster: %w", err)
	}
	defer rows.Close()

	var out []id.CitizenID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		member, err := id.ParseCitizenID(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt roster citizen id %q: %w", raw, err)
		}
		out = append(out, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveFederation(ctx context.Context, federation Federation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save federation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO federations (id, name, created_at) VALUES ($1, $2, $3)
	`, federation.ID.String(), federation.Name, federation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert federation: %w", err)
	}

	for _, groupID := range federation.Groups {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO federation_groups (federation_id, group_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, federation.ID.String(), groupID.String())
		if err != nil {
			return fmt.Errorf("insert federation group: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save federation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Federation(ctx context.Context, federationID id.FederationID) (Federation, error) {
	var (
		federation Federation
		rawID      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM federations WHERE id = $1
	`, federationID.String()).Scan(&rawID, &federation.Name, &federation.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Federation{}, sentinel.ErrNotFound
		}
		return Federation{}, fmt.Errorf("query federation: %w", err)
	}
	parsed, err := id.ParseFederationID(rawID)
	if err != nil {
		return Federation{}, fmt.Errorf("corrupt federation id %q: %w", rawID, err)
	}
	federation.ID = parsed

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM federation_groups WHERE federation_id = $1 ORDER BY group_id
	`, federationID.String())
	if err != nil {
		return Federation{}, fmt.Errorf("query federation groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return Federation{}, fmt.Errorf("scan federation group: %w", err)
		}
		groupID, err := id.ParseGroupID(raw)
		if err != nil {
			return Federation{}, fmt.Errorf("corrupt federation group id %q: %w", raw, err)
		}
		federation.Groups = append(federation.Groups, groupID)
	}
	if err := rows.Err(); err != nil {
		return Federation{}, fmt.Errorf("iterate federation groups: %w", err)
	}
	return federation, nil
}
