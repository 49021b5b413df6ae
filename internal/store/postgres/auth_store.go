package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// AuthorizationStore implements filing.AuthorizationStore on Postgres. It
// shares the pool and the (source_id, resource_id) dedup invariant with the
// task store.
type AuthorizationStore struct {
	pool  DBPool
	idGen filing.IDGenerator
	clock filing.Clock
}

// NewAuthorizationStore constructs an AuthorizationStore over an existing pool.
func NewAuthorizationStore(pool DBPool, idGen filing.IDGenerator, clock filing.Clock) (*AuthorizationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &AuthorizationStore{pool: pool, idGen: idGen, clock: clock}, nil
}

// Migrate creates the pending_authorizations schema when missing.
func (s *AuthorizationStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pending_authorizations (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			protocol TEXT NOT NULL,
			resource_id BIGINT,
			payload JSONB NOT NULL,
			authorization_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			authorized_by TEXT NOT NULL DEFAULT '',
			authorized_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS pending_auth_source_resource_key
			ON pending_authorizations (source_id, resource_id) WHERE resource_id IS NOT NULL`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate pending_authorizations schema: %w", err)
		}
	}
	return nil
}

const insertPendingSQL = `
INSERT INTO pending_authorizations
	(id, source_id, protocol, resource_id, payload, authorization_type, reason, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
ON CONFLICT (source_id, resource_id) WHERE resource_id IS NOT NULL
DO UPDATE SET resource_id = EXCLUDED.resource_id
RETURNING id`

// InsertPending parks a resource behind its authorization gate. The dedup
// behavior mirrors TaskStore.Insert.
func (s *AuthorizationStore) InsertPending(
	ctx context.Context,
	source filing.SourceID,
	protocol filing.ProtocolTag,
	payload filing.Payload,
	authType, reason string,
) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate authorization id: %w", err)
	}
	var resourceID *int64
	if payload.ResourceID != 0 {
		resourceID = &payload.ResourceID
	}

	var rowID string
	err = s.pool.QueryRow(ctx, insertPendingSQL,
		id, string(source), string(protocol), resourceID, payloadJSON, authType, reason, s.clock.Now(),
	).Scan(&rowID)
	if err != nil {
		return "", fmt.Errorf("insert pending authorization: %w", err)
	}
	return rowID, nil
}

const lockPendingSQL = `
SELECT source_id, protocol, payload, status
FROM pending_authorizations
WHERE id = $1
FOR UPDATE`

const markMovedSQL = `
UPDATE pending_authorizations
SET status = 'moved_to_queue', authorized_by = $2, authorized_at = $3
WHERE id = $1`

// Authorize promotes a pending row into exactly one task, in a single
// transaction. A second call on an already-resolved id is a no-op returning
// an empty task id.
func (s *AuthorizationStore) Authorize(ctx context.Context, id, authorizedBy string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin authorize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		source      string
		protocol    string
		payloadJSON []byte
		status      string
	)
	err = tx.QueryRow(ctx, lockPendingSQL, id).Scan(&source, &protocol, &payloadJSON, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", filing.ErrAuthorizationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select pending authorization: %w", err)
	}
	if filing.AuthorizationStatus(status) != filing.AuthorizationPending {
		return "", tx.Commit(ctx)
	}

	var payload filing.Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return "", fmt.Errorf("unmarshal authorization payload: %w", err)
	}

	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	var created string
	if payload.ResourceID == 0 {
		err = tx.QueryRow(ctx, insertTaskNoResourceSQL,
			taskID, source, protocol, payloadJSON, s.clock.Now(),
		).Scan(&created)
	} else {
		err = tx.QueryRow(ctx, insertTaskSQL,
			taskID, source, protocol, payload.ResourceID, payloadJSON, s.clock.Now(),
		).Scan(&created)
	}
	if err != nil {
		return "", fmt.Errorf("insert task from authorization: %w", err)
	}

	if _, err := tx.Exec(ctx, markMovedSQL, id, authorizedBy, s.clock.Now()); err != nil {
		return "", fmt.Errorf("mark authorization moved: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit authorize tx: %w", err)
	}
	return created, nil
}

const rejectPendingSQL = `
UPDATE pending_authorizations
SET status = 'rejected', notes = $2
WHERE id = $1 AND status = 'pending'`

// Reject marks a pending row rejected. Resolved rows are left untouched.
func (s *AuthorizationStore) Reject(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, rejectPendingSQL, id, reason)
	if err != nil {
		return fmt.Errorf("reject pending authorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pending_authorizations WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check authorization exists: %w", err)
		}
		if !exists {
			return filing.ErrAuthorizationNotFound
		}
	}
	return nil
}

const listPendingSQL = `
SELECT id, source_id, protocol, resource_id, payload, authorization_type,
       reason, status, authorized_by, authorized_at, notes, created_at
FROM pending_authorizations
WHERE status = 'pending'
ORDER BY created_at, id`

// ListPending returns unresolved rows, oldest first.
func (s *AuthorizationStore) ListPending(ctx context.Context) ([]filing.PendingAuthorization, error) {
	rows, err := s.pool.Query(ctx, listPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("list pending authorizations: %w", err)
	}
	defer rows.Close()

	var pending []filing.PendingAuthorization
	for rows.Next() {
		var (
			p           filing.PendingAuthorization
			source      string
			protocol    string
			status      string
			payloadJSON []byte
		)
		err := rows.Scan(
			&p.ID, &source, &protocol, &p.ResourceID, &payloadJSON, &p.AuthorizationType,
			&p.Reason, &status, &p.AuthorizedBy, &p.AuthorizedAt, &p.Notes, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending authorization: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal authorization payload: %w", err)
		}
		p.SourceID = filing.SourceID(source)
		p.Protocol = filing.ProtocolTag(protocol)
		p.Status = filing.AuthorizationStatus(status)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending authorizations: %w", err)
	}
	return pending, nil
}
