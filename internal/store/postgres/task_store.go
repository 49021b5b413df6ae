// Package postgres provides Postgres-backed persistence for the task queue
// and the pending-authorization queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// DBPool is the seam between the stores and pgxpool, satisfied by both
// *pgxpool.Pool and pgxmock pools in tests.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool creates a pgx pool from the provided config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// TaskStore implements filing.TaskStore on Postgres. The uniqueness
// constraint on (source_id, resource_id) covers rows in every status;
// re-enqueue happens by resetting the existing row, never by a second
// insert.
type TaskStore struct {
	pool  DBPool
	idGen filing.IDGenerator
	clock filing.Clock
}

// NewTaskStore constructs a TaskStore over an existing pool.
func NewTaskStore(pool DBPool, idGen filing.IDGenerator, clock filing.Clock) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &TaskStore{pool: pool, idGen: idGen, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tasks schema when it does not exist yet.
func (s *TaskStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			protocol TEXT NOT NULL,
			resource_id BIGINT,
			payload JSONB NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			result TEXT NOT NULL DEFAULT '',
			error_log TEXT NOT NULL DEFAULT '',
			artifact_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tasks_source_resource_key
			ON tasks (source_id, resource_id) WHERE resource_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS tasks_status_created_idx
			ON tasks (status, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tasks schema: %w", err)
		}
	}
	return nil
}

const insertTaskSQL = `
INSERT INTO tasks (id, source_id, protocol, resource_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)
ON CONFLICT (source_id, resource_id) WHERE resource_id IS NOT NULL
DO UPDATE SET resource_id = EXCLUDED.resource_id
RETURNING id`

const insertTaskNoResourceSQL = `
INSERT INTO tasks (id, source_id, protocol, resource_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, NULL, $4, 'pending', 0, $5)
RETURNING id`

// Insert enqueues a task. On a (source, resource) conflict the existing
// row's id is returned unchanged, whatever its status.
func (s *TaskStore) Insert(
	ctx context.Context,
	source filing.SourceID,
	protocol filing.ProtocolTag,
	payload filing.Payload,
) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()

	var taskID string
	if payload.ResourceID == 0 {
		err = s.pool.QueryRow(ctx, insertTaskNoResourceSQL,
			id, string(source), string(protocol), payloadJSON, now,
		).Scan(&taskID)
	} else {
		err = s.pool.QueryRow(ctx, insertTaskSQL,
			id, string(source), string(protocol), payload.ResourceID, payloadJSON, now,
		).Scan(&taskID)
	}
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return taskID, nil
}

const claimPendingSQL = `
SELECT id, source_id, protocol, payload, attempts
FROM tasks
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED`

const markProcessingSQL = `
UPDATE tasks SET status = 'processing', attempts = attempts + 1 WHERE id = $1`

// GetPendingTask selects the globally oldest pending row and flips it to
// processing in the same transaction, so concurrent callers never receive
// the same id. Returns nil when the queue is empty.
func (s *TaskStore) GetPendingTask(ctx context.Context) (*filing.PendingTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		task        filing.PendingTask
		source      string
		protocol    string
		payloadJSON []byte
	)
	err = tx.QueryRow(ctx, claimPendingSQL).Scan(&task.ID, &source, &protocol, &payloadJSON, &task.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending task: %w", err)
	}
	if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal task payload: %w", err)
	}
	task.SourceID = filing.SourceID(source)
	task.Protocol = filing.ProtocolTag(protocol)

	if _, err := tx.Exec(ctx, markProcessingSQL, task.ID); err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	task.Attempts++
	return &task, nil
}

const updateStatusSQL = `
UPDATE tasks
SET status = $2, result = $3, error_log = $4, artifact_path = $5, processed_at = $6
WHERE id = $1`

// UpdateTaskStatus applies an idempotent terminal write.
func (s *TaskStore) UpdateTaskStatus(
	ctx context.Context,
	id string,
	status filing.TaskStatus,
	outcome filing.TaskOutcome,
) error {
	var processedAt *time.Time
	if status.IsTerminal() {
		now := s.clock.Now()
		processedAt = &now
	}
	tag, err := s.pool.Exec(ctx, updateStatusSQL,
		id, string(status), outcome.Result, outcome.ErrorLog, outcome.ArtifactPath, processedAt,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return filing.ErrTaskNotFound
	}
	return nil
}

const resetTaskSQL = `
UPDATE tasks
SET status = 'pending', result = '', error_log = '', artifact_path = '', processed_at = NULL
WHERE id = $1 AND status <> 'pending'`

// ResetTask returns a row to pending. Resetting an already-pending row is a
// no-op; unknown ids return filing.ErrTaskNotFound.
func (s *TaskStore) ResetTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, resetTaskSQL, id)
	if err != nil {
		return fmt.Errorf("reset task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check task exists: %w", err)
	}
	if !exists {
		return filing.ErrTaskNotFound
	}
	return nil
}

const clearQueuesSQL = `
UPDATE tasks
SET status = 'failed', error_log = 'cleared by operator', processed_at = $1
WHERE status IN ('pending', 'processing')`

// ClearQueues marks every non-terminal row failed. Rows are soft-retained
// for audit, never deleted.
func (s *TaskStore) ClearQueues(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, clearQueuesSQL, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("clear queues: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountTasks counts rows for one source in the given statuses.
func (s *TaskStore) CountTasks(ctx context.Context, source filing.SourceID, statuses ...filing.TaskStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE source_id = $1 AND status = ANY($2)`,
		string(source), statusStrings(statuses),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// CountTasksAny counts rows across all sources in the given statuses.
func (s *TaskStore) CountTasksAny(ctx context.Context, statuses ...filing.TaskStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE status = ANY($1)`,
		statusStrings(statuses),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// CountBySource returns per-source counts for the given statuses.
func (s *TaskStore) CountBySource(ctx context.Context, statuses ...filing.TaskStatus) (map[filing.SourceID]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, count(*) FROM tasks WHERE status = ANY($1) GROUP BY source_id`,
		statusStrings(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[filing.SourceID]int)
	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		counts[filing.SourceID(source)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source counts: %w", err)
	}
	return counts, nil
}

const selectTaskSQL = `
SELECT id, source_id, protocol, resource_id, payload, status, attempts,
       created_at, processed_at, result, error_log, artifact_path
FROM tasks`

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id string) (filing.Task, error) {
	row := s.pool.QueryRow(ctx, selectTaskSQL+` WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return filing.Task{}, filing.ErrTaskNotFound
	}
	if err != nil {
		return filing.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks filtered by source and status, oldest first.
// Empty filters match everything.
func (s *TaskStore) ListTasks(
	ctx context.Context,
	source filing.SourceID,
	status filing.TaskStatus,
	limit int,
) ([]filing.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		selectTaskSQL+`
WHERE ($1 = '' OR source_id = $1) AND ($2 = '' OR status = $2)
ORDER BY created_at, id
LIMIT $3`,
		string(source), string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []filing.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (filing.Task, error) {
	var (
		task        filing.Task
		source      string
		protocol    string
		status      string
		payloadJSON []byte
	)
	err := row.Scan(
		&task.ID, &source, &protocol, &task.ResourceID, &payloadJSON, &status,
		&task.Attempts, &task.CreatedAt, &task.ProcessedAt,
		&task.Result, &task.ErrorLog, &task.ArtifactPath,
	)
	if err != nil {
		return filing.Task{}, err
	}
	if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
		return filing.Task{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	task.SourceID = filing.SourceID(source)
	task.Protocol = filing.ProtocolTag(protocol)
	task.Status = filing.TaskStatus(status)
	return task, nil
}

func statusStrings(statuses []filing.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
