package filing

import (
	"context"
	"time"
)

// TaskStore persists filing tasks and provides the atomic claim the worker
// loop depends on. Implementations must uphold two invariants: at most one
// active task per (source, resource) key, and at most one caller ever holds
// a given pending task.
type TaskStore interface {
	// Insert enqueues a task, extracting the dedup key from the payload.
	// If a row for (source, payload.ResourceID) already exists, the existing
	// row's id is returned and no duplicate is created.
	Insert(ctx context.Context, source SourceID, protocol ProtocolTag, payload Payload) (string, error)
	// GetPendingTask atomically selects the oldest pending row and flips it
	// to processing. It returns nil when no work is available.
	GetPendingTask(ctx context.Context) (*PendingTask, error)
	// UpdateTaskStatus applies an idempotent terminal write.
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, outcome TaskOutcome) error
	// ResetTask returns a non-pending row to pending so it becomes eligible
	// for dequeue again. This is the only re-enqueue mechanism.
	ResetTask(ctx context.Context, id string) error
	// ClearQueues marks every non-terminal row failed. Rows are retained.
	ClearQueues(ctx context.Context) (int64, error)
	CountTasks(ctx context.Context, source SourceID, statuses ...TaskStatus) (int, error)
	CountTasksAny(ctx context.Context, statuses ...TaskStatus) (int, error)
	// CountBySource returns per-source counts for the given statuses; the
	// arbiter consumes this.
	CountBySource(ctx context.Context, statuses ...TaskStatus) (map[SourceID]int, error)
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, source SourceID, status TaskStatus, limit int) ([]Task, error)
}

// AuthorizationStore persists resources blocked on an external authorization
// gate, with the same dedup invariant as the task store.
type AuthorizationStore interface {
	InsertPending(ctx context.Context, source SourceID, protocol ProtocolTag, payload Payload, authType, reason string) (string, error)
	// Authorize atomically creates exactly one task from the stored payload
	// and flips the row to moved_to_queue. Calling it on an already-resolved
	// row is a no-op returning an empty task id.
	Authorize(ctx context.Context, id, authorizedBy string) (string, error)
	Reject(ctx context.Context, id, reason string) error
	ListPending(ctx context.Context) ([]PendingAuthorization, error)
}

// ClaimClient performs the authenticated external claim. Re-claiming a
// resource already owned by this identity is a no-op success; ownership by a
// different identity is ErrOwnershipConflict and never retried.
type ClaimClient interface {
	Claim(ctx context.Context, resourceID int64, caseNumber string) error
	Identity() string
}

// SiteAdapter is the per-source strategy: discover candidates, claim them,
// and build task payloads.
type SiteAdapter interface {
	Source() SourceID
	// FetchCandidates returns eligible resources ordered free before
	// claimed-by-self. Adapters may repair malformed case identifiers in the
	// external system as a logged, idempotent side effect of discovery.
	FetchCandidates(ctx context.Context, limit int) ([]Resource, error)
	// EnsureClaimed delegates to the claim client unless the resource is
	// already claimed by this identity.
	EnsureClaimed(ctx context.Context, res Resource) error
	// BuildPayloads converts claimed resources into candidates. Enrichment
	// failures fall back to a deterministic local transform and never block.
	BuildPayloads(ctx context.Context, claimed []Resource) []ClaimedCandidate
}

// Engine is the external form-automation collaborator. It runs one portal
// workflow for a task and returns a terminal outcome.
type Engine interface {
	Execute(ctx context.Context, task PendingTask) (EngineResult, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
