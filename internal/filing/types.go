// Package filing defines core types shared across subsystems.
package filing

import "time"

// SourceID identifies one of the external case sources the orchestrator
// services. The set of sources is fixed at startup by configuration.
type SourceID string

// ProtocolTag names the filing sub-variant a task belongs to. It selects
// which portal workflow the form-automation engine runs.
type ProtocolTag string

// TaskStatus represents the lifecycle state of a queued filing task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status ends a task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// AuthorizationStatus represents the state of a pending-authorization row.
type AuthorizationStatus string

// Authorization status values persisted in the authorization store.
const (
	AuthorizationPending      AuthorizationStatus = "pending"
	AuthorizationMovedToQueue AuthorizationStatus = "moved_to_queue"
	AuthorizationRejected     AuthorizationStatus = "rejected"
)

// ResourceState is the claim state of a resource in the external system.
type ResourceState string

// Resource states observed in the external case-management database.
const (
	ResourceFree    ResourceState = "free"
	ResourceClaimed ResourceState = "claimed"
)

// Resource is an external appeal case keyed by (source, resource id). It is
// owned by the external system; the orchestrator only reads it and drives
// the free-to-claimed transition.
type Resource struct {
	SourceID   SourceID
	ResourceID int64
	CaseNumber string
	State      ResourceState
	ClaimedBy  string
	Claimant   string
	Address    string
	Protocol   ProtocolTag

	// Authorization gate flags read from the external system. GESDOC-gated
	// cases park in the pending-authorization queue instead of the task
	// queue.
	NeedsAuthorization bool
	AuthorizationType  string
}

// Payload is the task payload envelope. It is stored as JSON and carries the
// raw fields the downstream portal form needs. ResourceID is the dedup key
// the task store extracts on insert.
type Payload struct {
	ResourceID int64          `json:"idRecurso"`
	CaseNumber string         `json:"expediente"`
	Claimant   string         `json:"interesado,omitempty"`
	Address    string         `json:"domicilio,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ClaimedCandidate pairs a resource with its built payload after a confirmed
// external claim. Only claimed candidates are ever persisted, which makes the
// non-transactional claim-then-enqueue gap explicit: a crash between the
// claim and the insert leaves the resource claimed externally but unqueued,
// and the next discovery pass re-surfaces it.
type ClaimedCandidate struct {
	Resource Resource
	Protocol ProtocolTag
	Payload  Payload

	// Authorization gate. When NeedsAuthorization is set the candidate is
	// routed to the pending-authorization queue instead of the task queue.
	NeedsAuthorization  bool
	AuthorizationType   string
	AuthorizationReason string
}

// Task is the local durable unit of queued work derived from a claimed
// resource. Rows are soft-retained for audit and never hard-deleted.
type Task struct {
	ID           string      `json:"id"`
	SourceID     SourceID    `json:"source_id"`
	Protocol     ProtocolTag `json:"protocol"`
	ResourceID   *int64      `json:"resource_id,omitempty"`
	Payload      Payload     `json:"payload"`
	Status       TaskStatus  `json:"status"`
	Attempts     int         `json:"attempts"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
	Result       string      `json:"result,omitempty"`
	ErrorLog     string      `json:"error_log,omitempty"`
	ArtifactPath string      `json:"artifact_path,omitempty"`
}

// PendingTask is the claimed view handed to the worker loop.
type PendingTask struct {
	ID       string
	SourceID SourceID
	Protocol ProtocolTag
	Payload  Payload
	Attempts int
}

// TaskOutcome is the terminal write applied by the worker loop.
type TaskOutcome struct {
	Result       string
	ErrorLog     string
	ArtifactPath string
}

// PendingAuthorization is a resource blocked on an external authorization
// gate. It shares the task dedup invariant and converts into exactly one
// task on approval.
type PendingAuthorization struct {
	ID                string              `json:"id"`
	SourceID          SourceID            `json:"source_id"`
	Protocol          ProtocolTag         `json:"protocol"`
	ResourceID        *int64              `json:"resource_id,omitempty"`
	Payload           Payload             `json:"payload"`
	AuthorizationType string              `json:"authorization_type"`
	Reason            string              `json:"reason"`
	Status            AuthorizationStatus `json:"status"`
	AuthorizedBy      string              `json:"authorized_by,omitempty"`
	AuthorizedAt      *time.Time          `json:"authorized_at,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// AdapterConfig is the read-only per-source tuning read at startup.
type AdapterConfig struct {
	Rank             int
	TargetQueueDepth int
	MaxRefillBatch   int
}

// EngineResult is the terminal outcome reported by the form-automation
// engine for one task.
type EngineResult struct {
	Completed    bool
	Result       string
	ErrorText    string
	Artifact     []byte
	ArtifactName string
}

// NonTerminalStatuses is the backlog filter used by the arbiter and the
// orchestrator's depth check.
var NonTerminalStatuses = []TaskStatus{TaskStatusPending, TaskStatusProcessing}
