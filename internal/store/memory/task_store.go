// Package memory provides store implementations for local development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// TaskStore is an in-memory filing.TaskStore. A single mutex serializes all
// writes, which is what gives GetPendingTask its at-most-one-claim property.
type TaskStore struct {
	mu    sync.Mutex
	idGen filing.IDGenerator
	clock filing.Clock
	tasks map[string]*filing.Task
	seq   int64
	order map[string]int64
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(idGen filing.IDGenerator, clock filing.Clock) *TaskStore {
	return &TaskStore{
		idGen: idGen,
		clock: clock,
		tasks: make(map[string]*filing.Task),
		order: make(map[string]int64),
	}
}

// Insert enqueues a task, returning the existing row's id on a
// (source, resource) conflict.
func (s *TaskStore) Insert(
	_ context.Context,
	source filing.SourceID,
	protocol filing.ProtocolTag,
	payload filing.Payload,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.ResourceID != 0 {
		for _, task := range s.tasks {
			if task.SourceID == source && task.ResourceID != nil && *task.ResourceID == payload.ResourceID {
				return task.ID, nil
			}
		}
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return "", err
	}
	task := &filing.Task{
		ID:        id,
		SourceID:  source,
		Protocol:  protocol,
		Payload:   payload,
		Status:    filing.TaskStatusPending,
		CreatedAt: s.clock.Now(),
	}
	if payload.ResourceID != 0 {
		rid := payload.ResourceID
		task.ResourceID = &rid
	}
	s.seq++
	s.tasks[id] = task
	s.order[id] = s.seq
	return id, nil
}

// GetPendingTask claims the oldest pending task under the store mutex.
func (s *TaskStore) GetPendingTask(_ context.Context) (*filing.PendingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *filing.Task
	for _, task := range s.tasks {
		if task.Status != filing.TaskStatusPending {
			continue
		}
		if oldest == nil || s.before(task, oldest) {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = filing.TaskStatusProcessing
	oldest.Attempts++
	return &filing.PendingTask{
		ID:       oldest.ID,
		SourceID: oldest.SourceID,
		Protocol: oldest.Protocol,
		Payload:  oldest.Payload,
		Attempts: oldest.Attempts,
	}, nil
}

func (s *TaskStore) before(a, b *filing.Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return s.order[a.ID] < s.order[b.ID]
}

// UpdateTaskStatus applies an idempotent terminal write.
func (s *TaskStore) UpdateTaskStatus(
	_ context.Context,
	id string,
	status filing.TaskStatus,
	outcome filing.TaskOutcome,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return filing.ErrTaskNotFound
	}
	task.Status = status
	task.Result = outcome.Result
	task.ErrorLog = outcome.ErrorLog
	task.ArtifactPath = outcome.ArtifactPath
	if status.IsTerminal() {
		now := s.clock.Now()
		task.ProcessedAt = &now
	}
	return nil
}

// ResetTask returns a non-pending row to pending.
func (s *TaskStore) ResetTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return filing.ErrTaskNotFound
	}
	if task.Status == filing.TaskStatusPending {
		return nil
	}
	task.Status = filing.TaskStatusPending
	task.Result = ""
	task.ErrorLog = ""
	task.ArtifactPath = ""
	task.ProcessedAt = nil
	return nil
}

// ClearQueues fails every non-terminal row, retaining it for audit.
func (s *TaskStore) ClearQueues(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	now := s.clock.Now()
	for _, task := range s.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		task.Status = filing.TaskStatusFailed
		task.ErrorLog = "cleared by operator"
		processedAt := now
		task.ProcessedAt = &processedAt
		cleared++
	}
	return cleared, nil
}

// CountTasks counts rows for one source in the given statuses.
func (s *TaskStore) CountTasks(_ context.Context, source filing.SourceID, statuses ...filing.TaskStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.SourceID == source && statusIn(task.Status, statuses) {
			count++
		}
	}
	return count, nil
}

// CountTasksAny counts rows across all sources in the given statuses.
func (s *TaskStore) CountTasksAny(_ context.Context, statuses ...filing.TaskStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if statusIn(task.Status, statuses) {
			count++
		}
	}
	return count, nil
}

// CountBySource returns per-source counts for the given statuses.
func (s *TaskStore) CountBySource(_ context.Context, statuses ...filing.TaskStatus) (map[filing.SourceID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[filing.SourceID]int)
	for _, task := range s.tasks {
		if statusIn(task.Status, statuses) {
			counts[task.SourceID]++
		}
	}
	return counts, nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(_ context.Context, id string) (filing.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return filing.Task{}, filing.ErrTaskNotFound
	}
	return *task, nil
}

// ListTasks returns filtered tasks, oldest first.
func (s *TaskStore) ListTasks(
	_ context.Context,
	source filing.SourceID,
	status filing.TaskStatus,
	limit int,
) ([]filing.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var tasks []filing.Task
	for _, task := range s.tasks {
		if source != "" && task.SourceID != source {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return s.order[tasks[i].ID] < s.order[tasks[j].ID]
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func statusIn(status filing.TaskStatus, statuses []filing.TaskStatus) bool {
	for _, s := range statuses {
		if status == s {
			return true
		}
	}
	return false
}
