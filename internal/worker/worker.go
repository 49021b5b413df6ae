// Package worker drives the single-consumer processing loop over the task
// queue.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
)

// Config carries the worker loop tuning.
type Config struct {
	// IdleSleep is the pause after an empty dequeue or a store error.
	IdleSleep time.Duration
	// Topic is the completion-event topic. Empty disables publishing.
	Topic string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IdleSleep <= 0 {
		return fmt.Errorf("worker idle sleep must be positive")
	}
	return nil
}

// CompletionEvent is the message published after each terminal write.
type CompletionEvent struct {
	TaskID       string             `json:"task_id"`
	SourceID     filing.SourceID    `json:"source_id"`
	ResourceID   int64              `json:"resource_id,omitempty"`
	Protocol     filing.ProtocolTag `json:"protocol"`
	Status       filing.TaskStatus  `json:"status"`
	Result       string             `json:"result,omitempty"`
	ErrorLog     string             `json:"error_log,omitempty"`
	ArtifactPath string             `json:"artifact_path,omitempty"`
	ProcessedAt  time.Time          `json:"processed_at"`
}

// Worker is the single consumer of the task queue. Exactly one Worker runs
// per deployment; concurrency safety comes from the store's atomic claim, not
// from anything here.
type Worker struct {
	cfg       Config
	tasks     filing.TaskStore
	engine    filing.Engine
	blobs     filing.BlobStore
	publisher filing.Publisher
	clock     filing.Clock
	logger    *zap.Logger
}

// New builds a Worker. The blob store and publisher are optional.
func New(
	cfg Config,
	tasks filing.TaskStore,
	engine filing.Engine,
	blobs filing.BlobStore,
	publisher filing.Publisher,
	clock filing.Clock,
	logger *zap.Logger,
) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tasks == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Worker{
		cfg:       cfg,
		tasks:     tasks,
		engine:    engine,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run consumes tasks until the context is canceled. Store errors put the
// loop to sleep for a beat instead of crashing it.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Duration("idle_sleep", w.cfg.IdleSleep))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped")
			return err
		}

		task, err := w.tasks.GetPendingTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			w.idle(ctx)
			continue
		}
		if task == nil {
			w.idle(ctx)
			continue
		}
		w.ProcessTask(ctx, *task)
	}
}

// ProcessTask runs one task end to end: execute the portal workflow, persist
// the artifact, apply the terminal write, publish the completion event.
func (w *Worker) ProcessTask(ctx context.Context, task filing.PendingTask) {
	w.logger.Info("processing task",
		zap.String("task_id", task.ID),
		zap.String("source", string(task.SourceID)),
		zap.String("case_number", task.Payload.CaseNumber),
		zap.Int("attempts", task.Attempts),
	)

	status := filing.TaskStatusFailed
	outcome := filing.TaskOutcome{}

	result, err := w.engine.Execute(ctx, task)
	switch {
	case err != nil:
		outcome.ErrorLog = err.Error()
		w.logger.Error("engine execution failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	case result.Completed:
		status = filing.TaskStatusCompleted
		outcome.Result = result.Result
	default:
		outcome.Result = result.Result
		outcome.ErrorLog = result.ErrorText
	}

	if len(result.Artifact) > 0 {
		outcome.ArtifactPath = w.storeArtifact(ctx, task, result)
	}

	if err := w.tasks.UpdateTaskStatus(ctx, task.ID, status, outcome); err != nil {
		w.logger.Error("terminal write failed, task stays in processing",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveTaskProcessed(string(status))
	w.publishCompletion(ctx, task, status, outcome)
}

func (w *Worker) storeArtifact(ctx context.Context, task filing.PendingTask, result filing.EngineResult) string {
	if w.blobs == nil {
		return ""
	}
	name := result.ArtifactName
	if name == "" {
		name = "artifact.bin"
	}
	path := fmt.Sprintf("%s/%s/%s", task.SourceID, task.ID, name)
	uri, err := w.blobs.PutObject(ctx, path, http.DetectContentType(result.Artifact), result.Artifact)
	if err != nil {
		w.logger.Warn("artifact upload failed, task outcome kept without it",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return ""
	}
	return uri
}

func (w *Worker) publishCompletion(ctx context.Context, task filing.PendingTask, status filing.TaskStatus, outcome filing.TaskOutcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := CompletionEvent{
		TaskID:       task.ID,
		SourceID:     task.SourceID,
		ResourceID:   task.Payload.ResourceID,
		Protocol:     task.Protocol,
		Status:       status,
		Result:       outcome.Result,
		ErrorLog:     outcome.ErrorLog,
		ArtifactPath: outcome.ArtifactPath,
		ProcessedAt:  w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("completion event publish failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
