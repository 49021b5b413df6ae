package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memoryartifacts "github.com/rlorentegh/tramitador/internal/artifacts/memory"
	"github.com/rlorentegh/tramitador/internal/clock/system"
	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/id/uuid"
	memorypublisher "github.com/rlorentegh/tramitador/internal/publisher/memory"
	memorystore "github.com/rlorentegh/tramitador/internal/store/memory"
)

// scriptedEngine returns a canned result or error per case number.
type scriptedEngine struct {
	results map[string]filing.EngineResult
	errs    map[string]error
	calls   int
}

func (e *scriptedEngine) Execute(_ context.Context, task filing.PendingTask) (filing.EngineResult, error) {
	e.calls++
	if err, ok := e.errs[task.Payload.CaseNumber]; ok {
		return filing.EngineResult{}, err
	}
	return e.results[task.Payload.CaseNumber], nil
}

type workerFixture struct {
	worker    *Worker
	tasks     *memorystore.TaskStore
	blobs     *memoryartifacts.BlobStore
	publisher *memorypublisher.Publisher
}

func newWorkerFixture(t *testing.T, engine filing.Engine) workerFixture {
	t.Helper()

	tasks := memorystore.NewTaskStore(uuid.New(), system.New())
	blobs := memoryartifacts.New()
	publisher := memorypublisher.New()
	w, err := New(
		Config{IdleSleep: time.Millisecond, Topic: "filing-events"},
		tasks, engine, blobs, publisher, system.New(), zap.NewNop(),
	)
	require.NoError(t, err)
	return workerFixture{worker: w, tasks: tasks, blobs: blobs, publisher: publisher}
}

func enqueue(t *testing.T, tasks *memorystore.TaskStore, resourceID int64, caseNumber string) string {
	t.Helper()
	id, err := tasks.Insert(context.Background(), "x", "ordinary", filing.Payload{
		ResourceID: resourceID,
		CaseNumber: caseNumber,
	})
	require.NoError(t, err)
	return id
}

func TestProcessTaskCompletesAndStoresArtifact(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{results: map[string]filing.EngineResult{
		"RRC-2024/000001": {
			Completed:    true,
			Result:       "presentado correctamente",
			Artifact:     []byte("png-bytes"),
			ArtifactName: "resultado.png",
		},
	}}
	fx := newWorkerFixture(t, engine)
	ctx := context.Background()
	id := enqueue(t, fx.tasks, 1, "RRC-2024/000001")

	pending, err := fx.tasks.GetPendingTask(ctx)
	require.NoError(t, err)
	fx.worker.ProcessTask(ctx, *pending)

	task, err := fx.tasks.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusCompleted, task.Status)
	require.Equal(t, "presentado correctamente", task.Result)
	require.NotNil(t, task.ProcessedAt)

	expectedPath := fmt.Sprintf("x/%s/resultado.png", id)
	require.Equal(t, "mem://"+expectedPath, task.ArtifactPath)
	data, ok := fx.blobs.Get(expectedPath)
	require.True(t, ok)
	require.Equal(t, []byte("png-bytes"), data)

	messages := fx.publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "filing-events", messages[0].Topic)
	event, ok := messages[0].Payload.(CompletionEvent)
	require.True(t, ok)
	require.Equal(t, id, event.TaskID)
	require.Equal(t, int64(1), event.ResourceID)
	require.Equal(t, filing.TaskStatusCompleted, event.Status)
}

func TestProcessTaskFailsOnEngineError(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{errs: map[string]error{
		"RRC-2024/000002": fmt.Errorf("portal unreachable"),
	}}
	fx := newWorkerFixture(t, engine)
	ctx := context.Background()
	id := enqueue(t, fx.tasks, 2, "RRC-2024/000002")

	pending, err := fx.tasks.GetPendingTask(ctx)
	require.NoError(t, err)
	fx.worker.ProcessTask(ctx, *pending)

	task, err := fx.tasks.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusFailed, task.Status)
	require.Contains(t, task.ErrorLog, "portal unreachable")
	require.Empty(t, task.ArtifactPath)
}

func TestProcessTaskFailsOnRejectedFiling(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{results: map[string]filing.EngineResult{
		"RRC-2024/000003": {
			Completed: false,
			ErrorText: "ha ocurrido un error",
			Artifact:  []byte("error-shot"),
		},
	}}
	fx := newWorkerFixture(t, engine)
	ctx := context.Background()
	id := enqueue(t, fx.tasks, 3, "RRC-2024/000003")

	pending, err := fx.tasks.GetPendingTask(ctx)
	require.NoError(t, err)
	fx.worker.ProcessTask(ctx, *pending)

	task, err := fx.tasks.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusFailed, task.Status)
	require.Equal(t, "ha ocurrido un error", task.ErrorLog)
	// Failure artifacts are kept too.
	require.NotEmpty(t, task.ArtifactPath)
}

func TestRunDrainsQueueInOrder(t *testing.T) {
	t.Parallel()

	engine := &scriptedEngine{results: map[string]filing.EngineResult{
		"RRC-2024/000001": {Completed: true},
		"RRC-2024/000002": {Completed: true},
		"RRC-2024/000003": {Completed: true},
	}}
	fx := newWorkerFixture(t, engine)

	for i := int64(1); i <= 3; i++ {
		enqueue(t, fx.tasks, i, fmt.Sprintf("RRC-2024/%06d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		count, err := fx.tasks.CountTasksAny(context.Background(), filing.TaskStatusCompleted)
		return err == nil && count == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 3, engine.calls)
	require.Len(t, fx.publisher.Messages(), 3)
}

func TestWorkerRequiresPositiveIdleSleep(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, memorystore.NewTaskStore(uuid.New(), system.New()), &scriptedEngine{}, nil, nil, system.New(), zap.NewNop())
	require.Error(t, err)
}
