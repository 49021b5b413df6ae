package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlorentegh/tramitador/internal/filing"
)

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestStore() *TaskStore {
	return NewTaskStore(&seqIDGen{}, newTickClock())
}

func TestInsertDeduplicatesOnSourceAndResource(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	payload := filing.Payload{ResourceID: 100, CaseNumber: "RRC-2024/000100"}

	first, err := store.Insert(ctx, "x", "ordinary", payload)
	require.NoError(t, err)

	second, err := store.Insert(ctx, "x", "ordinary", payload)
	require.NoError(t, err)
	require.Equal(t, first, second)

	count, err := store.CountTasks(ctx, "x", filing.TaskStatusPending)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Same resource id under a different source is a distinct task.
	other, err := store.Insert(ctx, "y", "ordinary", payload)
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestInsertDedupCoversProcessedRows(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	payload := filing.Payload{ResourceID: 7, CaseNumber: "RRC-2024/000007"}

	id, err := store.Insert(ctx, "x", "ordinary", payload)
	require.NoError(t, err)

	claimed, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpdateTaskStatus(ctx, claimed.ID, filing.TaskStatusCompleted, filing.TaskOutcome{Result: "done"}))

	// Re-discovering the same resource must not create a second row.
	again, err := store.Insert(ctx, "x", "ordinary", payload)
	require.NoError(t, err)
	require.Equal(t, id, again)

	pending, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestGetPendingTaskIsFIFO(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	var want []string
	for i := int64(1); i <= 5; i++ {
		id, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: i})
		require.NoError(t, err)
		want = append(want, id)
	}

	for _, expected := range want {
		task, err := store.GetPendingTask(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.Equal(t, expected, task.ID)
		require.Equal(t, 1, task.Attempts)
	}

	task, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestGetPendingTaskNeverDoubleClaims(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	const total = 50

	for i := int64(1); i <= total; i++ {
		_, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: i})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := store.GetPendingTask(ctx)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, total)
	for id, n := range claimed {
		require.Equalf(t, 1, n, "task %s claimed %d times", id, n)
	}
}

func TestResetTaskMakesRowEligibleAgain(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	id, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: 1})
	require.NoError(t, err)

	claimed, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)
	require.NoError(t, store.UpdateTaskStatus(ctx, id, filing.TaskStatusFailed, filing.TaskOutcome{ErrorLog: "boom"}))

	// Nothing pending until the reset.
	task, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.Nil(t, task)

	require.NoError(t, store.ResetTask(ctx, id))
	task, err = store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)
	require.Equal(t, 2, task.Attempts)

	got, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	require.Empty(t, got.ErrorLog)

	require.ErrorIs(t, store.ResetTask(ctx, "missing"), filing.ErrTaskNotFound)
}

func TestClearQueuesFailsNonTerminalRowsOnly(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	_, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: 1})
	require.NoError(t, err)
	pendingID, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: 2})
	require.NoError(t, err)

	// FIFO claims the first insert; completing it leaves only the second pending.
	claimed, err := store.GetPendingTask(ctx)
	require.NoError(t, err)
	require.NotEqual(t, pendingID, claimed.ID)
	require.NoError(t, store.UpdateTaskStatus(ctx, claimed.ID, filing.TaskStatusCompleted, filing.TaskOutcome{}))

	cleared, err := store.ClearQueues(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	got, err := store.GetTask(ctx, pendingID)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusFailed, got.Status)
	require.Equal(t, "cleared by operator", got.ErrorLog)
	require.NotNil(t, got.ProcessedAt)

	// Completed row untouched.
	done, err := store.GetTask(ctx, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusCompleted, done.Status)
}

func TestCountBySourceFiltersStatuses(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		_, err := store.Insert(ctx, "a", "ordinary", filing.Payload{ResourceID: i})
		require.NoError(t, err)
	}
	id, err := store.Insert(ctx, "b", "ordinary", filing.Payload{ResourceID: 3})
	require.NoError(t, err)

	// Claiming moves a row to processing, still non-terminal.
	_, err = store.GetPendingTask(ctx)
	require.NoError(t, err)

	counts, err := store.CountBySource(ctx, filing.NonTerminalStatuses...)
	require.NoError(t, err)
	require.Equal(t, map[filing.SourceID]int{"a": 2, "b": 1}, counts)

	// Terminal rows drop out of the backlog view.
	require.NoError(t, store.UpdateTaskStatus(ctx, id, filing.TaskStatusCompleted, filing.TaskOutcome{}))
	counts, err = store.CountBySource(ctx, filing.NonTerminalStatuses...)
	require.NoError(t, err)
	require.Equal(t, map[filing.SourceID]int{"a": 2}, counts)
}

func TestListTasksOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	var want []string
	for i := int64(1); i <= 3; i++ {
		id, err := store.Insert(ctx, "x", "ordinary", filing.Payload{ResourceID: i})
		require.NoError(t, err)
		want = append(want, id)
	}

	tasks, err := store.ListTasks(ctx, "x", filing.TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		require.Equal(t, want[i], task.ID)
	}
}
