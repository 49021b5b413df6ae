package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlorentegh/tramitador/internal/filing"
)

func newTestAuthStore() (*AuthorizationStore, *TaskStore) {
	idGen := &seqIDGen{}
	clock := newTickClock()
	tasks := NewTaskStore(idGen, clock)
	return NewAuthorizationStore(tasks, idGen, clock), tasks
}

func TestInsertPendingDeduplicates(t *testing.T) {
	t.Parallel()

	auths, _ := newTestAuthStore()
	ctx := context.Background()
	payload := filing.Payload{ResourceID: 42, CaseNumber: "RRC-2024/000042"}

	first, err := auths.InsertPending(ctx, "x", "ordinary", payload, "gesdoc", "needs sign-off")
	require.NoError(t, err)
	second, err := auths.InsertPending(ctx, "x", "ordinary", payload, "gesdoc", "needs sign-off")
	require.NoError(t, err)
	require.Equal(t, first, second)

	pending, err := auths.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "gesdoc", pending[0].AuthorizationType)
}

func TestAuthorizeCreatesExactlyOneTask(t *testing.T) {
	t.Parallel()

	auths, tasks := newTestAuthStore()
	ctx := context.Background()
	payload := filing.Payload{ResourceID: 42, CaseNumber: "RRC-2024/000042"}

	id, err := auths.InsertPending(ctx, "x", "ordinary", payload, "gesdoc", "needs sign-off")
	require.NoError(t, err)

	taskID, err := auths.Authorize(ctx, id, "supervisor")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := tasks.GetTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, filing.TaskStatusPending, task.Status)
	require.Equal(t, payload.ResourceID, task.Payload.ResourceID)

	// Second approval is a no-op, not a second task.
	again, err := auths.Authorize(ctx, id, "supervisor")
	require.NoError(t, err)
	require.Empty(t, again)

	count, err := tasks.CountTasksAny(ctx, filing.TaskStatusPending)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pending, err := auths.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = auths.Authorize(ctx, "missing", "supervisor")
	require.ErrorIs(t, err, filing.ErrAuthorizationNotFound)
}

func TestRejectKeepsTaskQueueUntouched(t *testing.T) {
	t.Parallel()

	auths, tasks := newTestAuthStore()
	ctx := context.Background()

	id, err := auths.InsertPending(ctx, "x", "ordinary", filing.Payload{ResourceID: 9}, "gesdoc", "needs sign-off")
	require.NoError(t, err)
	require.NoError(t, auths.Reject(ctx, id, "not eligible"))

	count, err := tasks.CountTasksAny(ctx, filing.TaskStatusPending)
	require.NoError(t, err)
	require.Zero(t, count)

	// Rejecting twice stays a no-op.
	require.NoError(t, auths.Reject(ctx, id, "duplicate"))
	require.ErrorIs(t, auths.Reject(ctx, "missing", "x"), filing.ErrAuthorizationNotFound)
}
