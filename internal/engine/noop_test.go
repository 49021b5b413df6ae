package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlorentegh/tramitador/internal/filing"
)

func TestNoopCompletesWithoutArtifact(t *testing.T) {
	t.Parallel()

	result, err := NewNoop().Execute(context.Background(), filing.PendingTask{
		ID:      "task-1",
		Payload: filing.Payload{CaseNumber: "RRC-2024/000001"},
	})
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Contains(t, result.Result, "RRC-2024/000001")
	require.Empty(t, result.Artifact)
}
