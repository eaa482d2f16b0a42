package progress

import (
	"bytes"
	"context"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

func TestSpinnerProgressReporter_Stages(t *testing.T) {
	color.NoColor = true
	r := NewSpinnerProgressReporter()
	var buf bytes.Buffer
	r.out = &buf
	ctx := context.Background()

	r.OnProgress(ctx, usecase.ProgressEvent{Stage: string(usecase.StageResolving), Message: "PoolManager"})
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: string(usecase.StageChecking)})
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: string(usecase.StageChecking), Message: "3 slots"})
	r.OnProgress(ctx, usecase.ProgressEvent{Stage: "unrelated", Message: "still checking"})

	require.Len(t, r.stages, 2)
	assert.Equal(t, "completed", r.stages[0].Status)
	assert.Equal(t, "running", r.stages[1].Status)
	assert.Equal(t, "still checking", r.stages[1].Message)
	assert.Contains(t, r.display(), "✓ Resolving")
	assert.Contains(t, r.display(), "● Checking")

	r.Info("hello")
	assert.Equal(t, "hello\n", buf.String())

	r.OnProgress(ctx, usecase.ProgressEvent{Stage: string(usecase.StageCompleted)})
	assert.Empty(t, r.stages)
}
