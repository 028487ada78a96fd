package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseTask(t *testing.T) {
	c := New(1, 0)
	ctx := context.Background()

	require.NoError(t, c.AcquireTask(ctx))
	assert.False(t, c.TryAcquireTask(), "slot should be held until released")

	c.ReleaseTask()
	assert.True(t, c.TryAcquireTask())
}

func TestAcquireTaskBlocksUntilContextDone(t *testing.T) {
	c := New(1, 0)
	require.NoError(t, c.AcquireTask(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.AcquireTask(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitIONoopWithoutLimit(t *testing.T) {
	c := New(1, 0)
	require.NoError(t, c.WaitIO(context.Background(), 1<<30))
}

func TestWaitIOThrottlesOverBudget(t *testing.T) {
	c := New(1, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.WaitIO(ctx, 1<<20)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
