package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Reserve(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.Reserve(50))
	require.NoError(t, c.Reserve(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	err := c.Reserve(20)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.Unreserve(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.Reserve(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_Budget(t *testing.T) {
	c := NewController(Config{MemoryBudgetBytes: 100})
	assert.False(t, c.OverBudget())

	c.Track(80)
	assert.False(t, c.OverBudget())
	c.Track(40)
	assert.True(t, c.OverBudget())
	c.Track(-40)
	assert.False(t, c.OverBudget())
	assert.Equal(t, int64(100), c.MemoryBudget())

	unlimited := NewController(Config{})
	unlimited.Track(1 << 40)
	assert.False(t, unlimited.OverBudget())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.Reserve(10))
	c.Unreserve(10)
	c.Track(10)
	assert.Zero(t, c.MemoryUsage())
	assert.False(t, c.OverBudget())
	require.NoError(t, c.AcquireBackground(context.Background()))
	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20))
	assert.True(t, c.TryAcquireIO(1<<20))
}

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 1})

	require.NoError(t, c.AcquireBackground(context.Background()))
	assert.False(t, c.TryAcquireBackground())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireBackground(ctx))

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// Burst is one second worth of tokens.
	assert.True(t, c.TryAcquireIO(1<<19))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 1<<21))
}
