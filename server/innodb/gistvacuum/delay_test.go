package gistvacuum

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostDelay(t *testing.T) {
	var slept []time.Duration
	d := NewCostDelay(10*time.Millisecond, 10, 1, 20)
	d.sleep = func(ctx context.Context, pause time.Duration) error {
		slept = append(slept, pause)
		return nil
	}
	ctx := context.Background()

	d.AccountPage(false)
	require.NoError(t, d.Delay(ctx))
	assert.Empty(t, slept)

	d.AccountPage(true)
	require.NoError(t, d.Delay(ctx))
	assert.Equal(t, []time.Duration{22 * time.Millisecond}, slept)

	// 最多休眠四倍的基准时间
	for i := 0; i < 10; i++ {
		d.AccountPage(true)
	}
	require.NoError(t, d.Delay(ctx))
	assert.Equal(t, 40*time.Millisecond, slept[1])

	t.Run("取消", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, context.Canceled, errors.Cause(d.Delay(cancelled)))
	})

	t.Run("不限速", func(t *testing.T) {
		free := NewCostDelay(0, 0, 1, 20)
		for i := 0; i < 1000; i++ {
			free.AccountPage(true)
		}
		assert.NoError(t, free.Delay(ctx))
		assert.Equal(t, 200, free.Limit)
	})

	t.Run("休眠可以被取消", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Equal(t, context.Canceled, sleepContext(cancelled, time.Hour))
		assert.NoError(t, sleepContext(ctx, time.Millisecond))
	})
}
