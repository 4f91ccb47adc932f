package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/svc/billing"
)

func TestMemoryDeduper_Once(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := billing.NewMemoryDeduper()

	won, err := d.Once(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = d.Once(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = d.Once(ctx, "other", time.Hour)
	require.NoError(t, err)
	assert.True(t, won, "distinct keys are independent claims")
}

func TestMemoryDeduper_ReleaseReopensClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := billing.NewMemoryDeduper()

	won, err := d.Once(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, d.Release(ctx, "k"))

	won, err = d.Once(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestMemoryDeduper_TTLExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := billing.NewMemoryDeduper()

	won, err := d.Once(ctx, "k", time.Millisecond)
	require.NoError(t, err)
	require.True(t, won)

	time.Sleep(10 * time.Millisecond)

	won, err = d.Once(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, won, "expired claims are reclaimable")
}

func TestMemoryDeduper_SingleWinnerUnderContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := billing.NewMemoryDeduper()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)

	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := d.Once(ctx, "contended", time.Hour)
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestNewRedisDeduper_RequiresClient(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { billing.NewRedisDeduper(nil) })
}
