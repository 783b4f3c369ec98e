package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAcquireRelease(t *testing.T) {
	l := NewAccounts()

	release, err := l.Acquire(context.Background(), 2, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Held())

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, l.Held())
}

func TestAcquireBlocksOverlappingSets(t *testing.T) {
	l := NewAccounts()

	release, err := l.Acquire(context.Background(), 1, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, 2, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// the failed attempt must not leave account 3 locked
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	r3, err := l.Acquire(ctx2, 3)
	require.NoError(t, err)
	r3()

	release()
	assert.Equal(t, 0, l.Held())
}

func TestOppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewAccounts()
	var inside atomic.Int32
	var maxInside atomic.Int32

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 200; i++ {
		a, b := int64(1), int64(2)
		if i%2 == 1 {
			a, b = b, a
		}
		g.Go(func() error {
			release, err := l.Acquire(ctx, a, b)
			if err != nil {
				return err
			}
			defer release()
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			inside.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.Held())
}

func TestIndependentSetsRunConcurrently(t *testing.T) {
	l := NewAccounts()
	r1, err := l.Acquire(context.Background(), 1, 2)
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx, 3, 4)
	require.NoError(t, err)
	r2()
}
