package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "quickplay:u1", time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "quickplay:u1", time.Second)
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, l.Release(ctx, lease))

	_, err = l.Acquire(ctx, "quickplay:u1", time.Second)
	require.NoError(t, err)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	// N goroutines disputando a mesma chave: exatamente uma vence
	l := NewMemory()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	busy := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Acquire(ctx, "pair:100:2", time.Second)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				acquired++
			} else if errors.Is(err, ErrBusy) {
				busy++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, acquired)
	require.Equal(t, n-1, busy)
}

func TestTTLExpiresLease(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "move:m1:u1:1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// chave expirada pode ser readquirida por outro chamador
	_, err = l.Acquire(ctx, "move:m1:u1:1", time.Second)
	require.NoError(t, err)

	// o lease antigo não derruba o novo dono
	require.ErrorIs(t, l.Release(ctx, lease), ErrNotHeld)
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := WithLock(ctx, l, "k", time.Second, func(ctx context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// mesmo com fn falhando, o lock foi liberado
	_, err = l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
}

func TestWithLockBusySkipsFn(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	ran := false
	err = WithLock(ctx, l, "k", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, ran)
}
