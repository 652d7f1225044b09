package turn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/apperr"
)

func TestMutexManager(t *testing.T) {
	m := NewMutexManager()
	require.NoError(t, m.Acquire(context.Background()))
	require.False(t, m.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	m.Release()
	require.True(t, m.TryAcquire())
	m.Release()
	m.Release() // 二重解放でもパニックしない
}

func TestSessionLocksQueueSerializes(t *testing.T) {
	locks := NewSessionLocks(PolicyQueue)

	var active, peak int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(context.Background(), "ab")
			require.NoError(t, err)
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), peak)
	require.Equal(t, 0, locks.Len())
}

func TestSessionLocksFailFast(t *testing.T) {
	locks := NewSessionLocks(PolicyFail)

	release, err := locks.Acquire(context.Background(), "ab")
	require.NoError(t, err)

	_, err = locks.Acquire(context.Background(), "ab")
	require.True(t, errors.Is(err, apperr.ErrSessionBusy), "got %v", err)

	other, err := locks.Acquire(context.Background(), "ba")
	require.NoError(t, err, "different sessions do not block each other")
	other()

	release()
	release() // 冪等

	again, err := locks.Acquire(context.Background(), "ab")
	require.NoError(t, err)
	again()
	require.Equal(t, 0, locks.Len())
}

func TestSessionLocksOff(t *testing.T) {
	locks := NewSessionLocks(PolicyOff)
	a, err := locks.Acquire(context.Background(), "ab")
	require.NoError(t, err)
	b, err := locks.Acquire(context.Background(), "ab")
	require.NoError(t, err)
	a()
	b()
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyQueue, p)

	p, err = ParsePolicy("FAIL")
	require.NoError(t, err)
	require.Equal(t, PolicyFail, p)

	_, err = ParsePolicy("lease")
	require.Error(t, err)
}
