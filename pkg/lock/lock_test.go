package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyForIgnoresOrder(t *testing.T) {
	a := KeyFor("/images/system.img", "/images/init_boot.cpio")
	b := KeyFor("/images/init_boot.cpio", "/images/system.img")

	assert.Equal(t, a, b)
	assert.NoError(t, a.Validate())
	assert.NotEqual(t, a, KeyFor("/images/system.img"))
}

func TestFileLockerExcludesSecondHolder(t *testing.T) {
	locker := NewFileLocker(t.TempDir())
	locker.PollInterval = 10 * time.Millisecond
	key := KeyFor("/images/system.img")

	first, err := locker.AcquireLock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.AcquireLock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "release is idempotent")

	second, err := locker.AcquireLock(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestFileLockerWaitsForRelease(t *testing.T) {
	locker := NewFileLocker(t.TempDir())
	locker.PollInterval = 5 * time.Millisecond
	key := KeyFor("a")

	held, err := locker.AcquireLock(context.Background(), key)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next, err := locker.AcquireLock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, next.Release())
}

func TestFileLockerDistinctKeys(t *testing.T) {
	locker := NewFileLocker(t.TempDir())

	a, err := locker.AcquireLock(context.Background(), KeyFor("a"))
	require.NoError(t, err)
	b, err := locker.AcquireLock(context.Background(), KeyFor("b"))
	require.NoError(t, err)

	assert.NoError(t, a.Release())
	assert.NoError(t, b.Release())
}

func TestNoOpLocker(t *testing.T) {
	l := NewNoOpLocker()

	lk, err := l.AcquireLock(context.Background(), KeyFor("x"))
	require.NoError(t, err)
	assert.NoError(t, lk.Release())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.AcquireLock(ctx, KeyFor("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
