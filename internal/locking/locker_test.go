// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, MigrateLocks(db))
	return db
}

func TestAcquire_FreshLock(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	locked, holder, err := locker.IsLocked("graph-1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "worker-a", holder)
}

func TestAcquire_MissingTableSurfacesError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// No MigrateLocks: the read must fail loudly, not report contention.
	locker := NewLocker(db)
	acquired, err := locker.Acquire("graph-1", "worker-a")
	assert.False(t, acquired)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to read lock")
}

func TestAcquire_HeldByOther(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = locker.Acquire("graph-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestAcquire_Reentrant(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	// The same holder may re-acquire its own lock.
	acquired, err = locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAcquire_ExpiredLockTakenOver(t *testing.T) {
	db := setupTestDB(t)
	locker := NewLocker(db).WithTTL(-time.Second)

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	locker2 := NewLocker(db)
	acquired, err = locker2.Acquire("graph-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, acquired)

	locked, holder, err := locker2.IsLocked("graph-1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "worker-b", holder)
}

func TestAcquire_IndependentGraphs(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	a, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	b, err := locker.Acquire("graph-2", "worker-b")
	require.NoError(t, err)
	assert.True(t, a)
	assert.True(t, b)
}

func TestRelease(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, locker.Release("graph-1", "worker-a"))

	acquired, err = locker.Acquire("graph-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRelease_WrongHolderIsNoop(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, locker.Release("graph-1", "worker-b"))

	locked, holder, err := locker.IsLocked("graph-1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "worker-a", holder)
}

func TestExtend(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	assert.NoError(t, locker.Extend("graph-1", "worker-a"))

	err = locker.Extend("graph-1", "worker-b")
	var lockErr *LockError
	assert.ErrorAs(t, err, &lockErr)
}

func TestCleanupExpired(t *testing.T) {
	db := setupTestDB(t)

	expired := NewLocker(db).WithTTL(-time.Second)
	acquired, err := expired.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	live := NewLocker(db)
	acquired, err = live.Acquire("graph-2", "worker-b")
	require.NoError(t, err)
	require.True(t, acquired)

	removed, err := live.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestWithLock(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	ran := false
	err := locker.WithLock("graph-1", "worker-a", func() error {
		ran = true
		locked, holder, err := locker.IsLocked("graph-1")
		require.NoError(t, err)
		assert.True(t, locked)
		assert.Equal(t, "worker-a", holder)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released after the function returns.
	locked, _, err := locker.IsLocked("graph-1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestWithLock_Contended(t *testing.T) {
	locker := NewLocker(setupTestDB(t))

	acquired, err := locker.Acquire("graph-1", "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	err = locker.WithLock("graph-1", "worker-b", func() error {
		t.Fatal("must not run while the lock is held elsewhere")
		return nil
	})
	var lockErr *LockError
	assert.ErrorAs(t, err, &lockErr)
}

func TestRetryWithBackoff_ConflictRetried(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &ConflictError{GraphID: "graph-1", ExpectedVersion: 1, ActualVersion: 2}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NonConflictNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := RetryWithBackoff(3, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	err := RetryWithBackoff(2, time.Millisecond, func() error {
		return &ConflictError{GraphID: "graph-1", ExpectedVersion: 1, ActualVersion: 2}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
}
