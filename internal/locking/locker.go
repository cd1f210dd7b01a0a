// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultLockTTL is the default time-to-live for locks
const DefaultLockTTL = 5 * time.Minute

// MaxRetries is the default number of retries for optimistic locking
const MaxRetries = 3

// RetryDelay is the delay between retries
const RetryDelay = 100 * time.Millisecond

// Locker manages per-graph locks backed by the database, so exclusion
// holds across processes sharing the store.
type Locker struct {
	db      *gorm.DB
	lockTTL time.Duration
	retries int
}

// NewLocker creates a new locker instance
func NewLocker(db *gorm.DB) *Locker {
	return &Locker{
		db:      db,
		lockTTL: DefaultLockTTL,
		retries: MaxRetries,
	}
}

// WithTTL sets a custom TTL for locks
func (l *Locker) WithTTL(ttl time.Duration) *Locker {
	l.lockTTL = ttl
	return l
}

// WithRetries sets a custom number of retries
func (l *Locker) WithRetries(retries int) *Locker {
	l.retries = retries
	return l
}

// Acquire attempts to acquire the lock for a graph.
// Returns true if acquired, false if held by another holder and not expired.
func (l *Locker) Acquire(graphID, holder string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.lockTTL)

	var existing GraphLock
	err := l.db.Where("graph_id = ?", graphID).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No lock exists, create one
		lock := GraphLock{
			GraphID:   graphID,
			Version:   1,
			LockedBy:  holder,
			LockedAt:  now,
			ExpiresAt: expiresAt,
		}
		createErr := l.db.Create(&lock).Error
		if createErr == nil {
			return true, nil
		}
		if errors.Is(createErr, gorm.ErrDuplicatedKey) || isUniqueViolation(createErr) {
			// Lost the race to another creator
			return false, nil
		}
		return false, createErr
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock: %w", err)
	}

	// Lock exists - take over if expired or already ours
	if existing.IsExpired() || existing.LockedBy == holder {
		result := l.db.Model(&GraphLock{}).
			Where("graph_id = ? AND version = ?", graphID, existing.Version).
			Updates(map[string]interface{}{
				"locked_by":  holder,
				"locked_at":  now,
				"expires_at": expiresAt,
				"version":    existing.Version + 1,
			})

		if result.Error != nil {
			return false, result.Error
		}
		return result.RowsAffected > 0, nil
	}

	// Locked by someone else and not expired
	return false, nil
}

// isUniqueViolation detects a primary-key collision on lock creation.
// Neither driver translates these to gorm.ErrDuplicatedKey here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "duplicate key") // postgres
}

// Release releases a lock held by the specified holder
func (l *Locker) Release(graphID, holder string) error {
	result := l.db.Where("graph_id = ? AND locked_by = ?", graphID, holder).
		Delete(&GraphLock{})
	return result.Error
}

// ReleaseAll releases all locks held by a holder
func (l *Locker) ReleaseAll(holder string) error {
	result := l.db.Where("locked_by = ?", holder).Delete(&GraphLock{})
	return result.Error
}

// IsLocked checks if a graph is currently locked
func (l *Locker) IsLocked(graphID string) (bool, string, error) {
	var lock GraphLock
	err := l.db.Where("graph_id = ?", graphID).First(&lock).Error

	if err != nil {
		return false, "", nil // Not locked
	}

	if lock.IsExpired() {
		return false, "", nil // Expired
	}

	return true, lock.LockedBy, nil
}

// Extend extends the TTL of an existing lock
func (l *Locker) Extend(graphID, holder string) error {
	expiresAt := time.Now().Add(l.lockTTL)

	result := l.db.Model(&GraphLock{}).
		Where("graph_id = ? AND locked_by = ?", graphID, holder).
		Update("expires_at", expiresAt)

	if result.RowsAffected == 0 {
		return &LockError{
			GraphID:  graphID,
			LockedBy: holder,
			Message:  "lock not found or owned by different holder",
		}
	}

	return result.Error
}

// CleanupExpired removes all expired locks
func (l *Locker) CleanupExpired() (int64, error) {
	result := l.db.Where("expires_at < ?", time.Now()).Delete(&GraphLock{})
	return result.RowsAffected, result.Error
}

// WithLock executes a function while holding a graph's lock.
// Automatically releases the lock after execution.
func (l *Locker) WithLock(graphID, holder string, fn func() error) error {
	acquired, err := l.Acquire(graphID, holder)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return &LockError{
			GraphID: graphID,
			Message: fmt.Sprintf("graph %s is locked by another holder", graphID),
		}
	}

	defer l.Release(graphID, holder) //nolint:errcheck

	return fn()
}

// RetryWithBackoff retries a function with exponential backoff.
// Only conflict errors are retried.
func RetryWithBackoff(maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err := fn(); err != nil {
			lastErr = err
			if _, ok := err.(*ConflictError); !ok {
				return err
			}
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		} else {
			return nil
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
