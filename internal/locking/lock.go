// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package locking

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GraphLock makes compression exclusive per graph: two passes for the
// same graph must never run concurrently, while passes for different
// graphs may. The TTL bounds how long a crashed pass can block its graph.
type GraphLock struct {
	GraphID   string    `gorm:"primaryKey" json:"graph_id"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
	LockedBy  string    `gorm:"not null" json:"locked_by"`
	LockedAt  time.Time `gorm:"not null" json:"locked_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

// TableName specifies the table name for GraphLock
func (GraphLock) TableName() string {
	return "graph_locks"
}

// MigrateLocks runs migrations for the graph_locks table
func MigrateLocks(db *gorm.DB) error {
	return db.AutoMigrate(&GraphLock{})
}

// IsExpired returns true if the lock has expired
func (l *GraphLock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// ConflictError represents a version conflict during an optimistic update
type ConflictError struct {
	GraphID         string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on graph %s: expected %d, got %d",
		e.GraphID, e.ExpectedVersion, e.ActualVersion)
}

// LockError represents a locking failure
type LockError struct {
	GraphID  string
	LockedBy string
	Message  string
}

func (e *LockError) Error() string {
	return e.Message
}
