// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"gorm.io/gorm"
)

// MuninUser represents an authenticated principal in the system.
// Role determines which privacy domains the principal may read.
type MuninUser struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;not null" json:"username"`
	Email     string         `json:"email"`
	Role      string         `gorm:"not null;default:'subject'" json:"role"`
	SubjectID string         `gorm:"index" json:"subject_id,omitempty"` // set for subject-role users
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName specifies the table name for MuninUser
func (MuninUser) TableName() string {
	return "munin_users"
}

// MuninAuthToken represents authentication tokens for users
type MuninAuthToken struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index;not null" json:"user_id"`
	AccessToken  string    `gorm:"type:text;not null" json:"access_token"`
	RefreshToken string    `gorm:"type:text" json:"refresh_token"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	User MuninUser `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for MuninAuthToken
func (MuninAuthToken) TableName() string {
	return "munin_auth_tokens"
}

// Role constants for users
const (
	RoleSubject = "subject" // the learner themselves; RELATIONAL access
	RoleStaff   = "staff"   // teachers/parents; INSTITUTIONAL access
	RoleAuditor = "auditor" // supervision consumer; SUPERVISION access only
)

// ValidRoles returns all valid user roles
func ValidRoles() []string {
	return []string{RoleSubject, RoleStaff, RoleAuditor}
}

// IsValidRole checks if a role is valid
func IsValidRole(r string) bool {
	return isValidType(r, ValidRoles())
}
