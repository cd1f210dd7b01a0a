// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"gorm.io/gorm"
)

// LocalAuthenticator handles local (stdio) authentication. A local user
// is always the subject of their own memory: role subject, SubjectID
// equal to the username.
type LocalAuthenticator struct {
	tokenManager     *TokenManager
	useAccessingUser bool // use ACCESSING_USER env var instead of whoami
}

// NewLocalAuthenticator creates a new local authenticator
func NewLocalAuthenticator(tm *TokenManager) *LocalAuthenticator {
	return &LocalAuthenticator{
		tokenManager:     tm,
		useAccessingUser: false,
	}
}

// NewLocalAuthenticatorWithAccessingUser creates a local authenticator
// that trusts the ACCESSING_USER env var, for deployments where an
// already-authenticated host process launches the server per user
func NewLocalAuthenticatorWithAccessingUser(tm *TokenManager) *LocalAuthenticator {
	return &LocalAuthenticator{
		tokenManager:     tm,
		useAccessingUser: true,
	}
}

// GetLocalUsername resolves the acting username, either from the
// ACCESSING_USER env var or from whoami
func (l *LocalAuthenticator) GetLocalUsername() (string, error) {
	if l.useAccessingUser {
		username := os.Getenv("ACCESSING_USER")
		if username == "" {
			return "", fmt.Errorf("ACCESSING_USER environment variable is required but not set")
		}
		return strings.TrimSpace(username), nil
	}

	cmd := exec.Command("whoami")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get username via whoami: %w", err)
	}
	username := strings.TrimSpace(string(output))
	if username == "" {
		return "", fmt.Errorf("whoami returned empty username")
	}
	return username, nil
}

// Authenticate finds or creates the subject-role user for the local
// username and issues a token
func (l *LocalAuthenticator) Authenticate(db *gorm.DB) (*database.MuninUser, *database.MuninAuthToken, error) {
	username, err := l.GetLocalUsername()
	if err != nil {
		return nil, nil, err
	}

	var user database.MuninUser
	result := db.Where("username = ?", username).FirstOrCreate(&user, database.MuninUser{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     username + "@local",
		Role:      database.RoleSubject,
		SubjectID: username,
	})
	if result.Error != nil {
		return nil, nil, fmt.Errorf("failed to create/find user: %w", result.Error)
	}

	token, err := l.tokenManager.GenerateToken(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &user, token, nil
}
