// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, role string) *database.MuninUser {
	t.Helper()
	user := &database.MuninUser{
		ID:        uuid.NewString(),
		Username:  "user-" + uuid.NewString()[:8],
		Role:      role,
		SubjectID: "subject-a",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestTokenManager_GenerateAndValidate(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)

	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)
	assert.NotEqual(t, token.AccessToken, token.RefreshToken)
	assert.True(t, token.ExpiresAt.After(time.Now()))

	validated, err := tm.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, validated.UserID)

	_, err = tm.ValidateToken("no-such-token")
	assert.ErrorContains(t, err, "token not found")
}

func TestTokenManager_ExpiredToken(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)

	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)

	err = db.Model(&database.MuninAuthToken{}).
		Where("id = ?", token.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error
	require.NoError(t, err)

	_, err = tm.ValidateToken(token.AccessToken)
	assert.ErrorContains(t, err, "token expired")
}

func TestTokenManager_Refresh(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)

	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)
	oldAccess := token.AccessToken

	refreshed, err := tm.RefreshToken(token.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, token.ID, refreshed.ID)
	assert.NotEqual(t, oldAccess, refreshed.AccessToken)

	// The old access token was replaced in place.
	_, err = tm.ValidateToken(oldAccess)
	assert.Error(t, err)
	_, err = tm.ValidateToken(refreshed.AccessToken)
	assert.NoError(t, err)

	_, err = tm.RefreshToken("no-such-refresh")
	assert.ErrorContains(t, err, "refresh token not found")
}

func TestTokenManager_Revoke(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)

	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)

	require.NoError(t, tm.RevokeToken(token.AccessToken))
	_, err = tm.ValidateToken(token.AccessToken)
	assert.Error(t, err)

	assert.ErrorContains(t, tm.RevokeToken(token.AccessToken), "token not found")
}

func TestTokenManager_RevokeAllUserTokens(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)
	other := createTestUser(t, db, database.RoleStaff)

	first, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)
	second, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)
	theirs, err := tm.GenerateToken(other.ID)
	require.NoError(t, err)

	require.NoError(t, tm.RevokeAllUserTokens(user.ID))

	_, err = tm.ValidateToken(first.AccessToken)
	assert.Error(t, err)
	_, err = tm.ValidateToken(second.AccessToken)
	assert.Error(t, err)
	_, err = tm.ValidateToken(theirs.AccessToken)
	assert.NoError(t, err)
}

func TestTokenManager_CleanExpiredTokens(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleSubject)

	stale, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)
	fresh, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)

	err = db.Model(&database.MuninAuthToken{}).
		Where("id = ?", stale.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error
	require.NoError(t, err)

	removed, err := tm.CleanExpiredTokens()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = tm.ValidateToken(fresh.AccessToken)
	assert.NoError(t, err)
}

func TestTokenManager_GetUser(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleAuditor)

	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)

	resolved, err := tm.GetUser(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, database.RoleAuditor, resolved.Role)
}

func TestLocalAuthenticator_AccessingUser(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	local := NewLocalAuthenticatorWithAccessingUser(tm)

	t.Setenv("ACCESSING_USER", "alice")

	user, token, err := local.Authenticate(db)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, database.RoleSubject, user.Role)
	assert.Equal(t, "alice", user.SubjectID)
	assert.NotEmpty(t, token.AccessToken)

	// Same username resolves to the same user, not a duplicate.
	again, _, err := local.Authenticate(db)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	var count int64
	require.NoError(t, db.Model(&database.MuninUser{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLocalAuthenticator_AccessingUserMissing(t *testing.T) {
	db := setupAuthDB(t)
	local := NewLocalAuthenticatorWithAccessingUser(NewTokenManager(db, 24))

	t.Setenv("ACCESSING_USER", "")

	_, _, err := local.Authenticate(db)
	assert.ErrorContains(t, err, "ACCESSING_USER")
}

func TestMiddleware_RequireAuth(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	user := createTestUser(t, db, database.RoleStaff)
	token, err := tm.GenerateToken(user.ID)
	require.NoError(t, err)

	mw := NewMiddleware(tm)
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, user.ID, userID)

		domain, ok := GetDomainFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, privacy.DomainInstitutional, domain)

		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query-parameter fallback.
	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token.AccessToken, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RequireAuth_Rejections(t *testing.T) {
	db := setupAuthDB(t)
	tm := NewTokenManager(db, 24)
	mw := NewMiddleware(tm)

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithPrincipal_SubjectID(t *testing.T) {
	user := &database.MuninUser{ID: "u1", Role: database.RoleSubject, SubjectID: "subject-a"}
	ctx := WithPrincipal(httptest.NewRequest(http.MethodGet, "/", nil).Context(), user, privacy.DomainRelational)

	subjectID, ok := GetSubjectIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "subject-a", subjectID)

	staff := &database.MuninUser{ID: "u2", Role: database.RoleStaff}
	ctx = WithPrincipal(httptest.NewRequest(http.MethodGet, "/", nil).Context(), staff, privacy.DomainInstitutional)
	_, ok = GetSubjectIDFromContext(ctx)
	assert.False(t, ok)
}
