// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/tejzpr/munin-mcp/internal/auth"
	"github.com/tejzpr/munin-mcp/internal/database"
)

// HTTPServer handles HTTP routes. Subjects authenticate locally; staff
// and auditors arrive through SAML when it is configured.
type HTTPServer struct {
	mcpServer      *MCPServer
	localAuth      *auth.LocalAuthenticator
	samlAuth       *auth.SAMLAuthenticator
	authMiddleware *auth.Middleware
}

// NewHTTPServer creates a new HTTP server. samlAuth may be nil for
// local-only deployments.
func NewHTTPServer(mcpServer *MCPServer, samlAuth *auth.SAMLAuthenticator, localAuth *auth.LocalAuthenticator) *HTTPServer {
	return &HTTPServer{
		mcpServer:      mcpServer,
		localAuth:      localAuth,
		samlAuth:       samlAuth,
		authMiddleware: auth.NewMiddleware(mcpServer.GetTokenManager()),
	}
}

// RegisterRoutes registers all HTTP routes
func (h *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/local", h.HandleLocalAuth)

	if h.samlAuth != nil {
		mux.HandleFunc("/saml/login", h.samlAuth.InitiateLogin)
		mux.HandleFunc("/saml/metadata", h.samlAuth.ServeMetadata)
		mux.HandleFunc("/saml/acs", h.HandleSAMLACS)
	}

	mux.Handle("/mcp", h.authMiddleware.RequireAuth(http.HandlerFunc(h.HandleMCP)))
}

// HandleLocalAuth authenticates the local system user as a subject and
// returns a token
func (h *HTTPServer) HandleLocalAuth(w http.ResponseWriter, r *http.Request) {
	user, token, err := h.localAuth.Authenticate(h.mcpServer.db)
	if err != nil {
		http.Error(w, "Local authentication failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"success":  "true",
		"token":    token.AccessToken,
		"username": user.Username,
		"role":     user.Role,
	})
}

// HandleSAMLACS consumes the IdP assertion, persists the staff or
// auditor principal and returns a token
func (h *HTTPServer) HandleSAMLACS(w http.ResponseWriter, r *http.Request) {
	samlUser, err := h.samlAuth.HandleACS(w, r)
	if err != nil {
		http.Error(w, "SAML authentication failed: "+err.Error(), http.StatusUnauthorized)
		return
	}

	user, err := h.samlAuth.FindOrCreateUser(h.mcpServer.db, samlUser)
	if err != nil {
		http.Error(w, "Failed to persist SAML user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := h.mcpServer.GetTokenManager().GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "Failed to generate token: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"success":  "true",
		"token":    token.AccessToken,
		"username": user.Username,
		"role":     user.Role,
	})
}

// HandleMCP registers the caller's tool surface and acknowledges. The
// MCP session itself runs over the stdio transport; HTTP mode exists
// for authentication and health checking.
func (h *HTTPServer) HandleMCP(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var user database.MuninUser
	if err := h.mcpServer.db.Where("id = ?", userID).First(&user).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if err := h.mcpServer.RegisterToolsForUser(&user); err != nil {
		http.Error(w, "Failed to register tools", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
