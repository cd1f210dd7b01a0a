// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tools defines the MCP tool surface. Every handler resolves
// the acting principal to a privacy domain and authorizes the operation
// before it touches the store.
package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/compression"
	"github.com/tejzpr/munin-mcp/internal/contradiction"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/export"
	"github.com/tejzpr/munin-mcp/internal/graph"
	"github.com/tejzpr/munin-mcp/internal/privacy"
	"github.com/tejzpr/munin-mcp/internal/retrieval"
	"github.com/tejzpr/munin-mcp/internal/session"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
)

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Store       *store.Store
	Retriever   *retrieval.Retriever
	Engine      *compression.Engine
	Resolver    *contradiction.Resolver
	Sessions    *session.Manager
	Traverser   *graph.Traverser
	Exporter    *export.Exporter
	Supervision *privacy.Summarizer
	Guard       *privacy.Guard
	Logger      *zap.Logger
}

// NewToolContext creates a tool context
func NewToolContext(s *store.Store, logger *zap.Logger) *ToolContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolContext{
		Store:  s,
		Guard:  privacy.NewGuard(logger),
		Logger: logger,
	}
}

// authorize maps the user's role to a domain and checks the operation
func (tc *ToolContext) authorize(user *database.MuninUser, operation string) (string, error) {
	domain, err := privacy.DomainForRole(user.Role)
	if err != nil {
		return "", err
	}
	if err := tc.Guard.Authorize(domain, operation); err != nil {
		return "", err
	}
	return domain, nil
}

// resolveSubject determines which subject an operation targets. A
// subject-role user always acts on their own memory and may not name
// another subject; staff and auditors must name one explicitly.
func (tc *ToolContext) resolveSubject(user *database.MuninUser, request mcp.CallToolRequest) (string, error) {
	requested := request.GetString("subject_id", "")

	if user.Role == database.RoleSubject {
		if requested != "" && requested != user.SubjectID {
			return "", fmt.Errorf("a subject may only act on their own memory")
		}
		if user.SubjectID == "" {
			return "", fmt.Errorf("subject user %s has no subject id", user.Username)
		}
		return user.SubjectID, nil
	}

	if requested == "" {
		return "", fmt.Errorf("subject_id is required")
	}
	return requested, nil
}

// graphFor resolves the target graph for a request
func (tc *ToolContext) graphFor(user *database.MuninUser, request mcp.CallToolRequest) (*database.MemoryGraph, error) {
	subjectID, err := tc.resolveSubject(user, request)
	if err != nil {
		return nil, err
	}
	return tc.Store.GetGraphBySubject(subjectID)
}
