// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/contradiction"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
)

// NewResolveTool creates the munin_resolve tool definition
func NewResolveTool() mcp.Tool {
	return mcp.NewTool("munin_resolve",
		mcp.WithDescription("Resolve a contradiction between two memories. 'merge' keeps both as nuance, 'keep_source' or 'keep_target' discards the losing memory."),
		mcp.WithString("edge_id",
			mcp.Required(),
			mcp.Description("The CONTRADICTS edge to resolve"),
		),
		mcp.WithString("policy",
			mcp.Required(),
			mcp.Description("Resolution policy: merge, keep_source or keep_target"),
		),
	)
}

// ResolveHandler handles the munin_resolve tool
func ResolveHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpResolve); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		edgeID, err := request.RequireString("edge_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		policy, err := request.RequireString("policy")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		outcome, err := tc.Resolver.Resolve(edgeID, contradiction.Policy(policy))
		if err != nil {
			if errors.Is(err, contradiction.ErrAlreadyResolved) {
				return mcp.NewToolResultError(fmt.Sprintf("contradiction %s is already resolved", edgeID)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to resolve contradiction: %v", err)), nil
		}

		result := fmt.Sprintf("Contradiction %s resolved with policy %s", outcome.EdgeID, outcome.Policy)
		if outcome.DeletedNode != "" {
			result += fmt.Sprintf("\nDiscarded memory: %s", outcome.DeletedNode)
		}
		return mcp.NewToolResultText(result), nil
	}
}

// NewContradictionsTool creates the munin_contradictions tool definition
func NewContradictionsTool() mcp.Tool {
	return mcp.NewTool("munin_contradictions",
		mcp.WithDescription("List the unresolved contradictions in the subject's memory."),
	)
}

// ContradictionsHandler handles the munin_contradictions tool
func ContradictionsHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpReadContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		edges, err := tc.Resolver.Unresolved(graph.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list contradictions: %v", err)), nil
		}
		if len(edges) == 0 {
			return mcp.NewToolResultText("No unresolved contradictions."), nil
		}

		result := fmt.Sprintf("%d unresolved contradiction(s):\n", len(edges))
		for _, edge := range edges {
			result += fmt.Sprintf("- edge %s: %s contradicts %s (strength %.2f)\n",
				edge.ID, edge.SourceID, edge.TargetID, edge.Strength)
		}
		return mcp.NewToolResultText(result), nil
	}
}
