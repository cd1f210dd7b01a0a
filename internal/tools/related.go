// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
)

// NewRelatedTool creates the munin_related tool definition
func NewRelatedTool() mcp.Tool {
	return mcp.NewTool("munin_related",
		mcp.WithDescription("Walk the memory graph outward from one memory and return the connected neighborhood, independent of any query."),
		mcp.WithString("node_id",
			mcp.Required(),
			mcp.Description("The memory to start from"),
		),
		mcp.WithNumber("max_hops",
			mcp.Description("How many edges to follow outward (default 1, max 5)"),
		),
	)
}

// RelatedHandler handles the munin_related tool
func RelatedHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpReadContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		nodeID, err := request.RequireString("node_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		maxHops := request.GetInt("max_hops", 1)

		node, err := tc.Store.GetNode(nodeID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load memory: %v", err)), nil
		}

		// Anchor must belong to the resolved subject's graph. Without
		// this check a node id would leak memories across subjects.
		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if node.GraphID != graph.ID {
			return mcp.NewToolResultError(fmt.Sprintf("memory %s does not belong to this subject", nodeID)), nil
		}

		sub, err := tc.Traverser.Neighborhood(nodeID, maxHops)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("traversal failed: %v", err)), nil
		}

		data, err := json.MarshalIndent(sub, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode subgraph: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
