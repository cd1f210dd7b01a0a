// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
)

// NewNegotiateTool creates the munin_negotiate tool definition
func NewNegotiateTool() mcp.Tool {
	return mcp.NewTool("munin_negotiate",
		mcp.WithDescription("Record the subject's remembrance negotiation for a topic: never, session_only, ask_each_time or always. The newest negotiation for a topic wins."),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("The topic being negotiated"),
		),
		mcp.WithString("policy",
			mcp.Required(),
			mcp.Description("Remembrance policy: never, session_only, ask_each_time or always"),
		),
	)
}

// NegotiateHandler handles the munin_negotiate tool
func NegotiateHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpNegotiate); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		topic, err := request.RequireString("topic")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		policy, err := request.RequireString("policy")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !database.IsValidRemembrancePolicy(policy) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid remembrance policy: %s", policy)), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entry, err := tc.Store.NegotiateRemembrance(graph.ID, topic, policy)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to record negotiation: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Negotiation recorded: topic '%s' is now %s (entry %s)",
			topic, policy, entry.ID)), nil
	}
}
