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

// NewContextTool creates the munin_context tool definition
func NewContextTool() mcp.Tool {
	return mcp.NewTool("munin_context",
		mcp.WithDescription("Build the memory context for a conversation turn: standing commitments first, then the most relevant memories that fit the token budget."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The current conversational query"),
		),
		mcp.WithArray("keywords",
			mcp.Description("Extra keywords that should trigger ledger entries"),
		),
		mcp.WithNumber("token_budget",
			mcp.Description("Maximum tokens of context to return"),
		),
	)
}

// ContextHandler handles the munin_context tool
func ContextHandler(tc *ToolContext, user *database.MuninUser, defaultBudget int) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpReadContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		keywords := request.GetStringSlice("keywords", []string{})
		budget := request.GetInt("token_budget", defaultBudget)
		if budget <= 0 {
			budget = defaultBudget
		}

		subjectID, err := tc.resolveSubject(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		bundle, err := tc.Retriever.BuildContext(subjectID, query, keywords, budget)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build context: %v", err)), nil
		}

		encoded, err := json.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode context: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}
