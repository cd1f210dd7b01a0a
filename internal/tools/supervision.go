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

// NewSupervisionTool creates the munin_supervision tool definition
func NewSupervisionTool() mcp.Tool {
	return mcp.NewTool("munin_supervision",
		mcp.WithDescription("Produce the content-free supervision summary of a subject's memory: counts, scores and timestamps only."),
		mcp.WithString("subject_id",
			mcp.Description("Subject to summarize (staff and auditors; subjects summarize their own)"),
		),
	)
}

// SupervisionHandler handles the munin_supervision tool
func SupervisionHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpSummary); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		subjectID, err := tc.resolveSubject(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary, err := tc.Supervision.Summarize(subjectID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to build supervision summary: %v", err)), nil
		}

		encoded, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode summary: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}
