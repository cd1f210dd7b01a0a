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

// NewExportTool creates the munin_export tool definition
func NewExportTool() mcp.Tool {
	return mcp.NewTool("munin_export",
		mcp.WithDescription("Export the subject's complete memory as a git-versioned markdown archive. This is the subject's data: only they can request it."),
	)
}

// ExportHandler handles the munin_export tool
func ExportHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpExport); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		subjectID, err := tc.resolveSubject(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := tc.Exporter.Export(subjectID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
		}

		text := fmt.Sprintf("Archive exported: %s (%d files)", result.Path, result.Files)
		if result.CommitHash != "" {
			text += fmt.Sprintf("\nCommit: %s", result.CommitHash)
		} else {
			text += "\nNo changes since the last export."
		}
		return mcp.NewToolResultText(text), nil
	}
}
