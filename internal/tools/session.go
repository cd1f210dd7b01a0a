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

// NewSessionTool creates the munin_session tool definition
func NewSessionTool() mcp.Tool {
	return mcp.NewTool("munin_session",
		mcp.WithDescription("Manage conversation sessions. Ending a session forgets every session-only memory written during it."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Session action: begin, message or end"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session id, required for message and end"),
		),
	)
}

// SessionHandler handles the munin_session tool
func SessionHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpWriteContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		action, err := request.RequireString("action")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		switch action {
		case "begin":
			subjectID, err := tc.resolveSubject(user, request)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			sess, err := tc.Sessions.Begin(subjectID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to begin session: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Session started: %s", sess.ID)), nil

		case "message":
			sessionID, err := request.RequireString("session_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := tc.Sessions.RecordMessage(sessionID); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to record message: %v", err)), nil
			}
			return mcp.NewToolResultText("Message recorded."), nil

		case "end":
			sessionID, err := request.RequireString("session_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			swept, err := tc.Sessions.End(sessionID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to end session: %v", err)), nil
			}
			text := fmt.Sprintf("Session ended: %s", sessionID)
			if swept > 0 {
				text += fmt.Sprintf("\nForgot %d session-only memories.", swept)
			}
			return mcp.NewToolResultText(text), nil

		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown session action: %s", action)), nil
		}
	}
}
