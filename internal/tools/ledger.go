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
	"github.com/tejzpr/munin-mcp/internal/store"
)

// NewLedgerTool creates the munin_ledger tool definition
func NewLedgerTool() mcp.Tool {
	return mcp.NewTool("munin_ledger",
		mcp.WithDescription("Record a standing instruction or commitment in the relationship ledger. Ledger entries survive compression and trigger into context when their keywords come up."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The instruction or commitment, in the subject's words"),
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Entry category: instruction or commitment"),
		),
		mcp.WithNumber("importance",
			mcp.Description("How strongly this should assert itself, 0 to 1"),
		),
		mcp.WithArray("trigger_keywords",
			mcp.Description("Keywords that pull this entry into context"),
		),
		mcp.WithArray("node_refs",
			mcp.Description("Memory node ids this entry anchors; referenced nodes are protected from compression"),
		),
		mcp.WithString("topic",
			mcp.Description("Topic label"),
		),
	)
}

// LedgerHandler handles the munin_ledger tool
func LedgerHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpWriteContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		category, err := request.RequireString("category")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if category == database.LedgerCategoryNegotiation {
			return mcp.NewToolResultError("negotiation entries are created through munin_negotiate"), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entry, err := tc.Store.CreateLedgerEntry(graph.ID, store.NewLedgerEntry{
			Content:         content,
			Category:        category,
			Importance:      request.GetFloat("importance", 0.8),
			TriggerKeywords: request.GetStringSlice("trigger_keywords", []string{}),
			NodeRefs:        request.GetStringSlice("node_refs", []string{}),
			Topic:           request.GetString("topic", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create ledger entry: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Ledger entry created: %s (%s, importance %.2f)",
			entry.ID, entry.Category, entry.Importance)), nil
	}
}
