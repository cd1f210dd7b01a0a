// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/compression"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
)

// NewCompressTool creates the munin_compress tool definition
func NewCompressTool() mcp.Tool {
	return mcp.NewTool("munin_compress",
		mcp.WithDescription("Run one compression pass over the subject's memory: prune memories that decayed below the noise floor, consolidate dense clusters. Ledger-anchored memories and unresolved contradictions are never touched."),
		mcp.WithString("subject_id",
			mcp.Description("Subject whose memory to compress (staff only; subjects compress their own)"),
		),
	)
}

// CompressHandler handles the munin_compress tool
func CompressHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpCompress); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		report, err := tc.Engine.Compress(graph.ID, user.ID)
		if err != nil {
			var concurrent *compression.ConcurrentModificationError
			if errors.As(err, &concurrent) {
				return mcp.NewToolResultError("compression aborted: the memory is being written concurrently, try again later"), nil
			}
			var failed *compression.CompressionFailedError
			if errors.As(err, &failed) {
				return mcp.NewToolResultError(fmt.Sprintf("compression failed, nothing was changed: %v", failed.Err)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("compression failed: %v", err)), nil
		}

		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode report: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

// NewVerifyTool creates the munin_verify tool definition
func NewVerifyTool() mcp.Tool {
	return mcp.NewTool("munin_verify",
		mcp.WithDescription("Verify the integrity of the subject's memory graph: stored counts against live rows."),
		mcp.WithString("subject_id",
			mcp.Description("Subject whose graph to verify (staff only; subjects verify their own)"),
		),
	)
}

// VerifyHandler handles the munin_verify tool
func VerifyHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpVerify); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := tc.Store.VerifyGraph(graph.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("integrity check failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Graph %s verified: %d nodes, %d edges, SNR %.3f",
			graph.ID, graph.NodeCount, graph.EdgeCount, graph.SNR)), nil
	}
}
