// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
	"github.com/tejzpr/munin-mcp/internal/store"
)

// NewRecordTool creates the munin_record tool definition
func NewRecordTool() mcp.Tool {
	return mcp.NewTool("munin_record",
		mcp.WithDescription("Record a memory from the current turn. Respects the subject's remembrance negotiations: a never-remember topic is refused, an ask-each-time topic is deferred, a session-only topic is forgotten when the session ends."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What to remember"),
		),
		mcp.WithString("modality",
			mcp.Description("Memory modality: episodic, semantic, emotional, procedural or other"),
		),
		mcp.WithNumber("salience",
			mcp.Description("How important this memory is, 0 to 1"),
		),
		mcp.WithString("topic",
			mcp.Description("Topic label, checked against remembrance negotiations"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session this memory was written in"),
		),
		mcp.WithArray("edges",
			mcp.Description("Edges to existing memories. Array of objects: [{\"target\": \"node-id\", \"type\": \"RELATES_TO|SUPPORTS|CONTRADICTS|CAUSES|OTHER\", \"strength\": 0.5}]"),
		),
	)
}

// edgeSpec is one requested edge from a new memory
type edgeSpec struct {
	Target   string
	Type     string
	Strength float64
}

// RecordHandler handles the munin_record tool
func RecordHandler(tc *ToolContext, user *database.MuninUser) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := tc.authorize(user, privacy.OpWriteContent); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if strings.TrimSpace(content) == "" {
			return mcp.NewToolResultError("content cannot be empty"), nil
		}

		graph, err := tc.graphFor(user, request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		node, err := tc.Store.CreateNode(graph.ID, store.NewNode{
			Content:   content,
			Modality:  request.GetString("modality", database.ModalityEpisodic),
			Salience:  request.GetFloat("salience", 0.5),
			Topic:     request.GetString("topic", ""),
			SessionID: request.GetString("session_id", ""),
		})
		if err != nil {
			var violation *store.PolicyViolationError
			if errors.As(err, &violation) {
				if violation.Deferred {
					return mcp.NewToolResultError(fmt.Sprintf("deferred: topic '%s' requires asking the subject before remembering", violation.Topic)), nil
				}
				return mcp.NewToolResultError(fmt.Sprintf("refused: the subject negotiated never remembering topic '%s'", violation.Topic)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to record memory: %v", err)), nil
		}

		result := fmt.Sprintf("Memory recorded: %s", node.ID)
		if node.Ephemeral {
			result += "\nSession-only: this memory will be forgotten when the session ends."
		}

		for _, spec := range parseEdges(request) {
			edge, err := tc.Store.CreateEdge(graph.ID, node.ID, spec.Target, spec.Type, spec.Strength)
			if err != nil {
				result += fmt.Sprintf("\nWarning: edge to '%s' failed: %v", spec.Target, err)
				continue
			}
			result += fmt.Sprintf("\nEdge created: %s %s %s", node.ID, edge.EdgeType, spec.Target)
		}

		return mcp.NewToolResultText(result), nil
	}
}

// parseEdges extracts edge objects from the request
func parseEdges(request mcp.CallToolRequest) []edgeSpec {
	var edges []edgeSpec

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return edges
	}
	edgeArray, ok := args["edges"].([]interface{})
	if !ok {
		return edges
	}

	for _, item := range edgeArray {
		edgeMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		spec := edgeSpec{
			Type:     database.EdgeTypeRelatesTo,
			Strength: 0.5,
		}
		if target, ok := edgeMap["target"].(string); ok {
			spec.Target = target
		}
		if edgeType, ok := edgeMap["type"].(string); ok && edgeType != "" {
			spec.Type = edgeType
		}
		if strength, ok := edgeMap["strength"].(float64); ok {
			spec.Strength = strength
		}
		if spec.Target != "" {
			edges = append(edges, spec)
		}
	}
	return edges
}
