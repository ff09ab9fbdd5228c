// Package mcpserver exposes the Tool Dispatcher's RPC surface (spec.md §6)
// over MCP using mark3labs/mcp-go, serving over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentmem/memoryd/internal/apperr"
	"github.com/agentmem/memoryd/internal/contextinject"
	"github.com/agentmem/memoryd/internal/dispatcher"
	"github.com/agentmem/memoryd/internal/model"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
)

// New builds an MCP server wired to d, one tool per spec.md §6 RPC entry.
func New(d *dispatcher.Dispatcher, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool(dispatcher.ToolRemember,
		mcp.WithDescription("Store a new memory item"),
		mcp.WithString("content", mcp.Required()),
		mcp.WithString("type", mcp.Required(), mcp.Description("working|episodic|semantic|procedural")),
		mcp.WithArray("tags"),
		mcp.WithNumber("importance"),
		mcp.WithString("source"),
		mcp.WithString("privacy_scope"),
		mcp.WithString("project_id"),
		mcp.WithObject("metadata", mcp.Description("opaque caller-defined JSON object")),
	), handleRemember(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolRecall,
		mcp.WithDescription("Lexical search over stored memories"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), handleRecall(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolHybridSearch,
		mcp.WithDescription("Hybrid text+vector search over stored memories"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
		mcp.WithNumber("textWeight", mcp.Description("overrides the adaptive text-side mixing weight; requires vectorWeight")),
		mcp.WithNumber("vectorWeight", mcp.Description("overrides the adaptive vector-side mixing weight; requires textWeight")),
	), handleHybridSearch(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolGet,
		mcp.WithDescription("Fetch a memory item by id"),
		mcp.WithString("id", mcp.Required()),
	), handleGet(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolUpdate,
		mcp.WithDescription("Patch a memory item"),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("content"),
		mcp.WithString("type"),
		mcp.WithArray("tags"),
		mcp.WithNumber("importance"),
		mcp.WithBoolean("pinned"),
		mcp.WithString("privacy_scope"),
		mcp.WithObject("metadata", mcp.Description("opaque caller-defined JSON object")),
	), handleUpdate(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolForget,
		mcp.WithDescription("Soft- or hard-delete a memory item"),
		mcp.WithString("id", mcp.Required()),
		mcp.WithBoolean("hard"),
		mcp.WithBoolean("confirm"),
	), handleForget(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolPin,
		mcp.WithDescription("Pin a memory item, exempting it from forgetting"),
		mcp.WithString("id", mcp.Required()),
	), handlePinUnpin(d, true))

	s.AddTool(mcp.NewTool(dispatcher.ToolUnpin,
		mcp.WithDescription("Unpin a memory item"),
		mcp.WithString("id", mcp.Required()),
	), handlePinUnpin(d, false))

	s.AddTool(mcp.NewTool(dispatcher.ToolLink,
		mcp.WithDescription("Create a directed relation between two memory items"),
		mcp.WithString("source_id", mcp.Required()),
		mcp.WithString("target_id", mcp.Required()),
		mcp.WithString("relation_type", mcp.Required(), mcp.Description("cause_of|derived_from|duplicates|contradicts")),
	), handleLink(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolFeedback,
		mcp.WithDescription("Record feedback against a memory item"),
		mcp.WithString("memory_id", mcp.Required()),
		mcp.WithBoolean("helpful", mcp.Required()),
		mcp.WithString("comment"),
		mcp.WithNumber("score"),
	), handleFeedback(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolExport,
		mcp.WithDescription("Export stored memories"),
		mcp.WithString("format", mcp.Required(), mcp.Description("json|csv|markdown")),
	), handleExport(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolInjectContext,
		mcp.WithDescription("Produce a system message summarizing related memories"),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("token_budget"),
		mcp.WithNumber("max_memories"),
		mcp.WithString("contextType", mcp.Description("conversation|task|general")),
		mcp.WithArray("memoryTypes", mcp.Description("restrict to working|episodic|semantic|procedural")),
		mcp.WithNumber("recentDays", mcp.Description("restrict to items created within the last N days")),
		mcp.WithNumber("importanceThreshold", mcp.Description("exclude items below this importance")),
		mcp.WithBoolean("pinnedOnly"),
	), handleInjectContext(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolStatsErrors,
		mcp.WithDescription("Return the recent classified-error ring buffer"),
	), handleStatsErrors(d))

	s.AddTool(mcp.NewTool(dispatcher.ToolStatsMetrics,
		mcp.WithDescription("Return hybrid search hit counters for a normalized query"),
		mcp.WithString("query", mcp.Required()),
	), handleStatsMetrics(d))

	return s
}

// Serve runs s over stdio until ctx is cancelled.
func Serve(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	if appErr, ok := err.(*apperr.Error); ok {
		return mcp.NewToolResultError(appErr.Error()), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}

func handleRemember(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		var importance *float64
		if v, ok := args["importance"].(float64); ok {
			importance = &v
		}
		var source *string
		if v, ok := args["source"].(string); ok {
			source = &v
		}
		var privacy *model.PrivacyScope
		if v, ok := args["privacy_scope"].(string); ok {
			p := model.PrivacyScope(v)
			privacy = &p
		}
		var projectID *string
		if v, ok := args["project_id"].(string); ok {
			projectID = &v
		}
		resp, err := d.Remember(ctx, dispatcher.RememberRequest{
			Content:      req.GetString("content", ""),
			Type:         model.MemoryType(req.GetString("type", "")),
			Tags:         stringSlice(args["tags"]),
			Importance:   importance,
			Source:       source,
			PrivacyScope: privacy,
			ProjectID:    projectID,
			Metadata:     objectArg(args["metadata"]),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleRecall(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := d.Recall(ctx, dispatcher.RecallRequest{
			Query: req.GetString("query", ""),
			Limit: int(req.GetFloat("limit", 0)),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleHybridSearch(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		var textWeight, vectorWeight *float64
		if v, ok := args["textWeight"].(float64); ok {
			textWeight = &v
		}
		if v, ok := args["vectorWeight"].(float64); ok {
			vectorWeight = &v
		}
		resp, err := d.HybridSearch(ctx, dispatcher.HybridSearchRequest{
			Query:        req.GetString("query", ""),
			Limit:        int(req.GetFloat("limit", 0)),
			TextWeight:   textWeight,
			VectorWeight: vectorWeight,
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleGet(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		item, err := d.Get(ctx, req.GetString("id", ""))
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(item)
	}
}

func handleUpdate(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		patch := registrystore.UpdatePatch{}
		if v, ok := args["content"].(string); ok {
			patch.Content = &v
		}
		if v, ok := args["type"].(string); ok {
			t := model.MemoryType(v)
			patch.Type = &t
		}
		if v, ok := args["importance"].(float64); ok {
			patch.Importance = &v
		}
		if v, ok := args["pinned"].(bool); ok {
			patch.Pinned = &v
		}
		if v, ok := args["privacy_scope"].(string); ok {
			p := model.PrivacyScope(v)
			patch.PrivacyScope = &p
		}
		if args["tags"] != nil {
			patch.Tags = stringSlice(args["tags"])
		}
		if args["metadata"] != nil {
			patch.Metadata = objectArg(args["metadata"])
		}
		item, err := d.Update(ctx, req.GetString("id", ""), patch)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(item)
	}
}

func handleForget(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := d.Forget(ctx, dispatcher.ForgetRequest{
			ID:      req.GetString("id", ""),
			Hard:    req.GetBool("hard", false),
			Confirm: req.GetBool("confirm", false),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handlePinUnpin(d *dispatcher.Dispatcher, pin bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("id", "")
		var resp dispatcher.PinUnpinResponse
		var err error
		if pin {
			resp, err = d.Pin(ctx, id)
		} else {
			resp, err = d.Unpin(ctx, id)
		}
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleLink(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := d.Link(ctx, dispatcher.LinkRequest{
			SourceID: req.GetString("source_id", ""),
			TargetID: req.GetString("target_id", ""),
			Relation: model.LinkRelation(req.GetString("relation_type", "")),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleFeedback(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		var comment *string
		if v, ok := args["comment"].(string); ok {
			comment = &v
		}
		var score *float64
		if v, ok := args["score"].(float64); ok {
			score = &v
		}
		resp, err := d.Feedback(ctx, dispatcher.FeedbackRequest{
			MemoryID: req.GetString("memory_id", ""),
			Helpful:  req.GetBool("helpful", false),
			Comment:  comment,
			Score:    score,
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleExport(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := d.Export(ctx, dispatcher.ExportRequest{Format: req.GetString("format", "json")})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(resp)
	}
}

func handleInjectContext(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		var memoryTypes []model.MemoryType
		for _, t := range stringSlice(args["memoryTypes"]) {
			memoryTypes = append(memoryTypes, model.MemoryType(t))
		}
		var importanceThreshold *float64
		if v, ok := args["importanceThreshold"].(float64); ok {
			importanceThreshold = &v
		}
		messages, err := d.InjectContext(ctx, contextinject.Request{
			Query:               req.GetString("query", ""),
			TokenBudget:         int(req.GetFloat("token_budget", 0)),
			MaxMemories:         int(req.GetFloat("max_memories", 0)),
			ContextType:         req.GetString("contextType", ""),
			MemoryTypes:         memoryTypes,
			RecentDays:          int(req.GetFloat("recentDays", 0)),
			ImportanceThreshold: importanceThreshold,
			PinnedOnly:          req.GetBool("pinnedOnly", false),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]interface{}{"content": messages})
	}
}

func handleStatsErrors(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(d.StatsErrors(ctx))
	}
}

func handleStatsMetrics(d *dispatcher.Dispatcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(d.StatsMetrics(req.GetString("query", "")))
	}
}

func objectArg(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return m
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
