// Package mcpserver exposes the Store and its derived views over the
// standard-input/output tool-invocation transport (spec §6 "Tool
// server"), using mark3labs/mcp-go. The teacher declares this dependency
// in an unused, empty nested module (chirino-memory-service/mcp); there
// is no usage site to ground the wiring on, so the tool/handler shape
// here follows mcp-go's own public API (server.NewMCPServer +
// mcp.NewTool + AddTool + server.ServeStdio), not a teacher pattern.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chirino/michimem/internal/checkpoint"
	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
	"github.com/chirino/michimem/internal/tiering"
)

// New builds an MCP server exposing mem_search, mem_recall, mem_store,
// mem_stats, and mem_restore (spec §6).
func New(s *store.Store, cfg *config.Config) *server.MCPServer {
	srv := server.NewMCPServer("michimem", "0.1.0")

	srv.AddTool(mcp.NewTool("mem_search",
		mcp.WithDescription("Full-text search over stored memories."),
		mcp.WithString("query", mcp.Required(), mcp.Description("FTS5 query expression.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 10).")),
	), memSearchHandler(s))

	srv.AddTool(mcp.NewTool("mem_recall",
		mcp.WithDescription("Return the full record for a memory id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Memory id.")),
	), memRecallHandler(s))

	srv.AddTool(mcp.NewTool("mem_store",
		mcp.WithDescription("Create or update a memory record, deduped by title+type."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("summary", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
		mcp.WithString("type", mcp.Description("diary|insight|knowledge|shared (default insight).")),
		mcp.WithNumber("priority", mcp.Description("0|1|2 (default 1).")),
		mcp.WithArray("tags", mcp.Description("Tag list.")),
	), memStoreHandler(s, cfg))

	srv.AddTool(mcp.NewTool("mem_stats",
		mcp.WithDescription("Aggregate counts across the store."),
	), memStatsHandler(s))

	srv.AddTool(mcp.NewTool("mem_restore",
		mcp.WithDescription("Return the latest checkpoint's restore text for a session."),
		mcp.WithString("session_id", mcp.Required()),
	), memRestoreHandler(cfg))

	return srv
}

// ServeStdio runs srv over the standard-input/output transport until it
// closes (spec §5 "single-threaded with respect to handler invocations").
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

func memSearchHandler(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		query := argString(args, "query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := argInt(args, "limit", 10)

		hits, err := s.Search(ctx, query, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcp.NewToolResultText("No memories found."), nil
		}

		var b strings.Builder
		for _, h := range hits {
			fmt.Fprintf(&b, "**%s** (%s/P%d) [id:%s]\n%s\n", h.Memory.Title, h.Memory.Type, int(h.Memory.Priority), h.Memory.ID, h.Memory.Summary)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func memRecallHandler(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		idStr := argString(args, "id", "")
		id, err := uuid.Parse(idStr)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Memory not found: %s", idStr)), nil
		}

		m, err := s.GetByID(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if m == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Memory not found: %s", idStr)), nil
		}

		return mcp.NewToolResultText(tiering.BuildL2(*m).Text), nil
	}
}

func memStoreHandler(s *store.Store, cfg *config.Config) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		title := argString(args, "title", "")
		summary := argString(args, "summary", "")
		content := argString(args, "content", "")
		typ := model.Type(argString(args, "type", string(model.TypeInsight)))
		priority := model.Priority(argInt(args, "priority", int(model.PriorityLong)))
		tags := argStringSlice(args, "tags")

		existing, err := findByTitleAndType(ctx, s, title, typ)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("mem_store failed: %v", err)), nil
		}
		if existing != nil {
			fields := model.Fields{Content: &content, Summary: &summary}
			if _, err := s.Update(ctx, existing.ID, fields); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("mem_store update failed: %v", err)), nil
			}
			return mcp.NewToolResultText(existing.ID.String()), nil
		}

		var expiresAt *time.Time
		switch priority {
		case model.PriorityLong:
			t := time.Now().UTC().AddDate(0, 0, cfg.TTL.InsightDays)
			expiresAt = &t
		case model.PriorityShort:
			t := time.Now().UTC().AddDate(0, 0, cfg.TTL.DiaryDays)
			expiresAt = &t
		}

		created, err := s.Insert(ctx, model.Input{
			Type:      typ,
			Priority:  priority,
			Title:     title,
			Summary:   summary,
			Content:   content,
			Tags:      tags,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("mem_store insert failed: %v", err)), nil
		}
		return mcp.NewToolResultText(created.ID.String()), nil
	}
}

func memStatsHandler(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := s.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "**Total**: %d\n", stats.Total)
		fmt.Fprintf(&b, "**Expired**: %d\n", stats.Expired)
		b.WriteString("**By type**:\n")
		for t, n := range stats.ByType {
			fmt.Fprintf(&b, "- %s: %d\n", t, n)
		}
		b.WriteString("**By priority**:\n")
		for p, n := range stats.ByPriority {
			fmt.Fprintf(&b, "- P%d: %d\n", p, n)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func memRestoreHandler(cfg *config.Config) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(req)
		sessionID := argString(args, "session_id", "")

		cp := checkpoint.New(cfg.DataDir)
		latest, err := cp.Latest(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("mem_restore failed: %v", err)), nil
		}
		if latest == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no checkpoint for session: %s", sessionID)), nil
		}
		return mcp.NewToolResultText(tiering.BuildRestoreContext(latest)), nil
	}
}

func findByTitleAndType(ctx context.Context, s *store.Store, title string, typ model.Type) (*model.Memory, error) {
	records, err := s.GetByType(ctx, typ, 100000)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(title)
	for i := range records {
		if strings.ToLower(records[i].Title) == want {
			return &records[i], nil
		}
	}
	return nil, nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	if m, ok := req.Params.Arguments.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
