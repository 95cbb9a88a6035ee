package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requestWithArgs(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// TestMemSearch_S1 is spec scenario S1, exercised through the tool layer.
func TestMemSearch_S1(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, model.Input{
		Type:     model.TypeKnowledge,
		Priority: model.PriorityPermanent,
		Title:    "Use tabs",
		Summary:  "prefer tabs",
		Content:  "always use tabs in this repo",
	})
	require.NoError(t, err)

	result, err := memSearchHandler(s)(ctx, requestWithArgs(map[string]any{"query": "tabs"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestMemSearch_NoHits(t *testing.T) {
	s := openTestStore(t)
	result, err := memSearchHandler(s)(context.Background(), requestWithArgs(map[string]any{"query": "nonexistent"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestMemRecall_NotFound(t *testing.T) {
	s := openTestStore(t)
	result, err := memRecallHandler(s)(context.Background(), requestWithArgs(map[string]any{"id": "not-a-uuid"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

// TestMemStore_S2DedupUpdate is spec scenario S2.
func TestMemStore_S2DedupUpdate(t *testing.T) {
	s := openTestStore(t)
	cfg := config.DefaultConfig()
	ctx := context.Background()
	handler := memStoreHandler(s, &cfg)

	_, err := handler(ctx, requestWithArgs(map[string]any{
		"title": "Auth flow", "summary": "s1", "content": "c1", "type": "insight", "priority": float64(1),
	}))
	require.NoError(t, err)

	_, err = handler(ctx, requestWithArgs(map[string]any{
		"title": "auth flow", "summary": "s2", "content": "c2", "type": "insight", "priority": float64(1),
	}))
	require.NoError(t, err)

	records, err := s.GetByType(ctx, model.TypeInsight, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "s2", records[0].Summary)
	require.Equal(t, "c2", records[0].Content)
}

func TestMemStats_RendersCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Insert(ctx, model.Input{Type: model.TypeKnowledge, Priority: model.PriorityPermanent, Title: "a", Summary: "b"})
	require.NoError(t, err)

	result, err := memStatsHandler(s)(ctx, requestWithArgs(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestMemRestore_NoCheckpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	result, err := memRestoreHandler(&cfg)(context.Background(), requestWithArgs(map[string]any{"session_id": "missing"}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}
