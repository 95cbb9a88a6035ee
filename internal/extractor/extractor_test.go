package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/michimem/internal/model"
)

func writeTranscript(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExtract_DiaryRequiresFourMessages(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"role":"user","content":"hi"}`,
		`{"role":"assistant","content":"hello"}`,
	})
	result := Extract(path, 30)
	require.Nil(t, result.Diary)
}

func TestExtract_DiaryBuiltWithFourOrMoreMessages(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"role":"user","content":"I am working on the billing module today"}`,
		`{"role":"assistant","content":"Sure, let's look at it"}`,
		`{"role":"user","content":"actually, let's use the new validator instead"}`,
		`{"role":"assistant","content":"Updated src/billing/validator.go"}`,
	})
	result := Extract(path, 30)
	require.NotNil(t, result.Diary)
	require.Equal(t, model.TypeDiary, result.Diary.Type)
	require.Equal(t, model.PriorityShort, result.Diary.Priority)
	require.Contains(t, result.Diary.Title, "Session:")
	require.NotNil(t, result.Diary.ExpiresAt)
}

func TestExtract_CorrectionsDeduped(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"role":"user","content":"actually, please rename the handler to ProcessOrder for clarity"}`,
		`{"role":"assistant","content":"ok"}`,
		`{"role":"user","content":"ACTUALLY, please rename the handler to ProcessOrder for clarity"}`,
		`{"role":"assistant","content":"done"}`,
	})
	result := Extract(path, 30)
	require.Len(t, result.Corrections, 1)
	require.Contains(t, result.Corrections[0].Tags, "correction")
}

func TestExtract_Preferences(t *testing.T) {
	path := writeTranscript(t, []string{
		`{"role":"user","content":"I always prefer tabs over spaces in this repo"}`,
		`{"role":"assistant","content":"noted"}`,
		`{"role":"user","content":"also please always run gofmt before committing"}`,
		`{"role":"assistant","content":"ok"}`,
	})
	result := Extract(path, 30)
	require.NotEmpty(t, result.Preferences)
	for _, p := range result.Preferences {
		require.Equal(t, []string{"preference"}, p.Tags)
	}
}

func TestExtract_MissingFileIsEmptyNotError(t *testing.T) {
	result := Extract("/nonexistent/path/transcript.jsonl", 30)
	require.Nil(t, result.Diary)
	require.Empty(t, result.Corrections)
	require.Empty(t, result.Preferences)
}

func TestMessageText_ContentBlocks(t *testing.T) {
	m := Message{Role: "assistant", Content: []any{
		map[string]any{"type": "text", "text": "hello"},
		map[string]any{"type": "tool_use", "text": "ignored"},
		map[string]any{"type": "text", "text": "world"},
	}}
	require.Equal(t, "hello world", m.Text())
}
