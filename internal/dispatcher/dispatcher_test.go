package dispatcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/michimem/internal/checkpoint"
	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
)

func openTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	s, err := store.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dataDir
}

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

func TestSessionStart_EmptyWhenNothingToShow(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	out, err := SessionStart(context.Background(), s, &cfg, Payload{SessionID: "abc"})
	require.NoError(t, err)
	require.Empty(t, out)
}

// TestSessionStart_S3CompactRestore is spec scenario S3.
func TestSessionStart_S3CompactRestore(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	ctx := context.Background()

	cp := checkpoint.New(dataDir)
	transcript := writeTranscript(t, []string{
		`{"role":"user","content":"fix login"}`,
		`{"role":"assistant","content":"sure"}`,
		`{"role":"user","content":"fix login"}`,
		`{"role":"assistant","content":"done"}`,
	})
	_, err := cp.Create("abc", transcript)
	require.NoError(t, err)

	out, err := SessionStart(ctx, s, &cfg, Payload{SessionID: "abc", Source: "compact"})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	additional := decoded["hookSpecificOutput"]["additionalContext"]
	require.Contains(t, additional, "<michimem-restore>")
	require.Contains(t, additional, "Current task**: fix login")
}

func TestPreCompact_ParseFailureIsNotAnError(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	err := PreCompact(context.Background(), s, &cfg, Payload{SessionID: "xyz", TranscriptPath: "/nonexistent", Trigger: "manual"})
	require.NoError(t, err)
}

func TestStop_SkipsWhenStopHookActive(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	err := Stop(context.Background(), s, &cfg, Payload{StopHookActive: true})
	require.NoError(t, err)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
}

func TestStop_InsertsDiaryAndDedupsOnRerun(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	ctx := context.Background()

	transcript := writeTranscript(t, []string{
		`{"role":"user","content":"actually, please always use tabs instead of spaces"}`,
		`{"role":"assistant","content":"noted"}`,
		`{"role":"user","content":"working on the billing module"}`,
		`{"role":"assistant","content":"updated src/billing/handler.go"}`,
	})

	require.NoError(t, Stop(ctx, s, &cfg, Payload{SessionID: "s1", TranscriptPath: transcript}))
	diaries, err := s.GetByType(ctx, model.TypeDiary, 10)
	require.NoError(t, err)
	require.Len(t, diaries, 1)

	knowledgeAfterFirst, err := s.GetByType(ctx, model.TypeKnowledge, 100)
	require.NoError(t, err)
	firstCount := len(knowledgeAfterFirst)
	require.NotZero(t, firstCount)

	require.NoError(t, Stop(ctx, s, &cfg, Payload{SessionID: "s1", TranscriptPath: transcript}))
	knowledgeAfterSecond, err := s.GetByType(ctx, model.TypeKnowledge, 100)
	require.NoError(t, err)
	require.Len(t, knowledgeAfterSecond, firstCount)
}

func TestSessionEnd_RunsCompoundingThenLifecycle(t *testing.T) {
	s, dataDir := openTestStore(t)
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	ctx := context.Background()

	err := SessionEnd(ctx, s, &cfg, Payload{SessionID: "abc"})
	require.NoError(t, err)
}
