package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

// TestRunLifecycle_S5Drain is spec scenario S5.
func TestRunLifecycle_S5Drain(t *testing.T) {
	s, dataDir := openTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	m, err := s.Insert(ctx, model.Input{
		Type:      model.TypeDiary,
		Priority:  model.PriorityShort,
		Title:     "Expired diary",
		Summary:   "should be archived",
		Content:   "body",
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	result, err := RunLifecycle(ctx, s, &cfg)
	require.NoError(t, err)
	require.Equal(t, 1, result.Expired)
	require.Equal(t, 1, result.Archived)

	got, err := s.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Nil(t, got)

	entries, err := os.ReadDir(filepath.Join(dataDir, "archive"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	body, err := os.ReadFile(filepath.Join(dataDir, "archive", entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(body), "Expired diary")
}

func TestRunLifecycle_NothingExpired(t *testing.T) {
	s, dataDir := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, model.Input{Type: model.TypeKnowledge, Priority: model.PriorityPermanent, Title: "permanent", Summary: "s"})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	result, err := RunLifecycle(ctx, s, &cfg)
	require.NoError(t, err)
	require.Equal(t, 0, result.Expired)
	require.Equal(t, 0, result.Archived)
}
