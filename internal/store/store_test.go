package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chirino/michimem/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndSearch_S1(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, model.Input{
		Type:     model.TypeKnowledge,
		Priority: model.PriorityPermanent,
		Title:    "Use tabs",
		Summary:  "prefer tabs",
		Content:  "the team standardized on tabs for indentation",
	})
	require.NoError(t, err)
	require.NotEqual(t, "", m.ID.String())
	require.Empty(t, m.Tags)
	require.Empty(t, m.SourceIDs)

	hits, err := s.Search(ctx, "tabs", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, m.ID, hits[0].Memory.ID)
}

func TestFTSCoherence_InsertUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.Insert(ctx, model.Input{
		Type: model.TypeKnowledge, Priority: model.PriorityPermanent,
		Title: "Alpha Title", Summary: "s", Content: "c",
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, "Alpha", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	newTitle := "Bravo Title"
	changed, err := s.Update(ctx, m.ID, model.Fields{Title: &newTitle})
	require.NoError(t, err)
	require.True(t, changed)

	hits, err = s.Search(ctx, "Alpha", 5)
	require.NoError(t, err)
	require.Empty(t, hits)

	hits, err = s.Search(ctx, "Bravo", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, s.Delete(ctx, m.ID))
	hits, err = s.Search(ctx, "Bravo", 5)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestTTLConformance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	diaryExpiry := time.Now().Add(30 * 24 * time.Hour)
	diary, err := s.Insert(ctx, model.Input{
		Type: model.TypeDiary, Priority: model.PriorityShort, Title: "d", ExpiresAt: &diaryExpiry,
	})
	require.NoError(t, err)
	require.NotNil(t, diary.ExpiresAt)
	require.WithinDuration(t, diaryExpiry, *diary.ExpiresAt, 2*time.Second)

	perm, err := s.Insert(ctx, model.Input{
		Type: model.TypeKnowledge, Priority: model.PriorityPermanent, Title: "k",
	})
	require.NoError(t, err)
	require.Nil(t, perm.ExpiresAt)
}

func TestGetExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Second)
	expired, err := s.Insert(ctx, model.Input{
		Type: model.TypeDiary, Priority: model.PriorityShort, Title: "expired", ExpiresAt: &past,
	})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	_, err = s.Insert(ctx, model.Input{
		Type: model.TypeDiary, Priority: model.PriorityShort, Title: "still alive", ExpiresAt: &future,
	})
	require.NoError(t, err)

	got, err := s.GetExpired(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, expired.ID, got[0].ID)
}

func TestGetUnprocessedDiaries_ExcludesSourced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	d1, err := s.Insert(ctx, model.Input{Type: model.TypeDiary, Priority: model.PriorityShort, Title: "d1"})
	require.NoError(t, err)
	d2, err := s.Insert(ctx, model.Input{Type: model.TypeDiary, Priority: model.PriorityShort, Title: "d2"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, model.Input{
		Type: model.TypeInsight, Priority: model.PriorityLong, Title: "insight",
		SourceIDs: []string{d1.ID.String()},
	})
	require.NoError(t, err)

	unprocessed, err := s.GetUnprocessedDiaries(ctx, 50)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	require.Equal(t, d2.ID, unprocessed[0].ID)
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, model.Input{Type: model.TypeKnowledge, Priority: model.PriorityPermanent, Title: "a"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, model.Input{Type: model.TypeDiary, Priority: model.PriorityShort, Title: "b"})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByType[model.TypeKnowledge])
	require.Equal(t, 1, stats.ByType[model.TypeDiary])
}

func TestRecordMetric_NeverFailsCaller(t *testing.T) {
	s := openTestStore(t)
	s.RecordMetric(context.Background(), "stop_extract", map[string]any{"session_id": "abc"})
}
