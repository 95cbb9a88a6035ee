// Package lifecycle implements C5: evolving the store over time by
// expiring/archiving stale records (this file) and promoting clusters of
// related records into synthesized higher-tier ones (compounding.go).
// Grounded on the teacher's scan-then-batch-act worker shape (formerly
// internal/service/eviction.go — a periodic GetExpired-then-delete loop),
// generalized here into a single on-demand pass invoked by the Dispatcher
// rather than a background ticker, since this system has no event loop
// (spec §5).
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/metrics"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
	"github.com/chirino/michimem/internal/tempfiles"
)

// Result is the outcome of one RunLifecycle pass.
type Result struct {
	Expired  int
	Archived int
}

// RunLifecycle fetches all expired records, writes each to a markdown
// file under archive/, and deletes it from the store regardless of
// whether the archive write succeeded (spec §4.5).
func RunLifecycle(ctx context.Context, s *store.Store, cfg *config.Config) (Result, error) {
	var result Result

	expired, err := s.GetExpired(ctx)
	if err != nil {
		return result, fmt.Errorf("lifecycle: get expired: %w", err)
	}

	archiveDir := filepath.Join(cfg.DataDir, "archive")
	for _, m := range expired {
		result.Expired++
		if metrics.LifecycleExpiredTotal != nil {
			metrics.LifecycleExpiredTotal.Inc()
		}

		archived := writeArchive(archiveDir, m)
		if archived {
			result.Archived++
			if metrics.LifecycleArchivedTotal != nil {
				metrics.LifecycleArchivedTotal.Inc()
			}
		}

		if err := s.Delete(ctx, m.ID); err != nil {
			return result, fmt.Errorf("lifecycle: delete %s: %w", m.ID, err)
		}

		s.RecordMetric(ctx, "lifecycle_expire", map[string]any{
			"id":       m.ID.String(),
			"archived": archived,
		})
	}

	return result, nil
}

// writeArchive serializes m to archive/<date>-<id_prefix_8>.md via an
// atomic temp-write-then-rename. Failures are logged and tolerated — the
// caller proceeds to delete the record regardless (spec §4.5, §7).
func writeArchive(archiveDir string, m model.Memory) bool {
	idPrefix := m.ID.String()
	if i := strings.IndexByte(idPrefix, '-'); i > 0 {
		idPrefix = idPrefix[:i]
	}
	name := fmt.Sprintf("%s-%s.md", m.CreatedAt.UTC().Format("2006-01-02"), idPrefix)

	body := renderArchiveBody(m)

	f, err := tempfiles.Create(archiveDir, "archive-*.md.tmp")
	if err != nil {
		log.Warn("lifecycle: archive temp file failed", "id", m.ID, "err", err)
		return false
	}
	tmpPath := f.Name()

	if _, err := f.WriteString(body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		log.Warn("lifecycle: archive write failed", "id", m.ID, "err", err)
		return false
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		log.Warn("lifecycle: archive sync failed", "id", m.ID, "err", err)
		return false
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		log.Warn("lifecycle: archive close failed", "id", m.ID, "err", err)
		return false
	}

	finalPath := filepath.Join(archiveDir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		log.Warn("lifecycle: archive publish failed", "id", m.ID, "err", err)
		return false
	}
	return true
}

func renderArchiveBody(m model.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", m.Title)
	fmt.Fprintf(&b, "- id: %s\n", m.ID)
	fmt.Fprintf(&b, "- type: %s\n", m.Type)
	fmt.Fprintf(&b, "- priority: %d\n", int(m.Priority))
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "- tags: %s\n", strings.Join(m.Tags, ", "))
	}
	fmt.Fprintf(&b, "- created_at: %s\n", m.CreatedAt.Format(time.RFC3339))
	if m.ExpiresAt != nil {
		fmt.Fprintf(&b, "- expires_at: %s\n", m.ExpiresAt.Format(time.RFC3339))
	}
	b.WriteString("\n")
	b.WriteString(m.Summary)
	b.WriteString("\n\n")
	b.WriteString(m.Content)
	return b.String()
}
