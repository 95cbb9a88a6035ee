package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/metrics"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
)

// CompoundingResult is the outcome of one RunCompounding pass.
type CompoundingResult struct {
	InsightsCreated  int
	KnowledgeCreated int
	DiariesProcessed int
}

const (
	maxUnprocessedDiaries = 50
	maxRecentInsights     = 50
	autoInsightTag        = "auto-insight"
	autoKnowledgeTag      = "auto-knowledge"
	overlapThreshold      = 0.15
)

var wordSplit = regexp.MustCompile(`\W+`)

// RunCompounding promotes clusters of unprocessed diaries into insights,
// then clusters of recent insights into knowledge (spec §4.5, two-stage
// synthesis).
func RunCompounding(ctx context.Context, s *store.Store, cfg *config.Config) (CompoundingResult, error) {
	var result CompoundingResult

	diaries, err := s.GetUnprocessedDiaries(ctx, maxUnprocessedDiaries)
	if err != nil {
		return result, fmt.Errorf("compounding: get unprocessed diaries: %w", err)
	}
	if len(diaries) >= cfg.Compounding.DiaryThreshold {
		for _, cluster := range GroupByOverlap(diaries) {
			if len(cluster) < cfg.Compounding.DiaryThreshold {
				continue
			}
			expiresAt := time.Now().UTC().AddDate(0, 0, cfg.TTL.InsightDays)
			insight := synthesize(cluster, model.TypeInsight, model.PriorityLong, &expiresAt, autoInsightTag)
			if _, err := s.Insert(ctx, insight); err != nil {
				return result, fmt.Errorf("compounding: insert insight: %w", err)
			}
			result.InsightsCreated++
			result.DiariesProcessed += len(cluster)
			if metrics.CompoundingInsightsTotal != nil {
				metrics.CompoundingInsightsTotal.Inc()
			}
		}
	}

	insights, err := s.GetByType(ctx, model.TypeInsight, maxRecentInsights)
	if err != nil {
		return result, fmt.Errorf("compounding: get recent insights: %w", err)
	}
	if len(insights) >= cfg.Compounding.InsightThreshold {
		for _, cluster := range GroupByOverlap(insights) {
			if len(cluster) < cfg.Compounding.InsightThreshold {
				continue
			}
			knowledge := synthesize(cluster, model.TypeKnowledge, model.PriorityPermanent, nil, autoKnowledgeTag)
			if _, err := s.Insert(ctx, knowledge); err != nil {
				return result, fmt.Errorf("compounding: insert knowledge: %w", err)
			}
			result.KnowledgeCreated++
			if metrics.CompoundingKnowledgeTotal != nil {
				metrics.CompoundingKnowledgeTotal.Inc()
			}
		}
	}

	return result, nil
}

// GroupByOverlap partitions items using the deterministic first-fit
// overlap algorithm (spec §4.5): each unassigned item seeds a new group
// and absorbs every later unassigned item whose Jaccard-over-min overlap
// of words-longer-than-3-chars (over title+summary+tags) is ≥ 0.15.
// The result is a cover of the input; order is preserved and the
// partition is deterministic given the input order.
func GroupByOverlap(items []model.Memory) [][]model.Memory {
	n := len(items)
	words := make([]map[string]bool, n)
	for i, m := range items {
		words[i] = wordSet(m)
	}

	assigned := make([]bool, n)
	var groups [][]model.Memory
	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		group := []model.Memory{items[i]}
		assigned[i] = true
		for j := 0; j < n; j++ {
			if assigned[j] {
				continue
			}
			if overlapRatio(words[i], words[j]) >= overlapThreshold {
				group = append(group, items[j])
				assigned[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func wordSet(m model.Memory) map[string]bool {
	joined := strings.Join([]string{m.Title, m.Summary, strings.Join(m.Tags, " ")}, " ")
	set := map[string]bool{}
	for _, tok := range wordSplit.Split(strings.ToLower(joined), -1) {
		if len(tok) > 3 {
			set[tok] = true
		}
	}
	return set
}

func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	return float64(intersection) / float64(minLen)
}

// synthesize builds the deterministic synthesized record for one cluster
// (spec §4.5 "Synthesis is deterministic").
func synthesize(cluster []model.Memory, t model.Type, priority model.Priority, expiresAt *time.Time, autoTag string) model.Input {
	tags := topTags(cluster, 5)
	tagList := strings.Join(tags, ", ")

	title := fmt.Sprintf("Pattern: %s (from %d sessions)", tagList, len(cluster))
	summary := fmt.Sprintf("Recurring pattern across %d sessions involving %s", len(cluster), tagList)

	var content strings.Builder
	earliest, latest := cluster[0].CreatedAt, cluster[0].CreatedAt
	sourceIDs := make([]string, 0, len(cluster))
	for _, m := range cluster {
		fmt.Fprintf(&content, "- %s: %s\n", m.Title, m.Summary)
		sourceIDs = append(sourceIDs, m.ID.String())
		if m.CreatedAt.Before(earliest) {
			earliest = m.CreatedAt
		}
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	fmt.Fprintf(&content, "Date range: %s to %s", earliest.Format("2006-01-02"), latest.Format("2006-01-02"))

	allTags := append(append([]string{}, tags...), autoTag)

	return model.Input{
		Type:      t,
		Priority:  priority,
		Title:     title,
		Summary:   summary,
		Content:   content.String(),
		Tags:      allTags,
		SourceIDs: sourceIDs,
		ExpiresAt: expiresAt,
	}
}

// topTags returns up to n distinct tags across the cluster, in
// first-seen order.
func topTags(cluster []model.Memory, n int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range cluster {
		for _, tag := range m.Tags {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
			if len(out) >= n {
				return out
			}
		}
	}
	return out
}
