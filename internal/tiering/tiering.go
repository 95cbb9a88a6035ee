// Package tiering implements C4: composing token-bounded views of the
// Store (spec §4.4). There is no teacher analog for a token budget (the
// teacher has no concept of one); this package follows the
// package-of-pure-functions shape used throughout the teacher's
// internal/service/*.go workers.
package tiering

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
)

// EstimateTokens is the uniform token estimator used by every tier:
// ceil(len(text)/4), a byte-length approximation (spec §4.4 — "its
// precision is not a contract but its formula is").
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// Result is one rendered entry of a tiered view.
type Result struct {
	Memory model.Memory
	Text   string
}

// BuildL0 fetches up to 20 priority-0 records, then up to 10 insights,
// then up to 5 shared records — in that order, against a single running
// token total bounded by tokens.l0_budget. On overflow the whole build
// stops; it never skips an item to try a smaller one later (spec §4.4).
func BuildL0(ctx context.Context, s *store.Store, cfg *config.Config) ([]Result, error) {
	var out []Result
	total := 0
	budget := cfg.Tokens.L0Budget

	appendUntilBudget := func(memories []model.Memory) bool {
		for _, m := range memories {
			text := fmt.Sprintf("%s: %s", m.Title, m.Summary)
			cost := EstimateTokens(text)
			if total+cost > budget {
				return false // overflow: stop the entire build
			}
			total += cost
			out = append(out, Result{Memory: m, Text: text})
		}
		return true
	}

	permanent, err := s.GetByPriority(ctx, model.PriorityPermanent, 20)
	if err != nil {
		return nil, fmt.Errorf("build_l0: %w", err)
	}
	if !appendUntilBudget(permanent) {
		return out, nil
	}

	insights, err := s.GetByType(ctx, model.TypeInsight, 10)
	if err != nil {
		return nil, fmt.Errorf("build_l0: %w", err)
	}
	if !appendUntilBudget(insights) {
		return out, nil
	}

	shared, err := s.GetByType(ctx, model.TypeShared, 5)
	if err != nil {
		return nil, fmt.Errorf("build_l0: %w", err)
	}
	appendUntilBudget(shared)

	return out, nil
}

// BuildL1 renders a paragraph per input memory, in order, accumulating
// until tokens.l1_budget would be exceeded, then stopping (spec §4.4).
func BuildL1(memories []model.Memory, cfg *config.Config) []Result {
	var out []Result
	total := 0
	for _, m := range memories {
		text := renderL1Paragraph(m)
		cost := EstimateTokens(text)
		if total+cost > cfg.Tokens.L1Budget {
			break
		}
		total += cost
		out = append(out, Result{Memory: m, Text: text})
	}
	return out
}

func renderL1Paragraph(m model.Memory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (%s/P%d) [id:%s]\n%s", m.Title, m.Type, int(m.Priority), m.ID, m.Summary)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "\n[Tags: %s]", strings.Join(m.Tags, ", "))
	}
	return b.String()
}

// BuildL2 renders the full single-record view: title, type/priority,
// tags, timestamps, optional expiry, and full content (spec §4.4).
func BuildL2(m model.Memory) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", m.Title)
	fmt.Fprintf(&b, "Type: %s | Priority: %d | ID: %s\n", m.Type, int(m.Priority), m.ID)
	if len(m.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(m.Tags, ", "))
	}
	fmt.Fprintf(&b, "Created: %s | Updated: %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z"), m.UpdatedAt.Format("2006-01-02T15:04:05Z"))
	if m.ExpiresAt != nil {
		fmt.Fprintf(&b, "Expires: %s\n", m.ExpiresAt.Format("2006-01-02T15:04:05Z"))
	}
	b.WriteString("\n")
	b.WriteString(m.Content)
	return Result{Memory: m, Text: b.String()}
}

// BuildL0Context composes the auto-injected SessionStart context: L0
// items partitioned into Core Knowledge / Recent Insights / Shared
// Memories, each rendered as a markdown subheading with bullet lines,
// wrapped in <michimem-context> (spec §4.4). Returns "" if BuildL0 has
// no items.
func BuildL0Context(ctx context.Context, s *store.Store, cfg *config.Config) (string, error) {
	items, err := BuildL0(ctx, s, cfg)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}

	var core, insights, shared []Result
	for _, r := range items {
		switch {
		case r.Memory.Priority == model.PriorityPermanent:
			core = append(core, r)
		case r.Memory.Type == model.TypeInsight:
			insights = append(insights, r)
		case r.Memory.Type == model.TypeShared:
			shared = append(shared, r)
		}
	}

	var b strings.Builder
	b.WriteString("<michimem-context>\n")
	writeGroup(&b, "Core Knowledge", core)
	writeGroup(&b, "Recent Insights", insights)
	writeGroup(&b, "Shared Memories", shared)
	b.WriteString("</michimem-context>")
	return b.String(), nil
}

func writeGroup(b *strings.Builder, heading string, items []Result) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", heading)
	for _, r := range items {
		fmt.Fprintf(b, "- %s\n", r.Text)
	}
}

// BuildRestoreContext formats the <michimem-restore> block used on
// SessionStart after a compaction resume, omitting empty fields
// (spec §4.4).
func BuildRestoreContext(cp *model.Checkpoint) string {
	var b strings.Builder
	b.WriteString("<michimem-restore>\n")
	wrote := false

	if strings.TrimSpace(cp.CurrentTask) != "" {
		fmt.Fprintf(&b, "**Current task**: %s\n", cp.CurrentTask)
		wrote = true
	}
	if len(cp.Decisions) > 0 {
		b.WriteString("**Decisions made**:\n")
		for _, d := range cp.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		wrote = true
	}
	if len(cp.FilesModified) > 0 {
		b.WriteString("**Files modified**:\n")
		for _, f := range cp.FilesModified {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		wrote = true
	}
	if len(cp.Corrections) > 0 {
		b.WriteString("**User corrections**:\n")
		for _, c := range cp.Corrections {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		wrote = true
	}
	if strings.TrimSpace(cp.ContextSummary) != "" {
		fmt.Fprintf(&b, "**Recent context**: %s\n", cp.ContextSummary)
		wrote = true
	}

	b.WriteString("</michimem-restore>")
	if !wrote {
		return "<michimem-restore>\n</michimem-restore>"
	}
	return b.String()
}
