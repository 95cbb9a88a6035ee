// Package dispatcher translates host hook events into calls against
// C1–C5 (spec §6). Each handler is a free function over an already-open
// Store and Config, following the teacher's handler shape (one function
// per recognized request, no god-object receiver) per spec §9
// "Stateless-function components".
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chirino/michimem/internal/checkpoint"
	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/extractor"
	"github.com/chirino/michimem/internal/lifecycle"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/store"
	"github.com/chirino/michimem/internal/tiering"
)

// Payload is the JSON object the host delivers on standard input for
// every hook invocation (spec §6).
type Payload struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	Source         string `json:"source,omitempty"`
	Trigger        string `json:"trigger,omitempty"`
	StopHookActive bool   `json:"stop_hook_active,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// hookOutput is the envelope emitted on standard output by SessionStart
// (spec §6).
type hookOutput struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// SessionStart builds the L0 context and, on a compaction resume,
// appends the latest checkpoint's restore block. Returns the JSON
// payload to print on standard output, or "" if there is nothing to
// inject (spec §6 "SessionStart").
func SessionStart(ctx context.Context, s *store.Store, cfg *config.Config, p Payload) (string, error) {
	text, err := tiering.BuildL0Context(ctx, s, cfg)
	if err != nil {
		return "", fmt.Errorf("session_start: build l0 context: %w", err)
	}

	if p.Source == "compact" {
		cp := checkpoint.New(cfg.DataDir)
		latest, err := cp.Latest(p.SessionID)
		if err != nil {
			return "", fmt.Errorf("session_start: get latest checkpoint: %w", err)
		}
		if latest != nil {
			restore := tiering.BuildRestoreContext(latest)
			if text != "" {
				text = text + "\n\n" + restore
			} else {
				text = restore
			}
		}
	}

	if text == "" {
		return "", nil
	}

	out := hookOutput{HookSpecificOutput: hookSpecificOutput{
		HookEventName:     "SessionStart",
		AdditionalContext: text,
	}}
	payload, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("session_start: marshal output: %w", err)
	}
	return string(payload), nil
}

// PreCompact creates a checkpoint ahead of an impending compaction and
// records a precompact metric (spec §6 "PreCompact").
func PreCompact(ctx context.Context, s *store.Store, cfg *config.Config, p Payload) error {
	cp := checkpoint.New(cfg.DataDir)
	snapshot, err := cp.Create(p.SessionID, p.TranscriptPath)
	if err != nil {
		return fmt.Errorf("precompact: create checkpoint: %w", err)
	}

	s.RecordMetric(ctx, "precompact", map[string]any{
		"session_id":         p.SessionID,
		"trigger":            p.Trigger,
		"checkpoint_created": snapshot != nil,
	})
	return nil
}

// Stop runs the Extractor over the transcript and inserts the diary plus
// any not-yet-seen correction/preference records (spec §6 "Stop"). A
// re-entrant stop (stop_hook_active) is a silent no-op.
func Stop(ctx context.Context, s *store.Store, cfg *config.Config, p Payload) error {
	if p.StopHookActive {
		return nil
	}

	result := extractor.Extract(p.TranscriptPath, cfg.TTL.DiaryDays)

	diaryCreated := false
	if result.Diary != nil {
		if _, err := s.Insert(ctx, *result.Diary); err != nil {
			return fmt.Errorf("stop: insert diary: %w", err)
		}
		diaryCreated = true
	}

	existingTitles, err := existingKnowledgeTitles(ctx, s)
	if err != nil {
		return fmt.Errorf("stop: load existing titles: %w", err)
	}

	correctionsInserted := 0
	for _, in := range result.Corrections {
		key := strings.ToLower(in.Title)
		if existingTitles[key] {
			continue
		}
		if _, err := s.Insert(ctx, in); err != nil {
			return fmt.Errorf("stop: insert correction: %w", err)
		}
		existingTitles[key] = true
		correctionsInserted++
	}

	preferencesInserted := 0
	for _, in := range result.Preferences {
		key := strings.ToLower(in.Title)
		if existingTitles[key] {
			continue
		}
		if _, err := s.Insert(ctx, in); err != nil {
			return fmt.Errorf("stop: insert preference: %w", err)
		}
		existingTitles[key] = true
		preferencesInserted++
	}

	s.RecordMetric(ctx, "stop_extract", map[string]any{
		"session_id":           p.SessionID,
		"diary_created":        diaryCreated,
		"corrections_inserted": correctionsInserted,
		"preferences_inserted": preferencesInserted,
	})
	return nil
}

// SessionEnd runs compounding then lifecycle and records a session_end
// metric (spec §6 "SessionEnd").
func SessionEnd(ctx context.Context, s *store.Store, cfg *config.Config, p Payload) error {
	compounding, err := lifecycle.RunCompounding(ctx, s, cfg)
	if err != nil {
		return fmt.Errorf("session_end: run compounding: %w", err)
	}

	lifecycleResult, err := lifecycle.RunLifecycle(ctx, s, cfg)
	if err != nil {
		return fmt.Errorf("session_end: run lifecycle: %w", err)
	}

	s.RecordMetric(ctx, "session_end", map[string]any{
		"session_id":        p.SessionID,
		"insights_created":  compounding.InsightsCreated,
		"knowledge_created": compounding.KnowledgeCreated,
		"diaries_processed": compounding.DiariesProcessed,
		"expired":           lifecycleResult.Expired,
		"archived":          lifecycleResult.Archived,
	})
	return nil
}

// existingKnowledgeTitles loads every knowledge-type record's title,
// lowercased, so Stop can dedup corrections/preferences by title within
// a type (spec §3 "title is the dedup key (case-insensitive) within a
// type", §6 "iff no existing record with that title").
func existingKnowledgeTitles(ctx context.Context, s *store.Store) (map[string]bool, error) {
	records, err := s.GetByType(ctx, model.TypeKnowledge, 100000)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]bool, len(records))
	for _, r := range records {
		titles[strings.ToLower(r.Title)] = true
	}
	return titles, nil
}
