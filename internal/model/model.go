// Package model holds the entity types shared across michimem's
// components: the Memory record, its session-resume Checkpoint sibling,
// and the append-only Metric observation.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of a Memory record.
type Type string

const (
	TypeDiary     Type = "diary"
	TypeInsight   Type = "insight"
	TypeKnowledge Type = "knowledge"
	TypeShared    Type = "shared"
)

// Priority is the retention tier of a Memory record.
// 0 = permanent, 1 = 90-day TTL (config-tunable), 2 = 30-day TTL (config-tunable).
type Priority int

const (
	PriorityPermanent Priority = 0
	PriorityLong      Priority = 1
	PriorityShort     Priority = 2
)

// Memory is the primary persisted entity (spec §3).
type Memory struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	Priority  Priority  `json:"priority"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	AgentID   string    `json:"agentId"`
	SourceIDs []string  `json:"sourceIds"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Input is the set of fields a caller supplies to create a Memory; the
// Store assigns ID, CreatedAt, and UpdatedAt.
type Input struct {
	Type      Type
	Priority  Priority
	Title     string
	Summary   string
	Content   string
	Tags      []string
	AgentID   string
	SourceIDs []string
	ExpiresAt *time.Time
}

// Fields is a partial update to an existing Memory (Store.Update).
// A nil field is left unchanged.
type Fields struct {
	Title     *string
	Summary   *string
	Content   *string
	Tags      []string
	Priority  *Priority
	ExpiresAt *time.Time
	// ExpiresAtSet distinguishes "clear the expiry" (ExpiresAt nil, ExpiresAtSet
	// true) from "leave expiry alone" (ExpiresAtSet false).
	ExpiresAtSet bool
}

// Stats is the aggregate view returned by Store.Stats.
type Stats struct {
	Total      int           `json:"total"`
	ByType     map[Type]int  `json:"byType"`
	ByPriority map[int]int   `json:"byPriority"`
	Expired    int           `json:"expired"`
}

// SearchHit pairs a Memory with its opaque FTS rank (lower is better,
// comparable only within a single Search call).
type SearchHit struct {
	Memory Memory
	Rank   float64
}

// Checkpoint is a session-resume snapshot (spec §3).
type Checkpoint struct {
	SessionID      string    `json:"sessionId"`
	Timestamp      time.Time `json:"timestamp"`
	CurrentTask    string    `json:"currentTask"`
	Decisions      []string  `json:"decisions"`
	FilesModified  []string  `json:"filesModified"`
	Corrections    []string  `json:"corrections"`
	ContextSummary string    `json:"contextSummary"`
}

// Metric is an append-only diagnostic observation. Never read back by the
// core system; consumed only by external diagnostics.
type Metric struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Data      string    `json:"data"` // JSON-encoded payload
	CreatedAt time.Time `json:"createdAt"`
}
