// Package store implements C1: durable persistence of Memories and
// Metrics behind a single SQLite file, with an FTS5 index kept coherent
// by database triggers (spec §4.1). The FTS5 table stores its own copy of
// the indexed text; it is not a contentless table. It is grounded on the
// teacher's internal/plugin/store/postgres package — an embedded schema
// applied at open time, typed errors, and one exported struct type per
// backend — adapted from gorm/Postgres to database/sql/SQLite since this
// spec has exactly one storage backend and needs FTS5, which gorm does
// not model.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chirino/michimem/internal/metrics"
	"github.com/chirino/michimem/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the database handle and file for its lifetime. Exactly one
// process should hold a writable Store at a time (spec §5); concurrent
// readers are safe because SQLite's write-ahead log permits them.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the SQLite database at
// <dataDir>/index.db, applies the embedded schema, and enables
// write-ahead logging and foreign-key enforcement per spec §4.1.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "index.db")

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single process writer is assumed (spec §5); serialize writes
	// in-process to avoid "database is locked" errors under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert assigns an id and timestamps, normalizes missing list fields to
// empty, and writes the record and its FTS index entry atomically
// (spec §4.1 "insert").
func (s *Store) Insert(ctx context.Context, in model.Input) (m model.Memory, err error) {
	defer func() { metrics.Observe("insert", time.Now(), err) }()

	if strings.TrimSpace(in.Title) == "" {
		return model.Memory{}, &ValidationError{Field: "title", Message: "must not be empty"}
	}

	now := time.Now().UTC()
	m = model.Memory{
		ID:        uuid.New(),
		Type:      in.Type,
		Priority:  in.Priority,
		Title:     in.Title,
		Summary:   in.Summary,
		Content:   in.Content,
		Tags:      normalizeList(in.Tags),
		AgentID:   in.AgentID,
		SourceIDs: normalizeList(in.SourceIDs),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: in.ExpiresAt,
	}

	tagsJSON, sourceIDsJSON, err := encodeLists(m.Tags, m.SourceIDs)
	if err != nil {
		return model.Memory{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, type, priority, title, summary, content, tags_json, agent_id, source_ids_json, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), string(m.Type), int(m.Priority), m.Title, m.Summary, m.Content,
		tagsJSON, m.AgentID, sourceIDsJSON, formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTimePtr(m.ExpiresAt),
	)
	if err != nil {
		return model.Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

// GetByID performs an exact lookup.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (mem *model.Memory, err error) {
	defer func() { metrics.Observe("get_by_id", time.Now(), err) }()

	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id.String())
	m, scanErr := scanMemory(row)
	if scanErr == sql.ErrNoRows {
		return nil, nil
	}
	if scanErr != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, scanErr)
	}
	return &m, nil
}

// Search runs a native FTS5 query and returns ranked hits, best first
// (ascending rank — spec §4.1 "search").
func (s *Store) Search(ctx context.Context, query string, limit int) (hits []model.SearchHit, err error) {
	defer func() { metrics.Observe("search", time.Now(), err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT memories_fts.rowid, memories_fts.rank
		FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	type ranked struct {
		rowid int64
		rank  float64
	}
	var ranks []ranked
	for rows.Next() {
		var r ranked
		if err := rows.Scan(&r.rowid, &r.rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		ranks = append(ranks, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range ranks {
		row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE rowid = ?`, r.rowid)
		m, scanErr := scanMemory(row)
		if scanErr == sql.ErrNoRows {
			continue // FTS entry outlived its row; tolerated, not fatal.
		}
		if scanErr != nil {
			return nil, fmt.Errorf("fetch search hit: %w", scanErr)
		}
		hits = append(hits, model.SearchHit{Memory: m, Rank: r.rank})
	}
	return hits, nil
}

// GetByType returns records of the given type, most recently updated
// first (spec §4.1 "get_by_type").
func (s *Store) GetByType(ctx context.Context, t model.Type, limit int) ([]model.Memory, error) {
	return s.queryMemories(ctx, "get_by_type", selectColumns+` FROM memories WHERE type = ? ORDER BY updated_at DESC LIMIT ?`, string(t), limit)
}

// GetByPriority returns records of the given priority, most recently
// updated first (spec §4.1 "get_by_priority").
func (s *Store) GetByPriority(ctx context.Context, p model.Priority, limit int) ([]model.Memory, error) {
	return s.queryMemories(ctx, "get_by_priority", selectColumns+` FROM memories WHERE priority = ? ORDER BY updated_at DESC LIMIT ?`, int(p), limit)
}

// GetExpired returns all records whose expires_at is in the past
// (spec §4.1 "get_expired").
func (s *Store) GetExpired(ctx context.Context) ([]model.Memory, error) {
	return s.queryMemories(ctx, "get_expired", selectColumns+` FROM memories WHERE expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at ASC`, formatTime(time.Now().UTC()))
}

// GetUnprocessedDiaries returns diaries whose id does not appear in any
// insight's source_ids, oldest first (spec §4.1 "get_unprocessed_diaries").
// Per spec §9's first open question, this deliberately does not also
// exclude diaries reachable only indirectly through a now-expired insight
// that was promoted to knowledge — behavior retained as-is.
func (s *Store) GetUnprocessedDiaries(ctx context.Context, limit int) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		FROM memories
		WHERE type = 'diary'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list diaries: %w", err)
	}
	defer rows.Close()

	var diaries []model.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diary: %w", err)
		}
		diaries = append(diaries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	insights, err := s.queryMemories(ctx, "get_unprocessed_diaries_insights", selectColumns+` FROM memories WHERE type = 'insight'`)
	if err != nil {
		return nil, err
	}
	processed := make(map[string]bool)
	for _, ins := range insights {
		for _, sid := range ins.SourceIDs {
			processed[sid] = true
		}
	}

	var out []model.Memory
	for _, d := range diaries {
		if !processed[d.ID.String()] {
			out = append(out, d)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Update applies a partial update, touches updated_at, and (via the
// memories_au trigger) reindexes the FTS entry. Returns whether a row
// changed. Per spec §9's second open question, changing Priority does
// not recompute ExpiresAt — callers that want a new TTL must set
// ExpiresAt explicitly in the same call.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fields model.Fields) (changed bool, err error) {
	defer func() { metrics.Observe("update", time.Now(), err) }()

	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	title, summary, content := existing.Title, existing.Summary, existing.Content
	tags := existing.Tags
	priority := existing.Priority
	expiresAt := existing.ExpiresAt

	if fields.Title != nil {
		title = *fields.Title
	}
	if fields.Summary != nil {
		summary = *fields.Summary
	}
	if fields.Content != nil {
		content = *fields.Content
	}
	if fields.Tags != nil {
		tags = normalizeList(fields.Tags)
	}
	if fields.Priority != nil {
		priority = *fields.Priority
	}
	if fields.ExpiresAtSet {
		expiresAt = fields.ExpiresAt
	}

	tagsJSON, _, err := encodeLists(tags, nil)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET title = ?, summary = ?, content = ?, tags_json = ?, priority = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		title, summary, content, tagsJSON, int(priority), formatTimePtr(expiresAt), formatTime(time.Now().UTC()), id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("update memory %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the record and, via the memories_ad trigger, its index
// entry (spec §4.1 "delete").
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { metrics.Observe("delete", time.Now(), err) }()

	_, err = s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// Stats returns the aggregate view named in spec §4.1.
func (s *Store) Stats(ctx context.Context) (stats model.Stats, err error) {
	defer func() { metrics.Observe("stats", time.Now(), err) }()

	stats.ByType = map[model.Type]int{}
	stats.ByPriority = map[int]int{}

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("count total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memories GROUP BY type`)
	if err != nil {
		return stats, fmt.Errorf("count by type: %w", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByType[model.Type(t)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT priority, COUNT(*) FROM memories GROUP BY priority`)
	if err != nil {
		return stats, fmt.Errorf("count by priority: %w", err)
	}
	for rows.Next() {
		var p, n int
		if err := rows.Scan(&p, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByPriority[p] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`, formatTime(time.Now().UTC())).Scan(&stats.Expired); err != nil {
		return stats, fmt.Errorf("count expired: %w", err)
	}

	if metrics.MemoriesTotal != nil {
		metrics.MemoriesTotal.Set(float64(stats.Total))
	}
	return stats, nil
}

// RecordMetric appends an observation. Never fails the caller — errors
// are logged and swallowed (spec §4.1 "record_metric", §7 "Metric writes
// are always silent-on-failure").
func (s *Store) RecordMetric(ctx context.Context, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Warn("record_metric: marshal failed", "event", event, "err", err)
		return
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO metrics (event, data, created_at) VALUES (?, ?, ?)`,
		event, string(payload), formatTime(time.Now().UTC()))
	if err != nil {
		log.Warn("record_metric: insert failed", "event", event, "err", err)
	}
}

const selectColumns = `SELECT id, type, priority, title, summary, content, tags_json, agent_id, source_ids_json, created_at, updated_at, expires_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanMemory(row scannable) (model.Memory, error) {
	return scanMemoryRows(row)
}

func scanMemoryRows(row scannable) (model.Memory, error) {
	var m model.Memory
	var idStr, typeStr string
	var priority int
	var tagsJSON, sourceIDsJSON string
	var createdAt, updatedAt string
	var expiresAt sql.NullString

	if err := row.Scan(&idStr, &typeStr, &priority, &m.Title, &m.Summary, &m.Content, &tagsJSON, &m.AgentID, &sourceIDsJSON, &createdAt, &updatedAt, &expiresAt); err != nil {
		return model.Memory{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return model.Memory{}, fmt.Errorf("parse id %q: %w", idStr, err)
	}
	m.ID = id
	m.Type = model.Type(typeStr)
	m.Priority = model.Priority(priority)

	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return model.Memory{}, fmt.Errorf("parse tags: %w", err)
	}
	if err := json.Unmarshal([]byte(sourceIDsJSON), &m.SourceIDs); err != nil {
		return model.Memory{}, fmt.Errorf("parse source_ids: %w", err)
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Memory{}, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Memory{}, err
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return model.Memory{}, err
		}
		m.ExpiresAt = &t
	}
	return m, nil
}

func (s *Store) queryMemories(ctx context.Context, op, query string, args ...any) ([]model.Memory, error) {
	var err error
	defer func() { metrics.Observe(op, time.Now(), err) }()

	rows, qErr := s.db.QueryContext(ctx, query, args...)
	if qErr != nil {
		err = qErr
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		m, scanErr := scanMemoryRows(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		err = rows.Err()
		return nil, err
	}
	return out, nil
}

func normalizeList(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func encodeLists(tags, sourceIDs []string) (tagsJSON, sourceIDsJSON string, err error) {
	tagsBytes, err := json.Marshal(normalizeList(tags))
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	sourceIDsBytes, err := json.Marshal(normalizeList(sourceIDs))
	if err != nil {
		return "", "", fmt.Errorf("encode source_ids: %w", err)
	}
	return string(tagsBytes), string(sourceIDsBytes), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
