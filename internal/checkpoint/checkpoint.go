// Package checkpoint implements C3: capturing a session-resume snapshot
// before compaction, and locating the latest one for a session (spec
// §4.3). Snapshots are published atomically via a temp-file-then-rename
// discipline grounded on internal/tempfiles and the teacher's
// internal/resumer/temp_file_store.go (generalized from response-recording
// files to checkpoint snapshots).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/chirino/michimem/internal/extractor"
	"github.com/chirino/michimem/internal/model"
	"github.com/chirino/michimem/internal/tempfiles"
)

// Checkpointer implements C3 against a checkpoints directory.
type Checkpointer struct {
	dir string
}

// New returns a Checkpointer writing under <dataDir>/checkpoints.
func New(dataDir string) *Checkpointer {
	return &Checkpointer{dir: filepath.Join(dataDir, "checkpoints")}
}

// Distinct regex catalog from the Extractor's (spec §6: "the two sets are
// distinct").
var (
	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(decided|choosing|going with|using|picked|selected)\s+(.{10,80})`),
		regexp.MustCompile(`(?i)(approach|strategy|plan):\s*(.{10,80})`),
	}
	correctionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(actually|no,|wrong|instead|correction|fix|should be)\s+(.{10,100})`),
		regexp.MustCompile(`(?i)(don't|do not|never|always|prefer|avoid)\s+(.{10,80})`),
	}
	filePathPattern = regexp.MustCompile(`(?:[\w/.-]+\/)?[\w.-]+\.\w{1,6}`)
)

const contextSummaryBudget = 500

// Create builds a Checkpoint entity from the transcript at
// transcriptPath and writes it to
// checkpoints/<sessionID>-<epochMs>.json. On parse failure, returns
// (nil, nil) — "no checkpoint" per spec §4.3, not an error.
func (c *Checkpointer) Create(sessionID, transcriptPath string) (*model.Checkpoint, error) {
	messages, err := extractor.ParseTranscript(transcriptPath)
	if err != nil || messages == nil {
		return nil, nil
	}

	cp := &model.Checkpoint{
		SessionID:      sessionID,
		Timestamp:      time.Now().UTC(),
		CurrentTask:    lastNonTrivialUserUtterance(messages),
		Decisions:      matchFragments(messages, "assistant", decisionPatterns, 5),
		FilesModified:  fileRefs(messages, 10),
		Corrections:    matchFragments(messages, "user", correctionPatterns, 5),
		ContextSummary: contextSummary(messages),
	}

	if err := c.write(cp); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	return cp, nil
}

func (c *Checkpointer) write(cp *model.Checkpoint) error {
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f, err := tempfiles.Create(c.dir, "checkpoint-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	finalName := fmt.Sprintf("%s-%d.json", cp.SessionID, cp.Timestamp.UnixMilli())
	finalPath := filepath.Join(c.dir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Latest performs a lexicographic descending scan of filenames with
// prefix "<sessionID>-" and returns the first parseable one (spec §4.3
// "get_latest_checkpoint" — filenames sort by creation time because the
// epoch-ms suffix is monotonic per session).
func (c *Checkpointer) Latest(sessionID string) (*model.Checkpoint, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	prefix := sessionID + "-"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		var cp model.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		return &cp, nil
	}
	return nil, nil
}

func lastNonTrivialUserUtterance(messages []extractor.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		text := strings.TrimSpace(messages[i].Text())
		if len(text) < 5 {
			continue
		}
		return truncate(text, 200)
	}
	return ""
}

// matchFragments scans role-filtered messages for pattern matches:
// decisions are assistant-side "decided to…" statements, corrections are
// user-side corrective statements (spec §3 — the two entities come from
// disjoint speakers, not just disjoint regex catalogs).
func matchFragments(messages []extractor.Message, role string, patterns []*regexp.Regexp, limit int) []string {
	var out []string
	// Most-recent-first, matching "up to N recent ... fragments" (spec §3).
	for i := len(messages) - 1; i >= 0 && len(out) < limit; i-- {
		if messages[i].Role != role {
			continue
		}
		text := messages[i].Text()
		for _, pat := range patterns {
			for _, match := range pat.FindAllStringSubmatch(text, -1) {
				fragment := strings.TrimSpace(match[len(match)-1])
				if fragment == "" {
					continue
				}
				out = append(out, truncate(fragment, 80))
				if len(out) >= limit {
					break
				}
			}
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func fileRefs(messages []extractor.Message, limit int) []string {
	seen := map[string]bool{}
	var files []string
	for _, m := range messages {
		for _, match := range filePathPattern.FindAllString(m.Raw(), -1) {
			if !strings.Contains(match, "/") || strings.HasPrefix(match, "http") || strings.Contains(match, "node_modules") {
				continue
			}
			if seen[match] {
				continue
			}
			seen[match] = true
			files = append(files, match)
			if len(files) >= limit {
				return files
			}
		}
	}
	return files
}

func contextSummary(messages []extractor.Message) string {
	tail := messages
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	var b strings.Builder
	for _, m := range tail {
		label := "Assistant"
		if m.Role == "user" {
			label = "User"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Text())
		b.WriteString(" ")
	}
	return truncate(strings.TrimSpace(b.String()), contextSummaryBudget)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
