// Package extractor implements C2: turning a raw line-delimited
// transcript into candidate Memory records (spec §4.2), plus the shared
// transcript-parsing machinery the Checkpointer (C3) reuses for its own,
// distinct regex catalog.
package extractor

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/charmbracelet/log"
)

// Message is one line of a transcript: {role, content, type?}. Content is
// either a bare string or an ordered list of content blocks; only blocks
// with type=="text" contribute text (spec §4.2 "Inputs").
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Type    string `json:"type,omitempty"`
}

// ContentBlock is the shape of one element of a Message.Content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ParseTranscript reads a line-delimited JSON transcript file. Read
// errors or unparseable lines are skipped silently (spec §4.2 "Failure
// modes": extraction is best-effort); a missing or wholly unparseable
// file yields a nil slice and nil error, never a hard failure, matching
// spec §7 taxonomy item 2.
func ParseTranscript(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		log.Debug("parse transcript: open failed", "path", path, "err", err)
		return nil, nil
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // soft failure: skip unparseable lines
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Text returns the concatenated text of a message's content, joining
// text blocks with a space when content is a block list, or the bare
// string when content is a string (spec §4.2 "Inputs").
func (m Message) Text() string {
	switch c := m.Content.(type) {
	case string:
		return c
	case []any:
		var out string
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			t, _ := block["type"].(string)
			if t != "text" {
				continue
			}
			text, _ := block["text"].(string)
			if out != "" {
				out += " "
			}
			out += text
		}
		return out
	default:
		return ""
	}
}

// Raw returns the JSON-stringified message, used by file-reference
// detection (spec §4.2 diary "Content" construction).
func (m Message) Raw() string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
