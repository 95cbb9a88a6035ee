package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chirino/michimem/internal/model"
)

// Regex catalog for corrections and preferences (spec §6, authoritative
// for bit-compatibility). Compiled once; FindAllStringSubmatch is called
// fresh on every invocation below, so no lastIndex-like cursor leaks
// between calls (spec §9 "Regex state").
var (
	correctionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(actually|no,\s*|wrong|instead|correction)[,:]?\s+(.{15,150})`),
		regexp.MustCompile(`(?i)(don't|do not|never|stop)\s+([\w\s]{10,80})`),
	}
	preferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(always|prefer|I like|I want|I use|please always)\s+(.{10,100})`),
		regexp.MustCompile(`(?i)(my preferred|my favorite|I typically|I usually)\s+(.{10,100})`),
	}
	topicPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(working on|implementing|building|fixing|debugging|creating)\s+([\w\s-]{5,30})`),
		regexp.MustCompile(`(?i)(the\s+)([\w-]+(?:\s+[\w-]+){0,2})\s+(module|service|component|function|class|file)`),
	}
	filePathPattern = regexp.MustCompile(`(?:[\w/.-]+\/)?[\w.-]+\.\w{1,6}`)
)

const maxContentBlockChars = 200

// Result is the three output streams of C2 (spec §4.2).
type Result struct {
	Diary       *model.Input
	Corrections []model.Input
	Preferences []model.Input
}

// Extract turns a raw transcript into candidate Memory records. ttlDiaryDays
// sets the diary's expiry (spec §4.2, §6 config "ttl.diary_days").
func Extract(path string, ttlDiaryDays int) Result {
	messages, _ := ParseTranscript(path)
	if messages == nil {
		return Result{}
	}
	return Result{
		Diary:       buildDiary(messages, ttlDiaryDays),
		Corrections: extractByPatterns(messages, correctionPatterns, "correction", []string{"correction"}),
		Preferences: extractByPatterns(messages, preferencePatterns, "preference", []string{"preference"}),
	}
}

func buildDiary(messages []Message, ttlDiaryDays int) *model.Input {
	if len(messages) < 4 {
		return nil
	}

	var userCount, assistantCount int
	var firstUserText string
	for _, m := range messages {
		switch m.Role {
		case "user":
			userCount++
			if firstUserText == "" {
				firstUserText = m.Text()
			}
		case "assistant":
			assistantCount++
		}
	}

	topics := extractTopics(messages)

	title := firstLineTitle(firstUserText)
	if title == "" {
		title = fmt.Sprintf("Session: %s", time.Now().UTC().Format("2006-01-02 15:04"))
	}

	summary := fmt.Sprintf("%d user msgs, %d assistant msgs.", userCount, assistantCount)
	if len(topics) > 0 {
		summary += fmt.Sprintf(" Topics: %s", strings.Join(topics, ", "))
	}

	content := buildDiaryContent(messages)

	expiresAt := time.Now().UTC().AddDate(0, 0, ttlDiaryDays)
	return &model.Input{
		Type:      model.TypeDiary,
		Priority:  model.PriorityShort,
		Title:     title,
		Summary:   summary,
		Content:   content,
		Tags:      topics,
		ExpiresAt: &expiresAt,
	}
}

func firstLineTitle(text string) string {
	collapsed := collapseNewlines(text)
	if collapsed == "" {
		return ""
	}
	return "Session: " + truncate(collapsed, 100)
}

func buildDiaryContent(messages []Message) string {
	tail := messages
	if len(tail) > 20 {
		tail = tail[len(tail)-20:]
	}

	var b strings.Builder
	for _, m := range tail {
		label := "**Assistant**"
		if m.Role == "user" {
			label = "**User**"
		}
		text := truncate(m.Text(), maxContentBlockChars)
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}

	files := extractFileRefs(messages)
	if len(files) > 0 {
		b.WriteString("Files referenced: ")
		b.WriteString(strings.Join(files, ", "))
	}
	return b.String()
}

func extractTopics(messages []Message) []string {
	head := messages
	if len(head) > 10 {
		head = head[:10]
	}

	seen := map[string]bool{}
	var topics []string
	for _, m := range head {
		text := m.Text()
		for _, pat := range topicPatterns {
			for _, match := range pat.FindAllStringSubmatch(text, -1) {
				topic := strings.ToLower(strings.TrimSpace(match[len(match)-2]))
				if topic == "" || seen[topic] {
					continue
				}
				seen[topic] = true
				topics = append(topics, topic)
				if len(topics) >= 5 {
					return topics
				}
			}
		}
	}
	return topics
}

func extractFileRefs(messages []Message) []string {
	seen := map[string]bool{}
	var files []string
	for _, m := range messages {
		for _, match := range filePathPattern.FindAllString(m.Raw(), -1) {
			if !strings.Contains(match, "/") {
				continue
			}
			if strings.HasPrefix(match, "http") {
				continue
			}
			if strings.Contains(match, "node_modules") {
				continue
			}
			if seen[match] {
				continue
			}
			seen[match] = true
			files = append(files, match)
			if len(files) >= 10 {
				return files
			}
		}
	}
	return files
}

func extractByPatterns(messages []Message, patterns []*regexp.Regexp, label string, tags []string) []model.Input {
	var candidates []model.Input
	seenTitles := map[string]bool{}

	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		text := m.Text()
		for _, pat := range patterns {
			for _, match := range pat.FindAllStringSubmatch(text, -1) {
				fragment := strings.TrimSpace(match[len(match)-1])
				if fragment == "" {
					continue
				}
				subtype := strings.ToLower(strings.TrimSpace(match[1]))
				titleLabel := strings.ToUpper(label[:1]) + label[1:]
				title := fmt.Sprintf("%s: %s", titleLabel, truncate(fragment, 60))
				key := strings.ToLower(title)
				if seenTitles[key] {
					continue
				}
				seenTitles[key] = true

				allTags := append([]string{}, tags...)
				if label == "correction" {
					allTags = append(allTags, subtype)
				}

				candidates = append(candidates, model.Input{
					Type:     model.TypeKnowledge,
					Priority: model.PriorityPermanent,
					Title:    title,
					Summary:  truncate(fragment, 150),
					Content:  contextWindow(text, match[0]),
					Tags:     allTags,
				})
			}
		}
	}
	return candidates
}

// contextWindow returns surrounding text around the matched fragment so
// the stored record retains the context it was found in (spec §4.2
// "content including a context window of surrounding text").
func contextWindow(full, matched string) string {
	idx := strings.Index(full, matched)
	if idx < 0 {
		return truncate(matched, 300)
	}
	const pad = 100
	start := idx - pad
	if start < 0 {
		start = 0
	}
	end := idx + len(matched) + pad
	if end > len(full) {
		end = len(full)
	}
	return full[start:end]
}

func collapseNewlines(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
