package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCreate_S3CompactRestore(t *testing.T) {
	transcript := writeTranscript(t, []string{
		`{"role":"user","content":"help me fix login"}`,
		`{"role":"assistant","content":"decided to use JWT sessions instead of cookies"}`,
		`{"role":"user","content":"actually, let's keep cookies for now"}`,
		`{"role":"assistant","content":"updated src/auth/session.go"}`,
	})

	dataDir := t.TempDir()
	cp := New(dataDir)
	snapshot, err := cp.Create("abc", transcript)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, "abc", snapshot.SessionID)

	entries, err := os.ReadDir(filepath.Join(dataDir, "checkpoints"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Regexp(t, `^abc-\d+\.json$`, entries[0].Name())

	latest, err := cp.Latest("abc")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, snapshot.CurrentTask, latest.CurrentTask)
}

func TestCreate_DecisionsAndCorrectionsAreRoleFiltered(t *testing.T) {
	transcript := writeTranscript(t, []string{
		`{"role":"user","content":"decided to use JWT sessions, please implement it"}`,
		`{"role":"assistant","content":"actually, wrong approach, let me reconsider"}`,
		`{"role":"assistant","content":"decided to use cookies instead"}`,
		`{"role":"user","content":"actually, cookies won't work for mobile"}`,
	})

	dataDir := t.TempDir()
	cp := New(dataDir)
	snapshot, err := cp.Create("abc", transcript)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	for _, d := range snapshot.Decisions {
		require.Contains(t, d, "cookies")
	}
	for _, c := range snapshot.Corrections {
		require.Contains(t, c, "mobile")
	}
}

func TestLatest_PicksMostRecentBySuffix(t *testing.T) {
	dataDir := t.TempDir()
	cp := New(dataDir)
	require.NoError(t, os.MkdirAll(cp.dir, 0o700))

	old := filepath.Join(cp.dir, "sess-1000.json")
	newer := filepath.Join(cp.dir, "sess-2000.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"sessionId":"sess","currentTask":"old"}`), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte(`{"sessionId":"sess","currentTask":"new"}`), 0o600))

	latest, err := cp.Latest("sess")
	require.NoError(t, err)
	require.Equal(t, "new", latest.CurrentTask)
}

func TestLatest_NoCheckpointsReturnsNil(t *testing.T) {
	cp := New(t.TempDir())
	latest, err := cp.Latest("missing")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestCreate_ParseFailureYieldsNoCheckpoint(t *testing.T) {
	cp := New(t.TempDir())
	snapshot, err := cp.Create("abc", "/nonexistent/path.jsonl")
	require.NoError(t, err)
	require.Nil(t, snapshot)
}
