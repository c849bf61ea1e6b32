package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello", Truncate("hello", 5))
	assert.Equal(t, "", Truncate("", 5))
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	text := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	out := Truncate(text, 60)

	assert.Equal(t, 60, utf8.RuneCountInString(out))
	assert.Contains(t, out, TruncationMarker)
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "bbbb"))
}

func TestTruncateIsIdempotent(t *testing.T) {
	text := strings.Repeat("diff line\n", 2000)
	once := Truncate(text, DefaultMaxChars)
	assert.Equal(t, once, Truncate(once, DefaultMaxChars))
}

func TestTruncateCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 50)
	assert.Equal(t, text, Truncate(text, 50))

	out := Truncate(strings.Repeat("é", 200), 40)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 40, utf8.RuneCountInString(out))
}

func TestTruncateTinyLimit(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdefghij", 3))
}

func TestAssembleEmbedsContext(t *testing.T) {
	a := &Assembler{MaxChars: 100}
	bigDiff := strings.Repeat("+x\n", 500)

	out := a.Assemble("add login flow",
		[]ChangedFile{{Path: "auth/login.go", Diff: bigDiff}, {Path: "auth/empty.go"}},
		[]RelatedFile{{Path: "auth/session.go", Body: "package auth"}},
	)

	assert.Contains(t, out, "Call the "+ToolName+" tool")
	assert.Contains(t, out, "User message:\nadd login flow\n")
	assert.Contains(t, out, "- auth/login.go\n- auth/empty.go\n")
	assert.Contains(t, out, "# DIFF: auth/login.go\n")
	assert.NotContains(t, out, "# DIFF: auth/empty.go")
	assert.Contains(t, out, TruncationMarker)
	assert.NotContains(t, out, bigDiff)
	assert.Contains(t, out, "# FILE: auth/session.go\npackage auth")
	assert.Contains(t, out, "CRITICAL FORMATTING RULES")
	assert.Contains(t, out, "# INVALID (do NOT do this)")
}

func TestAssembleWithoutFiles(t *testing.T) {
	out := (&Assembler{}).Assemble("add login flow", nil, nil)

	assert.Contains(t, out, "Changed files (paths):\n- (none)\n")
	assert.Contains(t, out, "Related files (paths):\n- (none)\n")
	assert.NotContains(t, out, "Changed file diffs")
	assert.NotContains(t, out, "Related file contents")
}

func TestLoadRelatedOmitsUnreadable(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.go")
	require.NoError(t, os.WriteFile(ok, []byte("package ok"), 0o644))

	files := LoadRelated([]string{filepath.Join(dir, "missing.go"), ok}, os.ReadFile, nil)
	require.Len(t, files, 1)
	assert.Equal(t, ok, files[0].Path)
	assert.Equal(t, "package ok", files[0].Body)
}

func TestLoadRelatedReaderError(t *testing.T) {
	files := LoadRelated([]string{"a", "b"}, func(string) ([]byte, error) {
		return nil, errors.New("boom")
	}, nil)
	assert.Empty(t, files)
}

func TestUserMessageRoundTrip(t *testing.T) {
	out := (&Assembler{}).Assemble("scroll the feed\nthen swipe", []ChangedFile{{Path: "a.go"}}, nil)
	assert.Equal(t, "scroll the feed\nthen swipe", UserMessage(out))
	assert.Empty(t, UserMessage("no headings here"))
}
