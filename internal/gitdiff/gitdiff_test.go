package gitdiff

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileDiffSingleLine(t *testing.T) {
	want := "diff --git a/new.txt b/new.txt\n" +
		"new file mode 100644\n" +
		"index 0000000..0000000\n" +
		"--- /dev/null\n" +
		"+++ b/new.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+hello\n"
	assert.Equal(t, want, NewFileDiff("new.txt", "hello\n"))
}

func TestNewFileDiffMultiLineWithoutTrailingNewline(t *testing.T) {
	got := NewFileDiff(`src\app.ts`, "a\nb\nc")
	assert.Contains(t, got, "diff --git a/src/app.ts b/src/app.ts\n")
	assert.Contains(t, got, "@@ -0,0 +1,3 @@\n+a\n+b\n+c\n\\ No newline at end of file\n")
}

func TestNewFileDiffEmpty(t *testing.T) {
	assert.Equal(t, "diff --git a/e b/e\nnew file mode 100644\nindex 0000000..0000000\n", NewFileDiff("e", ""))
}

func TestFindRootNotRepository(t *testing.T) {
	_, err := FindRoot(t.TempDir())
	if err == nil {
		t.Skip("temp dir is inside a git work tree")
	}
	assert.ErrorIs(t, err, ErrNotRepository)
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "dev@example.com")
	run("config", "user.name", "dev")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("one\n"), 0o644))
	run("add", "tracked.txt")
	run("commit", "-q", "-m", "init")
	return dir
}

func TestCollectTrackedAndUntracked(t *testing.T) {
	dir := gitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("one\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hello\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	repo, err := Open(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	root, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(repo.Root)
	assert.Equal(t, root, got)

	ctx := context.Background()
	changed, err := repo.ListChangedFiles(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, filepath.Join(repo.Root, "new.txt"), changed[0])

	files, err := repo.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "new.txt", files[0].Path)
	assert.Equal(t, NewFileDiff("new.txt", "hello\n"), files[0].Diff)
	assert.Equal(t, "tracked.txt", files[1].Path)
	assert.Contains(t, files[1].Diff, "+two")
}

func TestAbsAndRel(t *testing.T) {
	r := &Repo{Root: "/repo"}
	assert.Equal(t, filepath.Clean("/repo/src/a.ts"), r.Abs(`src\a.ts`))
	assert.Equal(t, "/elsewhere/x", filepath.ToSlash(r.Abs("/elsewhere/x")))
	assert.Equal(t, "src/a.ts", r.Rel("/repo/src/a.ts"))
}

func TestLineDiffModifiedLine(t *testing.T) {
	before := "one\ntwo\nthree\nfour\nfive\nsix\nseven\neight\n"
	after := "one\ntwo\nthree\nfour\nFIVE\nsix\nseven\neight\n"
	want := "diff --git a/n.txt b/n.txt\n" +
		"--- a/n.txt\n" +
		"+++ b/n.txt\n" +
		"@@ -2,7 +2,7 @@\n" +
		" two\n three\n four\n-five\n+FIVE\n six\n seven\n eight\n"
	assert.Equal(t, want, LineDiff("n.txt", before, after))
}

func TestLineDiffSplitsDistantChanges(t *testing.T) {
	var before, after string
	for i := 1; i <= 20; i++ {
		line := fmt.Sprintf("line %d\n", i)
		before += line
		switch i {
		case 2, 18:
			after += "changed\n"
		default:
			after += line
		}
	}
	got := LineDiff("f", before, after)
	assert.Contains(t, got, "@@ -1,5 +1,5 @@\n")
	assert.Contains(t, got, "@@ -15,6 +15,6 @@\n")
	assert.Equal(t, 2, strings.Count(got, "@@ -"))
}

func TestLineDiffNewlineAtEnd(t *testing.T) {
	got := LineDiff("f", "a\nb", "a\nb\n")
	assert.Contains(t, got, "@@ -1,2 +1,2 @@\n a\n-b\n\\ No newline at end of file\n+b\n")
}

func TestLineDiffCreatedAndDeleted(t *testing.T) {
	assert.Equal(t, NewFileDiff("f", "x\n"), LineDiff("f", "", "x\n"))
	assert.Equal(t, "diff --git a/f b/f\ndeleted file mode 100644\n--- a/f\n+++ /dev/null\n@@ -1 +0,0 @@\n-x\n",
		LineDiff("f", "x\n", ""))
	assert.Empty(t, LineDiff("f", "same\n", "same\n"))
}

func TestBlobDiffAgainstHead(t *testing.T) {
	dir := gitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("one\ntwo\n"), 0o644))
	repo, err := Open(dir)
	require.NoError(t, err)

	got, err := repo.blobDiff(context.Background(), "tracked.txt")
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/tracked.txt b/tracked.txt\n--- a/tracked.txt\n+++ b/tracked.txt\n@@ -1 +1,2 @@\n one\n+two\n", got)
}
