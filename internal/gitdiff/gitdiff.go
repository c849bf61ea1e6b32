// Package gitdiff collects the changed and untracked files of a git work tree
// together with a unified diff for each.
package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"copper/internal/prompt"
)

// ErrNotRepository is returned when no enclosing work tree is found.
var ErrNotRepository = errors.New("not inside a git repository")

// FindRoot walks up from start to the first directory containing .git.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s", ErrNotRepository, start)
		}
		dir = parent
	}
}

// Repo runs git against one work tree.
type Repo struct {
	Root string
}

// Open locates the repository enclosing start.
func Open(start string) (*Repo, error) {
	root, err := FindRoot(start)
	if err != nil {
		return nil, err
	}
	return &Repo{Root: root}, nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.Root}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Abs resolves p against the repository root.
func (r *Repo) Abs(p string) string {
	p = filepath.FromSlash(strings.ReplaceAll(p, "\\", "/"))
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.Root, p)
	}
	return filepath.Clean(p)
}

// Rel returns p relative to the root with forward slashes.
func (r *Repo) Rel(p string) string {
	rel, err := filepath.Rel(r.Root, r.Abs(p))
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// ListUntracked returns untracked files that are not ignored, relative to the root.
func (r *Repo) ListUntracked(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// ListChangedFiles returns the absolute paths of files that differ from HEAD
// (staged or not) plus untracked files, sorted.
func (r *Repo) ListChangedFiles(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})

	// A repository without commits has no HEAD; only untracked files count then.
	if out, err := r.git(ctx, "diff", "--name-only", "HEAD"); err == nil {
		for _, l := range lines(out) {
			set[l] = struct{}{}
		}
	}
	untracked, err := r.ListUntracked(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range untracked {
		set[u] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for rel := range set {
		out = append(out, r.Abs(rel))
	}
	sort.Strings(out)
	return out, nil
}

// DiffFor returns the diff of one file against HEAD, or a new-file patch when
// the file is untracked.
func (r *Repo) DiffFor(ctx context.Context, path string) (string, error) {
	rel := r.Rel(path)
	if _, err := r.git(ctx, "ls-files", "--error-unmatch", "--", rel); err != nil {
		content, readErr := os.ReadFile(r.Abs(rel))
		if readErr != nil {
			return "", readErr
		}
		return NewFileDiff(rel, string(content)), nil
	}
	out, err := r.git(ctx, "diff", "--no-ext-diff", "HEAD", "--", rel)
	if err == nil {
		return out, nil
	}
	return r.blobDiff(ctx, rel)
}

// blobDiff compares the committed blob of rel with the working copy. It
// serves repositories where git diff cannot run against HEAD, such as one
// without commits.
func (r *Repo) blobDiff(ctx context.Context, rel string) (string, error) {
	before, err := r.git(ctx, "show", "HEAD:"+rel)
	if err != nil {
		before = ""
	}
	after, err := os.ReadFile(r.Abs(rel))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return LineDiff(rel, before, string(after)), nil
}

// Collect returns every changed file with its diff, paths relative to the root.
// A file whose diff cannot be produced is kept with an empty diff.
func (r *Repo) Collect(ctx context.Context) ([]prompt.ChangedFile, error) {
	paths, err := r.ListChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]prompt.ChangedFile, 0, len(paths))
	for _, p := range paths {
		d, err := r.DiffFor(ctx, p)
		if err != nil {
			d = ""
		}
		out = append(out, prompt.ChangedFile{Path: r.Rel(p), Diff: d})
	}
	return out, nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
