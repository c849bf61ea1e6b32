package gitdiff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines kept around each change.
const contextLines = 3

// NewFileDiff renders a git-style patch that creates rel with content.
func NewFileDiff(rel, content string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", rel, rel)
	b.WriteString("new file mode 100644\n")
	b.WriteString("index 0000000..0000000\n")
	if content == "" {
		return b.String()
	}
	b.WriteString("--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", rel)
	writeHunks(&b, lineOps("", content))
	return b.String()
}

// LineDiff renders a unified patch turning before into after. An empty side
// is treated as a created or deleted file. Identical texts yield "".
func LineDiff(rel, before, after string) string {
	if before == after {
		return ""
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	if before == "" {
		return NewFileDiff(rel, after)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", rel, rel)
	if after == "" {
		b.WriteString("deleted file mode 100644\n")
		fmt.Fprintf(&b, "--- a/%s\n", rel)
		b.WriteString("+++ /dev/null\n")
	} else {
		fmt.Fprintf(&b, "--- a/%s\n", rel)
		fmt.Fprintf(&b, "+++ b/%s\n", rel)
	}
	writeHunks(&b, lineOps(before, after))
	return b.String()
}

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
	// lines of each side consumed before this op
	oldAt, newAt int
}

// lineOps diffs before and after line by line.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var (
		ops          []lineOp
		oldAt, newAt int
	)
	for _, d := range diffs {
		for _, l := range splitLines(d.Text) {
			op := lineOp{text: l, oldAt: oldAt, newAt: newAt}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				op.kind = ' '
				oldAt++
				newAt++
			case diffmatchpatch.DiffDelete:
				op.kind = '-'
				oldAt++
			case diffmatchpatch.DiffInsert:
				op.kind = '+'
				newAt++
			}
			ops = append(ops, op)
		}
	}
	return ops
}

func splitLines(s string) []string {
	out := strings.SplitAfter(s, "\n")
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out
}

// writeHunks groups changed ops with their context into @@ hunks.
func writeHunks(b *strings.Builder, ops []lineOp) {
	var changes []int
	for i, op := range ops {
		if op.kind != ' ' {
			changes = append(changes, i)
		}
	}
	for i := 0; i < len(changes); {
		start := max(0, changes[i]-contextLines)
		end := min(len(ops), changes[i]+1+contextLines)
		i++
		for i < len(changes) && changes[i]-contextLines <= end {
			end = min(len(ops), changes[i]+1+contextLines)
			i++
		}
		writeHunk(b, ops[start:end])
	}
}

func writeHunk(b *strings.Builder, ops []lineOp) {
	var oldN, newN int
	for _, op := range ops {
		if op.kind != '+' {
			oldN++
		}
		if op.kind != '-' {
			newN++
		}
	}
	fmt.Fprintf(b, "@@ -%s +%s @@\n", hunkRange(ops[0].oldAt, oldN), hunkRange(ops[0].newAt, newN))
	for _, op := range ops {
		b.WriteByte(op.kind)
		b.WriteString(op.text)
		if !strings.HasSuffix(op.text, "\n") {
			b.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

// hunkRange formats a side of a hunk header the way git does: the start line
// alone for one line, "start,0" for none.
func hunkRange(before, n int) string {
	switch n {
	case 0:
		return fmt.Sprintf("%d,0", before)
	case 1:
		return fmt.Sprintf("%d", before+1)
	}
	return fmt.Sprintf("%d,%d", before+1, n)
}
