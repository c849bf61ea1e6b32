// Package prompt renders a change description into a single generation prompt.
package prompt

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ToolName is the constrained-generation tool the model is told to call.
const ToolName = "maestro_yaml_grammar"

// ChangedFile is a modified path with its unified diff.
type ChangedFile struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// RelatedFile is a context file whose body is embedded in the prompt.
type RelatedFile struct {
	Path string
	Body string
}

// Assembler builds generation prompts. The zero value uses DefaultMaxChars.
type Assembler struct {
	MaxChars int
}

func (a *Assembler) limit() int {
	if a == nil || a.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return a.MaxChars
}

const workedExamples = `appId: "com.example.app"
---
- tapOn: "Login"
- inputText: "username"
- inputText: "password"
- assertVisible: "Welcome"

# Mapping form (must include id OR text, with two-space indent)
- tapOn:
  id: "login_button"

# INVALID (do NOT do this)
# - tapOn:
#   # missing id/text under tapOn is invalid under the grammar
`

const formattingRules = `
CRITICAL FORMATTING RULES:
- Use double-quoted strings for ALL text and file paths.
- Include the appId header and the '---' separator.
- For commands with parameters, choose ONE format:
  * Simple: 'tapOn: "text"' (one line)
  * Map: 'tapOn:' NEWLINE '  id: "..."' (2-space indent)
- NEVER use 'tapOn:' alone without immediate content
- takeScreenshot with a name requires map form: 'takeScreenshot:' NEWLINE '  name: "..."'
- If using conditions, use 'when:' followed by 4-space indented lines with one of: visible, notVisible, platform, true.
`

// Section headings; UserMessage relies on them to recover the request.
const (
	userMessageHeading = "\nUser message:\n"
	changedHeading     = "\nChanged files (paths):\n"
)

// Assemble renders the request, the changed files with their diffs and the
// related file bodies into one prompt.
func (a *Assembler) Assemble(userMessage string, changed []ChangedFile, related []RelatedFile) string {
	limit := a.limit()
	var b strings.Builder

	fmt.Fprintf(&b, "Call the %s tool to generate ONE Maestro YAML test flow. ", ToolName)
	b.WriteString("Strictly conform to the grammar. Use DOUBLE QUOTES for all strings. ")
	b.WriteString("Do NOT emit 'tapOn:' without an immediate indented line containing either 'id:' or 'text:'.\n")

	b.WriteString(userMessageHeading)
	b.WriteString(userMessage)
	b.WriteString("\n")

	b.WriteString(changedHeading)
	b.WriteString(pathList(len(changed), func(i int) string { return changed[i].Path }))

	withDiff := 0
	for _, f := range changed {
		if f.Diff != "" {
			withDiff++
		}
	}
	if withDiff > 0 {
		b.WriteString("\nChanged file diffs (for context only):\n")
		for _, f := range changed {
			if f.Diff == "" {
				continue
			}
			fmt.Fprintf(&b, "\n# DIFF: %s\n%s", f.Path, Truncate(f.Diff, limit))
		}
	}

	b.WriteString("\nRelated files (paths):\n")
	b.WriteString(pathList(len(related), func(i int) string { return related[i].Path }))
	if len(related) > 0 {
		b.WriteString("\nRelated file contents (for context only):\n")
		for _, f := range related {
			fmt.Fprintf(&b, "\n# FILE: %s\n%s", f.Path, Truncate(f.Body, limit))
		}
	}

	b.WriteString("\nFollow these patterns exactly (indentation and quoting):\n")
	b.WriteString(workedExamples)
	b.WriteString(formattingRules)
	return b.String()
}

func pathList(n int, path func(int) string) string {
	if n == 0 {
		return "- (none)\n"
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "- %s\n", path(i))
	}
	return b.String()
}

// LoadRelated reads the bodies of related files. Files that cannot be read
// are left out of the result.
func LoadRelated(paths []string, read func(string) ([]byte, error), logger *zap.Logger) []RelatedFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]RelatedFile, 0, len(paths))
	for _, p := range paths {
		data, err := read(p)
		if err != nil {
			logger.Debug("related file omitted", zap.String("path", p), zap.Error(err))
			continue
		}
		out = append(out, RelatedFile{Path: p, Body: string(data)})
	}
	return out
}

// UserMessage recovers the user's request from an assembled prompt.
func UserMessage(prompt string) string {
	start := strings.Index(prompt, userMessageHeading)
	if start < 0 {
		return ""
	}
	rest := prompt[start+len(userMessageHeading):]
	if end := strings.Index(rest, changedHeading); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
