// Package grammar validates generated Maestro flows against the flow grammar.
//
// The Lark definition embedded here is what the proposal oracle receives as its
// output constraint. Validate checks the same language with a line-oriented
// parser so that every candidate is re-checked locally before it is accepted.
package grammar

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
)

//go:embed maestro.lark
var maestroDefinition string

// ErrGrammarViolation is wrapped by every *ParseError.
var ErrGrammarViolation = errors.New("grammar violation")

// Oracle accepts or rejects a candidate text against a formal grammar.
type Oracle interface {
	// Definition returns the grammar text handed to the proposal oracle.
	Definition() string
	// Validate returns nil for a sentence of the grammar, or a *ParseError.
	Validate(text string) error
}

// ParseError describes where a candidate stopped matching the grammar.
type ParseError struct {
	Line     int
	Column   int
	Found    string
	Expected []string
	Reason   string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d, column %d", e.Line, e.Column)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Found != "" {
		fmt.Fprintf(&b, ": unexpected %q", e.Found)
	}
	if len(e.Expected) > 0 {
		b.WriteString(", expected one of: ")
		b.WriteString(strings.Join(e.Expected, ", "))
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return ErrGrammarViolation }

// Maestro is the built-in oracle for the Maestro flow dialect.
type Maestro struct{}

// NewMaestro returns the Maestro flow oracle.
func NewMaestro() *Maestro { return &Maestro{} }

// Definition returns the embedded Lark grammar.
func (*Maestro) Definition() string { return maestroDefinition }

// Validate parses text and reports the first violation.
func (*Maestro) Validate(text string) error {
	return newParser(text).parse()
}

type parser struct {
	lines []string
	pos   int
}

func newParser(text string) *parser {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return &parser{lines: lines}
}

const endOfInput = "end of input"

func fail(line, col int, found, reason string, expected ...string) *ParseError {
	return &ParseError{Line: line, Column: col, Found: found, Reason: reason, Expected: expected}
}

func (p *parser) parse() error {
	if len(p.lines) == 0 {
		return fail(1, 1, endOfInput, "missing header", `appId: "<application id>"`)
	}
	if err := p.header(); err != nil {
		return err
	}
	if len(p.lines) < 2 {
		return fail(2, 1, endOfInput, "missing separator", "---")
	}
	if sep := strings.TrimRight(p.lines[1], " \t"); sep != "---" {
		return fail(2, 1, token(sep), "missing separator", "---")
	}
	p.pos = 2

	steps := 0
	for p.pos < len(p.lines) {
		if isGap(p.lines[p.pos]) {
			p.pos++
			continue
		}
		if err := p.step(); err != nil {
			return err
		}
		steps++
	}
	if steps == 0 {
		return fail(len(p.lines)+1, 1, endOfInput, "flow has no steps", "- <command>")
	}
	return nil
}

func (p *parser) header() error {
	const prefix = "appId: "
	line := strings.TrimRight(p.lines[0], " \t")
	if !strings.HasPrefix(line, prefix) {
		return fail(1, 1, token(line), "missing header", `appId: "<application id>"`)
	}
	if v := line[len(prefix):]; !validValue(v, kindString) {
		return fail(1, len(prefix)+1, token(v), "appId must be a double-quoted string", kindString.String())
	}
	return nil
}

func (p *parser) step() error {
	lineNo := p.pos + 1
	line := strings.TrimRight(p.lines[p.pos], " \t")
	if !strings.HasPrefix(line, "- ") {
		return fail(lineNo, 1, token(line), "", "- <command>")
	}
	body := line[2:]
	name := identifier(body)
	spec, ok := commands[name]
	if !ok {
		return fail(lineNo, 3, token(body), "unknown command", commandNames()...)
	}
	rest := body[len(name):]
	col := 3 + len(name)

	switch {
	case rest == "":
		if !spec.bare {
			return fail(lineNo, col, endOfInput, name+" requires a value", spec.forms()...)
		}
		p.pos++
		return nil
	case rest == ":":
		if spec.props == nil {
			return fail(lineNo, col, ":", name+" has no mapping form", spec.forms()...)
		}
		p.pos++
		return p.mapping(name, spec, lineNo)
	case strings.HasPrefix(rest, ": "):
		if spec.inline == 0 {
			return fail(lineNo, col, token(rest), name+" has no one-line form", spec.forms()...)
		}
		if v := rest[2:]; !validValue(v, spec.inline) {
			return fail(lineNo, col+2, token(v), "invalid "+name+" value", spec.inline.String())
		}
		p.pos++
		return nil
	default:
		return fail(lineNo, col, token(rest), "", spec.forms()...)
	}
}

func (p *parser) mapping(name string, spec commandSpec, cmdLine int) error {
	seen := make(map[string]bool)
	for p.pos < len(p.lines) {
		line := strings.TrimRight(p.lines[p.pos], " \t")
		indent := leadingSpaces(line)
		if indent == 0 || indent == len(line) {
			break
		}
		lineNo := p.pos + 1
		if indent != 2 {
			return fail(lineNo, indent+1, token(line[indent:]), "mapping properties use a two-space indent", spec.propNames()...)
		}
		key, val, ok := splitProp(line[2:])
		if !ok {
			return fail(lineNo, 3, token(line[2:]), "", spec.propNames()...)
		}
		if key == "when" {
			if !spec.when {
				return fail(lineNo, 3, key, name+" does not accept a when block", spec.propNames()...)
			}
			if val != "" {
				return fail(lineNo, 9, token(val), "when opens an indented block", "newline")
			}
			p.pos++
			if err := p.conditions(lineNo); err != nil {
				return err
			}
			seen[key] = true
			continue
		}
		kind, known := spec.props[key]
		if !known {
			return fail(lineNo, 3, key, "unknown "+name+" property", spec.propNames()...)
		}
		if !validValue(val, kind) {
			return fail(lineNo, 3+len(key)+2, token(val), "invalid "+key+" value", kind.String())
		}
		seen[key] = true
		p.pos++
	}

	if len(seen) == 0 {
		found := endOfInput
		if p.pos < len(p.lines) {
			found = token(p.lines[p.pos])
		}
		return fail(cmdLine+1, 1, found, name+": must be followed by an indented property line", spec.propNames()...)
	}
	if len(spec.required) > 0 {
		for _, r := range spec.required {
			if seen[r] {
				return nil
			}
		}
		return fail(cmdLine, 3, name, name+" mapping requires "+strings.Join(spec.required, " or "), spec.required...)
	}
	return nil
}

func (p *parser) conditions(whenLine int) error {
	count := 0
	for p.pos < len(p.lines) {
		line := strings.TrimRight(p.lines[p.pos], " \t")
		indent := leadingSpaces(line)
		if indent <= 2 || indent == len(line) {
			break
		}
		lineNo := p.pos + 1
		if indent != 4 {
			return fail(lineNo, indent+1, token(line[indent:]), "conditions use a four-space indent", conditionNames()...)
		}
		key, val, ok := splitProp(line[4:])
		if !ok {
			return fail(lineNo, 5, token(line[4:]), "", conditionNames()...)
		}
		kind, known := conditions[key]
		if !known {
			return fail(lineNo, 5, key, "unknown condition", conditionNames()...)
		}
		if !validValue(val, kind) {
			return fail(lineNo, 5+len(key)+2, token(val), "invalid "+key+" condition", kind.String())
		}
		count++
		p.pos++
	}
	if count == 0 {
		return fail(whenLine+1, 1, endOfInput, "when: requires at least one condition", conditionNames()...)
	}
	return nil
}

// splitProp splits `key: value` or `key:` into its parts.
func splitProp(s string) (key, val string, ok bool) {
	key = identifier(s)
	if key == "" {
		return "", "", false
	}
	rest := s[len(key):]
	switch {
	case rest == ":":
		return key, "", true
	case strings.HasPrefix(rest, ": "):
		return key, rest[2:], true
	}
	return "", "", false
}

func identifier(s string) string {
	i := 0
	for i < len(s) {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return s[:i]
}

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}

func isGap(line string) bool {
	return strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#")
}

func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return endOfInput
	}
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return s
}

func conditionNames() []string {
	names := make([]string, 0, len(conditions))
	for k := range conditions {
		names = append(names, "    "+k+":")
	}
	sort.Strings(names)
	return names
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for k := range commands {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
