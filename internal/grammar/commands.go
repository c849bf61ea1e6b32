package grammar

import (
	"sort"
	"strings"
)

type valueKind int

const (
	kindString valueKind = iota + 1
	kindInt
	kindBool
	kindKey
	kindDirection
	kindPlatform
)

var (
	keyNames       = []string{"enter", "back", "home", "backspace", "tab", "lock", "power"}
	directionNames = []string{"up", "down", "left", "right"}
	platformNames  = []string{"iOS", "Android", "Web"}
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return `"double-quoted string"`
	case kindInt:
		return "integer"
	case kindBool:
		return "true|false"
	case kindKey:
		return strings.Join(keyNames, "|")
	case kindDirection:
		return strings.Join(directionNames, "|")
	case kindPlatform:
		return strings.Join(platformNames, "|")
	}
	return "value"
}

// commandSpec lists the forms a step command may take.
type commandSpec struct {
	bare     bool
	inline   valueKind
	props    map[string]valueKind
	required []string
	when     bool
}

func (s commandSpec) forms() []string {
	var out []string
	if s.bare {
		out = append(out, "newline")
	}
	if s.inline != 0 {
		out = append(out, ": "+s.inline.String())
	}
	if s.props != nil {
		out = append(out, ": newline + indented properties")
	}
	return out
}

func (s commandSpec) propNames() []string {
	names := make([]string, 0, len(s.props)+1)
	for k := range s.props {
		names = append(names, "  "+k+":")
	}
	if s.when {
		names = append(names, "  when:")
	}
	sort.Strings(names)
	return names
}

var (
	tapSpec = commandSpec{
		inline: kindString,
		props: map[string]valueKind{
			"id":        kindString,
			"text":      kindString,
			"index":     kindInt,
			"optional":  kindBool,
			"timeoutMs": kindInt,
		},
		required: []string{"id", "text"},
	}
	assertSpec = commandSpec{
		inline: kindString,
		props: map[string]valueKind{
			"id":       kindString,
			"text":     kindString,
			"optional": kindBool,
		},
		required: []string{"id", "text"},
	}
	runSpec = commandSpec{
		inline:   kindString,
		props:    map[string]valueKind{"file": kindString},
		required: []string{"file"},
		when:     true,
	}
)

var commands = map[string]commandSpec{
	"launchApp": {
		bare:   true,
		inline: kindString,
		props: map[string]valueKind{
			"appId":      kindString,
			"clearState": kindBool,
			"stopApp":    kindBool,
		},
	},
	"stopApp":               {bare: true, inline: kindString},
	"clearState":            {bare: true, inline: kindString},
	"back":                  {bare: true},
	"hideKeyboard":          {bare: true},
	"waitForAnimationToEnd": {bare: true},
	"clearKeychain":         {bare: true},
	"tapOn":                 tapSpec,
	"doubleTapOn":           tapSpec,
	"longPressOn":           tapSpec,
	"inputText":             {inline: kindString},
	"eraseText":             {bare: true, inline: kindInt},
	"assertVisible":         assertSpec,
	"assertNotVisible":      assertSpec,
	"openLink":              {inline: kindString},
	"pressKey": {
		inline:   kindKey,
		props:    map[string]valueKind{"key": kindKey},
		required: []string{"key"},
	},
	"scroll": {
		bare:  true,
		props: map[string]valueKind{"direction": kindDirection, "times": kindInt},
	},
	"swipe": {
		props: map[string]valueKind{"direction": kindDirection, "durationMs": kindInt},
	},
	"runFlow":   runSpec,
	"runScript": runSpec,
	"takeScreenshot": {
		bare:     true,
		props:    map[string]valueKind{"name": kindString},
		required: []string{"name"},
	},
	"extendedWaitUntil": {
		props: map[string]valueKind{
			"visible":    kindString,
			"notVisible": kindString,
			"timeout":    kindInt,
		},
		required: []string{"visible", "notVisible"},
	},
}

var conditions = map[string]valueKind{
	"visible":    kindString,
	"notVisible": kindString,
	"platform":   kindPlatform,
	"true":       kindString,
}

func validValue(v string, k valueKind) bool {
	switch k {
	case kindString:
		return isQuoted(v)
	case kindInt:
		if v == "" {
			return false
		}
		for i := 0; i < len(v); i++ {
			if v[i] < '0' || v[i] > '9' {
				return false
			}
		}
		return true
	case kindBool:
		return v == "true" || v == "false"
	case kindKey:
		return oneOfFold(v, keyNames)
	case kindDirection:
		return oneOfFold(v, directionNames)
	case kindPlatform:
		return oneOfFold(v, platformNames)
	}
	return false
}

// isQuoted reports whether v is exactly one double-quoted string literal.
func isQuoted(v string) bool {
	if len(v) < 2 || v[0] != '"' {
		return false
	}
	for i := 1; i < len(v); i++ {
		switch v[i] {
		case '\\':
			i++
		case '"':
			return i == len(v)-1
		}
	}
	return false
}

func oneOfFold(v string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
