package llm

import "strings"

// Extractor pulls candidate text out of a response.
type Extractor struct {
	Name    string
	Extract func(Response) (string, bool)
}

// ToolInput returns the payload of the first tool invocation.
var ToolInput = Extractor{
	Name: "tool",
	Extract: func(r Response) (string, bool) {
		for _, item := range r.Output {
			if item.Input != nil {
				return *item.Input, *item.Input != ""
			}
		}
		return "", false
	},
}

// TextFragments concatenates every text fragment in response order.
var TextFragments = Extractor{
	Name: "text",
	Extract: func(r Response) (string, bool) {
		var b strings.Builder
		for _, item := range r.Output {
			for _, t := range item.Text {
				b.WriteString(t)
			}
		}
		return b.String(), b.Len() > 0
	},
}

// DefaultExtractors tries the structured tool payload before plain text.
var DefaultExtractors = []Extractor{ToolInput, TextFragments}

// Extract returns the first candidate produced by extractors, in order, and
// the name of the extractor that produced it.
func Extract(r Response, extractors ...Extractor) (text, source string, ok bool) {
	if len(extractors) == 0 {
		extractors = DefaultExtractors
	}
	for _, e := range extractors {
		if text, ok := e.Extract(r); ok {
			return text, e.Name, true
		}
	}
	return "", "", false
}
