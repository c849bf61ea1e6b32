// Package flow models Maestro flow documents: an appId header, a "---"
// separator and an ordered list of steps.
package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSteps is returned when a document has a header but no step list.
var ErrNoSteps = errors.New("flow has no steps")

// Flow is a decoded flow document.
type Flow struct {
	AppID string `yaml:"appId"`
	Steps []Step `yaml:"-"`
}

// Step is one directive of a flow.
type Step struct {
	Command string     // e.g. "tapOn"
	Value   string     // one-line argument, empty for bare and mapping forms
	Props   []Property // mapping form properties in document order
	When    []Property // nested when: conditions
}

// Property is a single `key: value` line.
type Property struct {
	Key   string
	Value string
}

// Prop returns the value of the named property.
func (s Step) Prop(key string) (string, bool) {
	for _, p := range s.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Parse decodes a flow document into its header and steps.
func Parse(data []byte) (*Flow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var f Flow
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if f.AppID == "" {
		return nil, errors.New("decode header: appId is empty")
	}

	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoSteps
		}
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, ErrNoSteps
	}

	for i, item := range doc.Content[0].Content {
		step, err := decodeStep(item)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		f.Steps = append(f.Steps, step)
	}
	if len(f.Steps) == 0 {
		return nil, ErrNoSteps
	}
	return &f, nil
}

// Load reads and parses a flow file.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func decodeStep(n *yaml.Node) (Step, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return Step{Command: n.Value}, nil
	case yaml.MappingNode:
	default:
		return Step{}, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
	}
	if len(n.Content) < 2 {
		return Step{}, fmt.Errorf("line %d: empty step", n.Line)
	}

	step := Step{Command: n.Content[0].Value}
	if v := n.Content[1]; v.Kind == yaml.ScalarNode && v.Tag != "!!null" {
		step.Value = v.Value
	}
	for i := 2; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Value == "when" && val.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(val.Content); j += 2 {
				step.When = append(step.When, Property{Key: val.Content[j].Value, Value: val.Content[j+1].Value})
			}
			continue
		}
		step.Props = append(step.Props, Property{Key: key.Value, Value: val.Value})
	}
	return step, nil
}

// Commands lists step commands in order.
func (f *Flow) Commands() []string {
	out := make([]string, 0, len(f.Steps))
	for _, s := range f.Steps {
		out = append(out, s.Command)
	}
	return out
}

// Summary is a one-line description used in logs and job progress.
func (f *Flow) Summary() string {
	return fmt.Sprintf("%s: %d steps (%s)", f.AppID, len(f.Steps), strings.Join(f.Commands(), ", "))
}
