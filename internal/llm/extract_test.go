package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestExtractPrefersToolInput(t *testing.T) {
	r := Response{Output: []OutputItem{
		{Type: "message", Text: []string{"ignored"}},
		{Type: "custom_tool_call", Input: strPtr("appId: \"x\"")},
	}}

	text, source, ok := Extract(r)
	require.True(t, ok)
	assert.Equal(t, "tool", source)
	assert.Equal(t, "appId: \"x\"", text)
}

func TestExtractFallsBackToTextFragments(t *testing.T) {
	r := Response{Output: []OutputItem{
		{Type: "reasoning"},
		{Type: "message", Text: []string{"appId: ", "\"x\"\n"}},
		{Type: "message", Text: []string{"---\n"}},
	}}

	text, source, ok := Extract(r)
	require.True(t, ok)
	assert.Equal(t, "text", source)
	assert.Equal(t, "appId: \"x\"\n---\n", text)
}

func TestExtractEmptyToolInputFallsThrough(t *testing.T) {
	r := Response{Output: []OutputItem{
		{Type: "custom_tool_call", Input: strPtr("")},
		{Type: "message", Text: []string{"body"}},
	}}

	text, source, ok := Extract(r)
	require.True(t, ok)
	assert.Equal(t, "text", source)
	assert.Equal(t, "body", text)
}

func TestExtractNothing(t *testing.T) {
	_, _, ok := Extract(Response{})
	assert.False(t, ok)

	_, _, ok = Extract(Response{Output: []OutputItem{{Type: "reasoning"}}}, ToolInput)
	assert.False(t, ok)
}

type namedProposer string

func (n namedProposer) Name() string { return string(n) }
func (n namedProposer) Propose(context.Context, Proposal) (Response, error) {
	return Response{}, nil
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register(namedProposer("openai"))
	r.Register(namedProposer("mock"))

	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = r.Resolve("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	_, err = r.Resolve("gemini")
	assert.ErrorContains(t, err, `provider "gemini" not registered`)
	assert.Equal(t, []string{"mock", "openai"}, r.Names())
}
