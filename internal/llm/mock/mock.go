// Package mock provides offline proposal oracles for tests and demos.
package mock

import (
	"context"
	"sync/atomic"

	"copper/internal/flow"
	"copper/internal/llm"
	"copper/internal/prompt"
)

// Provider is a scriptable proposer.
type Provider struct {
	ProviderName string
	ProposeFn    func(ctx context.Context, attempt int, p llm.Proposal) (llm.Response, error)

	calls atomic.Int64
}

// Name returns the provider name, "mock" by default.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Propose calls ProposeFn with the zero-based call index.
func (p *Provider) Propose(ctx context.Context, prop llm.Proposal) (llm.Response, error) {
	n := int(p.calls.Add(1)) - 1
	if p.ProposeFn == nil {
		return llm.Response{Provider: p.Name()}, nil
	}
	return p.ProposeFn(ctx, n, prop)
}

// Calls reports how many times Propose ran.
func (p *Provider) Calls() int { return int(p.calls.Load()) }

// ToolCall builds a response carrying text as a tool payload.
func ToolCall(name, text string) llm.Response {
	return llm.Response{
		Provider: "mock",
		Output:   []llm.OutputItem{{Type: "custom_tool_call", Name: name, Input: &text}},
	}
}

// Message builds a plain text response.
func Message(fragments ...string) llm.Response {
	return llm.Response{
		Provider: "mock",
		Output:   []llm.OutputItem{{Type: "message", Text: fragments}},
	}
}

// Canned answers every proposal with a keyword-selected example flow.
type Canned struct{}

// NewCanned returns the offline template proposer.
func NewCanned() *Canned { return &Canned{} }

// Name returns "mock".
func (*Canned) Name() string { return "mock" }

// Propose selects a template from the request embedded in the prompt.
func (*Canned) Propose(ctx context.Context, prop llm.Proposal) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	task := prompt.UserMessage(prop.Prompt)
	if task == "" {
		task = prop.Prompt
	}
	return ToolCall(prop.ToolName, flow.ForTask(task)), nil
}
