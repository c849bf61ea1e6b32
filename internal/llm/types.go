// Package llm defines the proposal oracle contract shared by model providers.
package llm

import "context"

// Proposal is one request for a grammar-constrained candidate.
type Proposal struct {
	Prompt string
	// Grammar is the grammar definition passed to the model as an output constraint.
	Grammar string
	// ToolName names the constrained tool the model is asked to call.
	ToolName string
}

// OutputItem is one element of a provider response. A tool invocation carries
// Input; a message carries Text fragments.
type OutputItem struct {
	Type  string
	Name  string
	Input *string
	Text  []string
}

// Response is a normalized provider response.
type Response struct {
	Output   []OutputItem
	Provider string
	Model    string
}

// Proposer is the generative capability that attempts to produce a candidate.
type Proposer interface {
	Name() string
	Propose(ctx context.Context, p Proposal) (Response, error)
}
