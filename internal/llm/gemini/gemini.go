// Package gemini implements a proposal oracle over Google's Gemini API. The
// grammar is carried in the system instruction and the flow is returned as
// the single argument of a forced function call.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"copper/internal/llm"
)

const flowArg = "flow"

// Config holds provider settings.
type Config struct {
	APIKey string
	Model  string
}

// Provider implements llm.Proposer.
type Provider struct {
	client *genai.Client
	model  string
}

// NewProvider creates a Gemini client.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// Propose asks the model to call the flow tool exactly once.
func (p *Provider) Propose(ctx context.Context, prop llm.Proposal) (llm.Response, error) {
	result, err := p.client.Models.GenerateContent(ctx,
		p.model,
		[]*genai.Content{genai.NewContentFromText(prop.Prompt, genai.RoleUser)},
		requestConfig(prop),
	)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini generate failed: %w", err)
	}
	return fromGenAI(result, p.model), nil
}

func requestConfig(prop llm.Proposal) *genai.GenerateContentConfig {
	name := toolName(prop.ToolName)
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"Every flow you emit must be a sentence of this Lark grammar:\n\n"+prop.Grammar,
			genai.RoleUser,
		),
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        name,
				Description: "Submit one Maestro YAML test flow.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						flowArg: {
							Type:        genai.TypeString,
							Description: "The complete flow text, header included.",
						},
					},
					Required: []string{flowArg},
				},
			}},
		}},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{name},
			},
		},
	}
}

// toolName maps the tool name onto the identifier charset Gemini accepts.
func toolName(name string) string {
	if name == "" {
		return "maestro_yaml_grammar"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

func fromGenAI(r *genai.GenerateContentResponse, model string) llm.Response {
	resp := llm.Response{Provider: "gemini", Model: model}
	if r == nil {
		return resp
	}
	if r.ModelVersion != "" {
		resp.Model = r.ModelVersion
	}
	for _, cand := range r.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part == nil:
			case part.FunctionCall != nil:
				item := llm.OutputItem{Type: "function_call", Name: part.FunctionCall.Name}
				if s, ok := part.FunctionCall.Args[flowArg].(string); ok {
					item.Input = &s
				}
				resp.Output = append(resp.Output, item)
			case part.Text != "" && !part.Thought:
				resp.Output = append(resp.Output, llm.OutputItem{Type: "message", Text: []string{part.Text}})
			}
		}
	}
	return resp
}
