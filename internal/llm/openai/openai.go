// Package openai implements a proposal oracle over the OpenAI Responses API
// using a custom tool whose output format is a Lark grammar.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"copper/internal/llm"
)

// Config holds provider settings.
type Config struct {
	Name             string
	BaseURL          string
	APIKey           string
	Model            string
	Verbosity        string // low, medium, high
	MinimalReasoning bool
	Timeout          time.Duration
}

// Provider implements llm.Proposer.
type Provider struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewProvider constructs a Provider with defaults filled in.
func NewProvider(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-5-mini"
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = "low"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return p.cfg.Name }

// Propose sends one Responses API request with the grammar tool attached.
func (p *Provider) Propose(ctx context.Context, prop llm.Proposal) (llm.Response, error) {
	toolName := prop.ToolName
	if toolName == "" {
		toolName = "maestro_yaml_grammar"
	}
	effort := "medium"
	if p.cfg.MinimalReasoning {
		effort = "minimal"
	}

	body := responsesRequest{
		Model: p.cfg.Model,
		Input: prop.Prompt,
		Text: textOptions{
			Verbosity: p.cfg.Verbosity,
			Format:    formatType{Type: "text"},
		},
		Tools: []customTool{{
			Type: "custom",
			Name: toolName,
			Description: "Generates a Maestro YAML test flow. " +
				"YOU MUST ONLY EMIT STRINGS VALID UNDER THE PROVIDED LARK GRAMMAR.",
			Format: grammarFormat{
				Type:       "grammar",
				Syntax:     "lark",
				Definition: prop.Grammar,
			},
		}},
		ParallelToolCalls: false,
		Reasoning:         reasoning{Effort: effort},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.send(ctx, payload)
	})
	if err != nil {
		return llm.Response{}, err
	}
	resp := out.(*responsesResponse)
	return toResponse(resp, p.cfg.Name, p.cfg.Model), nil
}

func (p *Provider) send(ctx context.Context, payload []byte) (*responsesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("openai: status %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}

	var out responsesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return nil, errors.New("openai: " + out.Error.Message)
	}
	return &out, nil
}

func toResponse(r *responsesResponse, provider, model string) llm.Response {
	resp := llm.Response{Provider: provider, Model: model}
	if r.Model != "" {
		resp.Model = r.Model
	}
	for _, item := range r.Output {
		oi := llm.OutputItem{Type: item.Type, Name: item.Name, Input: item.Input}
		for _, c := range item.Content {
			if c.Text != nil {
				oi.Text = append(oi.Text, *c.Text)
			}
		}
		resp.Output = append(resp.Output, oi)
	}
	return resp
}

type responsesRequest struct {
	Model             string       `json:"model"`
	Input             string       `json:"input"`
	Text              textOptions  `json:"text"`
	Tools             []customTool `json:"tools"`
	ParallelToolCalls bool         `json:"parallel_tool_calls"`
	Reasoning         reasoning    `json:"reasoning"`
}

type textOptions struct {
	Verbosity string     `json:"verbosity"`
	Format    formatType `json:"format"`
}

type formatType struct {
	Type string `json:"type"`
}

type customTool struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Format      grammarFormat `json:"format"`
}

type grammarFormat struct {
	Type       string `json:"type"`
	Syntax     string `json:"syntax"`
	Definition string `json:"definition"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string  `json:"type"`
		Name    string  `json:"name,omitempty"`
		Input   *string `json:"input,omitempty"`
		Content []struct {
			Type string  `json:"type"`
			Text *string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
