// Package analyzer implements the Analyzer Client: the call
// to the external LLM (Google's Gemini, via google.golang.org/genai) with a
// cacheable system preamble, and the structured-response parsing with
// documented fallback defaults.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/devradar/devradar/pkg/config"
	"github.com/devradar/devradar/pkg/models"
)

// systemPreamble is identical across every call — the shipped instruction
// to the model describing the exact JSON contract it must return. Kept
// constant (rather than built per-call) so the provider's own prompt
// caching can key off it unchanged; correctness does not depend on whether
// the provider actually caches.
const systemPreamble = `You are a senior software architect reviewing an unfamiliar codebase.
Given the project context (README, manifest, and a sample of source files),
respond with ONLY a single JSON object (optionally inside a ` + "```json" + ` fenced block) with this shape:

{
  "summary": string,
  "techStack": {"languages": [string], "frameworks": [string], "tools": [string], "databases": [string]},
  "complexity": "simple" | "moderate" | "complex",
  "recommendations": [{"kind": string, "priority": "low"|"medium"|"high", "description": string}],
  "completionScore": integer 0-100,
  "maturityLevel": "poc" | "prototype" | "production",
  "productionGaps": [string],
  "estimatedValue": {"amount": number, "currency": string, "confidence": "low"|"medium"|"high"}
}

Do not include any prose outside the JSON object.`

// Client calls the external LLM and parses its response into a structured
// AnalysisResult.
type Client struct {
	genai *genai.Client
	model string

	maxTokens   int32
	temperature float32
}

// New creates a Client from the genai and worker config using apiKey. An
// empty apiKey is an error naming the env var genaiCfg.APIKeyEnv; New does
// not read the environment itself.
func New(ctx context.Context, genaiCfg *config.GenAIConfig, workerCfg *config.WorkerConfig, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analyzer: missing API key (expected env var %s)", genaiCfg.APIKeyEnv)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("analyzer: failed to create genai client: %w", err)
	}
	model := workerCfg.Model
	if model == "" {
		model = genaiCfg.Model
	}
	return &Client{
		genai:       gc,
		model:       model,
		maxTokens:   int32(workerCfg.MaxTokens),
		temperature: workerCfg.Temperature,
	}, nil
}

// buildUserMessage serializes a ProjectContext into the single text blob
// handed to the model as the user turn.
func buildUserMessage(pc *models.ProjectContext) string {
	var b strings.Builder
	if pc.README != "" {
		b.WriteString("## README\n")
		b.WriteString(pc.README)
		b.WriteString("\n\n")
	}
	if pc.Manifest != "" {
		b.WriteString("## Manifest\n")
		b.WriteString(pc.Manifest)
		b.WriteString("\n\n")
	}
	for _, f := range pc.Files {
		b.WriteString("## File: ")
		b.WriteString(f.Path)
		if f.Truncated {
			b.WriteString(" (truncated)")
		}
		b.WriteString("\n")
		b.WriteString(f.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Analyze calls the external LLM with pc's assembled context and parses the
// structured response. ctx propagates down to the genai transport so a
// force-delete or timeout aborts the in-flight call. The system preamble is
// sent as a plain system instruction; it is not marked cacheable at the
// provider layer.
func (c *Client) Analyze(ctx context.Context, pc *models.ProjectContext, projectID string) (*models.Analysis, error) {
	userMessage := buildUserMessage(pc)
	temperature := c.temperature

	resp, err := c.genai.Models.GenerateContent(ctx, c.model,
		genai.Text(userMessage),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPreamble, genai.RoleUser),
			Temperature:       &temperature,
			MaxOutputTokens:   c.maxTokens,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("analyzer: generate content: %w", err)
	}

	text := extractText(resp)
	tokensUsed := extractTokenCount(resp)

	result, parseErr := ParseResponse(text)
	if parseErr != nil {
		result = fallbackResult()
	}
	result.Model = c.model
	result.TokensUsed = tokensUsed
	return result, nil
}

// extractText pulls the concatenated text of every candidate part out of a
// GenerateContentResponse, tolerating a response with no candidates.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func extractTokenCount(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
