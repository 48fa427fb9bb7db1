// Package ollama implements an llm.Provider against a local or remote
// Ollama server's /api/chat endpoint. No third-party Ollama client ships
// in the example pack's dependency set, so this variant uses the same
// shared/http client plumbing as the openaicompat provider rather than the
// Ollama-native /api/generate streaming protocol, keeping the HTTP surface
// consistent across providers that don't have a vendor SDK.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/llm"
	sharedhttp "github.com/binsight/core/pkg/shared/http"
)

// Provider talks to an Ollama server's chat completion endpoint. Ollama is
// typically self-hosted and free to run, so EstimateCost always returns
// zero unless a caller overrides costPerToken (e.g. to model compute cost
// recovery for a shared cluster).
type Provider struct {
	llm.BaseProvider
	baseURL      string
	model        string
	client       *http.Client
	costPerToken decimal.Decimal
}

// New builds a Provider against an Ollama server at baseURL (e.g.
// "http://localhost:11434").
func New(id, baseURL, model string, costPerToken decimal.Decimal) *Provider {
	return &Provider{
		BaseProvider: llm.BaseProvider{IDValue: id, CapsValue: []llm.Capability{
			llm.CapabilityTranslateFunction, llm.CapabilityExplainImports,
			llm.CapabilityGenerateSummary, llm.CapabilityEstimateCost, llm.CapabilityHealthCheck,
		}},
		baseURL:      baseURL,
		model:        model,
		client:       sharedhttp.NewClient(sharedhttp.LLMClientConfig()),
		costPerToken: costPerToken,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature"`
}

type chatResponse struct {
	Message        chatMessage `json:"message"`
	PromptEvalCount int        `json:"prompt_eval_count"`
	EvalCount       int        `json:"eval_count"`
	Done            bool       `json:"done"`
	Error           string     `json:"error,omitempty"`
}

func (p *Provider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *Provider) chat(ctx context.Context, model, system, user string, temperature *float32) (string, int, error) {
	req := chatRequest{
		Model: p.modelOrDefault(model),
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if temperature != nil {
		req.Options = &chatOptions{Temperature: *temperature}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderTimeout", p.ID(), "request failed").WithDetails(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", 0, apperrors.NewProviderError("ProviderRateLimit", p.ID(), "rate limited")
	}
	if resp.StatusCode >= 500 {
		return "", 0, apperrors.NewProviderError("ProviderServerError", p.ID(), fmt.Sprintf("server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), fmt.Sprintf("bad request: %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "decode response")
	}
	if out.Error != "" {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), out.Error)
	}
	return out.Message.Content, out.PromptEvalCount + out.EvalCount, nil
}

func (p *Provider) TranslateFunction(ctx context.Context, req llm.TranslateFunctionRequest) (*llm.TranslateFunctionResponse, error) {
	text, tokens, err := p.chat(ctx, req.Model, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &llm.TranslateFunctionResponse{NaturalLanguage: text, TokensUsed: tokens, Model: p.modelOrDefault(req.Model)}, nil
}

func (p *Provider) ExplainImports(ctx context.Context, req llm.ExplainImportsRequest) (*llm.ExplainImportsResponse, error) {
	text, tokens, err := p.chat(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.ExplainImportsResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) GenerateSummary(ctx context.Context, req llm.SummaryRequest) (*llm.SummaryResponse, error) {
	text, tokens, err := p.chat(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.SummaryResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) EstimateCost(ctx context.Context, tokens int, model string) (*llm.CostEstimate, error) {
	return &llm.CostEstimate{EstimatedTokens: tokens, EstimatedCost: p.costPerToken.Mul(decimal.NewFromInt(int64(tokens)))}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()
	return &llm.HealthStatus{Healthy: resp.StatusCode < 500}, nil
}
