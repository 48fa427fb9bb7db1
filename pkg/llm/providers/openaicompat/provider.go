// Package openaicompat implements an llm.Provider against any OpenAI
// chat-completions-compatible endpoint, covering self-hosted gateways and
// third-party services that mirror OpenAI's wire format.
package openaicompat

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

// Provider talks to an OpenAI-compatible /chat/completions endpoint.
type Provider struct {
	llm.BaseProvider
	baseURL      string
	apiKey       string
	client       *http.Client
	costPerToken decimal.Decimal
}

// New builds a Provider. costPerToken is a flat USD-per-token estimate
// used by EstimateCost when the endpoint has no pricing API of its own.
func New(id, baseURL, apiKey string, costPerToken decimal.Decimal) *Provider {
	return &Provider{
		BaseProvider: llm.BaseProvider{IDValue: id, CapsValue: []llm.Capability{
			llm.CapabilityTranslateFunction, llm.CapabilityExplainImports,
			llm.CapabilityGenerateSummary, llm.CapabilityEstimateCost, llm.CapabilityHealthCheck,
		}},
		baseURL: baseURL, apiKey: apiKey,
		client:       sharedhttp.NewClient(sharedhttp.LLMClientConfig()),
		costPerToken: costPerToken,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) chat(ctx context.Context, model, system, user string, temperature *float32) (string, int, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderTimeout", p.ID(), "request failed").WithDetails(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", 0, apperrors.NewProviderError("ProviderRateLimit", p.ID(), "rate limited")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", 0, apperrors.NewProviderError("ProviderAuth", p.ID(), "authentication rejected")
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
	if len(out.Choices) == 0 {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "empty choices in response")
	}
	return out.Choices[0].Message.Content, out.Usage.TotalTokens, nil
}

func (p *Provider) TranslateFunction(ctx context.Context, req llm.TranslateFunctionRequest) (*llm.TranslateFunctionResponse, error) {
	text, tokens, err := p.chat(ctx, req.Model, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &llm.TranslateFunctionResponse{NaturalLanguage: text, TokensUsed: tokens, Model: req.Model}, nil
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
	cost := p.costPerToken.Mul(decimal.NewFromInt(int64(tokens)))
	return &llm.CostEstimate{EstimatedTokens: tokens, EstimatedCost: cost}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()
	return &llm.HealthStatus{Healthy: resp.StatusCode < 500}, nil
}
