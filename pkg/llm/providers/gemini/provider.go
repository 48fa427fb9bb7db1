// Package gemini implements an llm.Provider against Google's Generative
// Language API via google/generative-ai-go.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/llm"
)

// Provider talks to the Gemini Generative Language API.
type Provider struct {
	llm.BaseProvider
	client       *genai.Client
	model        string
	costPerToken decimal.Decimal
}

// New builds a Provider bound to a genai.Client constructed with apiKey.
func New(ctx context.Context, id, apiKey, model string, costPerToken decimal.Decimal) (*Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "construct gemini client")
	}
	return &Provider{
		BaseProvider: llm.BaseProvider{IDValue: id, CapsValue: []llm.Capability{
			llm.CapabilityTranslateFunction, llm.CapabilityExplainImports,
			llm.CapabilityGenerateSummary, llm.CapabilityEstimateCost, llm.CapabilityHealthCheck,
		}},
		client: client, model: model, costPerToken: costPerToken,
	}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error { return p.client.Close() }

func (p *Provider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *Provider) generate(ctx context.Context, modelName, system, user string, temperature *float32) (string, int, error) {
	m := p.client.GenerativeModel(p.modelOrDefault(modelName))
	if system != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if temperature != nil {
		t := *temperature
		m.Temperature = &t
	}

	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", 0, classifyError(p.ID(), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "no candidates in response")
	}

	text := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text, tokens, nil
}

func (p *Provider) TranslateFunction(ctx context.Context, req llm.TranslateFunctionRequest) (*llm.TranslateFunctionResponse, error) {
	text, tokens, err := p.generate(ctx, req.Model, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &llm.TranslateFunctionResponse{NaturalLanguage: text, TokensUsed: tokens, Model: p.modelOrDefault(req.Model)}, nil
}

func (p *Provider) ExplainImports(ctx context.Context, req llm.ExplainImportsRequest) (*llm.ExplainImportsResponse, error) {
	text, tokens, err := p.generate(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.ExplainImportsResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) GenerateSummary(ctx context.Context, req llm.SummaryRequest) (*llm.SummaryResponse, error) {
	text, tokens, err := p.generate(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
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
	m := p.client.GenerativeModel(p.model)
	_, err := m.GenerateContent(ctx, genai.Text("ping"))
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

func classifyError(providerID string, err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "429", "RESOURCE_EXHAUSTED", "rate limit"):
		return apperrors.NewProviderError("ProviderRateLimit", providerID, "rate limited").WithDetails(msg)
	case containsAny(msg, "401", "403", "PERMISSION_DENIED", "UNAUTHENTICATED"):
		return apperrors.NewProviderError("ProviderAuth", providerID, "authentication rejected").WithDetails(msg)
	case containsAny(msg, "400", "INVALID_ARGUMENT", "404", "NOT_FOUND"):
		return apperrors.NewProviderError("ProviderBadRequest", providerID, "bad request").WithDetails(msg)
	case containsAny(msg, "deadline exceeded", "context deadline", "timeout"):
		return apperrors.NewProviderError("ProviderTimeout", providerID, "request timed out").WithDetails(msg)
	default:
		return apperrors.NewProviderError("ProviderServerError", providerID, "unclassified error").WithDetails(msg)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
