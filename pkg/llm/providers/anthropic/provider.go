// Package anthropic implements an llm.Provider against the Anthropic
// Messages API via the official anthropic-sdk-go client.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/llm"
	"github.com/binsight/core/pkg/llm/tokencount"
)

// Provider talks to the Anthropic Messages API.
type Provider struct {
	llm.BaseProvider
	client            anthropic.Client
	model             string
	inputCostPerToken  decimal.Decimal
	outputCostPerToken decimal.Decimal
	maxTokens         int64
}

// New builds a Provider. inputCostPerToken/outputCostPerToken are flat
// USD-per-token estimates used by EstimateCost; Anthropic's actual billed
// cost is read from the response usage once a call completes.
func New(id, apiKey, model string, inputCostPerToken, outputCostPerToken decimal.Decimal) *Provider {
	return &Provider{
		BaseProvider: llm.BaseProvider{IDValue: id, CapsValue: []llm.Capability{
			llm.CapabilityTranslateFunction, llm.CapabilityExplainImports,
			llm.CapabilityGenerateSummary, llm.CapabilityEstimateCost, llm.CapabilityHealthCheck,
		}},
		client:             anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:              model,
		inputCostPerToken:  inputCostPerToken,
		outputCostPerToken: outputCostPerToken,
		maxTokens:          4096,
	}
}

func (p *Provider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *Provider) complete(ctx context.Context, model, system, user string, temperature *float32) (string, int, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelOrDefault(model)),
		MaxTokens: p.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if temperature != nil {
		params.Temperature = anthropic.Float(float64(*temperature))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, classifyError(p.ID(), err)
	}
	if len(msg.Content) == 0 {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "empty content in response")
	}
	text := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	tokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	return text, tokens, nil
}

func (p *Provider) TranslateFunction(ctx context.Context, req llm.TranslateFunctionRequest) (*llm.TranslateFunctionResponse, error) {
	text, tokens, err := p.complete(ctx, req.Model, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &llm.TranslateFunctionResponse{NaturalLanguage: text, TokensUsed: tokens, Model: p.modelOrDefault(req.Model)}, nil
}

func (p *Provider) ExplainImports(ctx context.Context, req llm.ExplainImportsRequest) (*llm.ExplainImportsResponse, error) {
	text, tokens, err := p.complete(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.ExplainImportsResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) GenerateSummary(ctx context.Context, req llm.SummaryRequest) (*llm.SummaryResponse, error) {
	text, tokens, err := p.complete(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.SummaryResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

// EstimateCost prices the caller-supplied token count, half of it at the
// input rate and the rest at the output rate; it does no tokenization of
// its own. The billed usage the API returns post-call is authoritative.
func (p *Provider) EstimateCost(ctx context.Context, tokens int, model string) (*llm.CostEstimate, error) {
	half := tokens / 2
	cost := p.inputCostPerToken.Mul(decimal.NewFromInt(int64(half))).
		Add(p.outputCostPerToken.Mul(decimal.NewFromInt(int64(tokens - half))))
	return &llm.CostEstimate{EstimatedTokens: tokens, EstimatedCost: cost}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

// EstimateTokens is a convenience for callers building a TranslateFunctionRequest
// who want to know roughly how many tokens a prompt will cost before dispatch.
func EstimateTokens(parts ...string) int {
	return tokencount.CountMessages(parts...)
}

func classifyError(providerID string, err error) error {
	var apiErr *anthropic.Error
	if ae, ok := err.(*anthropic.Error); ok {
		apiErr = ae
	}
	if apiErr == nil {
		return apperrors.NewProviderError("ProviderTimeout", providerID, "request failed").WithDetails(err.Error())
	}
	switch apiErr.StatusCode {
	case 429:
		return apperrors.NewProviderError("ProviderRateLimit", providerID, "rate limited").WithDetails(apiErr.Error())
	case 401, 403:
		return apperrors.NewProviderError("ProviderAuth", providerID, "authentication rejected").WithDetails(apiErr.Error())
	case 400, 404, 422:
		return apperrors.NewProviderError("ProviderBadRequest", providerID, "bad request").WithDetails(apiErr.Error())
	default:
		if apiErr.StatusCode >= 500 {
			return apperrors.NewProviderError("ProviderServerError", providerID, "server error").WithDetails(apiErr.Error())
		}
		return apperrors.NewProviderError("ProviderServerError", providerID, "unclassified error").WithDetails(apiErr.Error())
	}
}
