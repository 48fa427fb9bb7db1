// Package bedrock implements an llm.Provider against AWS Bedrock's
// InvokeModel API, targeting Anthropic Claude models hosted on Bedrock
// (the dominant Bedrock text-generation family, and the one whose request/
// response envelope this package encodes). A fifth provider kind alongside
// Anthropic, OpenAI-compatible, Gemini and Ollama, for deployments that
// route model traffic through an AWS account instead of a vendor directly.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/llm"
)

// Provider talks to Bedrock's InvokeModel API using the Anthropic Messages
// request/response schema Bedrock expects for Claude models.
type Provider struct {
	llm.BaseProvider
	client             *bedrockruntime.Client
	model              string
	inputCostPerToken  decimal.Decimal
	outputCostPerToken decimal.Decimal
	maxTokens          int
}

// New builds a Provider from an AWS config loaded via the default
// credential chain (environment, shared config, instance role).
func New(ctx context.Context, id, model, region string, inputCostPerToken, outputCostPerToken decimal.Decimal) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "load aws config for bedrock")
	}
	return &Provider{
		BaseProvider: llm.BaseProvider{IDValue: id, CapsValue: []llm.Capability{
			llm.CapabilityTranslateFunction, llm.CapabilityExplainImports,
			llm.CapabilityGenerateSummary, llm.CapabilityEstimateCost, llm.CapabilityHealthCheck,
		}},
		client:             bedrockruntime.NewFromConfig(cfg),
		model:              model,
		inputCostPerToken:  inputCostPerToken,
		outputCostPerToken: outputCostPerToken,
		maxTokens:          4096,
	}, nil
}

// anthropicBody is the request/response envelope Bedrock expects for
// Anthropic-family models (the "bedrock-2023-05-31" Messages schema).
type anthropicBody struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Temperature      *float32        `json:"temperature,omitempty"`
	Messages         []bodyMessage   `json:"messages"`
}

type bodyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *Provider) invoke(ctx context.Context, model, system, user string, temperature *float32) (string, int, error) {
	body := anthropicBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        p.maxTokens,
		System:           system,
		Temperature:      temperature,
		Messages:         []bodyMessage{{Role: "user", Content: user}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "encode bedrock request")
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelOrDefault(model)),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", 0, classifyError(p.ID(), err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", 0, apperrors.NewProviderError("ProviderBadRequest", p.ID(), "decode bedrock response")
	}
	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, resp.Usage.InputTokens + resp.Usage.OutputTokens, nil
}

func (p *Provider) TranslateFunction(ctx context.Context, req llm.TranslateFunctionRequest) (*llm.TranslateFunctionResponse, error) {
	text, tokens, err := p.invoke(ctx, req.Model, req.SystemPrompt, req.UserPrompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &llm.TranslateFunctionResponse{NaturalLanguage: text, TokensUsed: tokens, Model: p.modelOrDefault(req.Model)}, nil
}

func (p *Provider) ExplainImports(ctx context.Context, req llm.ExplainImportsRequest) (*llm.ExplainImportsResponse, error) {
	text, tokens, err := p.invoke(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.ExplainImportsResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) GenerateSummary(ctx context.Context, req llm.SummaryRequest) (*llm.SummaryResponse, error) {
	text, tokens, err := p.invoke(ctx, req.Model, req.SystemPrompt, req.UserPrompt, nil)
	if err != nil {
		return nil, err
	}
	return &llm.SummaryResponse{NaturalLanguage: text, TokensUsed: tokens}, nil
}

func (p *Provider) EstimateCost(ctx context.Context, tokens int, model string) (*llm.CostEstimate, error) {
	half := tokens / 2
	cost := p.inputCostPerToken.Mul(decimal.NewFromInt(int64(half))).
		Add(p.outputCostPerToken.Mul(decimal.NewFromInt(int64(tokens - half))))
	return &llm.CostEstimate{EstimatedTokens: tokens, EstimatedCost: cost}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	_, _, err := p.invoke(ctx, p.model, "", "ping", nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	return &llm.HealthStatus{Healthy: true}, nil
}

func classifyError(providerID string, err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return apperrors.NewProviderError("ProviderRateLimit", providerID, "rate limited").WithDetails(err.Error())
	}
	var accessDenied *types.AccessDeniedException
	if errors.As(err, &accessDenied) {
		return apperrors.NewProviderError("ProviderAuth", providerID, "authentication rejected").WithDetails(err.Error())
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return apperrors.NewProviderError("ProviderBadRequest", providerID, "bad request").WithDetails(err.Error())
	}
	var modelTimeout *types.ModelTimeoutException
	if errors.As(err, &modelTimeout) {
		return apperrors.NewProviderError("ProviderTimeout", providerID, "model invocation timed out").WithDetails(err.Error())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewProviderError("ProviderServerError", providerID, apiErr.ErrorCode()).WithDetails(apiErr.ErrorMessage())
	}
	return apperrors.NewProviderError("ProviderServerError", providerID, "unclassified error").WithDetails(err.Error())
}
