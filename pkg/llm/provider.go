// Package llm is C5/C6: the provider abstraction, its capability set, and
// the factory that selects a concrete provider for a job's preferences
// falling back through priority order when one is unavailable.
package llm

import (
	"context"

	"github.com/shopspring/decimal"
)

// Capability is one operation a Provider may support.
type Capability string

const (
	CapabilityTranslateFunction Capability = "translate_function"
	CapabilityExplainImports    Capability = "explain_imports"
	CapabilityGenerateSummary   Capability = "generate_summary"
	CapabilityEstimateCost      Capability = "estimate_cost"
	CapabilityHealthCheck       Capability = "health_check"
)

// TranslateFunctionRequest asks a provider to explain one function.
type TranslateFunctionRequest struct {
	FunctionName  string
	Address       string
	AssemblyBlock string
	CallsTo       []string
	DetailLevel   string
	SystemPrompt  string
	UserPrompt    string
	Temperature   *float32
	Model         string
}

// TranslateFunctionResponse is a provider's explanation of one function.
type TranslateFunctionResponse struct {
	NaturalLanguage string
	TokensUsed      int
	Model           string
}

// ExplainImportsRequest asks a provider to explain one library's imported
// symbols as a group.
type ExplainImportsRequest struct {
	Library      string
	Symbols      []string
	SystemPrompt string
	UserPrompt   string
	Model        string
}

// ExplainImportsResponse is a provider's explanation of one import group.
type ExplainImportsResponse struct {
	NaturalLanguage string
	TokensUsed      int
}

// SummaryRequest asks a provider for a whole-binary synopsis.
type SummaryRequest struct {
	BinaryFormat       string
	FunctionCount      int
	NotableFunctionNames []string
	SystemPrompt       string
	UserPrompt         string
	Model              string
}

// SummaryResponse is a provider's whole-binary synopsis.
type SummaryResponse struct {
	NaturalLanguage string
	TokensUsed      int
}

// CostEstimate is a provider's pre-flight cost projection for a job.
type CostEstimate struct {
	EstimatedTokens int
	EstimatedCost   decimal.Decimal
}

// HealthStatus is the result of a provider health check.
type HealthStatus struct {
	Healthy bool
	Detail  string
}

// Provider is one LLM backend (C5). Implementations wrap a specific vendor
// SDK or HTTP API; Factory selects among configured instances.
type Provider interface {
	ID() string
	Capabilities() []Capability
	Supports(cap Capability) bool

	TranslateFunction(ctx context.Context, req TranslateFunctionRequest) (*TranslateFunctionResponse, error)
	ExplainImports(ctx context.Context, req ExplainImportsRequest) (*ExplainImportsResponse, error)
	GenerateSummary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error)
	EstimateCost(ctx context.Context, tokens int, model string) (*CostEstimate, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// BaseProvider implements Supports from a fixed Capabilities list, so
// concrete providers only need to declare what they support.
type BaseProvider struct {
	IDValue   string
	CapsValue []Capability
}

func (b BaseProvider) ID() string               { return b.IDValue }
func (b BaseProvider) Capabilities() []Capability { return b.CapsValue }
func (b BaseProvider) Supports(cap Capability) bool {
	for _, c := range b.CapsValue {
		if c == cap {
			return true
		}
	}
	return false
}
