package domain

import "github.com/shopspring/decimal"

// TranslationStatus is the outcome of a translation pipeline run (C8).
type TranslationStatus string

const (
	TranslationCompleted TranslationStatus = "completed"
	TranslationPartial   TranslationStatus = "partial"
	TranslationFailed    TranslationStatus = "failed"
	TranslationCancelled TranslationStatus = "cancelled"
)

// TaskError is recorded against one skipped or failed translation task.
type TaskError struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FunctionTranslation is the natural-language explanation of one function.
type FunctionTranslation struct {
	FunctionAddress    string `json:"function_address"`
	NaturalLanguage    string `json:"natural_language"`
	TokensUsed         int    `json:"tokens_used"`
	PromptTemplateID   string `json:"prompt_template_id"`
	PromptVersion      int    `json:"prompt_version"`
}

// ImportExplanation is the natural-language explanation of one batched
// import-library group.
type ImportExplanation struct {
	Library         string `json:"library"`
	NaturalLanguage string `json:"natural_language"`
	TokensUsed      int    `json:"tokens_used"`
}

// OverallSummary is the whole-binary natural-language synopsis.
type OverallSummary struct {
	NaturalLanguage string `json:"natural_language"`
	TokensUsed      int    `json:"tokens_used"`
}

// TranslationResult is the aggregated output of C8 for one
// (job_id, provider_id, model) tuple; at most one per tuple (§3).
type TranslationResult struct {
	JobID                string                `json:"job_id"`
	ProviderID           string                `json:"provider_id"`
	Model                string                `json:"model"`
	DetailLevel          string                `json:"detail_level"`
	FunctionTranslations []FunctionTranslation `json:"function_translations"`
	ImportExplanations   []ImportExplanation   `json:"import_explanations"`
	OverallSummary       *OverallSummary       `json:"overall_summary,omitempty"`
	TokensUsed           int                   `json:"tokens_used"`
	EstimatedCost        decimal.Decimal       `json:"estimated_cost"`
	Status               TranslationStatus     `json:"status"`
	TaskErrors           []TaskError           `json:"task_errors,omitempty"`
}

// TotalTokens sums per-task token counts. The pipeline keeps TokensUsed
// equal to this exactly, so the two can be compared as a consistency
// check after a run.
func (r *TranslationResult) TotalTokens() int {
	total := 0
	for _, ft := range r.FunctionTranslations {
		total += ft.TokensUsed
	}
	for _, ie := range r.ImportExplanations {
		total += ie.TokensUsed
	}
	if r.OverallSummary != nil {
		total += r.OverallSummary.TokensUsed
	}
	return total
}

// PromptTemplate is an immutable, versioned rendering template (C7).
type PromptTemplate struct {
	TemplateID           string                       `json:"template_id" db:"template_id"`
	Version              int                          `json:"version" db:"version"`
	OperationType        string                       `json:"operation_type" db:"operation_type"`
	SystemPrompt         string                       `json:"system_prompt" db:"system_prompt"`
	UserPromptTemplate    string                       `json:"user_prompt_template" db:"user_prompt_template"`
	ProviderAdaptations   map[string]ProviderAdaptation `json:"provider_adaptations" db:"provider_adaptations"`
	DefaultParams         map[string]interface{}       `json:"default_params" db:"default_params"`
}

// ProviderAdaptation lets a provider append to either prompt and override
// temperature.
type ProviderAdaptation struct {
	AppendSystem string   `json:"append_system,omitempty"`
	AppendUser   string   `json:"append_user,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
}

// UsageRecord is a monotonic per-(owner, provider, day, operation) ledger
// entry (C2 cost ceilings).
type UsageRecord struct {
	Owner         string          `json:"owner" db:"owner"`
	ProviderID    string          `json:"provider_id" db:"provider_id"`
	Day           string          `json:"day" db:"day"` // YYYY-MM-DD
	OperationType string          `json:"operation_type" db:"operation_type"`
	TokensUsed    int64           `json:"tokens_used" db:"tokens_used"`
	Requests      int64           `json:"requests" db:"requests"`
	Cost          decimal.Decimal `json:"cost" db:"cost"`
}

// PromptMetric is C7's per-(template_id, provider_id) performance ledger,
// updated atomically on each completed translation task.
type PromptMetric struct {
	TemplateID   string  `json:"template_id" db:"template_id"`
	ProviderID   string  `json:"provider_id" db:"provider_id"`
	Uses         int64   `json:"uses" db:"uses"`
	Successes    int64   `json:"successes" db:"successes"`
	MeanQuality  float64 `json:"mean_quality" db:"mean_quality"`
	MeanLatencyMs float64 `json:"mean_latency_ms" db:"mean_latency_ms"`
}

// RateWindow is a single sliding-window bucket (C2).
type RateWindow struct {
	Subject     string `json:"subject" db:"subject"`
	Endpoint    string `json:"endpoint" db:"endpoint"`
	WindowStart int64  `json:"window_start" db:"window_start"` // unix seconds
	Count       int64  `json:"count" db:"count"`
}
