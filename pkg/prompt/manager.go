// Package prompt is C7: resolves versioned templates, renders them against a
// context dictionary with provider-specific adaptations applied, and records
// per-(template_id, provider_id) performance metrics. It never influences
// provider selection — that is C6's job; the manager only reports.
package prompt

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tmc/langchaingo/prompts"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
	"github.com/binsight/core/pkg/storage/structured"
)

// placeholderPattern matches Go-template field references like {{.Name}}.
var placeholderPattern = regexp.MustCompile(`{{\s*\.(\w+)\s*}}`)

// TemplateStore is the slice of structured.Store the manager needs, kept
// narrow so callers can fake it in tests without a full database.
type TemplateStore interface {
	GetPromptTemplate(ctx context.Context, templateID string, version int) (*domain.PromptTemplate, error)
	GetLatestPromptTemplate(ctx context.Context, templateID string) (*domain.PromptTemplate, error)
	PutPromptTemplate(ctx context.Context, tmpl *domain.PromptTemplate) error
	RecordPromptMetric(ctx context.Context, templateID, providerID string, success bool, qualityScore, latencyMs float64) error
	GetPromptMetric(ctx context.Context, templateID, providerID string) (*domain.PromptMetric, error)
}

// Rendered is the fully-composed system/user prompt pair ready to send to a
// provider, plus the temperature the provider's adaptation (if any)
// requested.
type Rendered struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float32
	TemplateID   string
	Version      int
}

// Manager resolves, renders, and scores prompt templates.
type Manager struct {
	store TemplateStore
}

func NewManager(store TemplateStore) *Manager {
	return &Manager{store: store}
}

// Resolve fetches the template for templateID at version, or its latest
// version when version is 0.
func (m *Manager) Resolve(ctx context.Context, templateID string, version int) (*domain.PromptTemplate, error) {
	if version > 0 {
		tmpl, err := m.store.GetPromptTemplate(ctx, templateID, version)
		if err != nil {
			if err == structured.ErrNotFound {
				return nil, apperrors.NewNotFoundError("prompt template").
					WithDetailsf("template_id: %s, version: %d", templateID, version)
			}
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "resolve pinned prompt template")
		}
		return tmpl, nil
	}
	tmpl, err := m.store.GetLatestPromptTemplate(ctx, templateID)
	if err != nil {
		if err == structured.ErrNotFound {
			return nil, apperrors.NewNotFoundError("prompt template").WithDetailsf("template_id: %s", templateID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "resolve latest prompt template")
	}
	return tmpl, nil
}

// Render substitutes named placeholders from vars into tmpl's system and
// user prompts, then layers providerID's adaptation (if one is configured)
// on top: appended text and/or an overridden temperature. A placeholder
// present in the template but absent from vars surfaces as a
// PromptRenderError rather than rendering with a hole in it.
func (m *Manager) Render(tmpl *domain.PromptTemplate, providerID string, vars map[string]interface{}) (*Rendered, error) {
	merged := make(map[string]interface{}, len(tmpl.DefaultParams)+len(vars))
	for k, v := range tmpl.DefaultParams {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	system, err := renderTemplate(tmpl.SystemPrompt, merged)
	if err != nil {
		return nil, err
	}
	user, err := renderTemplate(tmpl.UserPromptTemplate, merged)
	if err != nil {
		return nil, err
	}

	out := &Rendered{SystemPrompt: system, UserPrompt: user, TemplateID: tmpl.TemplateID, Version: tmpl.Version}
	if adapt, ok := tmpl.ProviderAdaptations[providerID]; ok {
		if adapt.AppendSystem != "" {
			out.SystemPrompt = out.SystemPrompt + "\n" + adapt.AppendSystem
		}
		if adapt.AppendUser != "" {
			out.UserPrompt = out.UserPrompt + "\n" + adapt.AppendUser
		}
		out.Temperature = adapt.Temperature
	}
	return out, nil
}

// renderTemplate wraps langchaingo's Go-template-format PromptTemplate,
// translating its missing-variable failure into our taxonomy's
// PromptRenderError.
func renderTemplate(tmplText string, vars map[string]interface{}) (string, error) {
	if tmplText == "" {
		return "", nil
	}
	inputVars := extractPlaceholders(tmplText)
	pt := prompts.NewPromptTemplate(tmplText, inputVars)
	rendered, err := pt.Format(vars)
	if err != nil {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "prompt placeholder unresolved").
			WithCode("PromptRenderError").WithDetailsf("%v", err)
	}
	return rendered, nil
}

// extractPlaceholders finds {{.name}}-style Go-template identifiers so the
// langchaingo PromptTemplate can validate every one of them is present in
// the supplied vars before formatting.
func extractPlaceholders(tmplText string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(tmplText, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// PatchAdaptation applies a partial JSON patch (a `gjson` path -> value map)
// to templateID's provider_adaptations for providerID, without a full
// unmarshal/remarshal of the template row — used by operator tooling that
// tweaks one provider's temperature or append text in place.
func (m *Manager) PatchAdaptation(ctx context.Context, tmpl *domain.PromptTemplate, providerID, path string, value interface{}) error {
	raw, err := marshalAdaptations(tmpl.ProviderAdaptations)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal provider adaptations")
	}
	fullPath := providerID + "." + path
	patched, err := sjson.Set(raw, fullPath, value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "patch provider adaptation")
	}
	if err := unmarshalAdaptations(patched, &tmpl.ProviderAdaptations); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal patched adaptations")
	}
	return m.store.PutPromptTemplate(ctx, tmpl)
}

func marshalAdaptations(m map[string]domain.ProviderAdaptation) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalAdaptations(raw string, out *map[string]domain.ProviderAdaptation) error {
	if !gjson.Valid(raw) {
		return apperrors.New(apperrors.ErrorTypeValidation, "patched adaptations are not valid JSON")
	}
	return json.Unmarshal([]byte(raw), out)
}

// RecordOutcome scores one completed translation task against the template
// it used, folding success/quality/latency into the running averages.
func (m *Manager) RecordOutcome(ctx context.Context, templateID, providerID string, success bool, qualityScore float64, latency time.Duration) error {
	err := m.store.RecordPromptMetric(ctx, templateID, providerID, success, qualityScore, float64(latency.Milliseconds()))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "record prompt metric")
	}
	return nil
}

// Metric returns the current performance ledger for (templateID, providerID),
// or nil if the pair has never been used.
func (m *Manager) Metric(ctx context.Context, templateID, providerID string) (*domain.PromptMetric, error) {
	metric, err := m.store.GetPromptMetric(ctx, templateID, providerID)
	if err != nil {
		if err == structured.ErrNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "get prompt metric")
	}
	return metric, nil
}
