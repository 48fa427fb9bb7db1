// Package policy evaluates the job-admission Rego bundle: per-tier pending
// job caps and allowed binary formats. Keeping this in Rego instead of
// hand-rolled conditionals lets an operator change tier limits or add a
// format without a code change or redeploy.
package policy

import (
	"context"

	"github.com/open-policy-agent/opa/rego"

	apperrors "github.com/binsight/core/internal/errors"
)

// Input is the admission decision request.
type Input struct {
	Tier             string `json:"tier"`
	PendingJobCount  int    `json:"pending_job_count"`
	Format           string `json:"format"`
	FileSizeBytes    int64  `json:"file_size_bytes"`
}

// Decision is the Rego bundle's output document.
type Decision struct {
	Allow  bool     `json:"allow"`
	Reasons []string `json:"reasons"`
}

// Evaluator compiles and evaluates the admission policy.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

const defaultModule = `
package binsight.admission

import future.keywords.in

default allow := false

tier_pending_limits := {
	"free": 2,
	"standard": 20,
	"enterprise": 200,
}

allowed_formats := {"pe", "elf", "macho"}

allow {
	input.pending_job_count < tier_pending_limits[input.tier]
	input.format in allowed_formats
}

reasons[msg] {
	input.pending_job_count >= tier_pending_limits[input.tier]
	msg := sprintf("pending job limit reached for tier %v", [input.tier])
}

reasons[msg] {
	not input.format in allowed_formats
	msg := sprintf("unsupported binary format %v", [input.format])
}
`

// NewDefault compiles the built-in admission module. Operators can instead
// load a custom bundle from disk with NewFromFile.
func NewDefault(ctx context.Context) (*Evaluator, error) {
	return compile(ctx, defaultModule)
}

// NewFromFile compiles a Rego module from path, allowing operators to
// override tier limits and formats without a binary rebuild.
func NewFromFile(ctx context.Context, path string) (*Evaluator, error) {
	r := rego.New(
		rego.Query("data.binsight.admission"),
		rego.Load([]string{path}, nil),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "compile admission policy bundle").WithDetailsf("path: %s", path)
	}
	return &Evaluator{query: query}, nil
}

func compile(ctx context.Context, module string) (*Evaluator, error) {
	r := rego.New(
		rego.Query("data.binsight.admission"),
		rego.Module("admission.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "compile default admission policy")
	}
	return &Evaluator{query: query}, nil
}

// Evaluate runs the policy against in and returns its decision.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "evaluate admission policy")
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Allow: false, Reasons: []string{"policy produced no result"}}, nil
	}
	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return &Decision{Allow: false, Reasons: []string{"policy result had unexpected shape"}}, nil
	}
	decision := &Decision{}
	if allow, ok := doc["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reasonsRaw, ok := doc["reasons"].([]interface{}); ok {
		for _, r := range reasonsRaw {
			if s, ok := r.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}
	return decision, nil
}
