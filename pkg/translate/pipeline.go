// Package translate is C8: it turns one DecompilationResult into a
// TranslationResult by fanning out bounded-concurrency LLM calls — one per
// function (capped, with overflow summarised in aggregate), one per
// import-library group, and one overall synopsis — then aggregating partial
// failures into a single result with a defensible completion status.
package translate

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/binsight/core/internal/errors"
	"github.com/binsight/core/pkg/domain"
	"github.com/binsight/core/pkg/llm"
	"github.com/binsight/core/pkg/prompt"
)

// defaultSuccessFraction is the configurable threshold (default 0.8) of
// tasks that must succeed for a result to be marked completed rather than
// partial; a result is failed only when no task succeeded.
const defaultSuccessFraction = 0.8

// defaultMaxFunctions bounds per-function tasks when a spec leaves
// max_functions unset (0).
const defaultMaxFunctions = 200

// BudgetChecker mirrors ratelimit.Limiter.CheckCostCeiling, kept narrow so
// the pipeline doesn't import the ratelimit package's Redis dependency.
type BudgetChecker interface {
	CheckCostCeiling(ctx context.Context, owner, tier string, estimatedCost decimal.Decimal, now time.Time) (bool, error)
}

// UsageRecorder mirrors structured.Store's usage-ledger write, kept narrow
// for the same reason.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec domain.UsageRecord) error
}

// ProviderBudgetChecker mirrors ratelimit.ProviderBudget.Check's signature —
// and llm.BudgetChecker's — kept narrow for the same reason as BudgetChecker.
// It is the per-(owner,provider) daily/monthly ceiling §4.2 names
// reserve_budget, distinct from BudgetChecker's owner+tier ceiling.
type ProviderBudgetChecker interface {
	Check(ctx context.Context, owner, providerID string, estimatedCost decimal.Decimal) (bool, error)
}

// Pipeline runs C8 against one decompiled binary.
type Pipeline struct {
	factory         *llm.Factory
	prompts         *prompt.Manager
	budget          BudgetChecker
	providerBudget  ProviderBudgetChecker
	usage           UsageRecorder
	successFraction float64
}

// Option configures optional Pipeline behaviour.
type Option func(*Pipeline)

// WithSuccessFraction overrides the default 0.8 completed/partial threshold.
func WithSuccessFraction(f float64) Option {
	return func(p *Pipeline) {
		if f > 0 && f <= 1 {
			p.successFraction = f
		}
	}
}

func NewPipeline(factory *llm.Factory, prompts *prompt.Manager, budget BudgetChecker, providerBudget ProviderBudgetChecker, usage UsageRecorder, opts ...Option) *Pipeline {
	p := &Pipeline{factory: factory, prompts: prompts, budget: budget, providerBudget: providerBudget, usage: usage, successFraction: defaultSuccessFraction}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// task is one unit of pipeline work; exactly one of its three payload
// pointers is set.
type task struct {
	kind       string // "function" | "import" | "summary"
	fn         *domain.FunctionRecord
	importLib  string
	importSyms []string
}

// Run executes C8 end to end for one job.
func (p *Pipeline) Run(ctx context.Context, decomp *domain.DecompilationResult, spec *domain.TranslationSpec, owner, tier string, cancelled <-chan struct{}) (*domain.TranslationResult, error) {
	tasks, overflow := buildTasks(decomp, spec)

	concurrency := int64(spec.MaxConcurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	// g's tasks never return a non-nil error — partial task failure is
	// recorded, not propagated — so g.Wait() always runs every task to
	// completion; it's used here purely as a cancellation-aware WaitGroup.
	g, gctx := errgroup.WithContext(ctx)

	result := &domain.TranslationResult{
		JobID:       decomp.JobID,
		ProviderID:  spec.ProviderPref,
		Model:       spec.ModelPref,
		DetailLevel: spec.DetailLevel,
	}
	var mu sync.Mutex
	succeeded := 0
	cancelledRun := false
	totalCost := decimal.Zero

	runTask := func(t task) error {
		defer sem.Release(1)

		select {
		case <-cancelled:
			mu.Lock()
			cancelledRun = true
			mu.Unlock()
			return nil
		case <-gctx.Done():
			mu.Lock()
			cancelledRun = true
			mu.Unlock()
			return nil
		default:
		}

		out, cost, taskErr := p.runOne(gctx, t, owner, tier)

		mu.Lock()
		defer mu.Unlock()
		if taskErr != nil {
			result.TaskErrors = append(result.TaskErrors, *taskErr)
			return nil
		}
		succeeded++
		totalCost = totalCost.Add(cost)
		switch v := out.(type) {
		case domain.FunctionTranslation:
			result.FunctionTranslations = append(result.FunctionTranslations, v)
		case domain.ImportExplanation:
			result.ImportExplanations = append(result.ImportExplanations, v)
		case domain.OverallSummary:
			result.OverallSummary = &v
		}
		return nil
	}

	for _, t := range tasks {
		select {
		case <-cancelled:
			cancelledRun = true
		case <-gctx.Done():
			cancelledRun = true
		default:
		}
		if cancelledRun {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			cancelledRun = true
			break
		}
		tt := t
		g.Go(func() error { return runTask(tt) })
	}
	_ = g.Wait()

	if overflow > 0 {
		result.ImportExplanations = append(result.ImportExplanations, domain.ImportExplanation{
			Library:         "__overflow__",
			NaturalLanguage: overflowNote(overflow),
		})
	}

	sort.SliceStable(result.FunctionTranslations, func(i, j int) bool {
		return result.FunctionTranslations[i].FunctionAddress < result.FunctionTranslations[j].FunctionAddress
	})
	sort.SliceStable(result.ImportExplanations, func(i, j int) bool {
		return result.ImportExplanations[i].Library < result.ImportExplanations[j].Library
	})

	result.TokensUsed = result.TotalTokens()
	result.EstimatedCost = totalCost
	result.Status = statusFor(len(tasks), succeeded, cancelledRun, p.successFraction)
	return result, nil
}

func statusFor(total, succeeded int, cancelled bool, threshold float64) domain.TranslationStatus {
	if cancelled {
		return domain.TranslationCancelled
	}
	if total == 0 {
		return domain.TranslationCompleted
	}
	if succeeded == 0 {
		return domain.TranslationFailed
	}
	if float64(succeeded)/float64(total) >= threshold {
		return domain.TranslationCompleted
	}
	return domain.TranslationPartial
}

// buildTasks expands a DecompilationResult into C8 tasks: one per function
// up to max_functions (input order by address ascending,
// since FunctionIndex callers already expect that canonical order), one per
// import library grouped by name, and a single overall summary task.
// Returns the tasks plus the count of functions left out by the cap.
func buildTasks(decomp *domain.DecompilationResult, spec *domain.TranslationSpec) ([]task, int) {
	functions := append([]domain.FunctionRecord(nil), decomp.Functions...)
	sort.SliceStable(functions, func(i, j int) bool { return functions[i].Address < functions[j].Address })

	maxFn := spec.MaxFunctions
	if maxFn <= 0 {
		maxFn = defaultMaxFunctions
	}
	overflow := 0
	if len(functions) > maxFn {
		overflow = len(functions) - maxFn
		functions = functions[:maxFn]
	}

	var tasks []task
	for i := range functions {
		tasks = append(tasks, task{kind: "function", fn: &functions[i]})
	}

	byLib := make(map[string][]string)
	var libOrder []string
	for _, imp := range decomp.Imports {
		if _, ok := byLib[imp.Library]; !ok {
			libOrder = append(libOrder, imp.Library)
		}
		byLib[imp.Library] = append(byLib[imp.Library], imp.Symbol)
	}
	sort.Strings(libOrder)
	for _, lib := range libOrder {
		tasks = append(tasks, task{kind: "import", importLib: lib, importSyms: byLib[lib]})
	}

	tasks = append(tasks, task{kind: "summary"})
	return tasks, overflow
}

func overflowNote(n int) string {
	if n == 1 {
		return "1 additional function exceeded the configured max_functions cap and was not individually translated."
	}
	return strconv.Itoa(n) + " additional functions exceeded the configured max_functions cap and were not individually translated."
}

// runOne renders the prompt, reserves budget, dispatches to a provider
// through the factory's fallback chain, and commits usage on success.
// Returns exactly one of (translation payload, cost, nil) or
// (nil, zero, *domain.TaskError).
func (p *Pipeline) runOne(ctx context.Context, t task, owner, tier string) (interface{}, decimal.Decimal, *domain.TaskError) {
	taskID, templateID, capability := taskIdentity(t)

	tmpl, err := p.prompts.Resolve(ctx, templateID, 0)
	if err != nil {
		return nil, decimal.Zero, taskErrorFrom(taskID, err)
	}

	var providerCheck llm.BudgetChecker
	if p.providerBudget != nil {
		providerCheck = p.providerBudget.Check
	}
	candidates, err := p.factory.Candidates(ctx, owner, capability, false, 0, providerCheck)
	if err != nil || len(candidates) == 0 {
		return nil, decimal.Zero, &domain.TaskError{TaskID: taskID, Code: "NoProviderAvailable", Message: "no eligible provider for task"}
	}

	var lastErr *domain.TaskError
	for _, provider := range candidates {
		select {
		case <-ctx.Done():
			return nil, decimal.Zero, &domain.TaskError{TaskID: taskID, Code: "cancelled", Message: ctx.Err().Error()}
		default:
		}

		rendered, err := p.prompts.Render(tmpl, provider.ID(), varsFor(t))
		if err != nil {
			return nil, decimal.Zero, taskErrorFrom(taskID, err)
		}

		est, _ := provider.EstimateCost(ctx, 0, "")
		cost := decimal.Zero
		if est != nil {
			cost = est.EstimatedCost
		}
		if p.budget != nil {
			ok, err := p.budget.CheckCostCeiling(ctx, owner, tier, cost, time.Now())
			if err != nil {
				lastErr = &domain.TaskError{TaskID: taskID, Code: "BudgetCheckFailed", Message: err.Error()}
				continue
			}
			if !ok {
				return nil, decimal.Zero, &domain.TaskError{TaskID: taskID, Code: "CostLimitExceeded", Message: "daily cost ceiling reached"}
			}
		}

		start := time.Now()
		var out interface{}
		var tokensUsed int
		// Routed through the factory so C10's breaker records this call's
		// outcome and ProviderTimeout/ProviderServerError get an
		// exponential-backoff retry before counting as a failure.
		callErr := p.factory.Call(ctx, provider.ID(), func(ctx context.Context) error {
			switch t.kind {
			case "function":
				resp, err := provider.TranslateFunction(ctx, llm.TranslateFunctionRequest{
					FunctionName: t.fn.Name, Address: t.fn.Address, AssemblyBlock: t.fn.AssemblyBlock,
					CallsTo: t.fn.CallsTo, SystemPrompt: rendered.SystemPrompt, UserPrompt: rendered.UserPrompt,
					Temperature: rendered.Temperature,
				})
				if err != nil {
					return err
				}
				tokensUsed = resp.TokensUsed
				out = domain.FunctionTranslation{
					FunctionAddress: t.fn.Address, NaturalLanguage: resp.NaturalLanguage, TokensUsed: resp.TokensUsed,
					PromptTemplateID: rendered.TemplateID, PromptVersion: rendered.Version,
				}
			case "import":
				resp, err := provider.ExplainImports(ctx, llm.ExplainImportsRequest{
					Library: t.importLib, Symbols: t.importSyms, SystemPrompt: rendered.SystemPrompt, UserPrompt: rendered.UserPrompt,
				})
				if err != nil {
					return err
				}
				tokensUsed = resp.TokensUsed
				out = domain.ImportExplanation{Library: t.importLib, NaturalLanguage: resp.NaturalLanguage, TokensUsed: resp.TokensUsed}
			case "summary":
				resp, err := provider.GenerateSummary(ctx, llm.SummaryRequest{SystemPrompt: rendered.SystemPrompt, UserPrompt: rendered.UserPrompt})
				if err != nil {
					return err
				}
				tokensUsed = resp.TokensUsed
				out = domain.OverallSummary{NaturalLanguage: resp.NaturalLanguage, TokensUsed: resp.TokensUsed}
			}
			return nil
		})
		latency := time.Since(start)

		success := callErr == nil
		quality := 0.0
		if success {
			quality = 1.0
		}
		if rerr := p.prompts.RecordOutcome(ctx, rendered.TemplateID, provider.ID(), success, quality, latency); rerr != nil {
			_ = rerr // metrics recording is best-effort; never masks the task outcome
		}

		if !success {
			lastErr = taskErrorFrom(taskID, callErr)
			if appErr, ok := callErr.(*apperrors.AppError); ok {
				switch appErr.Code {
				case "ProviderRateLimit", "ProviderTimeout", "ProviderServerError", "ProviderUnavailable":
					continue // fallback to next candidate on a retryable or unavailable provider
				}
			}
			return nil, decimal.Zero, lastErr
		}

		if p.usage != nil {
			_ = p.usage.RecordUsage(ctx, domain.UsageRecord{
				Owner: owner, ProviderID: provider.ID(), Day: time.Now().Format("2006-01-02"),
				OperationType: string(capability), TokensUsed: int64(tokensUsed), Requests: 1, Cost: cost,
			})
		}
		return out, cost, nil
	}
	if lastErr != nil {
		return nil, decimal.Zero, lastErr
	}
	return nil, decimal.Zero, &domain.TaskError{TaskID: taskID, Code: "NoProviderAvailable", Message: "all candidates exhausted"}
}

func taskIdentity(t task) (taskID, templateID string, capability llm.Capability) {
	switch t.kind {
	case "function":
		return "function:" + t.fn.Address, "translate_function", llm.CapabilityTranslateFunction
	case "import":
		return "import:" + t.importLib, "explain_imports", llm.CapabilityExplainImports
	default:
		return "summary", "generate_summary", llm.CapabilityGenerateSummary
	}
}

func varsFor(t task) map[string]interface{} {
	switch t.kind {
	case "function":
		return map[string]interface{}{
			"FunctionName": t.fn.Name, "Address": t.fn.Address, "AssemblyBlock": t.fn.AssemblyBlock,
		}
	case "import":
		return map[string]interface{}{"Library": t.importLib, "Symbols": t.importSyms}
	default:
		return map[string]interface{}{}
	}
}

func taskErrorFrom(taskID string, err error) *domain.TaskError {
	return &domain.TaskError{TaskID: taskID, Code: string(apperrors.GetType(err)), Message: err.Error()}
}
