// Package pattern applies multi-step workflows. A pattern's executable
// steps run through the execution runtime against one registry snapshot, so
// a mid-apply reload never mixes component generations. Descriptive steps
// carry no tool binding and are reported as guidance only.
package pattern

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/learning"
	"github.com/Mindburn-Labs/force/core/pkg/observability"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
	"github.com/Mindburn-Labs/force/core/pkg/runtime"
)

// StepResult is one step's outcome within a pattern application.
type StepResult struct {
	Name       string          `json:"name"`
	ToolID     string          `json:"tool_id,omitempty"`
	Outcome    force.Outcome   `json:"outcome"`
	Skipped    bool            `json:"skipped,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Guidance   string          `json:"guidance,omitempty"`
	Execution  *runtime.Result `json:"execution,omitempty"`
}

// Result is the terminal record of one pattern application.
type Result struct {
	PatternID   string              `json:"pattern_id"`
	Outcome     force.Outcome       `json:"outcome"`
	StepResults []StepResult        `json:"step_results"`
	StartedAt   time.Time           `json:"started_at"`
	DurationMS  int64               `json:"duration_ms"`
	Error       *learning.ErrorInfo `json:"error,omitempty"`
}

// Engine applies patterns by delegating each executable step to the runtime.
type Engine struct {
	reg      *registry.Registry
	rt       *runtime.Runtime
	recorder *learning.Recorder
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine wires a pattern engine. recorder and metrics may be nil.
func NewEngine(reg *registry.Registry, rt *runtime.Runtime, recorder *learning.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reg: reg, rt: rt, recorder: recorder, metrics: metrics, logger: logger}
}

// Apply runs a pattern's steps in declared order. Step parameters override
// pattern-level parameters per key. A missing tool fails the pattern unless
// the step is optional, in which case the step is skipped and the overall
// outcome is at best partial.
func (e *Engine) Apply(ctx context.Context, patternID string, params map[string]any, ec *runtime.ExecContext) *Result {
	if ec == nil {
		ec = runtime.NewExecContext(nil, false)
	}
	started := time.Now().UTC()
	res := &Result{PatternID: patternID, StartedAt: started}

	e.metrics.ExecutionStarted(ctx, "pattern", patternID)
	defer func() {
		completed := time.Now().UTC()
		res.DurationMS = completed.Sub(started).Milliseconds()
		e.metrics.ExecutionFinished(ctx, "pattern", patternID, res.Outcome, completed.Sub(started))
		e.record(patternID, params, started, completed, res)
	}()

	snap := e.reg.Snapshot()
	rec, err := snap.Get(force.KindPattern, patternID)
	if err != nil {
		res.fail(force.NewError(force.KindNotFound, "pattern %q not found", patternID))
		return res
	}
	pat, err := rec.AsPattern()
	if err != nil {
		res.fail(force.WrapError(force.KindInternal, err, "pattern %q undecodable", patternID))
		return res
	}

	if len(pat.Implementation.ExecutableSteps) > 0 {
		e.applyExecutable(ctx, snap, pat, params, ec, res)
	} else {
		e.applyDescriptive(pat, res)
	}
	return res
}

func (e *Engine) applyExecutable(ctx context.Context, snap *registry.Snapshot, pat *component.Pattern, params map[string]any, ec *runtime.ExecContext, res *Result) {
	anySkipped := false
	anyDegraded := false

	for _, step := range pat.Implementation.ExecutableSteps {
		if err := ctx.Err(); err != nil {
			res.fail(force.WrapError(force.KindCancelled, err, "pattern cancelled before step %q", step.Name))
			return
		}
		if step.ToolID == "" {
			// Descriptive step mixed into the executable list.
			e.logger.Warn("pattern: executable step has no tool binding, treating as descriptive",
				"pattern", pat.ID, "step", step.Name)
			res.StepResults = append(res.StepResults, StepResult{
				Name: step.Name, Outcome: force.OutcomeSuccess, Guidance: step.Name,
			})
			continue
		}
		if _, err := snap.Get(force.KindTool, step.ToolID); err != nil {
			if step.Optional {
				anySkipped = true
				res.StepResults = append(res.StepResults, StepResult{
					Name: step.Name, ToolID: step.ToolID,
					Outcome: force.OutcomeSuccess, Skipped: true, SkipReason: "tool_not_found",
				})
				e.logger.Warn("pattern: optional step skipped", "pattern", pat.ID, "step", step.Name, "tool", step.ToolID)
				continue
			}
			res.StepResults = append(res.StepResults, StepResult{
				Name: step.Name, ToolID: step.ToolID, Outcome: force.OutcomeFailure,
			})
			res.fail(force.NewError(force.KindReferenceError,
				"step %q references unknown tool %q", step.Name, step.ToolID))
			return
		}

		stepParams := mergeParams(params, step.Parameters)
		exec := e.rt.ExecuteWith(ctx, snap, step.ToolID, stepParams, ec)
		sr := StepResult{Name: step.Name, ToolID: step.ToolID, Outcome: exec.Outcome, Execution: exec}
		res.StepResults = append(res.StepResults, sr)

		switch exec.Outcome {
		case force.OutcomeSuccess:
		case force.OutcomeDegraded:
			anyDegraded = true
		case force.OutcomeCancelled:
			res.Outcome = force.OutcomeCancelled
			res.Error = exec.Error
			return
		default:
			if step.Optional {
				anySkipped = true
				continue
			}
			res.Outcome = force.OutcomeFailure
			res.Error = exec.Error
			return
		}
	}

	switch {
	case anySkipped:
		res.Outcome = force.OutcomePartial
	case anyDegraded:
		res.Outcome = force.OutcomeDegraded
	default:
		res.Outcome = force.OutcomeSuccess
	}
}

// applyDescriptive reports a guidance-only pattern: no tools run, every
// step comes back as advice for the caller.
func (e *Engine) applyDescriptive(pat *component.Pattern, res *Result) {
	for _, step := range pat.Implementation.Steps {
		res.StepResults = append(res.StepResults, StepResult{
			Name: step, Outcome: force.OutcomeSuccess, Guidance: step,
		})
	}
	res.Outcome = force.OutcomeSuccess
}

func (res *Result) fail(err error) {
	if force.KindOf(err) == force.KindCancelled {
		res.Outcome = force.OutcomeCancelled
	} else {
		res.Outcome = force.OutcomeFailure
	}
	res.Error = &learning.ErrorInfo{Type: string(force.KindOf(err)), Message: err.Error()}
}

func (e *Engine) record(patternID string, params map[string]any, started, completed time.Time, res *Result) {
	if e.recorder == nil {
		return
	}
	e.recorder.Append(learning.Record{
		Kind:         "pattern",
		RefID:        patternID,
		ParamsDigest: learning.Digest(params),
		StartedAt:    started,
		CompletedAt:  completed,
		Outcome:      res.Outcome,
		Error:        res.Error,
	})
}

func mergeParams(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
