package runtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/learning"
	"github.com/Mindburn-Labs/force/core/pkg/observability"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
)

// CommandResult is one command's outcome within an execution.
type CommandResult struct {
	Action      string              `json:"action"`
	Outcome     force.Outcome       `json:"outcome"`
	Output      any                 `json:"output,omitempty"`
	Error       *learning.ErrorInfo `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Attempts    int                 `json:"attempts,omitempty"`
	Skipped     bool                `json:"skipped,omitempty"`
	SkipReason  string              `json:"skip_reason,omitempty"`
	Degraded    bool                `json:"degraded,omitempty"`
}

// Result is the terminal record of one tool execution.
type Result struct {
	ToolID            string              `json:"tool_id"`
	Outcome           force.Outcome       `json:"outcome"`
	CommandResults    []CommandResult     `json:"command_results"`
	StartedAt         time.Time           `json:"started_at"`
	DurationMS        int64               `json:"duration_ms"`
	Error             *learning.ErrorInfo `json:"error,omitempty"`
	Degraded          bool                `json:"degraded,omitempty"`
	NeedsIntervention bool                `json:"needs_manual_intervention,omitempty"`
	Warnings          []string            `json:"warnings,omitempty"`
	DryRun            bool                `json:"dry_run,omitempty"`
}

// Gate is consulted before any command runs. A returned error denies the
// execution; warnings surface on the result without blocking.
type Gate interface {
	ExecuteOK(ctx context.Context, rec *component.Record, contextValues map[string]any) (warnings []string, err error)
}

// Scheduler is the host callback for the dynamic and adaptive strategies.
// run executes one command with the tool's full error handling applied.
type Scheduler func(ctx context.Context, strategy string, tool *component.Tool, run func(ctx context.Context, cmd component.Command) CommandResult) ([]CommandResult, error)

// Options tune runtime behavior.
type Options struct {
	Workers         int           // parallel-strategy fan-out bound; <=0 means unbounded
	IterationCap    int           // global iterative cap, default 1000
	BreakerCooldown time.Duration // circuit breaker open interval, default 30s
}

// Runtime runs tools. One value serves all callers concurrently.
type Runtime struct {
	reg        *registry.Registry
	actions    *ActionTable
	recorder   *learning.Recorder
	metrics    *observability.Metrics
	gate       Gate
	logger     *slog.Logger
	conditions *conditionEnv
	scheduler  Scheduler
	opts       Options

	predMu     sync.RWMutex
	predicates map[string]Predicate

	breakers sync.Map // tool id -> *gobreaker.CircuitBreaker
}

// New wires a runtime. recorder and metrics may be nil in tests; gate may be
// nil when governance is not configured.
func New(reg *registry.Registry, actions *ActionTable, recorder *learning.Recorder, metrics *observability.Metrics, gate Gate, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IterationCap <= 0 {
		opts.IterationCap = 1000
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	cond, err := newConditionEnv()
	if err != nil {
		return nil, err
	}
	return &Runtime{
		reg:        reg,
		actions:    actions,
		recorder:   recorder,
		metrics:    metrics,
		gate:       gate,
		logger:     logger,
		conditions: cond,
		opts:       opts,
		predicates: make(map[string]Predicate),
	}, nil
}

// RegisterPredicate installs a named predicate for pre/post conditions and
// the iterative continue check.
func (r *Runtime) RegisterPredicate(name string, p Predicate) {
	r.predMu.Lock()
	defer r.predMu.Unlock()
	r.predicates[name] = p
}

// SetScheduler installs the host scheduler for dynamic/adaptive strategies.
func (r *Runtime) SetScheduler(s Scheduler) { r.scheduler = s }

// Execute runs a tool against the current registry snapshot.
func (r *Runtime) Execute(ctx context.Context, toolID string, params map[string]any, ec *ExecContext) *Result {
	return r.ExecuteWith(ctx, r.reg.Snapshot(), toolID, params, ec)
}

// ExecuteWith runs a tool against a caller-captured snapshot, so pattern
// steps and reloads never mix generations mid-flight.
func (r *Runtime) ExecuteWith(ctx context.Context, snap *registry.Snapshot, toolID string, params map[string]any, ec *ExecContext) *Result {
	if ec == nil {
		ec = NewExecContext(nil, false)
	}
	started := time.Now().UTC()
	res := &Result{ToolID: toolID, StartedAt: started, DryRun: ec.DryRun}

	r.metrics.ExecutionStarted(ctx, "tool", toolID)
	defer func() {
		completed := time.Now().UTC()
		res.DurationMS = completed.Sub(started).Milliseconds()
		r.metrics.ExecutionFinished(ctx, "tool", toolID, res.Outcome, completed.Sub(started))
		r.record(toolID, params, started, completed, res)
	}()

	rec, err := snap.Get(force.KindTool, toolID)
	if err != nil {
		res.fail(force.NewError(force.KindNotFound, "tool %q not found", toolID))
		return res
	}
	tool, err := rec.AsTool()
	if err != nil {
		res.fail(force.WrapError(force.KindInternal, err, "tool %q undecodable", toolID))
		return res
	}

	if r.gate != nil {
		warnings, err := r.gate.ExecuteOK(ctx, rec, ec.Values)
		res.Warnings = warnings
		if err != nil {
			res.fail(err)
			return res
		}
	}

	bound, err := bindParameters(tool, params)
	if err != nil {
		res.fail(err)
		return res
	}

	if err := r.checkConditions(tool.Execution.Validation.PreConditions, ec, force.KindPreconditionFailed); err != nil {
		res.fail(err)
		return res
	}

	r.runStrategy(ctx, tool, bound, ec, res)
	if res.Outcome == force.OutcomeFailure || res.Outcome == force.OutcomeCancelled {
		return res
	}

	if err := r.checkConditions(tool.Execution.Validation.PostConditions, ec, force.KindPostconditionFailed); err != nil {
		res.fail(err)
		return res
	}

	if res.Degraded {
		res.Outcome = force.OutcomeDegraded
	} else {
		res.Outcome = force.OutcomeSuccess
	}
	return res
}

func (res *Result) fail(err error) {
	kind := force.KindOf(err)
	if kind == force.KindCancelled {
		res.Outcome = force.OutcomeCancelled
	} else {
		res.Outcome = force.OutcomeFailure
	}
	res.Error = &learning.ErrorInfo{Type: string(kind), Message: err.Error()}
}

func (r *Runtime) record(toolID string, params map[string]any, started, completed time.Time, res *Result) {
	if r.recorder == nil {
		return
	}
	rec := learning.Record{
		Kind:         "tool",
		RefID:        toolID,
		ParamsDigest: learning.Digest(params),
		StartedAt:    started,
		CompletedAt:  completed,
		Outcome:      res.Outcome,
		Error:        res.Error,
	}
	r.recorder.Append(rec)
}

// checkConditions evaluates named predicates; all must hold.
func (r *Runtime) checkConditions(names []string, ec *ExecContext, failKind force.ErrorKind) error {
	for _, name := range names {
		ok, known := r.evalPredicate(name, ec)
		if !known {
			return force.NewError(failKind, "predicate %q is not registered and not present in context", name)
		}
		if !ok {
			return force.NewError(failKind, "predicate %q does not hold", name)
		}
	}
	return nil
}

func (r *Runtime) evalPredicate(name string, ec *ExecContext) (value, known bool) {
	r.predMu.RLock()
	p, registered := r.predicates[name]
	r.predMu.RUnlock()
	if registered {
		return p(ec), true
	}
	if v, present := ec.Values[name]; present {
		b, isBool := v.(bool)
		return b, isBool
	}
	return false, false
}

// directive steers the strategy loop after one command finishes.
type directive int

const (
	dirNext directive = iota
	dirAbort
	dirIntervene
	dirCancelled
)

func (r *Runtime) runStrategy(ctx context.Context, tool *component.Tool, bound map[string]any, ec *ExecContext, res *Result) {
	strategy := tool.Execution.Strategy
	switch strategy {
	case "", "sequential":
		r.runSequential(ctx, tool, tool.Execution.Commands, bound, ec, res)
	case "parallel":
		r.runParallel(ctx, tool, bound, ec, res)
	case "conditional":
		r.runConditional(ctx, tool, bound, ec, res)
	case "iterative":
		r.runIterative(ctx, tool, bound, ec, res)
	case "dynamic", "adaptive":
		if r.scheduler != nil {
			run := func(ctx context.Context, cmd component.Command) CommandResult {
				cr, _ := r.runCommand(ctx, tool, cmd, bound, ec)
				return cr
			}
			results, err := r.scheduler(ctx, strategy, tool, run)
			res.CommandResults = append(res.CommandResults, results...)
			if err != nil {
				res.fail(err)
			}
			finalizeFromResults(res)
			return
		}
		// No host scheduler registered: fall back to sequential.
		r.runSequential(ctx, tool, tool.Execution.Commands, bound, ec, res)
	default:
		// Open strategy names under the extended schema run sequentially.
		r.runSequential(ctx, tool, tool.Execution.Commands, bound, ec, res)
	}
}

func (r *Runtime) runSequential(ctx context.Context, tool *component.Tool, commands []component.Command, bound map[string]any, ec *ExecContext, res *Result) {
	for _, cmd := range commands {
		cr, dir := r.runCommand(ctx, tool, cmd, bound, ec)
		res.CommandResults = append(res.CommandResults, cr)
		res.Degraded = res.Degraded || cr.Degraded
		switch dir {
		case dirAbort:
			res.fail(errorFrom(cr))
			return
		case dirIntervene:
			res.fail(errorFrom(cr))
			res.NeedsIntervention = true
			return
		case dirCancelled:
			res.fail(force.NewError(force.KindCancelled, "execution cancelled"))
			return
		}
	}
}

func (r *Runtime) runParallel(ctx context.Context, tool *component.Tool, bound map[string]any, ec *ExecContext, res *Result) {
	commands := tool.Execution.Commands
	results := make([]CommandResult, len(commands))
	dirs := make([]directive, len(commands))

	g, gctx := errgroup.WithContext(ctx)
	if r.opts.Workers > 0 {
		g.SetLimit(r.opts.Workers)
	}
	for i, cmd := range commands {
		g.Go(func() error {
			results[i], dirs[i] = r.runCommand(gctx, tool, cmd, bound, ec)
			return nil
		})
	}
	_ = g.Wait()

	res.CommandResults = append(res.CommandResults, results...)
	for i := range results {
		res.Degraded = res.Degraded || results[i].Degraded
		switch dirs[i] {
		case dirAbort, dirIntervene:
			res.fail(errorFrom(results[i]))
			res.NeedsIntervention = res.NeedsIntervention || dirs[i] == dirIntervene
		case dirCancelled:
			res.fail(force.NewError(force.KindCancelled, "execution cancelled"))
		}
	}
}

func (r *Runtime) runConditional(ctx context.Context, tool *component.Tool, bound map[string]any, ec *ExecContext, res *Result) {
	for _, cmd := range commands(tool) {
		if cmd.Condition != "" {
			hold, err := r.conditions.eval(cmd.Condition, bound, ec.Values)
			if err != nil {
				res.CommandResults = append(res.CommandResults, CommandResult{
					Action: cmd.Action, Outcome: force.OutcomeFailure, Skipped: true,
					SkipReason: err.Error(),
					StartedAt:  time.Now().UTC(), CompletedAt: time.Now().UTC(),
				})
				continue
			}
			if !hold {
				now := time.Now().UTC()
				res.CommandResults = append(res.CommandResults, CommandResult{
					Action: cmd.Action, Outcome: force.OutcomeSuccess, Skipped: true,
					SkipReason: "condition false", StartedAt: now, CompletedAt: now,
				})
				continue
			}
		}
		cr, dir := r.runCommand(ctx, tool, cmd, bound, ec)
		res.CommandResults = append(res.CommandResults, cr)
		res.Degraded = res.Degraded || cr.Degraded
		switch dir {
		case dirAbort:
			res.fail(errorFrom(cr))
			return
		case dirIntervene:
			res.fail(errorFrom(cr))
			res.NeedsIntervention = true
			return
		case dirCancelled:
			res.fail(force.NewError(force.KindCancelled, "execution cancelled"))
			return
		}
	}
}

// runIterative repeats the whole sequence while the continue predicate
// holds, bounded by the smallest per-command max_iterations or the global
// cap so termination is guaranteed.
func (r *Runtime) runIterative(ctx context.Context, tool *component.Tool, bound map[string]any, ec *ExecContext, res *Result) {
	predicate := ec.String("continue_predicate")
	if predicate == "" {
		predicate = "continue"
	}
	cap := r.opts.IterationCap
	for _, cmd := range commands(tool) {
		if cmd.MaxIterations > 0 && cmd.MaxIterations < cap {
			cap = cmd.MaxIterations
		}
	}

	for iteration := 0; iteration < cap; iteration++ {
		hold, known := r.evalPredicate(predicate, ec)
		if !known || !hold {
			return
		}
		r.runSequential(ctx, tool, commands(tool), bound, ec, res)
		if res.Outcome == force.OutcomeFailure || res.Outcome == force.OutcomeCancelled {
			return
		}
	}
	r.logger.Warn("runtime: iterative strategy hit iteration cap", "tool", tool.ID, "cap", cap)
}

func commands(tool *component.Tool) []component.Command { return tool.Execution.Commands }

func finalizeFromResults(res *Result) {
	if res.Outcome != "" {
		return
	}
	for i := range res.CommandResults {
		res.Degraded = res.Degraded || res.CommandResults[i].Degraded
		if res.CommandResults[i].Outcome == force.OutcomeFailure && !res.CommandResults[i].Skipped {
			res.fail(errorFrom(res.CommandResults[i]))
			return
		}
	}
}

func errorFrom(cr CommandResult) error {
	if cr.Error == nil {
		return force.NewError(force.KindActionFailed, "command %q failed", cr.Action)
	}
	return force.NewError(force.ErrorKind(cr.Error.Type), "%s", cr.Error.Message)
}

// runCommand executes one command with the tool's error handling applied.
// The returned directive tells the strategy loop how to proceed.
func (r *Runtime) runCommand(ctx context.Context, tool *component.Tool, cmd component.Command, bound map[string]any, ec *ExecContext) (CommandResult, directive) {
	params := mergeCommandParams(bound, cmd)
	cr := CommandResult{Action: cmd.Action, StartedAt: time.Now().UTC()}

	maxAttempts := 1
	var handler *component.ErrorHandler

	for attempt := 1; ; attempt++ {
		cr.Attempts = attempt
		out, err := r.invoke(ctx, tool, cmd, params, ec)
		if err == nil {
			cr.Outcome = force.OutcomeSuccess
			cr.Output = out
			cr.CompletedAt = time.Now().UTC()
			return cr, dirNext
		}

		kind := force.KindOf(err)
		cr.Error = &learning.ErrorInfo{Type: string(kind), Message: err.Error()}

		if kind == force.KindCancelled {
			cr.Outcome = force.OutcomeCancelled
			cr.CompletedAt = time.Now().UTC()
			return cr, dirCancelled
		}
		if kind == force.KindCircuitOpen {
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort
		}

		if handler == nil {
			handler = matchHandler(tool.Execution.Validation.ErrorHandling, kind, err)
			if handler != nil && (handler.Strategy == "retry" || handler.Strategy == "exponential_backoff") {
				maxAttempts = handler.MaxRetries
				if maxAttempts <= 0 {
					maxAttempts = cmd.Retry
				}
				if maxAttempts <= 0 {
					maxAttempts = 3
				}
				maxAttempts++ // retries are in addition to the first attempt
			}
		}

		if handler == nil {
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort
		}

		switch handler.Strategy {
		case "retry", "exponential_backoff":
			if attempt < maxAttempts {
				if handler.ExponentialBackoff || handler.Strategy == "exponential_backoff" {
					if !sleepCtx(ctx, backoff(attempt)) {
						cr.Outcome = force.OutcomeCancelled
						cr.CompletedAt = time.Now().UTC()
						return cr, dirCancelled
					}
				}
				continue
			}
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort

		case "fallback", "auto_fix":
			fb := r.runFallback(ctx, handler.Action, params, ec)
			cr.CompletedAt = time.Now().UTC()
			if fb.err == nil {
				cr.Outcome = force.OutcomeSuccess
				cr.Output = fb.out
				cr.SkipReason = "fallback " + handler.Action
				return cr, dirNext
			}
			cr.Outcome = force.OutcomeFailure
			cr.Error = &learning.ErrorInfo{Type: string(force.KindOf(fb.err)), Message: fb.err.Error()}
			return cr, dirAbort

		case "skip", "continue":
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirNext

		case "abort":
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort

		case "manual_intervention":
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			r.logger.Warn("runtime: manual intervention required", "tool", tool.ID, "action", cmd.Action, "error", err)
			return cr, dirIntervene

		case "escalate":
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort

		case "graceful_degradation":
			cr.Outcome = force.OutcomeDegraded
			cr.Degraded = true
			cr.CompletedAt = time.Now().UTC()
			return cr, dirNext

		case "circuit_breaker":
			// The breaker already wraps invoke; a failure here just counts
			// toward the trip threshold.
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort

		default:
			cr.Outcome = force.OutcomeFailure
			cr.CompletedAt = time.Now().UTC()
			return cr, dirAbort
		}
	}
}

type fallbackResult struct {
	out any
	err error
}

func (r *Runtime) runFallback(ctx context.Context, action string, params map[string]any, ec *ExecContext) fallbackResult {
	if action == "" {
		return fallbackResult{err: force.NewError(force.KindActionFailed, "fallback handler names no action")}
	}
	fn, ok := r.actions.Resolve(action)
	if !ok {
		return fallbackResult{err: force.NewError(force.KindUnknownAction, "fallback action %q not registered", action)}
	}
	out, err := fn(ctx, params, ec)
	return fallbackResult{out: out, err: err}
}

// invoke resolves and calls the action handler, enforcing the per-command
// timeout and routing through the tool's circuit breaker when one is
// declared. Dry-run resolves every action to a no-op returning the
// command's description.
func (r *Runtime) invoke(ctx context.Context, tool *component.Tool, cmd component.Command, params map[string]any, ec *ExecContext) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, force.WrapError(force.KindCancelled, err, "deadline reached before command %q", cmd.Action)
	}
	if ec.DryRun {
		desc := cmd.Description
		if desc == "" {
			desc = "dry-run: " + cmd.Action
		}
		return desc, nil
	}

	fn, ok := r.actions.Resolve(cmd.Action)
	if !ok {
		return nil, force.NewError(force.KindUnknownAction, "action %q not registered", cmd.Action)
	}

	call := func() (any, error) {
		cctx := ctx
		if cmd.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout*float64(time.Second)))
			defer cancel()
		}
		out, err := fn(cctx, params, ec)
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded) || (cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil):
				return nil, force.WrapError(force.KindTimeout, err, "command %q timed out", cmd.Action)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				return nil, force.WrapError(force.KindCancelled, err, "command %q cancelled", cmd.Action)
			}
			var fe *force.Error
			if errors.As(err, &fe) {
				return nil, err
			}
			return nil, force.WrapError(force.KindActionFailed, err, "command %q failed", cmd.Action)
		}
		return out, nil
	}

	if h := breakerHandler(tool.Execution.Validation.ErrorHandling); h != nil {
		return r.throughBreaker(tool.ID, h, call)
	}
	return call()
}

func (r *Runtime) throughBreaker(toolID string, h *component.ErrorHandler, call func() (any, error)) (any, error) {
	cb := r.breakerFor(toolID, h)
	out, err := cb.Execute(func() (any, error) { return call() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, force.WrapError(force.KindCircuitOpen, err, "tool %q circuit open", toolID)
		}
		return nil, err
	}
	return out, nil
}

func (r *Runtime) breakerFor(toolID string, h *component.ErrorHandler) *gobreaker.CircuitBreaker {
	if cb, ok := r.breakers.Load(toolID); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}
	threshold := uint32(h.MaxRetries)
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        toolID,
		MaxRequests: 1,
		Timeout:     r.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	actual, _ := r.breakers.LoadOrStore(toolID, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

func breakerHandler(handlers []component.ErrorHandler) *component.ErrorHandler {
	for i := range handlers {
		if handlers[i].Strategy == "circuit_breaker" {
			return &handlers[i]
		}
	}
	return nil
}

// matchHandler returns the first handler whose error_type matches the
// failure kind, the error text, or the wildcard.
func matchHandler(handlers []component.ErrorHandler, kind force.ErrorKind, err error) *component.ErrorHandler {
	for i := range handlers {
		h := &handlers[i]
		if h.Strategy == "circuit_breaker" {
			continue // breaker is wired at invoke time, not per failure
		}
		if h.ErrorType == "*" || h.ErrorType == string(kind) ||
			(h.ErrorType != "" && strings.Contains(err.Error(), h.ErrorType)) {
			return h
		}
	}
	return nil
}

func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
