// Package constraint evaluates declarative quality rules against a scope.
// Rule execution is pluggable: evaluators register by constraint category,
// with CEL and regex evaluators built in. Violations from blocking
// constraints at error or critical severity deny the caller's gating
// operation.
package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
)

// Scope is what a check runs against: file paths, component IDs, or an
// arbitrary payload.
type Scope struct {
	Files      []string       `json:"files,omitempty"`
	Components []string       `json:"components,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Violation is one broken rule.
type Violation struct {
	ConstraintID string `json:"constraintId"`
	Severity     string `json:"severity"`
	Location     string `json:"location,omitempty"`
	Message      string `json:"message"`
	AutoFixable  bool   `json:"auto_fixable"`
	Blocking     bool   `json:"blocking,omitempty"`
}

// Evaluator executes one constraint's ruleset against a scope.
type Evaluator func(ctx context.Context, c *component.Constraint, scope Scope) ([]Violation, error)

// Remediator attempts to repair a violation in place. The engine re-checks
// after remediation; a persisting violation is reported as auto_fix_failed.
type Remediator func(ctx context.Context, c *component.Constraint, scope Scope, v Violation) error

// Engine evaluates admitted constraints.
type Engine struct {
	reg    *registry.Registry
	logger *slog.Logger

	mu          sync.RWMutex
	evaluators  map[string]Evaluator
	remediators map[string]Remediator

	celEnv *cel.Env
	celMu  sync.Mutex
	celPrg map[string]cel.Program
}

// NewEngine builds an engine with the cel and regex evaluators installed.
func NewEngine(reg *registry.Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("scope", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, force.WrapError(force.KindInternal, err, "constraint: cel env")
	}
	e := &Engine{
		reg:         reg,
		logger:      logger,
		evaluators:  make(map[string]Evaluator),
		remediators: make(map[string]Remediator),
		celEnv:      env,
		celPrg:      make(map[string]cel.Program),
	}
	e.evaluators["cel"] = e.evalCEL
	e.evaluators["regex"] = e.evalRegex
	return e, nil
}

// RegisterEvaluator installs a host evaluator for a constraint category.
func (e *Engine) RegisterEvaluator(category string, ev Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[category] = ev
}

// RegisterRemediator installs a host remediator for a constraint category.
func (e *Engine) RegisterRemediator(category string, rm Remediator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remediators[category] = rm
}

// Check evaluates every admitted constraint whose declared scope intersects
// the supplied one, in constraint ID order.
func (e *Engine) Check(ctx context.Context, scope Scope) ([]Violation, error) {
	snap := e.reg.Snapshot()
	records := snap.List(force.KindConstraint, nil)

	var out []Violation
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return out, force.WrapError(force.KindCancelled, err, "constraint check cancelled")
		}
		c, err := rec.AsConstraint()
		if err != nil {
			e.logger.Warn("constraint: undecodable, skipping", "id", rec.ID, "error", err)
			continue
		}
		if !scopeApplies(c, scope) {
			continue
		}
		out = append(out, e.checkOne(ctx, c, scope)...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConstraintID < out[j].ConstraintID })
	return out, nil
}

func (e *Engine) checkOne(ctx context.Context, c *component.Constraint, scope Scope) []Violation {
	e.mu.RLock()
	ev, ok := e.evaluators[c.Category]
	rm := e.remediators[c.Category]
	e.mu.RUnlock()
	if !ok {
		e.logger.Warn("constraint: no evaluator for category", "id", c.ID, "category", c.Category)
		return []Violation{{
			ConstraintID: c.ID,
			Severity:     "warning",
			Message:      fmt.Sprintf("no evaluator registered for category %q", c.Category),
		}}
	}

	violations, err := ev(ctx, c, scope)
	if err != nil {
		return []Violation{{
			ConstraintID: c.ID,
			Severity:     c.Validation.Severity,
			Message:      fmt.Sprintf("evaluation failed: %v", err),
			Blocking:     c.Enforcement.Blocking,
		}}
	}

	var out []Violation
	for _, v := range violations {
		v.ConstraintID = c.ID
		if v.Severity == "" {
			v.Severity = c.Validation.Severity
		}
		v.Blocking = c.Enforcement.Blocking
		v.AutoFixable = v.AutoFixable || (c.Enforcement.AutoFix && rm != nil)

		if c.Enforcement.AutoFix && rm != nil {
			if fixed := e.remediate(ctx, c, scope, v, ev, rm); fixed != nil {
				v = *fixed
			} else {
				continue // remediated and clean on re-check
			}
		}
		out = append(out, v)
	}
	return out
}

// remediate runs the remediator and re-checks. It returns nil when the
// violation is gone, or the surviving violation marked auto_fix_failed.
func (e *Engine) remediate(ctx context.Context, c *component.Constraint, scope Scope, v Violation, ev Evaluator, rm Remediator) *Violation {
	if err := rm(ctx, c, scope, v); err != nil {
		v.Message = fmt.Sprintf("auto_fix_failed: %s (remediation: %v)", v.Message, err)
		return &v
	}
	again, err := ev(ctx, c, scope)
	if err != nil {
		v.Message = fmt.Sprintf("auto_fix_failed: %s (re-check: %v)", v.Message, err)
		return &v
	}
	for _, w := range again {
		if w.Location == v.Location && w.Message == v.Message {
			w.ConstraintID = c.ID
			if w.Severity == "" {
				w.Severity = c.Validation.Severity
			}
			w.Blocking = c.Enforcement.Blocking
			w.Message = "auto_fix_failed: " + w.Message
			return &w
		}
	}
	return nil
}

// Blocking reports whether any violation must deny the caller's operation.
func Blocking(violations []Violation) bool {
	for _, v := range violations {
		if v.Blocking && (v.Severity == "error" || v.Severity == "critical") {
			return true
		}
	}
	return false
}

// scopeApplies intersects a constraint's declared scope with the checked
// one. Constraints with no declared scope apply everywhere.
func scopeApplies(c *component.Constraint, scope Scope) bool {
	if len(c.Validation.Scope) == 0 {
		return true
	}
	for _, s := range c.Validation.Scope {
		switch s {
		case "*", "all":
			return true
		case "files":
			if len(scope.Files) > 0 {
				return true
			}
		case "components":
			if len(scope.Components) > 0 {
				return true
			}
		case "payload":
			if len(scope.Payload) > 0 {
				return true
			}
		default:
			if _, present := scope.Payload[s]; present {
				return true
			}
		}
	}
	return false
}

// evalCEL treats rules as one expression or a list of expressions over the
// variable `scope`. An expression evaluating to false is a violation.
func (e *Engine) evalCEL(ctx context.Context, c *component.Constraint, scope Scope) ([]Violation, error) {
	exprs, err := ruleStrings(c.Validation.Rules)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"files":      scope.Files,
		"components": scope.Components,
		"payload":    scope.Payload,
	}
	for k, v := range scope.Payload {
		payload[k] = v
	}

	var out []Violation
	for _, expr := range exprs {
		prg, err := e.program(expr)
		if err != nil {
			return nil, err
		}
		val, _, err := prg.Eval(map[string]any{"scope": payload})
		if err != nil {
			return nil, force.WrapError(force.KindSemanticError, err, "rule %q evaluation", expr)
		}
		hold, ok := val.Value().(bool)
		if !ok {
			return nil, force.NewError(force.KindSemanticError, "rule %q is not boolean", expr)
		}
		if !hold {
			out = append(out, Violation{Message: fmt.Sprintf("rule %q does not hold", expr)})
		}
	}
	return out, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.celMu.Lock()
	defer e.celMu.Unlock()
	if prg, ok := e.celPrg[expr]; ok {
		return prg, nil
	}
	ast, issues := e.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, force.WrapError(force.KindSemanticError, issues.Err(), "rule %q does not compile", expr)
	}
	prg, err := e.celEnv.Program(ast)
	if err != nil {
		return nil, force.WrapError(force.KindInternal, err, "rule %q: program construction", expr)
	}
	e.celPrg[expr] = prg
	return prg, nil
}

// evalRegex treats rules as one pattern or a list of patterns that MUST NOT
// match. Files in scope are scanned line by line; payload string values are
// matched directly.
func (e *Engine) evalRegex(ctx context.Context, c *component.Constraint, scope Scope) ([]Violation, error) {
	patterns, err := ruleStrings(c.Validation.Rules)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, force.WrapError(force.KindSemanticError, err, "rule pattern %q", p)
		}
		for _, path := range scope.Files {
			data, err := os.ReadFile(path)
			if err != nil {
				out = append(out, Violation{
					Location: path,
					Message:  fmt.Sprintf("unreadable: %v", err),
				})
				continue
			}
			if loc := re.FindIndex(data); loc != nil {
				out = append(out, Violation{
					Location: fmt.Sprintf("%s:%d", path, lineOf(data, loc[0])),
					Message:  fmt.Sprintf("forbidden pattern %q matched", p),
				})
			}
		}
		for key, v := range scope.Payload {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if re.MatchString(s) {
				out = append(out, Violation{
					Location: key,
					Message:  fmt.Sprintf("forbidden pattern %q matched", p),
				})
			}
		}
	}
	return out, nil
}

func lineOf(data []byte, offset int) int {
	line := 1
	for i := 0; i < offset && i < len(data); i++ {
		if data[i] == '\n' {
			line++
		}
	}
	return line
}

// ruleStrings normalizes validation.rules into a list of expressions.
// Accepted shapes: a string, a list of strings, or a map with a "rules" or
// "expressions" list.
func ruleStrings(rules any) ([]string, error) {
	switch r := rules.(type) {
	case string:
		return []string{r}, nil
	case []any:
		out := make([]string, 0, len(r))
		for _, item := range r {
			s, ok := item.(string)
			if !ok {
				return nil, force.NewError(force.KindSemanticError, "rule list contains non-string entry %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	case map[string]any:
		for _, key := range []string{"rules", "expressions", "patterns"} {
			if inner, ok := r[key]; ok {
				return ruleStrings(inner)
			}
		}
		return nil, force.NewError(force.KindSemanticError, "rule map has no rules, expressions, or patterns key")
	default:
		return nil, force.NewError(force.KindSemanticError, "unsupported rules shape %T", rules)
	}
}
