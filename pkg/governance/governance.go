// Package governance enforces policies at two choke points: component
// admission into the registry and tool or pattern execution. Policies carry
// CEL validation rules; evaluation fails closed, so a rule that errors
// counts as violated for denying enforcement levels.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/learning"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
)

// Enforcement levels, strongest first.
const (
	LevelBlocking   = "blocking"
	LevelStrict     = "strict"
	LevelMonitoring = "monitoring"
	LevelAdvisory   = "advisory"
)

// Success-rate policy defaults. A component with enough history and a poor
// track record is held back; thin history never blocks.
const (
	minSuccessRate    = 0.8
	minSampleSize     = 20
	successRatePolicy = "success_rate"
)

// Stats is the read side the gate needs from the learning store.
type Stats interface {
	Aggregate(refID string) (learning.Aggregate, bool)
}

// Gate evaluates governance policies.
type Gate struct {
	reg    *registry.Registry
	stats  Stats
	mode   force.Mode
	logger *slog.Logger

	env *cel.Env
	mu  sync.Mutex
	prg map[string]cel.Program
}

// New builds a gate. stats may be nil when no learning store is configured;
// the success-rate policy then never denies.
func New(reg *registry.Registry, stats Stats, mode force.Mode, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("component", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("stats", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, force.WrapError(force.KindInternal, err, "governance: cel env")
	}
	return &Gate{
		reg:    reg,
		stats:  stats,
		mode:   mode,
		logger: logger,
		env:    env,
		prg:    make(map[string]cel.Program),
	}, nil
}

// AdmitOK checks a candidate component against the supplied policies. The
// caller passes the policy set of the load cycle under construction, since
// admission runs before the new snapshot is swapped in.
func (g *Gate) AdmitOK(ctx context.Context, policies []*component.GovernancePolicy, rec *component.Record) error {
	_, err := g.evaluate(ctx, policies, rec, nil, "admission")
	return err
}

// ExecuteOK checks a tool or pattern against the admitted policies right
// before execution. Warnings surface on the result without blocking.
func (g *Gate) ExecuteOK(ctx context.Context, rec *component.Record, contextValues map[string]any) ([]string, error) {
	snap := g.reg.Snapshot()
	records := snap.List(force.KindGovernance, nil)
	policies := make([]*component.GovernancePolicy, 0, len(records))
	for _, pr := range records {
		pol, err := pr.AsGovernancePolicy()
		if err != nil {
			g.logger.Warn("governance: undecodable policy, skipping", "id", pr.ID, "error", err)
			continue
		}
		policies = append(policies, pol)
	}
	return g.evaluate(ctx, policies, rec, contextValues, "execution")
}

func (g *Gate) evaluate(ctx context.Context, policies []*component.GovernancePolicy, rec *component.Record, contextValues map[string]any, stage string) ([]string, error) {
	var warnings []string
	for _, pol := range policies {
		if !g.applies(pol, rec) {
			continue
		}
		reason, violated := g.violation(ctx, pol, rec, contextValues)
		if !violated {
			continue
		}
		switch pol.Enforcement.Level {
		case LevelBlocking:
			return warnings, force.NewError(force.KindPolicyDenied,
				"policy %q denies %s of %q: %s", pol.ID, stage, rec.ID, reason).
				WithDetail("policy_id", pol.ID)
		case LevelStrict:
			if excepted(pol, rec.ID) {
				g.logger.Info("governance: strict policy excepted",
					"policy", pol.ID, "component", rec.ID, "stage", stage)
				continue
			}
			return warnings, force.NewError(force.KindPolicyDenied,
				"policy %q denies %s of %q: %s", pol.ID, stage, rec.ID, reason).
				WithDetail("policy_id", pol.ID)
		case LevelMonitoring:
			g.logger.Info("governance: policy violation observed",
				"policy", pol.ID, "component", rec.ID, "stage", stage, "reason", reason)
		case LevelAdvisory:
			warnings = append(warnings, fmt.Sprintf("policy %s: %s", pol.ID, reason))
		default:
			// Open levels under the extended schema surface as warnings.
			warnings = append(warnings, fmt.Sprintf("policy %s (%s): %s", pol.ID, pol.Enforcement.Level, reason))
		}
	}
	return warnings, nil
}

// applies intersects a policy's scope with the component and the running
// mode. Empty scope lists apply everywhere.
func (g *Gate) applies(pol *component.GovernancePolicy, rec *component.Record) bool {
	if len(pol.Scope.Environments) > 0 {
		found := false
		for _, env := range pol.Scope.Environments {
			if env == string(g.mode) || env == "*" || env == "all" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(pol.Scope.AppliesTo) == 0 {
		return true
	}
	for _, target := range pol.Scope.AppliesTo {
		switch target {
		case "*", "all", string(rec.Kind), rec.ID, force.DirFor(rec.Kind):
			return true
		}
	}
	return false
}

func excepted(pol *component.GovernancePolicy, id string) bool {
	for _, ex := range pol.Scope.Exceptions {
		if ex == id {
			return true
		}
	}
	return false
}

// violation evaluates a policy against one component. The first failing
// rule wins; evaluation errors count as violations.
func (g *Gate) violation(ctx context.Context, pol *component.GovernancePolicy, rec *component.Record, contextValues map[string]any) (string, bool) {
	if pol.PolicyType == successRatePolicy || pol.Category == successRatePolicy {
		if reason, violated := g.successRateViolation(rec.ID); violated {
			return reason, true
		}
	}

	if len(pol.Enforcement.ValidationRules) == 0 {
		return "", false
	}

	input := map[string]any{
		"component": rec.Raw,
		"context":   nonNil(contextValues),
		"stats":     g.statsMap(rec.ID),
	}
	for _, rule := range pol.Enforcement.ValidationRules {
		prg, err := g.program(rule)
		if err != nil {
			return fmt.Sprintf("rule %q does not compile: %v", rule, err), true
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			return fmt.Sprintf("rule %q evaluation failed: %v", rule, err), true
		}
		hold, ok := out.Value().(bool)
		if !ok {
			return fmt.Sprintf("rule %q is not boolean", rule), true
		}
		if !hold {
			return fmt.Sprintf("rule %q does not hold", rule), true
		}
	}
	return "", false
}

func (g *Gate) successRateViolation(refID string) (string, bool) {
	if g.stats == nil {
		return "", false
	}
	agg, ok := g.stats.Aggregate(refID)
	if !ok {
		return "", false
	}
	if agg.UsageCount >= minSampleSize && agg.SuccessRate < minSuccessRate {
		return fmt.Sprintf("success rate %.2f over %d runs is below %.2f",
			agg.SuccessRate, agg.UsageCount, minSuccessRate), true
	}
	return "", false
}

func (g *Gate) statsMap(refID string) map[string]any {
	if g.stats == nil {
		return map[string]any{}
	}
	agg, ok := g.stats.Aggregate(refID)
	if !ok {
		return map[string]any{}
	}
	return map[string]any{
		"usage_count":     agg.UsageCount,
		"success_rate":    agg.SuccessRate,
		"avg_duration_ms": agg.AvgDurationMS,
	}
}

func (g *Gate) program(rule string) (cel.Program, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, ok := g.prg[rule]; ok {
		return prg, nil
	}
	ast, issues := g.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, err
	}
	g.prg[rule] = prg
	return prg, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
