package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
)

// toolDoc builds a minimal runnable tool document.
func toolDoc(id string, mutate func(doc map[string]any)) map[string]any {
	doc := map[string]any{
		"id":       id,
		"name":     id,
		"category": "testing",
		"parameters": map[string]any{
			"required": []any{},
			"optional": []any{},
		},
		"execution": map[string]any{
			"strategy": "sequential",
			"commands": []any{map[string]any{"action": "work"}},
		},
		"metadata": map[string]any{
			"version": "1.0.0",
			"created": "2025-01-01T00:00:00Z",
			"updated": "2025-01-02T00:00:00Z",
		},
	}
	if mutate != nil {
		mutate(doc)
	}
	return doc
}

func execBlock(doc map[string]any) map[string]any {
	return doc["execution"].(map[string]any)
}

type harness struct {
	rt  *Runtime
	reg *registry.Registry
	tbl *ActionTable
}

func newHarness(t *testing.T, opts Options, docs ...map[string]any) *harness {
	t.Helper()
	snap := registry.NewSnapshot("strict")
	for _, doc := range docs {
		snap.Admit(component.NewRecord(force.KindTool, "tools/"+doc["id"].(string)+".json", doc))
	}
	reg := registry.New()
	reg.Swap(snap)

	tbl := NewActionTable()
	rt, err := New(reg, tbl, nil, nil, nil, nil, opts)
	require.NoError(t, err)
	return &harness{rt: rt, reg: reg, tbl: tbl}
}

func (h *harness) register(t *testing.T, name string, fn ActionFunc) {
	t.Helper()
	require.NoError(t, h.tbl.Register(name, fn))
}

func TestExecuteSequentialSuccess(t *testing.T) {
	doc := toolDoc("two_steps", func(doc map[string]any) {
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "first"},
			map[string]any{"action": "second"},
		}
	})
	h := newHarness(t, Options{}, doc)
	var order []string
	h.register(t, "first", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		order = append(order, "first")
		return "one", nil
	})
	h.register(t, "second", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		order = append(order, "second")
		return "two", nil
	})

	res := h.rt.Execute(context.Background(), "two_steps", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, res.CommandResults, 2)
	assert.Equal(t, "one", res.CommandResults[0].Output)
	assert.Equal(t, 1, res.CommandResults[0].Attempts)
}

func TestExecuteToolNotFound(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.rt.Execute(context.Background(), "ghost", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	require.NotNil(t, res.Error)
	assert.Equal(t, string(force.KindNotFound), res.Error.Type)
}

func TestExecuteBindingFailureRunsNothing(t *testing.T) {
	doc := toolDoc("needs_param", func(doc map[string]any) {
		doc["parameters"].(map[string]any)["required"] = []any{
			map[string]any{"name": "target", "type": "string"},
		}
	})
	h := newHarness(t, Options{}, doc)
	called := false
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		called = true
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "needs_param", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindParameterError), res.Error.Type)
	assert.Empty(t, res.CommandResults)
	assert.False(t, called, "no command may run on binding failure")
}

func TestExecuteAppliesOptionalDefaults(t *testing.T) {
	doc := toolDoc("with_default", func(doc map[string]any) {
		doc["parameters"].(map[string]any)["optional"] = []any{
			map[string]any{"name": "depth", "type": "integer", "default": float64(3)},
		}
	})
	h := newHarness(t, Options{}, doc)
	var seen any
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		seen = params["depth"]
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "with_default", nil, nil)
	require.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, float64(3), seen)
}

func TestExecuteDryRun(t *testing.T) {
	doc := toolDoc("dry", func(doc map[string]any) {
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "dangerous", "description": "would delete everything"},
		}
	})
	h := newHarness(t, Options{}, doc)
	called := false
	h.register(t, "dangerous", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		called = true
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "dry", nil, NewExecContext(nil, true))
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.True(t, res.DryRun)
	assert.False(t, called, "dry run must not invoke handlers")
	require.Len(t, res.CommandResults, 1)
	assert.Equal(t, "would delete everything", res.CommandResults[0].Output)
}

func TestExecuteUnknownAction(t *testing.T) {
	doc := toolDoc("bad_action", func(doc map[string]any) {
		execBlock(doc)["commands"] = []any{map[string]any{"action": "nonexistent"}}
	})
	h := newHarness(t, Options{}, doc)

	res := h.rt.Execute(context.Background(), "bad_action", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindUnknownAction), res.Error.Type)
}

func TestRetryHandlerRecovers(t *testing.T) {
	doc := toolDoc("flaky", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "retry", "max_retries": float64(3)},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	attempts := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})

	res := h.rt.Execute(context.Background(), "flaky", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	require.Len(t, res.CommandResults, 1)
	assert.Equal(t, 3, res.CommandResults[0].Attempts)
}

func TestRetryExhaustionFails(t *testing.T) {
	doc := toolDoc("doomed", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "retry", "max_retries": float64(2)},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	attempts := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		attempts++
		return nil, errors.New("always broken")
	})

	res := h.rt.Execute(context.Background(), "doomed", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, 3, attempts, "two retries on top of the first attempt")
}

func TestFallbackHandler(t *testing.T) {
	doc := toolDoc("with_fallback", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "fallback", "action": "recover"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, errors.New("primary broken")
	})
	h.register(t, "recover", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return "recovered", nil
	})

	res := h.rt.Execute(context.Background(), "with_fallback", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	require.Len(t, res.CommandResults, 1)
	assert.Equal(t, "recovered", res.CommandResults[0].Output)
	assert.Contains(t, res.CommandResults[0].SkipReason, "recover")
}

func TestSkipHandlerContinues(t *testing.T) {
	doc := toolDoc("skipper", func(doc map[string]any) {
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "broken"},
			map[string]any{"action": "fine"},
		}
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "skip"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "broken", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, errors.New("broken step")
	})
	ran := false
	h.register(t, "fine", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		ran = true
		return "ok", nil
	})

	res := h.rt.Execute(context.Background(), "skipper", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.True(t, ran, "later commands run after a skipped failure")
	require.Len(t, res.CommandResults, 2)
	assert.Equal(t, force.OutcomeFailure, res.CommandResults[0].Outcome)
}

func TestGracefulDegradation(t *testing.T) {
	doc := toolDoc("degrading", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "graceful_degradation"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, errors.New("partial failure")
	})

	res := h.rt.Execute(context.Background(), "degrading", nil, nil)
	assert.Equal(t, force.OutcomeDegraded, res.Outcome)
	assert.True(t, res.Degraded)
}

func TestManualInterventionHandler(t *testing.T) {
	doc := toolDoc("manual", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "manual_intervention"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, errors.New("needs a human")
	})

	res := h.rt.Execute(context.Background(), "manual", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.True(t, res.NeedsIntervention)
}

func TestHandlerMatchByErrorText(t *testing.T) {
	doc := toolDoc("selective", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "disk full", "strategy": "graceful_degradation"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, errors.New("write failed: disk full")
	})

	res := h.rt.Execute(context.Background(), "selective", nil, nil)
	assert.Equal(t, force.OutcomeDegraded, res.Outcome)
}

func TestUnmatchedErrorAborts(t *testing.T) {
	doc := toolDoc("strict_match", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "timeout", "strategy": "retry"},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	attempts := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		attempts++
		return nil, errors.New("unrelated failure")
	})

	res := h.rt.Execute(context.Background(), "strict_match", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, 1, attempts, "no handler matched, no retry")
}

func TestCommandTimeout(t *testing.T) {
	doc := toolDoc("slow", func(doc map[string]any) {
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "work", "timeout": 0.05},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	res := h.rt.Execute(context.Background(), "slow", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindTimeout), res.Error.Type)
}

func TestCancellation(t *testing.T) {
	doc := toolDoc("cancellable", nil)
	h := newHarness(t, Options{}, doc)
	ctx, cancel := context.WithCancel(context.Background())
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res := h.rt.Execute(ctx, "cancellable", nil, nil)
	assert.Equal(t, force.OutcomeCancelled, res.Outcome)
	assert.Equal(t, string(force.KindCancelled), res.Error.Type)
}

func TestParallelStrategy(t *testing.T) {
	doc := toolDoc("fan_out", func(doc map[string]any) {
		execBlock(doc)["strategy"] = "parallel"
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "a"},
			map[string]any{"action": "b"},
			map[string]any{"action": "c"},
		}
	})
	h := newHarness(t, Options{Workers: 2}, doc)
	for _, name := range []string{"a", "b", "c"} {
		h.register(t, name, func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
			return name, nil
		})
	}

	res := h.rt.Execute(context.Background(), "fan_out", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Len(t, res.CommandResults, 3)
}

func TestConditionalStrategySkips(t *testing.T) {
	doc := toolDoc("branchy", func(doc map[string]any) {
		execBlock(doc)["strategy"] = "conditional"
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "work", "condition": `context.enabled == true`},
			map[string]any{"action": "work", "condition": `context.enabled == false`},
		}
	})
	h := newHarness(t, Options{}, doc)
	runs := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		runs++
		return nil, nil
	})

	ec := NewExecContext(map[string]any{"enabled": true}, false)
	res := h.rt.Execute(context.Background(), "branchy", nil, ec)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, runs)
	require.Len(t, res.CommandResults, 2)
	assert.True(t, res.CommandResults[1].Skipped)
	assert.Equal(t, "condition false", res.CommandResults[1].SkipReason)
}

func TestConditionalBadExpressionFailsClosed(t *testing.T) {
	doc := toolDoc("bad_expr", func(doc map[string]any) {
		execBlock(doc)["strategy"] = "conditional"
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "work", "condition": `this is not CEL`},
		}
	})
	h := newHarness(t, Options{}, doc)
	runs := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		runs++
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "bad_expr", nil, nil)
	assert.Equal(t, 0, runs, "uncompilable conditions never run their command")
	require.Len(t, res.CommandResults, 1)
	assert.True(t, res.CommandResults[0].Skipped)
}

func TestIterativeStrategy(t *testing.T) {
	doc := toolDoc("looper", func(doc map[string]any) {
		execBlock(doc)["strategy"] = "iterative"
	})
	h := newHarness(t, Options{}, doc)
	count := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		count++
		return count, nil
	})
	h.rt.RegisterPredicate("continue", func(ec *ExecContext) bool { return count < 3 })

	res := h.rt.Execute(context.Background(), "looper", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, count)
	assert.Len(t, res.CommandResults, 3)
}

func TestIterativeRespectsCap(t *testing.T) {
	doc := toolDoc("runaway", func(doc map[string]any) {
		execBlock(doc)["strategy"] = "iterative"
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "work", "max_iterations": float64(5)},
		}
	})
	h := newHarness(t, Options{}, doc)
	count := 0
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		count++
		return nil, nil
	})
	h.rt.RegisterPredicate("continue", func(ec *ExecContext) bool { return true })

	res := h.rt.Execute(context.Background(), "runaway", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 5, count, "per-command max_iterations bounds the loop")
}

func TestPreconditionFailsClosed(t *testing.T) {
	doc := toolDoc("guarded", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"pre_conditions": []any{"repo_clean"},
		}
	})
	h := newHarness(t, Options{}, doc)
	ran := false
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		ran = true
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "guarded", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindPreconditionFailed), res.Error.Type)
	assert.False(t, ran)

	// A true boolean context value satisfies the same predicate.
	ec := NewExecContext(map[string]any{"repo_clean": true}, false)
	res = h.rt.Execute(context.Background(), "guarded", nil, ec)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
}

func TestPostconditionFailure(t *testing.T) {
	doc := toolDoc("checked", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"post_conditions": []any{"output_present"},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return "something", nil
	})
	h.rt.RegisterPredicate("output_present", func(ec *ExecContext) bool { return false })

	res := h.rt.Execute(context.Background(), "checked", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindPostconditionFailed), res.Error.Type)
	assert.Len(t, res.CommandResults, 1, "commands ran before the postcondition check")
}

type denyGate struct{ warnings []string }

func (g *denyGate) ExecuteOK(ctx context.Context, rec *component.Record, contextValues map[string]any) ([]string, error) {
	return g.warnings, force.NewError(force.KindPolicyDenied, "policy blocks %s", rec.ID)
}

type warnGate struct{}

func (warnGate) ExecuteOK(ctx context.Context, rec *component.Record, contextValues map[string]any) ([]string, error) {
	return []string{"deprecated tool"}, nil
}

func TestGateDeniesExecution(t *testing.T) {
	doc := toolDoc("governed", nil)
	snap := registry.NewSnapshot("strict")
	snap.Admit(component.NewRecord(force.KindTool, "tools/governed.json", doc))
	reg := registry.New()
	reg.Swap(snap)

	rt, err := New(reg, NewActionTable(), nil, nil, &denyGate{}, nil, Options{})
	require.NoError(t, err)

	res := rt.Execute(context.Background(), "governed", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindPolicyDenied), res.Error.Type)
	assert.Empty(t, res.CommandResults)
}

func TestGateWarningsSurface(t *testing.T) {
	doc := toolDoc("warned", nil)
	snap := registry.NewSnapshot("strict")
	snap.Admit(component.NewRecord(force.KindTool, "tools/warned.json", doc))
	reg := registry.New()
	reg.Swap(snap)

	tbl := NewActionTable()
	require.NoError(t, tbl.Register("work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, nil
	}))
	rt, err := New(reg, tbl, nil, nil, warnGate{}, nil, Options{})
	require.NoError(t, err)

	res := rt.Execute(context.Background(), "warned", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, []string{"deprecated tool"}, res.Warnings)
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	doc := toolDoc("protected", func(doc map[string]any) {
		execBlock(doc)["validation"] = map[string]any{
			"error_handling": []any{
				map[string]any{"error_type": "*", "strategy": "circuit_breaker", "max_retries": float64(2)},
			},
		}
	})
	h := newHarness(t, Options{BreakerCooldown: 50 * time.Millisecond}, doc)
	healthy := false
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		if healthy {
			return "ok", nil
		}
		return nil, errors.New("downstream unavailable")
	})

	// Two consecutive failures trip the breaker.
	for i := 0; i < 2; i++ {
		res := h.rt.Execute(context.Background(), "protected", nil, nil)
		require.Equal(t, force.OutcomeFailure, res.Outcome)
		assert.Equal(t, string(force.KindActionFailed), res.Error.Type)
	}

	// Open breaker short-circuits without invoking the action.
	res := h.rt.Execute(context.Background(), "protected", nil, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindCircuitOpen), res.Error.Type)

	// After the cooldown the half-open probe goes through and closes it.
	healthy = true
	time.Sleep(80 * time.Millisecond)
	res = h.rt.Execute(context.Background(), "protected", nil, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
}

func TestCommandParamRefResolution(t *testing.T) {
	doc := toolDoc("templated", func(doc map[string]any) {
		doc["parameters"].(map[string]any)["required"] = []any{
			map[string]any{"name": "branch", "type": "string"},
		}
		execBlock(doc)["commands"] = []any{
			map[string]any{"action": "work", "parameters": map[string]any{
				"ref":    "{{branch}}",
				"static": "main",
			}},
		}
	})
	h := newHarness(t, Options{}, doc)
	var got map[string]any
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		got = params
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "templated", map[string]any{"branch": "release/1.2"}, nil)
	require.Equal(t, force.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "release/1.2", got["ref"])
	assert.Equal(t, "main", got["static"])
}

func TestParameterConstraints(t *testing.T) {
	doc := toolDoc("constrained", func(doc map[string]any) {
		doc["parameters"].(map[string]any)["required"] = []any{
			map[string]any{
				"name": "level", "type": "string",
				"constraints": map[string]any{"enum": []any{"low", "high"}},
			},
		}
	})
	h := newHarness(t, Options{}, doc)
	h.register(t, "work", func(ctx context.Context, params map[string]any, ec *ExecContext) (any, error) {
		return nil, nil
	})

	res := h.rt.Execute(context.Background(), "constrained", map[string]any{"level": "medium"}, nil)
	assert.Equal(t, force.OutcomeFailure, res.Outcome)
	assert.Equal(t, string(force.KindParameterError), res.Error.Type)

	res = h.rt.Execute(context.Background(), "constrained", map[string]any{"level": "high"}, nil)
	assert.Equal(t, force.OutcomeSuccess, res.Outcome)
}
