package runtime

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// conditionEnv is the CEL environment for per-command `condition`
// expressions. Expressions see the bound tool parameters and the execution
// context values.
type conditionEnv struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newConditionEnv() (*conditionEnv, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("params", types.NewMapType(types.StringType, types.DynType)),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, force.WrapError(force.KindInternal, err, "runtime: condition env")
	}
	return &conditionEnv{env: env, programs: make(map[string]cel.Program)}, nil
}

// eval compiles (with memoization) and evaluates a condition expression.
// A non-boolean or failing expression counts as false: conditional commands
// fail closed, matching the policy engine's default-deny posture.
func (c *conditionEnv) eval(expr string, params, contextValues map[string]any) (bool, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if !ok {
		ast, issues := c.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return false, force.WrapError(force.KindSemanticError, issues.Err(),
				"condition %q does not compile", expr)
		}
		var err error
		prg, err = c.env.Program(ast)
		if err != nil {
			return false, force.WrapError(force.KindInternal, err,
				"condition %q: program construction", expr)
		}
		c.mu.Lock()
		c.programs[expr] = prg
		c.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{
		"params":  params,
		"context": contextValues,
	})
	if err != nil {
		return false, force.WrapError(force.KindSemanticError, err,
			"condition %q evaluation", expr)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, force.NewError(force.KindSemanticError,
			"condition %q is not boolean", expr)
	}
	return result, nil
}
