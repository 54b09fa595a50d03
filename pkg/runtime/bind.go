package runtime

import (
	"reflect"
	"regexp"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/validate"
)

// bindParameters checks caller-supplied parameters against the tool's
// declaration: every required parameter present, every bound value matching
// its declared type and constraints, defaults applied for absent optionals.
// No command runs when binding fails.
func bindParameters(tool *component.Tool, supplied map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(supplied))
	for k, v := range supplied {
		bound[k] = v
	}

	for _, p := range tool.Parameters.Required {
		v, present := bound[p.Name]
		if !present {
			return nil, force.NewError(force.KindParameterError,
				"required parameter %q missing", p.Name).WithDetail("parameter", p.Name)
		}
		if err := checkValue(p, v); err != nil {
			return nil, err
		}
	}

	for _, p := range tool.Parameters.Optional {
		v, present := bound[p.Name]
		if !present {
			if p.Default != nil {
				bound[p.Name] = p.Default
			}
			continue
		}
		if err := checkValue(p, v); err != nil {
			return nil, err
		}
	}

	return bound, nil
}

func checkValue(p component.Parameter, v any) error {
	if !validate.DefaultMatchesType(v, p.Type) {
		return force.NewError(force.KindParameterError,
			"parameter %q: value %v does not match declared type %q", p.Name, v, p.Type).
			WithDetail("parameter", p.Name)
	}
	c := p.Constraints
	if c == nil {
		return nil
	}

	if c.Min != nil || c.Max != nil {
		if f, ok := v.(float64); ok {
			if c.Min != nil && f < *c.Min {
				return force.NewError(force.KindParameterError,
					"parameter %q: %v below minimum %v", p.Name, f, *c.Min)
			}
			if c.Max != nil && f > *c.Max {
				return force.NewError(force.KindParameterError,
					"parameter %q: %v above maximum %v", p.Name, f, *c.Max)
			}
		}
		if s, ok := v.(string); ok {
			if c.Min != nil && float64(len(s)) < *c.Min {
				return force.NewError(force.KindParameterError,
					"parameter %q: length %d below minimum %v", p.Name, len(s), *c.Min)
			}
			if c.Max != nil && float64(len(s)) > *c.Max {
				return force.NewError(force.KindParameterError,
					"parameter %q: length %d above maximum %v", p.Name, len(s), *c.Max)
			}
		}
	}

	if c.Pattern != "" {
		s, ok := v.(string)
		if !ok {
			return force.NewError(force.KindParameterError,
				"parameter %q: pattern constraint on non-string value", p.Name)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return force.WrapError(force.KindParameterError, err,
				"parameter %q: invalid constraint pattern", p.Name)
		}
		if !re.MatchString(s) {
			return force.NewError(force.KindParameterError,
				"parameter %q: value %q does not match pattern %q", p.Name, s, c.Pattern)
		}
	}

	if len(c.Enum) > 0 {
		for _, allowed := range c.Enum {
			if reflect.DeepEqual(v, allowed) {
				return nil
			}
		}
		return force.NewError(force.KindParameterError,
			"parameter %q: value %v not in enum %v", p.Name, v, c.Enum)
	}
	return nil
}

// mergeCommandParams resolves the effective parameters of one command: the
// command's own parameter map over the tool-level bound parameters.
func mergeCommandParams(bound map[string]any, cmd component.Command) map[string]any {
	merged := make(map[string]any, len(bound)+len(cmd.Parameters))
	for k, v := range bound {
		merged[k] = v
	}
	for k, v := range cmd.Parameters {
		merged[k] = resolveRef(v, bound)
	}
	return merged
}

var refPattern = regexp.MustCompile(`^\{\{(\w+)\}\}$`)

// resolveRef substitutes "{{param}}" command parameter values with the bound
// tool parameter of that name.
func resolveRef(v any, bound map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return v
	}
	if resolved, present := bound[m[1]]; present {
		return resolved
	}
	return v
}
