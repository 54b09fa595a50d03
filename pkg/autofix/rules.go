// Package autofix brings near-miss components into compliance with a
// bounded, deterministic rule set. Fixes are idempotent: applying the rules
// to already-fixed output yields no further changes, which the fixer checks
// on canonical (JCS) bytes before touching disk.
package autofix

import (
	"strings"
	"time"
	"unicode"
)

// AppliedFix records one rule firing on one location of a document.
type AppliedFix struct {
	Rule   string `json:"rule"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

const (
	RuleParameterFormat  = "parameter_format_migration"
	RuleParameterNaming  = "parameter_snake_case"
	RuleDefaultStrategy  = "default_execution_strategy"
	RulePlaceholderCmd   = "placeholder_command"
	RuleMetadataStub     = "metadata_stub"
	RuleStripLegacyField = "strip_legacy_field"
)

// DefaultDenylist lists legacy top-level fields stripped by rule 6.
var DefaultDenylist = []string{"legacy_id", "deprecated", "claude_config", "internal_notes", "_comment"}

// Outcome is the result of applying the rule set to one document.
type Outcome struct {
	Fixed    map[string]any `json:"fixed"`
	Applied  []AppliedFix   `json:"applied_fixes"`
	Degraded bool           `json:"degraded,omitempty"`
}

// Apply runs the full rule set over a raw document and returns the fixed
// copy. The input map is never mutated. mtime seeds stubbed metadata
// timestamps. An empty Applied slice means nothing was fixable.
func Apply(raw map[string]any, mtime time.Time, denylist []string) *Outcome {
	doc := deepCopy(raw).(map[string]any)
	out := &Outcome{Fixed: doc}

	migrateParameterFormat(doc, out)
	renameParameters(doc, out)
	defaultStrategy(doc, out)
	placeholderCommand(doc, out)
	stubMetadata(doc, mtime, out)
	stripLegacyFields(doc, denylist, out)

	return out
}

// Rule 1: a flat parameters list is split into {required, optional} using
// each entry's required flag (default true); the flag itself is dropped.
func migrateParameterFormat(doc map[string]any, out *Outcome) {
	flat, ok := doc["parameters"].([]any)
	if !ok {
		return
	}
	required := make([]any, 0, len(flat))
	optional := make([]any, 0)
	for _, item := range flat {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		isRequired := true
		if flag, ok := p["required"].(bool); ok {
			isRequired = flag
		}
		delete(p, "required")
		if isRequired {
			required = append(required, p)
		} else {
			optional = append(optional, p)
		}
	}
	doc["parameters"] = map[string]any{"required": required, "optional": optional}
	out.Applied = append(out.Applied, AppliedFix{
		Rule: RuleParameterFormat, Path: ".parameters",
		Detail: "migrated flat parameter list to required/optional groups",
	})
}

// Rule 2: CamelCase and kebab-case parameter names become snake_case, and
// references inside execution.commands[*].parameters follow the rename.
func renameParameters(doc map[string]any, out *Outcome) {
	params, ok := doc["parameters"].(map[string]any)
	if !ok {
		return
	}
	renames := make(map[string]string)
	for _, group := range []string{"required", "optional"} {
		list, ok := params[group].([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			p, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, ok := p["name"].(string)
			if !ok {
				continue
			}
			snake := SnakeCase(name)
			if snake != name {
				p["name"] = snake
				renames[name] = snake
				out.Applied = append(out.Applied, AppliedFix{
					Rule: RuleParameterNaming, Path: ".parameters." + group,
					Detail: name + " -> " + snake,
				})
			}
		}
	}
	if len(renames) == 0 {
		return
	}

	exec, ok := doc["execution"].(map[string]any)
	if !ok {
		return
	}
	commands, ok := exec["commands"].([]any)
	if !ok {
		return
	}
	for _, item := range commands {
		cmd, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cp, ok := cmd["parameters"].(map[string]any)
		if !ok {
			continue
		}
		for old, snake := range renames {
			if v, present := cp[old]; present {
				delete(cp, old)
				cp[snake] = v
			}
		}
	}
}

// Rule 3: missing execution.strategy defaults to sequential.
func defaultStrategy(doc map[string]any, out *Outcome) {
	exec, ok := doc["execution"].(map[string]any)
	if !ok {
		return
	}
	if _, present := exec["strategy"]; present {
		return
	}
	exec["strategy"] = "sequential"
	out.Applied = append(out.Applied, AppliedFix{
		Rule: RuleDefaultStrategy, Path: ".execution.strategy", Detail: "sequential",
	})
}

// Rule 4: a tool without commands gets one placeholder so it stays runnable
// in dry-run; the component is flagged degraded.
func placeholderCommand(doc map[string]any, out *Outcome) {
	exec, ok := doc["execution"].(map[string]any)
	if !ok {
		return
	}
	if commands, ok := exec["commands"].([]any); ok && len(commands) > 0 {
		return
	}
	exec["commands"] = []any{map[string]any{
		"action":      "noop",
		"description": "placeholder inserted by auto-fix; supply real commands",
	}}
	out.Degraded = true
	out.Applied = append(out.Applied, AppliedFix{
		Rule: RulePlaceholderCmd, Path: ".execution.commands",
		Detail: "inserted placeholder noop command",
	})
}

// Rule 5: absent metadata timestamps are stubbed from the file mtime and an
// absent version becomes 1.0.0.
func stubMetadata(doc map[string]any, mtime time.Time, out *Outcome) {
	md, ok := doc["metadata"].(map[string]any)
	if !ok {
		md = make(map[string]any)
		doc["metadata"] = md
	}
	stamp := mtime.UTC().Format(time.RFC3339)
	if s, ok := md["created"].(string); !ok || s == "" {
		md["created"] = stamp
		out.Applied = append(out.Applied, AppliedFix{Rule: RuleMetadataStub, Path: ".metadata.created", Detail: stamp})
	}
	if s, ok := md["updated"].(string); !ok || s == "" {
		md["updated"] = stamp
		out.Applied = append(out.Applied, AppliedFix{Rule: RuleMetadataStub, Path: ".metadata.updated", Detail: stamp})
	}
	if s, ok := md["version"].(string); !ok || s == "" {
		md["version"] = "1.0.0"
		out.Applied = append(out.Applied, AppliedFix{Rule: RuleMetadataStub, Path: ".metadata.version", Detail: "1.0.0"})
	}
}

// Rule 6: configured legacy top-level fields are stripped.
func stripLegacyFields(doc map[string]any, denylist []string, out *Outcome) {
	for _, field := range denylist {
		if _, present := doc[field]; present {
			delete(doc, field)
			out.Applied = append(out.Applied, AppliedFix{Rule: RuleStripLegacyField, Path: "." + field})
		}
	}
}

// SnakeCase converts CamelCase, kebab-case, and space-separated names to
// snake_case. Already-snake names pass through unchanged.
func SnakeCase(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, item := range val {
			cp[k] = deepCopy(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopy(item)
		}
		return cp
	default:
		return val
	}
}
