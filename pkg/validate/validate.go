// Package validate declares components valid or invalid with precise
// diagnostics. Validation is two-phase: the active JSON schema first, then
// semantic checks the schema cannot express (SemVer, timestamp ordering,
// default/type agreement), and finally cross-reference checks over the whole
// load pass.
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/schema"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validator applies the active schema plus semantic checks.
type Validator struct {
	store *schema.Store
}

// New creates a validator bound to the active schema store.
func New(store *schema.Store) *Validator {
	return &Validator{store: store}
}

// Validate runs schema and semantic checks on one record, marking it valid
// or attaching diagnostics. Cross-reference checks are deferred to
// CrossCheck once the whole pass is parsed.
func (v *Validator) Validate(rec *component.Record) {
	if rec.Kind == force.KindUnknown {
		rec.Fail(component.Issue{
			Kind:    force.KindSemanticError,
			Message: "document matches no component family discriminator",
		})
		return
	}

	issues := v.store.Validate(rec.Raw, rec.Kind)
	issues = append(issues, semanticIssues(rec)...)
	if len(issues) > 0 {
		rec.Fail(issues...)
		return
	}
	rec.Valid = true
}

func semanticIssues(rec *component.Record) []component.Issue {
	var issues []component.Issue

	if !snakeCase.MatchString(rec.ID) {
		issues = append(issues, component.Issue{
			Kind:    force.KindSemanticError,
			Path:    ".id",
			Message: fmt.Sprintf("id %q is not snake_case", rec.ID),
		})
	}

	issues = append(issues, metadataIssues(rec.Metadata())...)

	if rec.Kind == force.KindTool {
		if tool, err := rec.AsTool(); err == nil {
			issues = append(issues, parameterIssues(tool)...)
		}
	}
	return issues
}

func metadataIssues(md component.Metadata) []component.Issue {
	var issues []component.Issue

	if md.Version != "" {
		if _, err := semver.StrictNewVersion(md.Version); err != nil {
			issues = append(issues, component.Issue{
				Kind:    force.KindSemanticError,
				Path:    ".metadata.version",
				Message: fmt.Sprintf("version %q is not semver: %v", md.Version, err),
			})
		}
	}

	created, errC := ParseTimestamp(md.Created)
	if md.Created != "" && errC != nil {
		issues = append(issues, component.Issue{
			Kind:    force.KindSemanticError,
			Path:    ".metadata.created",
			Message: fmt.Sprintf("created %q is not ISO-8601", md.Created),
		})
	}
	updated, errU := ParseTimestamp(md.Updated)
	if md.Updated != "" && errU != nil {
		issues = append(issues, component.Issue{
			Kind:    force.KindSemanticError,
			Path:    ".metadata.updated",
			Message: fmt.Sprintf("updated %q is not ISO-8601", md.Updated),
		})
	}
	if errC == nil && errU == nil && md.Created != "" && md.Updated != "" && updated.Before(created) {
		issues = append(issues, component.Issue{
			Kind:    force.KindSemanticError,
			Path:    ".metadata.updated",
			Message: "updated timestamp precedes created",
		})
	}
	return issues
}

func parameterIssues(tool *component.Tool) []component.Issue {
	var issues []component.Issue
	check := func(group string, params []component.Parameter) {
		for i, p := range params {
			path := fmt.Sprintf(".parameters.%s[%d]", group, i)
			if !snakeCase.MatchString(p.Name) {
				issues = append(issues, component.Issue{
					Kind:    force.KindSemanticError,
					Path:    path + ".name",
					Message: fmt.Sprintf("parameter name %q is not snake_case", p.Name),
				})
			}
			if p.Default != nil && !DefaultMatchesType(p.Default, p.Type) {
				issues = append(issues, component.Issue{
					Kind:    force.KindSemanticError,
					Path:    path + ".default",
					Message: fmt.Sprintf("default %v does not match declared type %q", p.Default, p.Type),
				})
			}
		}
	}
	check("required", tool.Parameters.Required)
	check("optional", tool.Parameters.Optional)
	return issues
}

// CrossCheck verifies referential integrity across one load pass: pattern
// executable steps must reference admitted tools, and variant anchors must
// reference admitted components of the right family. Records that fail are
// marked invalid with reference_error diagnostics.
func (v *Validator) CrossCheck(records []*component.Record) {
	index := make(map[force.Kind]map[string]bool)
	for _, k := range force.Kinds {
		index[k] = make(map[string]bool)
	}
	for _, rec := range records {
		if rec.Valid {
			index[rec.Kind][rec.ID] = true
		}
	}

	for _, rec := range records {
		if !rec.Valid {
			continue
		}
		switch rec.Kind {
		case force.KindPattern:
			pat, err := rec.AsPattern()
			if err != nil {
				continue
			}
			for i, step := range pat.Implementation.ExecutableSteps {
				if step.ToolID == "" {
					continue // descriptive step, warned at apply time
				}
				if !index[force.KindTool][step.ToolID] {
					rec.Fail(component.Issue{
						Kind:    force.KindReferenceError,
						Path:    fmt.Sprintf(".implementation.executable_steps[%d].toolId", i),
						Message: fmt.Sprintf("tool %q not found", step.ToolID),
					})
				}
			}
		case force.KindVariant:
			va, err := rec.AsVariant()
			if err != nil {
				continue
			}
			checkAnchor := func(field string, kind force.Kind, ids []string) {
				for _, id := range ids {
					if !index[kind][id] {
						rec.Fail(component.Issue{
							Kind:    force.KindReferenceError,
							Path:    ".anchors." + field,
							Message: fmt.Sprintf("%s anchor %q not found", kind, id),
						})
					}
				}
			}
			checkAnchor("constraints", force.KindConstraint, va.Anchors.Constraints)
			checkAnchor("governance", force.KindGovernance, va.Anchors.Governance)
			checkAnchor("patterns", force.KindPattern, va.Anchors.Patterns)
			checkAnchor("learnings", force.KindLearning, va.Anchors.Learnings)
		}
	}
}

// ParseTimestamp accepts RFC 3339 and plain dates, the two ISO-8601 shapes
// component files use.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// DefaultMatchesType reports whether a JSON default value agrees with the
// parameter's declared type.
func DefaultMatchesType(v any, typ string) bool {
	switch typ {
	case "string", "file", "file_path", "directory_path":
		_, ok := v.(string)
		return ok
	case "date", "datetime":
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := ParseTimestamp(s)
		return err == nil
	case "number", "float":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object", "json":
		_, ok := v.(map[string]any)
		return ok
	default:
		// Open parameter types under the extended schema: accept anything.
		return true
	}
}
