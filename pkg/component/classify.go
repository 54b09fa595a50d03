package component

import "github.com/Mindburn-Labs/force/core/pkg/force"

// Classify determines the component family of a raw document by the presence
// of its family's required fields. Discriminators, most specific first:
//
//	parameters + execution          → tool
//	instructions + anchors          → variant
//	policy_type + enforcement.level → governance policy
//	validation + enforcement        → constraint
//	implementation                  → pattern
//	title                           → learning
func Classify(raw map[string]any) force.Kind {
	has := func(key string) bool {
		_, ok := raw[key]
		return ok
	}

	switch {
	case has("parameters") && has("execution"):
		return force.KindTool
	case has("instructions") && has("anchors"):
		return force.KindVariant
	case has("policy_type") && hasEnforcementLevel(raw):
		return force.KindGovernance
	case has("validation") && has("enforcement"):
		return force.KindConstraint
	case has("implementation"):
		return force.KindPattern
	case has("title"):
		return force.KindLearning
	}
	return force.KindUnknown
}

func hasEnforcementLevel(raw map[string]any) bool {
	enf, ok := raw["enforcement"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = enf["level"]
	return ok
}
