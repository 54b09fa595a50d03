package force

// Outcome is the terminal status of an execution, pattern application, or
// MCP method call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePartial   Outcome = "partial"
	OutcomeError     Outcome = "error"
)

// Mode selects how strictly the startup gate and governance policies behave.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeStaging     Mode = "staging"
	ModeProduction  Mode = "production"
)

// Kind identifies the component family a document belongs to.
type Kind string

const (
	KindTool       Kind = "tool"
	KindPattern    Kind = "pattern"
	KindConstraint Kind = "constraint"
	KindGovernance Kind = "governance"
	KindLearning   Kind = "learning"
	KindVariant    Kind = "variant"
	KindUnknown    Kind = "unknown"
)

// Kinds lists every component family in registry iteration order.
var Kinds = []Kind{KindTool, KindPattern, KindConstraint, KindGovernance, KindLearning, KindVariant}

// DirFor maps a component kind to its subtree under the component root.
func DirFor(k Kind) string {
	switch k {
	case KindTool:
		return "tools"
	case KindPattern:
		return "patterns"
	case KindConstraint:
		return "constraints"
	case KindGovernance:
		return "governance"
	case KindLearning:
		return "learning"
	case KindVariant:
		return "variants"
	}
	return ""
}

// KindForDir is the inverse of DirFor; it returns KindUnknown for paths
// outside the component subtrees.
func KindForDir(dir string) Kind {
	switch dir {
	case "tools":
		return KindTool
	case "patterns":
		return KindPattern
	case "constraints":
		return KindConstraint
	case "governance":
		return KindGovernance
	case "learning":
		return KindLearning
	case "variants":
		return KindVariant
	}
	return KindUnknown
}

// KindForAggregateKey maps an aggregate array field name back to its kind.
func KindForAggregateKey(key string) Kind {
	for _, k := range Kinds {
		if AggregateKeyFor(k) == key {
			return k
		}
	}
	return KindUnknown
}

// AggregateKeyFor maps a kind to the array field name used by aggregate
// component files, e.g. {"governance_policies":[...]}.
func AggregateKeyFor(k Kind) string {
	switch k {
	case KindTool:
		return "tools"
	case KindPattern:
		return "patterns"
	case KindConstraint:
		return "constraints"
	case KindGovernance:
		return "governance_policies"
	case KindLearning:
		return "learnings"
	case KindVariant:
		return "variants"
	}
	return ""
}
