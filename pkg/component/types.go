// Package component defines the canonical data model of the engine: the six
// component families, their shared metadata, and the discriminator logic
// that classifies raw JSON documents.
package component

// Metadata is shared by all component families.
type Metadata struct {
	Created            string              `json:"created"`
	Updated            string              `json:"updated"`
	Version            string              `json:"version"`
	Complexity         string              `json:"complexity,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	Author             string              `json:"author,omitempty"`
	Critical           bool                `json:"critical,omitempty"`
	PerformanceMetrics *PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// PerformanceMetrics mirrors the aggregate numbers the learning recorder
// derives; when present in a file they are advisory only.
type PerformanceMetrics struct {
	AvgExecutionTime float64 `json:"avg_execution_time"`
	SuccessRate      float64 `json:"success_rate"`
	UsageCount       int64   `json:"usage_count"`
}

// Parameter declares a single named input of a tool.
type Parameter struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Default     any               `json:"default,omitempty"`
	Constraints *ParamConstraints `json:"constraints,omitempty"`
}

// ParamConstraints bounds a parameter value.
type ParamConstraints struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// Parameters splits a tool's declared inputs into required and optional.
type Parameters struct {
	Required []Parameter `json:"required"`
	Optional []Parameter `json:"optional"`
}

// Command is one step of a tool's execution sequence. Action is an opaque
// key into the host-provided action table.
type Command struct {
	Action        string         `json:"action"`
	Description   string         `json:"description,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Timeout       float64        `json:"timeout,omitempty"` // seconds
	Retry         int            `json:"retry,omitempty"`
	Condition     string         `json:"condition,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
}

// ErrorHandler selects a recovery strategy for a class of command failures.
type ErrorHandler struct {
	ErrorType          string `json:"error_type"`
	Strategy           string `json:"strategy"`
	Action             string `json:"action,omitempty"`
	Escalation         string `json:"escalation,omitempty"`
	MaxRetries         int    `json:"max_retries,omitempty"`
	ExponentialBackoff bool   `json:"exponential_backoff,omitempty"`
}

// ExecValidation carries the pre/post conditions and error handling chain of
// a tool's execution block.
type ExecValidation struct {
	PreConditions  []string       `json:"pre_conditions,omitempty"`
	PostConditions []string       `json:"post_conditions,omitempty"`
	ErrorHandling  []ErrorHandler `json:"error_handling,omitempty"`
}

// Execution is the runnable part of a tool.
type Execution struct {
	Strategy   string         `json:"strategy"`
	Commands   []Command      `json:"commands"`
	Validation ExecValidation `json:"validation,omitempty"`
}

// Tool is an invocable, parameterized unit of work.
type Tool struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category"`
	Parameters  Parameters `json:"parameters"`
	Execution   Execution  `json:"execution"`
	Metadata    Metadata   `json:"metadata"`
}

// PatternContext describes when and why a pattern applies.
type PatternContext struct {
	WhenToUse    string   `json:"when_to_use,omitempty"`
	Benefits     []string `json:"benefits,omitempty"`
	TradeOffs    []string `json:"trade_offs,omitempty"`
	AntiPatterns []string `json:"anti_patterns,omitempty"`
}

// ExecutableStep binds a pattern step to a registered tool.
type ExecutableStep struct {
	Name       string         `json:"name"`
	ToolID     string         `json:"toolId"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Optional   bool           `json:"optional,omitempty"`
}

// Implementation holds the ordered steps of a pattern; descriptive steps and
// executable steps may coexist, executable steps take precedence.
type Implementation struct {
	Steps           []string         `json:"steps,omitempty"`
	ExecutableSteps []ExecutableStep `json:"executable_steps,omitempty"`
}

// Pattern is an ordered multi-step workflow.
type Pattern struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Category       string         `json:"category,omitempty"`
	Description    string         `json:"description,omitempty"`
	Context        PatternContext `json:"context,omitempty"`
	Implementation Implementation `json:"implementation"`
	Metadata       Metadata       `json:"metadata"`
}

// ConstraintValidation is the declarative ruleset of a constraint.
type ConstraintValidation struct {
	Rules    any      `json:"rules"`
	Severity string   `json:"severity"`
	Scope    []string `json:"scope,omitempty"`
}

// ConstraintEnforcement decides how violations are acted on.
type ConstraintEnforcement struct {
	AutoFix         bool `json:"auto_fix,omitempty"`
	RequireApproval bool `json:"require_approval,omitempty"`
	Blocking        bool `json:"blocking,omitempty"`
}

// Constraint is a declarative quality rule evaluated against a scope.
type Constraint struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Category    string                `json:"category"`
	Description string                `json:"description,omitempty"`
	Validation  ConstraintValidation  `json:"validation"`
	Enforcement ConstraintEnforcement `json:"enforcement"`
	Metadata    Metadata              `json:"metadata"`
}

// PolicyEnforcement configures when and how a governance policy applies.
type PolicyEnforcement struct {
	Level           string   `json:"level"`
	Automated       bool     `json:"automated,omitempty"`
	ValidationRules []string `json:"validation_rules,omitempty"`
}

// PolicyScope restricts where a governance policy applies.
type PolicyScope struct {
	AppliesTo    []string `json:"applies_to,omitempty"`
	Environments []string `json:"environments,omitempty"`
	Exceptions   []string `json:"exceptions,omitempty"`
}

// GovernancePolicy is evaluated at component admission and execution time.
type GovernancePolicy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	PolicyType  string            `json:"policy_type"`
	Enforcement PolicyEnforcement `json:"enforcement"`
	Scope       PolicyScope       `json:"scope,omitempty"`
	Metadata    Metadata          `json:"metadata"`
}

// Learning is a durable insight record, distinct from the execution log.
type Learning struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Content     string   `json:"content,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// VariantContext carries the behavioral profile of a variant.
type VariantContext struct {
	Persona     string   `json:"persona,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Anchors binds a variant to other components by ID.
type Anchors struct {
	Constraints []string `json:"constraints,omitempty"`
	Governance  []string `json:"governance,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
	Learnings   []string `json:"learnings,omitempty"`
}

// Variant is a session-orchestration profile.
type Variant struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Category     string         `json:"category,omitempty"`
	Instructions string         `json:"instructions"`
	Rules        []string       `json:"rules,omitempty"`
	Context      VariantContext `json:"context,omitempty"`
	Targets      []string       `json:"targets,omitempty"`
	Anchors      Anchors        `json:"anchors"`
	Metadata     Metadata       `json:"metadata"`
}
