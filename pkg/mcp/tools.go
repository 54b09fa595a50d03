package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/constraint"
	"github.com/Mindburn-Labs/force/core/pkg/engine"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/learning"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
	"github.com/Mindburn-Labs/force/core/pkg/runtime"
	"github.com/Mindburn-Labs/force/core/pkg/validate"
)

func parseTime(s string) (time.Time, error) {
	return validate.ParseTimestamp(s)
}

func engineDirection(s string) engine.SyncDirection {
	return engine.SyncDirection(s)
}

// toolDefinitions lists the force_* surface advertised on tools/list.
func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "force_list_tools",
			Description: "List admitted tools with their metadata and parameters. Accepts an optional filter on category, tags, complexity, or a free-text query.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"filter":{"type":"object","properties":{"category":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}},"complexity":{"type":"string"},"query":{"type":"string"}}}}}`),
		},
		{
			Name:        "force_execute_tool",
			Description: "Execute a tool by id. In dryRun mode parameters are bound and validated but every action resolves to a no-op returning its description.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"toolId":{"type":"string"},"parameters":{"type":"object"},"context":{"type":"object"},"dryRun":{"type":"boolean"}},"required":["toolId"]}`),
		},
		{
			Name:        "force_list_patterns",
			Description: "List admitted patterns. Accepts the same optional filter as force_list_tools.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"filter":{"type":"object","properties":{"category":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}},"complexity":{"type":"string"},"query":{"type":"string"}}}}}`),
		},
		{
			Name:        "force_apply_pattern",
			Description: "Apply a pattern by id, running its executable steps in declared order.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"patternId":{"type":"string"},"context":{"type":"object"},"parameterOverrides":{"type":"object"}},"required":["patternId"]}`),
		},
		{
			Name:        "force_check_constraints",
			Description: "Evaluate admitted constraints against a scope of files, component ids, or an arbitrary payload.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"scope":{"type":"object","properties":{"files":{"type":"array","items":{"type":"string"}},"components":{"type":"array","items":{"type":"string"}},"payload":{"type":"object"}}}},"required":["scope"]}`),
		},
		{
			Name:        "force_get_insights",
			Description: "Query the execution log, optionally aggregated per component.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"filters":{"type":"object","properties":{"refId":{"type":"string"},"outcome":{"type":"string"},"since":{"type":"string"},"until":{"type":"string"},"limit":{"type":"integer"}}}}}`),
		},
		{
			Name:        "force_validate_components",
			Description: "Re-run the full load and validation cycle and return the validation report.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "force_fix_components",
			Description: "Run the auto-fixer over invalid component files. In dryRun mode nothing is written.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"dryRun":{"type":"boolean"}}}`),
		},
		{
			Name:        "force_sync",
			Description: "Reorganize component files: split aggregates into single-component files, or merge singles into one aggregate per kind. Direction defaults to split.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"direction":{"type":"string","enum":["split","merge"]}}}`),
		},
	}
}

type listArgs struct {
	Filter *struct {
		Category   string   `json:"category"`
		Tags       []string `json:"tags"`
		Complexity string   `json:"complexity"`
		Query      string   `json:"query"`
	} `json:"filter"`
}

type executeArgs struct {
	ToolID     string         `json:"toolId"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context"`
	DryRun     bool           `json:"dryRun"`
}

type applyArgs struct {
	PatternID          string         `json:"patternId"`
	Context            map[string]any `json:"context"`
	ParameterOverrides map[string]any `json:"parameterOverrides"`
}

type checkArgs struct {
	Scope constraint.Scope `json:"scope"`
}

type insightsArgs struct {
	Filters *struct {
		RefID   string `json:"refId"`
		Outcome string `json:"outcome"`
		Since   string `json:"since"`
		Until   string `json:"until"`
		Limit   int    `json:"limit"`
	} `json:"filters"`
}

type fixArgs struct {
	DryRun bool `json:"dryRun"`
}

type syncArgs struct {
	Direction string `json:"direction"`
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (*ToolsCallResult, error) {
	switch name {
	case "force_list_tools":
		return s.listComponents(force.KindTool, args)
	case "force_execute_tool":
		return s.executeTool(ctx, args)
	case "force_list_patterns":
		return s.listComponents(force.KindPattern, args)
	case "force_apply_pattern":
		return s.applyPattern(ctx, args)
	case "force_check_constraints":
		return s.checkConstraints(ctx, args)
	case "force_get_insights":
		return s.getInsights(args)
	case "force_validate_components":
		return s.validateComponents(ctx)
	case "force_fix_components":
		return s.fixComponents(ctx, args)
	case "force_sync":
		return s.sync(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func (s *Server) listComponents(kind force.Kind, args json.RawMessage) (*ToolsCallResult, error) {
	var la listArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &la); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}
	var filter *registry.Filter
	if la.Filter != nil {
		filter = &registry.Filter{
			Category:   la.Filter.Category,
			Tags:       la.Filter.Tags,
			Complexity: la.Filter.Complexity,
			Query:      la.Filter.Query,
		}
	}

	records := s.eng.Registry().List(kind, filter)
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Raw)
	}
	return JSONResult(map[string]any{
		string(kind) + "s": out,
		"count":            len(out),
	})
}

func (s *Server) executeTool(ctx context.Context, args json.RawMessage) (*ToolsCallResult, error) {
	var ea executeArgs
	if err := json.Unmarshal(args, &ea); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if ea.ToolID == "" {
		return nil, fmt.Errorf("toolId is required")
	}
	ec := runtime.NewExecContext(ea.Context, ea.DryRun)
	result := s.eng.ExecuteTool(ctx, ea.ToolID, ea.Parameters, ec)
	res, err := JSONResult(result)
	if err != nil {
		return nil, err
	}
	res.IsError = result.Outcome == force.OutcomeFailure || result.Outcome == force.OutcomeCancelled
	return res, nil
}

func (s *Server) applyPattern(ctx context.Context, args json.RawMessage) (*ToolsCallResult, error) {
	var pa applyArgs
	if err := json.Unmarshal(args, &pa); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if pa.PatternID == "" {
		return nil, fmt.Errorf("patternId is required")
	}
	ec := runtime.NewExecContext(pa.Context, false)
	result := s.eng.ApplyPattern(ctx, pa.PatternID, pa.ParameterOverrides, ec)
	res, err := JSONResult(result)
	if err != nil {
		return nil, err
	}
	res.IsError = result.Outcome == force.OutcomeFailure || result.Outcome == force.OutcomeCancelled
	return res, nil
}

func (s *Server) checkConstraints(ctx context.Context, args json.RawMessage) (*ToolsCallResult, error) {
	var ca checkArgs
	if err := json.Unmarshal(args, &ca); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	violations, err := s.eng.CheckConstraints(ctx, ca.Scope)
	if err != nil {
		return nil, err
	}
	return JSONResult(map[string]any{
		"violations": violations,
		"count":      len(violations),
		"blocking":   constraint.Blocking(violations),
	})
}

func (s *Server) getInsights(args json.RawMessage) (*ToolsCallResult, error) {
	var ia insightsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &ia); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	var filter learning.QueryFilter
	if ia.Filters != nil {
		filter.RefID = ia.Filters.RefID
		filter.Outcome = force.Outcome(ia.Filters.Outcome)
		filter.Limit = ia.Filters.Limit
		if ia.Filters.Since != "" {
			t, err := parseTime(ia.Filters.Since)
			if err != nil {
				return nil, fmt.Errorf("invalid since: %w", err)
			}
			filter.Since = t
		}
		if ia.Filters.Until != "" {
			t, err := parseTime(ia.Filters.Until)
			if err != nil {
				return nil, fmt.Errorf("invalid until: %w", err)
			}
			filter.Until = t
		}
	}

	records, err := s.eng.Recorder().Query(filter)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"records": records,
		"count":   len(records),
	}
	if filter.RefID != "" {
		if agg, ok := s.eng.Recorder().Aggregate(filter.RefID); ok {
			payload["aggregate"] = agg
		}
	}
	return JSONResult(payload)
}

func (s *Server) validateComponents(ctx context.Context) (*ToolsCallResult, error) {
	report, err := s.eng.Reload(ctx)
	if err != nil {
		return nil, err
	}
	return JSONResult(report)
}

func (s *Server) fixComponents(ctx context.Context, args json.RawMessage) (*ToolsCallResult, error) {
	var fa fixArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &fa); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	report, err := s.eng.FixComponents(ctx, fa.DryRun)
	if err != nil {
		return nil, err
	}
	return JSONResult(report)
}

func (s *Server) sync(ctx context.Context, args json.RawMessage) (*ToolsCallResult, error) {
	var sa syncArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &sa); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	report, err := s.eng.Sync(ctx, engineDirection(sa.Direction))
	if err != nil {
		return nil, err
	}
	return JSONResult(report)
}
