// Package engine assembles the component pipeline: load, validate, fix,
// admit, serve. It owns the registry swap, the startup gate, and the
// validation report, and hands the MCP surface one object to call into.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/autofix"
	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/config"
	"github.com/Mindburn-Labs/force/core/pkg/constraint"
	"github.com/Mindburn-Labs/force/core/pkg/force"
	"github.com/Mindburn-Labs/force/core/pkg/governance"
	"github.com/Mindburn-Labs/force/core/pkg/learning"
	"github.com/Mindburn-Labs/force/core/pkg/loader"
	"github.com/Mindburn-Labs/force/core/pkg/observability"
	"github.com/Mindburn-Labs/force/core/pkg/pattern"
	"github.com/Mindburn-Labs/force/core/pkg/registry"
	"github.com/Mindburn-Labs/force/core/pkg/runtime"
	"github.com/Mindburn-Labs/force/core/pkg/schema"
	"github.com/Mindburn-Labs/force/core/pkg/validate"
)

// State is the engine lifecycle phase.
type State string

const (
	StateLoading    State = "loading"
	StateValidating State = "validating"
	StateFixing     State = "fixing"
	StateReady      State = "ready"
	StateBlocked    State = "blocked"
)

// QuarantineEntry is one rejected component in the validation report.
type QuarantineEntry struct {
	Kind   force.Kind        `json:"kind"`
	ID     string            `json:"id,omitempty"`
	Path   string            `json:"path"`
	Issues []component.Issue `json:"issues"`
}

// ValidationReport is written to <root>/validation_report.json after every
// load cycle.
type ValidationReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	SchemaType  string             `json:"schema_type"`
	Mode        force.Mode         `json:"mode"`
	State       State              `json:"state"`
	Admitted    map[force.Kind]int `json:"admitted"`
	Quarantined []QuarantineEntry  `json:"quarantined,omitempty"`
	Skipped     []loader.FileError `json:"skipped_files,omitempty"`
	FixReport   *autofix.Report    `json:"fix_report,omitempty"`
	Critical    []string           `json:"critical_invalid,omitempty"`
}

// Engine wires the whole pipeline.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store       *schema.Store
	loader      *loader.Loader
	validator   *validate.Validator
	fixer       *autofix.Fixer
	reg         *registry.Registry
	gate        *governance.Gate
	recorder    *learning.Recorder
	metrics     *observability.Metrics
	actions     *runtime.ActionTable
	rt          *runtime.Runtime
	patterns    *pattern.Engine
	constraints *constraint.Engine

	mu     sync.Mutex // serializes load cycles and sync
	state  State
	report *ValidationReport
}

// New builds an engine from configuration. A missing schema is fatal: the
// returned error unwraps to force.KindSchemaMissing so the binary can map
// it to its exit code.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := schema.Load(cfg.Root)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	recorder, err := learning.Open(cfg.Root, cfg.LogRotationBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: open learning store: %w", err)
	}
	gate, err := governance.New(reg, recorder, cfg.Mode, logger)
	if err != nil {
		return nil, err
	}
	metrics := observability.New()
	actions := runtime.NewActionTable()

	rt, err := runtime.New(reg, actions, recorder, metrics, gate, logger, runtime.Options{
		Workers:         cfg.MaxWorkers,
		BreakerCooldown: time.Duration(cfg.BreakerCooldownS) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	constraints, err := constraint.NewEngine(reg, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		loader:      loader.New(cfg.Root, cfg.MaxWorkers),
		validator:   validate.New(store),
		fixer:       autofix.New(cfg.Root, nil, logger),
		reg:         reg,
		gate:        gate,
		recorder:    recorder,
		metrics:     metrics,
		actions:     actions,
		rt:          rt,
		patterns:    pattern.NewEngine(reg, rt, recorder, metrics, logger),
		constraints: constraints,
		state:       StateLoading,
	}
	return e, nil
}

// Actions exposes the action table for host registration before Start.
func (e *Engine) Actions() *runtime.ActionTable { return e.actions }

// Runtime exposes the execution runtime for predicate and scheduler hooks.
func (e *Engine) Runtime() *runtime.Runtime { return e.rt }

// Constraints exposes the constraint engine for evaluator registration.
func (e *Engine) Constraints() *constraint.Engine { return e.constraints }

// Registry exposes the component registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Recorder exposes the learning store.
func (e *Engine) Recorder() *learning.Recorder { return e.recorder }

// Mode reports the configured operating mode.
func (e *Engine) Mode() force.Mode { return e.cfg.Mode }

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Report returns the most recent validation report.
func (e *Engine) Report() *ValidationReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Start seals the action table and runs the first load cycle. In production
// mode an invalid critical tool blocks startup; the returned error unwraps
// to force.KindPreconditionFailed so the binary maps it to its exit code.
func (e *Engine) Start(ctx context.Context) error {
	e.actions.Seal()
	report, err := e.loadCycle(ctx, e.cfg.AutoFixOnStart)
	if err != nil {
		return err
	}
	if report.State == StateBlocked {
		return force.NewError(force.KindPreconditionFailed,
			"startup blocked: critical components invalid in production mode: %v", report.Critical)
	}
	if len(report.Quarantined) > 0 {
		e.logger.Warn("engine: serving with quarantined components",
			"quarantined", len(report.Quarantined), "mode", e.cfg.Mode)
	}
	return nil
}

// Reload re-runs the load cycle and atomically swaps the registry. In-flight
// executions keep the snapshot they started with.
func (e *Engine) Reload(ctx context.Context) (*ValidationReport, error) {
	return e.loadCycle(ctx, false)
}

// FixComponents runs the auto-fixer over every currently invalid component
// file, then reloads unless dry-run.
func (e *Engine) FixComponents(ctx context.Context, dryRun bool) (*autofix.Report, error) {
	result, err := e.loader.Discover(ctx)
	if err != nil {
		return nil, err
	}
	paths := e.invalidPaths(result.Records)
	report := e.fixer.Run(paths, dryRun)
	if !dryRun {
		if _, err := e.loadCycle(ctx, false); err != nil {
			return report, err
		}
	}
	return report, nil
}

// ExecuteTool runs a tool through the runtime.
func (e *Engine) ExecuteTool(ctx context.Context, toolID string, params map[string]any, ec *runtime.ExecContext) *runtime.Result {
	return e.rt.Execute(ctx, toolID, params, ec)
}

// ApplyPattern applies a pattern through the pattern engine.
func (e *Engine) ApplyPattern(ctx context.Context, patternID string, params map[string]any, ec *runtime.ExecContext) *pattern.Result {
	return e.patterns.Apply(ctx, patternID, params, ec)
}

// CheckConstraints evaluates constraints against a scope.
func (e *Engine) CheckConstraints(ctx context.Context, scope constraint.Scope) ([]constraint.Violation, error) {
	return e.constraints.Check(ctx, scope)
}

// loadCycle is the single entry point for (re)loading components. It builds
// a shadow snapshot and swaps it in only when fully populated.
func (e *Engine) loadCycle(ctx context.Context, withFix bool) (*ValidationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateLoading
	result, err := e.loader.Discover(ctx)
	if err != nil {
		return nil, err
	}

	e.state = StateValidating
	e.validateAll(result.Records)

	var fixReport *autofix.Report
	if withFix {
		if paths := e.invalidPaths(result.Records); len(paths) > 0 {
			e.state = StateFixing
			fixReport = e.fixer.Run(paths, false)
			e.state = StateValidating
			result, err = e.loader.Discover(ctx)
			if err != nil {
				return nil, err
			}
			e.validateAll(result.Records)
		}
	}

	snap := e.admit(ctx, result.Records)
	report := e.buildReport(snap, result, fixReport)

	e.reg.Swap(snap)
	admitted, quarantined := 0, 0
	for _, k := range force.Kinds {
		a, q := snap.Counts(k)
		admitted += a
		quarantined += q
	}
	e.metrics.ReloadCompleted(ctx, admitted, quarantined)

	e.state = report.State
	e.report = report
	e.writeReport(report)
	e.logger.Info("engine: load cycle complete",
		"state", report.State, "admitted", admitted, "quarantined", quarantined,
		"schema", report.SchemaType)
	return report, nil
}

func (e *Engine) validateAll(records []*component.Record) {
	for _, rec := range records {
		e.validator.Validate(rec)
	}
	e.validator.CrossCheck(records)
}

func (e *Engine) invalidPaths(records []*component.Record) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, rec := range records {
		if !rec.Valid && !seen[rec.Path] {
			seen[rec.Path] = true
			paths = append(paths, rec.Path)
		}
	}
	return paths
}

// admit builds the shadow snapshot: governance admission runs against the
// policy set of this same cycle, so policy edits take effect atomically
// with the components they govern.
func (e *Engine) admit(ctx context.Context, records []*component.Record) *registry.Snapshot {
	snap := registry.NewSnapshot(string(e.store.Type()))

	var policies []*component.GovernancePolicy
	for _, rec := range records {
		if rec.Kind != force.KindGovernance || !rec.Valid {
			continue
		}
		pol, err := rec.AsGovernancePolicy()
		if err != nil {
			continue
		}
		policies = append(policies, pol)
	}

	for _, rec := range records {
		if !rec.Valid {
			snap.Quarantine(rec)
			continue
		}
		if err := e.gate.AdmitOK(ctx, policies, rec); err != nil {
			rec.Fail(component.Issue{
				Kind:    force.KindPolicyDenied,
				Path:    ".",
				Message: err.Error(),
			})
			snap.Quarantine(rec)
			continue
		}
		snap.Admit(rec)
	}
	return snap
}

func (e *Engine) buildReport(snap *registry.Snapshot, result *loader.Result, fixReport *autofix.Report) *ValidationReport {
	report := &ValidationReport{
		GeneratedAt: time.Now().UTC(),
		SchemaType:  string(e.store.Type()),
		Mode:        e.cfg.Mode,
		Admitted:    make(map[force.Kind]int),
		Skipped:     result.Skipped,
		FixReport:   fixReport,
	}
	for _, k := range force.Kinds {
		admitted, _ := snap.Counts(k)
		report.Admitted[k] = admitted
		for _, rec := range snap.Quarantined(k) {
			report.Quarantined = append(report.Quarantined, QuarantineEntry{
				Kind: k, ID: rec.ID, Path: rec.Path, Issues: rec.Issues,
			})
			if rec.Kind == force.KindTool && rec.Metadata().Critical {
				report.Critical = append(report.Critical, rec.ID)
			}
		}
	}

	if len(report.Critical) > 0 && e.cfg.Mode == force.ModeProduction {
		report.State = StateBlocked
	} else {
		report.State = StateReady
	}
	return report
}

func (e *Engine) writeReport(report *ValidationReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		e.logger.Warn("engine: validation report marshal failed", "error", err)
		return
	}
	path := filepath.Join(e.cfg.Root, "validation_report.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		e.logger.Warn("engine: validation report write failed", "path", path, "error", err)
	}
}

// Close releases the learning store.
func (e *Engine) Close() error {
	return e.recorder.Close()
}
