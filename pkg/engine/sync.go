package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// SyncDirection selects how component files are reorganized.
type SyncDirection string

const (
	// SyncSplit explodes aggregate files into one file per component.
	SyncSplit SyncDirection = "split"
	// SyncMerge folds single-component files into one aggregate per kind.
	SyncMerge SyncDirection = "merge"
)

// SyncReport lists what a sync pass wrote and retired.
type SyncReport struct {
	Direction SyncDirection `json:"direction"`
	Written   []string      `json:"written,omitempty"`
	Retired   []string      `json:"retired,omitempty"`
	BackupDir string        `json:"backup_dir,omitempty"`
}

// Sync reorganizes component files on disk and reloads the registry, so
// callers observe either the old layout or the new one, never a mix.
// Retired files move into a timestamped backup tree rather than being
// deleted.
func (e *Engine) Sync(ctx context.Context, direction SyncDirection) (*SyncReport, error) {
	if direction == "" {
		direction = SyncSplit
	}
	report := &SyncReport{Direction: direction}
	backupDir := filepath.Join(e.cfg.Root, ".backup",
		"sync-"+time.Now().UTC().Format("2006-01-02T15-04-05Z"))

	var err error
	switch direction {
	case SyncSplit:
		err = e.syncSplit(report, backupDir)
	case SyncMerge:
		err = e.syncMerge(report, backupDir)
	default:
		return nil, force.NewError(force.KindParameterError, "unknown sync direction %q", direction)
	}
	if err != nil {
		return report, err
	}

	if _, err := e.Reload(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) syncSplit(report *SyncReport, backupDir string) error {
	for _, kind := range force.Kinds {
		dir := filepath.Join(e.cfg.Root, force.DirFor(kind))
		files, err := componentFiles(dir)
		if err != nil {
			return err
		}
		for _, path := range files {
			items, isAggregate, err := readAggregate(path)
			if err != nil {
				e.logger.Warn("sync: unreadable file skipped", "path", path, "error", err)
				continue
			}
			if !isAggregate {
				continue
			}
			for _, item := range items {
				id, _ := item["id"].(string)
				if id == "" {
					e.logger.Warn("sync: aggregate item without id skipped", "path", path)
					continue
				}
				target := filepath.Join(dir, id+".json")
				if err := writeComponent(target, item); err != nil {
					return err
				}
				report.Written = append(report.Written, target)
			}
			if err := retire(path, e.cfg.Root, backupDir); err != nil {
				return err
			}
			report.Retired = append(report.Retired, path)
			report.BackupDir = backupDir
		}
	}
	return nil
}

func (e *Engine) syncMerge(report *SyncReport, backupDir string) error {
	for _, kind := range force.Kinds {
		dir := filepath.Join(e.cfg.Root, force.DirFor(kind))
		files, err := componentFiles(dir)
		if err != nil {
			return err
		}

		var items []map[string]any
		var singles []string
		for _, path := range files {
			raw, err := readSingle(path)
			if err != nil || raw == nil {
				continue
			}
			items = append(items, raw)
			singles = append(singles, path)
		}
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool {
			a, _ := items[i]["id"].(string)
			b, _ := items[j]["id"].(string)
			return a < b
		})

		target := filepath.Join(dir, force.AggregateKeyFor(kind)+".json")
		aggregate := map[string]any{force.AggregateKeyFor(kind): items}
		if err := writeComponent(target, aggregate); err != nil {
			return err
		}
		report.Written = append(report.Written, target)

		for _, path := range singles {
			if path == target {
				continue
			}
			if err := retire(path, e.cfg.Root, backupDir); err != nil {
				return err
			}
			report.Retired = append(report.Retired, path)
			report.BackupDir = backupDir
		}
	}
	return nil
}

func componentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync: read %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// readAggregate parses a file and returns its items when it is an aggregate
// of a known component kind.
func readAggregate(path string) ([]map[string]any, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false, err
	}
	if _, hasID := obj["id"]; hasID {
		return nil, false, nil
	}
	for key, v := range obj {
		if force.KindForAggregateKey(key) == force.KindUnknown {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		items := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items, true, nil
	}
	return nil, false, nil
}

// readSingle parses a file and returns its object when it is a single
// component, nil when it is an aggregate.
func readSingle(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if _, hasID := obj["id"]; hasID {
		return obj, nil
	}
	return nil, nil
}

func writeComponent(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("sync: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("sync: write %s: %w", path, err)
	}
	return nil
}

// retire moves a file into the backup tree, preserving its relative path.
func retire(path, root, backupDir string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	target := filepath.Join(backupDir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("sync: backup dir: %w", err)
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("sync: retire %s: %w", path, err)
	}
	return nil
}
