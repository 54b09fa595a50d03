package autofix

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// FileReport describes what one fix pass did to one file.
type FileReport struct {
	Path       string       `json:"path"`
	BackupPath string       `json:"backup_path,omitempty"`
	Applied    []AppliedFix `json:"applied_fixes,omitempty"`
	Degraded   bool         `json:"degraded,omitempty"`
	Raced      bool         `json:"raced_with_external_edit,omitempty"`
	Unchanged  bool         `json:"unchanged,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Report summarizes a whole fix run.
type Report struct {
	StartedAt time.Time    `json:"started_at"`
	BackupDir string       `json:"backup_dir,omitempty"`
	DryRun    bool         `json:"dry_run,omitempty"`
	Files     []FileReport `json:"files"`
	Fixed     int          `json:"fixed"`
	Unchanged int          `json:"unchanged"`
	Failed    int          `json:"failed"`
}

// Fixer rewrites near-miss component files in place, copying the pre-fix
// bytes into a timestamped backup tree first. It is the only writer of
// component files; a per-path lock guards the backup+rewrite window.
type Fixer struct {
	root     string
	denylist []string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a fixer rooted at the component directory. A nil denylist
// selects DefaultDenylist.
func New(root string, denylist []string, logger *slog.Logger) *Fixer {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixer{root: root, denylist: denylist, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (f *Fixer) lockFor(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[path]
	if !ok {
		l = &sync.Mutex{}
		f.locks[path] = l
	}
	return l
}

// Run applies the rule set to every given file. In dry-run mode nothing is
// written and no backups are taken; the report still lists what would fire.
func (f *Fixer) Run(paths []string, dryRun bool) *Report {
	report := &Report{StartedAt: time.Now().UTC(), DryRun: dryRun}
	backupDir := filepath.Join(f.root, ".backup", report.StartedAt.Format("2006-01-02T15-04-05Z"))
	if !dryRun {
		report.BackupDir = backupDir
	}

	seen := make(map[string]bool)
	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true
		fr := f.fixFile(path, backupDir, dryRun)
		report.Files = append(report.Files, fr)
		switch {
		case fr.Error != "":
			report.Failed++
		case fr.Unchanged:
			report.Unchanged++
		default:
			report.Fixed++
		}
	}
	return report
}

// fixFile reads, repairs, and rewrites one file. The on-disk mtime is
// re-checked before the write; an external edit inside the window discards
// the fix and reports the race.
func (f *Fixer) fixFile(path, backupDir string, dryRun bool) FileReport {
	lock := f.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	fr := FileReport{Path: path}

	original, err := os.ReadFile(path)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	info, err := os.Stat(path)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	mtime := info.ModTime()

	fixedDoc, applied, degraded, err := f.applyToFile(original, mtime)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	fr.Applied = applied
	fr.Degraded = degraded

	if len(applied) == 0 {
		fr.Unchanged = true
		return fr
	}

	// Byte-level no-op check on canonical form; metadata stubs always change
	// bytes, so this only short-circuits cosmetic re-runs.
	if same, err := canonicalEqual(original, fixedDoc); err == nil && same {
		fr.Unchanged = true
		return fr
	}

	if dryRun {
		return fr
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	backupPath := filepath.Join(backupDir, rel)
	if err := writeBackup(backupPath, original); err != nil {
		fr.Error = err.Error()
		return fr
	}
	fr.BackupPath = backupPath

	// Race check: an external edit between read and write wins.
	if now, err := os.Stat(path); err != nil || !now.ModTime().Equal(mtime) {
		fr.Raced = true
		fr.Error = string(force.KindReloadRace)
		f.logger.Warn("autofix: fix discarded, file changed externally", "path", path)
		return fr
	}

	out, err := json.MarshalIndent(fixedDoc, "", "  ")
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		fr.Error = err.Error()
		return fr
	}
	f.logger.Info("autofix: file repaired", "path", path, "fixes", len(applied), "backup", backupPath)
	return fr
}

// applyToFile runs the rules over a single-component file or over every
// element of an aggregate file.
func (f *Fixer) applyToFile(data []byte, mtime time.Time) (any, []AppliedFix, bool, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, false, force.WrapError(force.KindParseError, err, "autofix: unparseable file")
	}

	switch v := doc.(type) {
	case map[string]any:
		if _, hasID := v["id"]; hasID {
			out := Apply(v, mtime, f.denylist)
			return out.Fixed, out.Applied, out.Degraded, nil
		}
		// Aggregate object: fix each element of every known aggregate array.
		var applied []AppliedFix
		degraded := false
		fixed := make(map[string]any, len(v))
		for key, val := range v {
			items, ok := val.([]any)
			if !ok || force.KindForAggregateKey(key) == force.KindUnknown {
				fixed[key] = val
				continue
			}
			fixedItems := make([]any, len(items))
			for i, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					fixedItems[i] = item
					continue
				}
				out := Apply(obj, mtime, f.denylist)
				fixedItems[i] = out.Fixed
				applied = append(applied, out.Applied...)
				degraded = degraded || out.Degraded
			}
			fixed[key] = fixedItems
		}
		return fixed, applied, degraded, nil
	case []any:
		var applied []AppliedFix
		degraded := false
		fixedItems := make([]any, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				fixedItems[i] = item
				continue
			}
			out := Apply(obj, mtime, f.denylist)
			fixedItems[i] = out.Fixed
			applied = append(applied, out.Applied...)
			degraded = degraded || out.Degraded
		}
		return fixedItems, applied, degraded, nil
	default:
		return nil, nil, false, force.NewError(force.KindParseError, "autofix: top-level value is neither object nor array")
	}
}

func canonicalEqual(original []byte, fixed any) (bool, error) {
	fixedJSON, err := json.Marshal(fixed)
	if err != nil {
		return false, err
	}
	a, err := jcs.Transform(original)
	if err != nil {
		return false, err
	}
	b, err := jcs.Transform(fixedJSON)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

func writeBackup(backupPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(backupPath, data, 0o644)
}
