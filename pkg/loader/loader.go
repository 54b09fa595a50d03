// Package loader discovers and parses component files beneath a configured
// root. Parsing fans out over a bounded worker pool; parse failures are
// reported per file and never abort the load.
package loader

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// FileError reports a file that was discovered but could not be loaded.
type FileError struct {
	Path  string          `json:"path"`
	Kind  force.ErrorKind `json:"kind"`
	Error string          `json:"error"`
}

// Result is the outcome of one discovery pass. Records are ordered by
// lexicographic path (then position within aggregate files), which is the
// order duplicate-ID resolution relies on.
type Result struct {
	Records []*component.Record `json:"records"`
	Skipped []FileError         `json:"skipped,omitempty"`
}

// Loader enumerates the component subtrees of a root directory.
type Loader struct {
	root    string
	workers int
}

// New creates a loader. workers <= 0 selects the CPU count.
func New(root string, workers int) *Loader {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Loader{root: root, workers: workers}
}

// Discover walks every component subtree, parses each .json file, flattens
// aggregate files, and returns the records in lexicographic path order.
func (l *Loader) Discover(ctx context.Context) (*Result, error) {
	paths, err := l.enumerate()
	if err != nil {
		return nil, err
	}

	type fileResult struct {
		records []*component.Record
		skipped *FileError
	}
	results := make([]fileResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, p := range paths {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			recs, ferr := parseFile(p.path, p.hint)
			if ferr != nil {
				results[i] = fileResult{skipped: ferr}
				return nil
			}
			results[i] = fileResult{records: recs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{}
	for _, r := range results {
		if r.skipped != nil {
			out.Skipped = append(out.Skipped, *r.skipped)
			continue
		}
		out.Records = append(out.Records, r.records...)
	}
	return out, nil
}

type discovered struct {
	path string
	hint force.Kind
}

// enumerate lists candidate files in sorted order. Hidden entries and
// non-.json files are ignored; missing subtrees are not an error.
func (l *Loader) enumerate() ([]discovered, error) {
	var found []discovered
	for _, kind := range force.Kinds {
		dir := filepath.Join(l.root, force.DirFor(kind))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") {
				if d.IsDir() && path != dir {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(name, ".json") {
				return nil
			}
			found = append(found, discovered{path: path, hint: kind})
			return nil
		})
		if err != nil {
			return nil, force.WrapError(force.KindInternal, err, "loader: walk %s", dir)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	return found, nil
}

// parseFile decodes one file into component records. A file holds either a
// single component object or an aggregate ({"tools":[...]} etc.).
func parseFile(path string, hint force.Kind) ([]*component.Record, *FileError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Kind: force.KindParseError, Error: err.Error()}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &FileError{Path: path, Kind: force.KindParseError, Error: err.Error()}
	}

	switch v := doc.(type) {
	case map[string]any:
		if items, ok := aggregateItems(v); ok {
			return wrapAll(items, path, hint), nil
		}
		return []*component.Record{wrap(v, path, hint)}, nil
	case []any:
		return wrapAll(v, path, hint), nil
	default:
		return nil, &FileError{Path: path, Kind: force.KindParseError, Error: "top-level value is neither object nor array"}
	}
}

// aggregateItems detects an aggregate file: an object whose only component
// content is an array under a known aggregate key.
func aggregateItems(obj map[string]any) ([]any, bool) {
	// A document with its own id is a single component even if it happens to
	// contain an array field named like an aggregate key.
	if _, hasID := obj["id"]; hasID {
		return nil, false
	}
	for _, kind := range force.Kinds {
		key := force.AggregateKeyFor(kind)
		if items, ok := obj[key].([]any); ok {
			return items, true
		}
	}
	return nil, false
}

func wrapAll(items []any, path string, hint force.Kind) []*component.Record {
	records := make([]*component.Record, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, wrap(obj, path, hint))
	}
	return records
}

// wrap builds a record, preferring the document's own discriminator over the
// directory hint so misfiled components are still classified correctly.
func wrap(obj map[string]any, path string, hint force.Kind) *component.Record {
	kind := component.Classify(obj)
	if kind == force.KindUnknown {
		kind = hint
	}
	return component.NewRecord(kind, path, obj)
}

// Mtime returns a file's modification time in UnixNano, or 0 when the file
// is not statable. The auto-fixer uses it for external-edit race detection.
func Mtime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
