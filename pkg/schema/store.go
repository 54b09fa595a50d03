// Package schema loads and holds the master component schema. Two variants
// exist on disk: the strict schema (closed enums for category, strategies,
// severity, and parameter types) and the extended schema (the same structure
// with those enums opened to free strings carrying examples). The extended
// schema wins when both are present.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
)

//go:embed schemas/force-schema.json
var defaultStrict []byte

//go:embed schemas/force-extended-schema.json
var defaultExtended []byte

// Type tags which schema variant is active.
type Type string

const (
	TypeStrict   Type = "strict"
	TypeExtended Type = "extended"
)

const (
	strictFile   = "force-schema.json"
	extendedFile = "force-extended-schema.json"
)

// definition names inside the master schema, by component kind.
var defNames = map[force.Kind]string{
	force.KindTool:       "tool",
	force.KindPattern:    "pattern",
	force.KindConstraint: "constraint",
	force.KindGovernance: "governance_policy",
	force.KindLearning:   "learning",
	force.KindVariant:    "variant",
}

// Store holds the compiled per-kind validators of the active schema.
// It is initialized once at startup and immutable thereafter.
type Store struct {
	schemaType Type
	path       string
	compiled   map[force.Kind]*jsonschema.Schema
}

// Load reads the active schema from <root>/schemas. Missing both variants is
// a hard startup error of kind schema_missing.
func Load(root string) (*Store, error) {
	dir := filepath.Join(root, "schemas")

	if data, err := os.ReadFile(filepath.Join(dir, extendedFile)); err == nil {
		s, err := compile(data, extendedFile)
		if err != nil {
			return nil, err
		}
		s.schemaType = TypeExtended
		s.path = filepath.Join(dir, extendedFile)
		return s, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, strictFile))
	if err != nil {
		return nil, force.WrapError(force.KindSchemaMissing, err,
			"no component schema under %s (looked for %s and %s)", dir, extendedFile, strictFile)
	}
	s, err := compile(data, strictFile)
	if err != nil {
		return nil, err
	}
	s.schemaType = TypeStrict
	s.path = filepath.Join(dir, strictFile)
	return s, nil
}

func compile(data []byte, name string) (*Store, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	url := "https://force.schemas.local/" + name
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, force.WrapError(force.KindSchemaError, err, "schema %s not loadable", name)
	}

	compiled := make(map[force.Kind]*jsonschema.Schema, len(defNames))
	for kind, def := range defNames {
		s, err := c.Compile(url + "#/definitions/" + def)
		if err != nil {
			return nil, force.WrapError(force.KindSchemaError, err, "schema %s: compile definition %q", name, def)
		}
		compiled[kind] = s
	}
	return &Store{compiled: compiled}, nil
}

// Type reports which schema variant is active.
func (s *Store) Type() Type { return s.schemaType }

// Path reports the on-disk location of the active schema.
func (s *Store) Path() string { return s.path }

// Validate checks a raw document against the active schema's definition for
// the expected kind. Diagnostics carry JSON-pointer-ish paths.
func (s *Store) Validate(raw map[string]any, kind force.Kind) []component.Issue {
	compiled, ok := s.compiled[kind]
	if !ok {
		return []component.Issue{{
			Kind:    force.KindSchemaError,
			Message: fmt.Sprintf("no schema definition for kind %q", kind),
		}}
	}
	if err := compiled.Validate(raw); err != nil {
		return flatten(err)
	}
	return nil
}

// flatten converts the library's nested validation error into leaf issues.
func flatten(err error) []component.Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []component.Issue{{Kind: force.KindSchemaError, Message: err.Error()}}
	}

	var issues []component.Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			issues = append(issues, component.Issue{
				Kind:    force.KindSchemaError,
				Path:    pointerPath(e.InstanceLocation),
				Message: e.Message,
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

// pointerPath renders "/a/b/0" as ".a.b[0]" for readable reports.
func pointerPath(loc string) string {
	if loc == "" {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(loc, "/"), "/")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if isDigits(p) {
			fmt.Fprintf(&b, "[%s]", p)
		} else {
			b.WriteByte('.')
			b.WriteString(p)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// WriteDefaults installs the embedded schema files under <root>/schemas.
// Used by `force init` and by tests building fixture roots. Existing files
// are left alone.
func WriteDefaults(root string, includeExtended bool) error {
	dir := filepath.Join(root, "schemas")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("schema: create %s: %w", dir, err)
	}
	files := map[string][]byte{strictFile: defaultStrict}
	if includeExtended {
		files[extendedFile] = defaultExtended
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("schema: write %s: %w", path, err)
		}
	}
	return nil
}
