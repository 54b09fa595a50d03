package component

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// Issue is one validation diagnostic attached to a record.
type Issue struct {
	Kind    force.ErrorKind `json:"kind"`
	Path    string          `json:"path,omitempty"`
	Message string          `json:"message"`
}

// Record is the registry envelope around one component document. Raw is the
// parsed JSON object; the typed view is decoded on demand and cached.
type Record struct {
	Kind   force.Kind     `json:"kind"`
	ID     string         `json:"id"`
	Path   string         `json:"path,omitempty"`
	Raw    map[string]any `json:"component"`
	Valid  bool           `json:"valid"`
	Issues []Issue        `json:"errors,omitempty"`

	decoded any
}

// NewRecord wraps a parsed document. The ID is read from the document's
// top-level "id" field; records without one get an empty ID and are expected
// to fail validation.
func NewRecord(kind force.Kind, path string, raw map[string]any) *Record {
	id, _ := raw["id"].(string)
	return &Record{Kind: kind, ID: id, Path: path, Raw: raw}
}

// Fail marks the record invalid and appends diagnostics.
func (r *Record) Fail(issues ...Issue) {
	r.Valid = false
	r.Issues = append(r.Issues, issues...)
}

// decode round-trips Raw through JSON into the typed view.
func (r *Record) decode(v any) error {
	b, err := json.Marshal(r.Raw)
	if err != nil {
		return fmt.Errorf("component %s: re-marshal: %w", r.ID, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("component %s: decode as %s: %w", r.ID, r.Kind, err)
	}
	return nil
}

// AsTool returns the typed tool view of the record.
func (r *Record) AsTool() (*Tool, error) {
	if t, ok := r.decoded.(*Tool); ok {
		return t, nil
	}
	t := &Tool{}
	if err := r.decode(t); err != nil {
		return nil, err
	}
	r.decoded = t
	return t, nil
}

// AsPattern returns the typed pattern view of the record.
func (r *Record) AsPattern() (*Pattern, error) {
	if p, ok := r.decoded.(*Pattern); ok {
		return p, nil
	}
	p := &Pattern{}
	if err := r.decode(p); err != nil {
		return nil, err
	}
	r.decoded = p
	return p, nil
}

// AsConstraint returns the typed constraint view of the record.
func (r *Record) AsConstraint() (*Constraint, error) {
	if c, ok := r.decoded.(*Constraint); ok {
		return c, nil
	}
	c := &Constraint{}
	if err := r.decode(c); err != nil {
		return nil, err
	}
	r.decoded = c
	return c, nil
}

// AsGovernancePolicy returns the typed policy view of the record.
func (r *Record) AsGovernancePolicy() (*GovernancePolicy, error) {
	if g, ok := r.decoded.(*GovernancePolicy); ok {
		return g, nil
	}
	g := &GovernancePolicy{}
	if err := r.decode(g); err != nil {
		return nil, err
	}
	r.decoded = g
	return g, nil
}

// AsVariant returns the typed variant view of the record.
func (r *Record) AsVariant() (*Variant, error) {
	if v, ok := r.decoded.(*Variant); ok {
		return v, nil
	}
	v := &Variant{}
	if err := r.decode(v); err != nil {
		return nil, err
	}
	r.decoded = v
	return v, nil
}

// Metadata extracts the shared metadata block without a full typed decode.
func (r *Record) Metadata() Metadata {
	var m struct {
		Metadata Metadata `json:"metadata"`
	}
	_ = r.decode(&m)
	return m.Metadata
}

// Clone returns a deep copy of the record with an independent Raw map, so
// callers can never mutate the registry's canonical copy.
func (r *Record) Clone() *Record {
	cp := &Record{Kind: r.Kind, ID: r.ID, Path: r.Path, Valid: r.Valid}
	cp.Issues = append([]Issue(nil), r.Issues...)
	b, err := json.Marshal(r.Raw)
	if err == nil {
		var raw map[string]any
		if json.Unmarshal(b, &raw) == nil {
			cp.Raw = raw
		}
	}
	return cp
}
