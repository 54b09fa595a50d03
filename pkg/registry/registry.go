// Package registry is the authoritative in-memory store of admitted
// components. Readers observe immutable snapshots; reloads build a shadow
// snapshot and swap it in atomically, so no caller ever sees a half-swapped
// registry.
package registry

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
)

// ErrNotFound is returned for lookups of unknown or quarantined components.
var ErrNotFound = force.NewError(force.KindNotFound, "component not found")

// Filter narrows a List call.
type Filter struct {
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Query      string   `json:"query,omitempty"` // substring on name/description
}

// Snapshot is one immutable generation of the registry. All maps are
// written only while the snapshot is being built.
type Snapshot struct {
	SchemaType string
	LoadedAt   time.Time

	admitted    map[force.Kind]map[string]*component.Record
	quarantined map[force.Kind]map[string]*component.Record
}

// NewSnapshot creates an empty snapshot tagged with the active schema type.
func NewSnapshot(schemaType string) *Snapshot {
	s := &Snapshot{
		SchemaType:  schemaType,
		LoadedAt:    time.Now().UTC(),
		admitted:    make(map[force.Kind]map[string]*component.Record),
		quarantined: make(map[force.Kind]map[string]*component.Record),
	}
	for _, k := range force.Kinds {
		s.admitted[k] = make(map[string]*component.Record)
		s.quarantined[k] = make(map[string]*component.Record)
	}
	return s
}

// Admit stores a valid record. Records arrive in lexicographic path order;
// a second record with an admitted ID is quarantined as a duplicate rather
// than replacing the first.
func (s *Snapshot) Admit(rec *component.Record) {
	if _, taken := s.admitted[rec.Kind][rec.ID]; taken {
		rec.Fail(component.Issue{
			Kind:    force.KindDuplicateID,
			Path:    ".id",
			Message: "duplicate id " + rec.ID + " (first occurrence wins)",
		})
		s.Quarantine(rec)
		return
	}
	s.admitted[rec.Kind][rec.ID] = rec
}

// Quarantine stores an invalid record; quarantined components are never
// returned by Get or List.
func (s *Snapshot) Quarantine(rec *component.Record) {
	key := rec.ID
	if key == "" {
		key = rec.Path
	}
	if _, taken := s.quarantined[rec.Kind][key]; taken {
		key = key + "@" + rec.Path
	}
	s.quarantined[rec.Kind][key] = rec
}

// Get returns a clone of an admitted component.
func (s *Snapshot) Get(kind force.Kind, id string) (*component.Record, error) {
	rec, ok := s.admitted[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns clones of admitted components of one kind, sorted by ID.
// A nil filter returns everything.
func (s *Snapshot) List(kind force.Kind, filter *Filter) []*component.Record {
	var out []*component.Record
	for _, rec := range s.admitted[kind] {
		if filter.matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quarantined returns clones of quarantined records of one kind, with their
// diagnostics, for reports and the startup gate.
func (s *Snapshot) Quarantined(kind force.Kind) []*component.Record {
	var out []*component.Record
	for _, rec := range s.quarantined[kind] {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts reports admitted vs quarantined totals for one kind.
func (s *Snapshot) Counts(kind force.Kind) (admitted, quarantined int) {
	return len(s.admitted[kind]), len(s.quarantined[kind])
}

func (f *Filter) matches(rec *component.Record) bool {
	if f == nil {
		return true
	}
	if f.Category != "" {
		if cat, _ := rec.Raw["category"].(string); cat != f.Category {
			return false
		}
	}
	md := rec.Metadata()
	if f.Complexity != "" && md.Complexity != f.Complexity {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range md.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Query != "" {
		name, _ := rec.Raw["name"].(string)
		desc, _ := rec.Raw["description"].(string)
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(name), q) && !strings.Contains(strings.ToLower(desc), q) {
			return false
		}
	}
	return true
}

// Registry holds the current snapshot behind an atomic pointer.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New creates a registry primed with an empty snapshot.
func New() *Registry {
	r := &Registry{}
	r.current.Store(NewSnapshot(""))
	return r
}

// Snapshot returns the current generation. Executions capture it once and
// resolve against it throughout, so a concurrent swap never changes their
// view mid-flight.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Swap atomically publishes a fully built shadow snapshot.
func (r *Registry) Swap(s *Snapshot) {
	r.current.Store(s)
}

// Get resolves against the current snapshot.
func (r *Registry) Get(kind force.Kind, id string) (*component.Record, error) {
	return r.Snapshot().Get(kind, id)
}

// List resolves against the current snapshot.
func (r *Registry) List(kind force.Kind, filter *Filter) []*component.Record {
	return r.Snapshot().List(kind, filter)
}
