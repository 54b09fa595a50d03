package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/force/core/pkg/component"
	"github.com/Mindburn-Labs/force/core/pkg/force"
)

func toolRecord(id, path string, extra map[string]any) *component.Record {
	raw := map[string]any{
		"id":         id,
		"name":       id,
		"parameters": map[string]any{},
		"execution":  map[string]any{},
	}
	for k, v := range extra {
		raw[k] = v
	}
	return component.NewRecord(force.KindTool, path, raw)
}

func TestAdmitAndGet(t *testing.T) {
	snap := NewSnapshot("strict")
	snap.Admit(toolRecord("alpha", "tools/alpha.json", nil))

	rec, err := snap.Get(force.KindTool, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.ID)

	_, err = snap.Get(force.KindTool, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = snap.Get(force.KindPattern, "alpha")
	assert.ErrorIs(t, err, ErrNotFound, "kinds are separate namespaces")
}

func TestDuplicateIDFirstWins(t *testing.T) {
	snap := NewSnapshot("strict")
	first := toolRecord("alpha", "tools/a/alpha.json", map[string]any{"name": "First"})
	second := toolRecord("alpha", "tools/b/alpha.json", map[string]any{"name": "Second"})
	snap.Admit(first)
	snap.Admit(second)

	rec, err := snap.Get(force.KindTool, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "First", rec.Raw["name"])

	quarantined := snap.Quarantined(force.KindTool)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "tools/b/alpha.json", quarantined[0].Path)
	require.NotEmpty(t, quarantined[0].Issues)
	assert.Equal(t, force.KindDuplicateID, quarantined[0].Issues[0].Kind)

	admitted, quarantinedN := snap.Counts(force.KindTool)
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, quarantinedN)
}

func TestGetReturnsClone(t *testing.T) {
	snap := NewSnapshot("strict")
	snap.Admit(toolRecord("alpha", "tools/alpha.json", nil))

	rec, err := snap.Get(force.KindTool, "alpha")
	require.NoError(t, err)
	rec.Raw["name"] = "mutated"

	again, err := snap.Get(force.KindTool, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", again.Raw["name"], "caller mutation must not leak back")
}

func TestListSortsAndFilters(t *testing.T) {
	snap := NewSnapshot("strict")
	snap.Admit(toolRecord("charlie", "tools/c.json", map[string]any{
		"category": "testing",
		"metadata": map[string]any{"tags": []any{"ci", "fast"}},
	}))
	snap.Admit(toolRecord("alpha", "tools/a.json", map[string]any{
		"category":    "git",
		"description": "commit helper",
	}))
	snap.Admit(toolRecord("bravo", "tools/b.json", map[string]any{
		"category": "testing",
	}))

	all := snap.List(force.KindTool, nil)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].ID)
	assert.Equal(t, "bravo", all[1].ID)
	assert.Equal(t, "charlie", all[2].ID)

	testing_ := snap.List(force.KindTool, &Filter{Category: "testing"})
	require.Len(t, testing_, 2)

	tagged := snap.List(force.KindTool, &Filter{Tags: []string{"ci", "fast"}})
	require.Len(t, tagged, 1)
	assert.Equal(t, "charlie", tagged[0].ID)

	assert.Empty(t, snap.List(force.KindTool, &Filter{Tags: []string{"ci", "slow"}}),
		"all requested tags must match")

	byQuery := snap.List(force.KindTool, &Filter{Query: "COMMIT"})
	require.Len(t, byQuery, 1)
	assert.Equal(t, "alpha", byQuery[0].ID)
}

func TestQuarantinedNeverListed(t *testing.T) {
	snap := NewSnapshot("strict")
	bad := toolRecord("broken", "tools/broken.json", nil)
	bad.Fail(component.Issue{Kind: force.KindSchemaError, Message: "missing metadata"})
	snap.Quarantine(bad)

	assert.Empty(t, snap.List(force.KindTool, nil))
	_, err := snap.Get(force.KindTool, "broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuarantineKeyFallsBackToPath(t *testing.T) {
	snap := NewSnapshot("strict")
	noID := component.NewRecord(force.KindTool, "tools/anon.json", map[string]any{})
	snap.Quarantine(noID)
	snap.Quarantine(component.NewRecord(force.KindTool, "tools/anon2.json", map[string]any{}))

	assert.Len(t, snap.Quarantined(force.KindTool), 2)
}

func TestSwapPublishesAtomically(t *testing.T) {
	reg := New()
	old := reg.Snapshot()
	assert.Empty(t, old.List(force.KindTool, nil))

	next := NewSnapshot("extended")
	next.Admit(toolRecord("alpha", "tools/alpha.json", nil))
	reg.Swap(next)

	rec, err := reg.Get(force.KindTool, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.ID)

	// The captured pre-swap snapshot still serves its own generation.
	assert.Empty(t, old.List(force.KindTool, nil))
	assert.Equal(t, "extended", reg.Snapshot().SchemaType)
}
