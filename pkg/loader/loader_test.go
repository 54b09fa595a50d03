package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/force/core/pkg/force"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverSingleAndAggregate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tools/alpha.json", `{"id":"alpha","parameters":{},"execution":{}}`)
	writeFile(t, root, "tools/bundle.json", `{"tools":[
		{"id":"bravo","parameters":{},"execution":{}},
		{"id":"charlie","parameters":{},"execution":{}}
	]}`)
	writeFile(t, root, "patterns/list.json", `[
		{"id":"delta","implementation":{}}
	]`)

	result, err := New(root, 2).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 4)
	assert.Empty(t, result.Skipped)

	ids := make([]string, 0, 4)
	for _, rec := range result.Records {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"delta", "alpha", "bravo", "charlie"}, ids,
		"lexicographic path order, aggregate position preserved")
	assert.Equal(t, force.KindPattern, result.Records[0].Kind)
}

func TestDiscoverOrderIsDeterministic(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"zeta", "alpha", "mike"} {
		writeFile(t, root, "tools/"+name+".json", `{"id":"`+name+`","parameters":{},"execution":{}}`)
	}

	first, err := New(root, 4).Discover(context.Background())
	require.NoError(t, err)
	second, err := New(root, 1).Discover(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(first.Records), len(second.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].Path, second.Records[i].Path)
	}
}

func TestDiscoverSkipsHiddenAndNonJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tools/real.json", `{"id":"real","parameters":{},"execution":{}}`)
	writeFile(t, root, "tools/.hidden.json", `{"id":"hidden","parameters":{},"execution":{}}`)
	writeFile(t, root, "tools/notes.md", "not a component")
	writeFile(t, root, "tools/.backup/old.json", `{"id":"old","parameters":{},"execution":{}}`)

	result, err := New(root, 0).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "real", result.Records[0].ID)
}

func TestDiscoverReportsParseErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tools/good.json", `{"id":"good","parameters":{},"execution":{}}`)
	writeFile(t, root, "tools/broken.json", `{"id": "broken",`)

	result, err := New(root, 0).Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, force.KindParseError, result.Skipped[0].Kind)
	assert.Contains(t, result.Skipped[0].Path, "broken.json")
}

func TestClassifierOverridesDirectoryHint(t *testing.T) {
	root := t.TempDir()
	// A pattern document misfiled under tools/ classifies as a pattern.
	writeFile(t, root, "tools/misfiled.json", `{"id":"misfiled","implementation":{"steps":["a"]}}`)

	result, err := New(root, 0).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, force.KindPattern, result.Records[0].Kind)
}

func TestDiscoverEmptyRoot(t *testing.T) {
	result, err := New(t.TempDir(), 0).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Skipped)
}
