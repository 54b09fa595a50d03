package autofix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureMtime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestMigrateFlatParameterList(t *testing.T) {
	doc := map[string]any{
		"id": "legacy_tool",
		"parameters": []any{
			map[string]any{"name": "target", "type": "string", "required": true},
			map[string]any{"name": "verbose", "type": "boolean", "required": false},
		},
	}
	out := Apply(doc, fixtureMtime, nil)

	params, ok := out.Fixed["parameters"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, params["required"], 1)
	assert.Len(t, params["optional"], 1)

	// The required flag itself is dropped.
	first := params["required"].([]any)[0].(map[string]any)
	_, hasFlag := first["required"]
	assert.False(t, hasFlag)

	// Input map is untouched.
	_, stillFlat := doc["parameters"].([]any)
	assert.True(t, stillFlat)
}

func TestRenameParametersFollowsCommandRefs(t *testing.T) {
	doc := map[string]any{
		"id": "legacy_tool",
		"parameters": map[string]any{
			"required": []any{map[string]any{"name": "filePath", "type": "string"}},
			"optional": []any{},
		},
		"execution": map[string]any{
			"strategy": "sequential",
			"commands": []any{
				map[string]any{
					"action":     "noop",
					"parameters": map[string]any{"filePath": "{{filePath}}"},
				},
			},
		},
	}
	out := Apply(doc, fixtureMtime, nil)

	p := out.Fixed["parameters"].(map[string]any)["required"].([]any)[0].(map[string]any)
	assert.Equal(t, "file_path", p["name"])

	cp := out.Fixed["execution"].(map[string]any)["commands"].([]any)[0].(map[string]any)["parameters"].(map[string]any)
	_, old := cp["filePath"]
	assert.False(t, old)
	assert.Contains(t, cp, "file_path")
}

func TestDefaultStrategyAndPlaceholder(t *testing.T) {
	doc := map[string]any{
		"id":        "empty_tool",
		"execution": map[string]any{},
	}
	out := Apply(doc, fixtureMtime, nil)

	exec := out.Fixed["execution"].(map[string]any)
	assert.Equal(t, "sequential", exec["strategy"])
	commands := exec["commands"].([]any)
	require.Len(t, commands, 1)
	assert.Equal(t, "noop", commands[0].(map[string]any)["action"])
	assert.True(t, out.Degraded, "placeholder command degrades the component")
}

func TestMetadataStubUsesMtime(t *testing.T) {
	doc := map[string]any{"id": "bare_tool"}
	out := Apply(doc, fixtureMtime, nil)

	md := out.Fixed["metadata"].(map[string]any)
	assert.Equal(t, "2025-03-10T12:00:00Z", md["created"])
	assert.Equal(t, "2025-03-10T12:00:00Z", md["updated"])
	assert.Equal(t, "1.0.0", md["version"])
}

func TestStripLegacyFields(t *testing.T) {
	doc := map[string]any{
		"id":        "old_tool",
		"legacy_id": "OLD-1",
		"_comment":  "do not ship",
	}
	out := Apply(doc, fixtureMtime, DefaultDenylist)
	_, a := out.Fixed["legacy_id"]
	_, b := out.Fixed["_comment"]
	assert.False(t, a)
	assert.False(t, b)
}

func TestApplyIsIdempotent(t *testing.T) {
	doc := map[string]any{
		"id": "legacy_tool",
		"parameters": []any{
			map[string]any{"name": "filePath", "type": "string", "required": false},
		},
		"execution": map[string]any{},
		"legacy_id": "OLD-2",
	}
	first := Apply(doc, fixtureMtime, DefaultDenylist)
	require.NotEmpty(t, first.Applied)

	second := Apply(first.Fixed, fixtureMtime, DefaultDenylist)
	assert.Empty(t, second.Applied, "second pass must change nothing")
	assert.Equal(t, first.Fixed, second.Fixed)
}

func TestApplyNoopOnCleanDocument(t *testing.T) {
	doc := map[string]any{
		"id": "clean_tool",
		"parameters": map[string]any{
			"required": []any{map[string]any{"name": "target", "type": "string"}},
			"optional": []any{},
		},
		"execution": map[string]any{
			"strategy": "sequential",
			"commands": []any{map[string]any{"action": "noop"}},
		},
		"metadata": map[string]any{
			"version": "2.1.0",
			"created": "2025-01-01T00:00:00Z",
			"updated": "2025-01-02T00:00:00Z",
		},
	}
	out := Apply(doc, fixtureMtime, DefaultDenylist)
	assert.Empty(t, out.Applied)
	assert.Equal(t, doc, out.Fixed)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"filePath":  "file_path",
		"FilePath":  "file_path",
		"file-path": "file_path",
		"file path": "file_path",
		"file.path": "file_path",
		"file_path": "file_path",
		"maxHTTP":   "max_http",
		"a":         "a",
		"dirV2Name": "dir_v2_name",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), "input %q", in)
	}
}
