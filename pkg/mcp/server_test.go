package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/force/core/pkg/config"
	"github.com/Mindburn-Labs/force/core/pkg/engine"
	"github.com/Mindburn-Labs/force/core/pkg/schema"
)

func toolJSON(id, category string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"category": %q,
		"parameters": {"required": [], "optional": []},
		"execution": {"strategy": "sequential", "commands": [{"action": "noop", "description": "does nothing"}]},
		"metadata": {"version": "1.0.0", "created": "2025-01-01T00:00:00Z", "updated": "2025-01-02T00:00:00Z"}
	}`, id, id, category)
}

func newServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, schema.WriteDefaults(root, false))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tools"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "tools", "greet.json"), []byte(toolJSON("greet", "testing")), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "tools", "commit.json"), []byte(toolJSON("commit", "git")), 0o644))

	cfg := config.Default()
	cfg.Root = root
	eng, err := engine.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	require.NoError(t, eng.Start(context.Background()))

	return NewServer(eng, ServerInfo{Name: "force", Version: "test"}, nil)
}

func call(t *testing.T, s *Server, msg string) *Response {
	t.Helper()
	return s.HandleMessage(context.Background(), []byte(msg))
}

// resultText unwraps the single text content block of a tools/call result.
func resultText(t *testing.T, resp *Response) (string, bool) {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*ToolsCallResult)
	require.True(t, ok)
	require.NotEmpty(t, result.Content)
	return result.Content[0].Text, result.IsError
}

func TestInitializeHandshake(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test-client"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	init, ok := resp.Result.(*InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "force", init.ServerInfo.Name)
	assert.NotNil(t, init.Capabilities.Tools)
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Nil(t, resp)
}

func TestParseErrorResponse(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{not json`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParse, resp.Error.Code)
}

func TestMethodNotFound(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestToolsListAdvertisesForceSurface(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	list, ok := resp.Result.(*ToolsListResult)
	require.True(t, ok)

	names := make(map[string]bool)
	for _, def := range list.Tools {
		names[def.Name] = true
		assert.NotEmpty(t, def.Description)
		assert.True(t, json.Valid(def.InputSchema), "inputSchema of %s", def.Name)
	}
	for _, want := range []string{
		"force_list_tools", "force_execute_tool", "force_list_patterns",
		"force_apply_pattern", "force_check_constraints", "force_get_insights",
		"force_validate_components", "force_fix_components", "force_sync",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestForceListToolsWithFilter(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"force_list_tools","arguments":{"filter":{"category":"git"}}}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var payload struct {
		Tools []map[string]any `json:"tools"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, "commit", payload.Tools[0]["id"])
}

func TestForceExecuteTool(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"force_execute_tool","arguments":{"toolId":"greet"}}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var result struct {
		ToolID  string `json:"tool_id"`
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "greet", result.ToolID)
	assert.Equal(t, "success", result.Outcome)
}

func TestForceExecuteToolDryRun(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"force_execute_tool","arguments":{"toolId":"greet","dryRun":true}}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var result struct {
		DryRun         bool `json:"dry_run"`
		CommandResults []struct {
			Output string `json:"output"`
		} `json:"command_results"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.True(t, result.DryRun)
	require.Len(t, result.CommandResults, 1)
	assert.Equal(t, "does nothing", result.CommandResults[0].Output)
}

func TestForceExecuteUnknownToolIsError(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"force_execute_tool","arguments":{"toolId":"ghost"}}}`)
	text, isError := resultText(t, resp)
	assert.True(t, isError, "failed executions surface as tool errors, not RPC errors")
	assert.Contains(t, text, "not_found")
}

func TestForceGetInsights(t *testing.T) {
	s := newServer(t)
	call(t, s, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"force_execute_tool","arguments":{"toolId":"greet"}}}`)
	s.eng.Recorder().Flush()

	resp := call(t, s, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"force_get_insights","arguments":{"filters":{"refId":"greet"}}}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var payload struct {
		Count     int `json:"count"`
		Aggregate *struct {
			UsageCount int `json:"usage_count"`
		} `json:"aggregate"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, 1, payload.Count)
	require.NotNil(t, payload.Aggregate)
	assert.Equal(t, 1, payload.Aggregate.UsageCount)
}

func TestForceValidateComponents(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"force_validate_components"}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var report struct {
		State    string         `json:"state"`
		Admitted map[string]int `json:"admitted"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &report))
	assert.Equal(t, "ready", report.State)
	assert.Equal(t, 2, report.Admitted["tool"])
}

func TestForceCheckConstraintsEmptyRegistry(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"force_check_constraints","arguments":{"scope":{"files":["a.go"]}}}}`)
	text, isError := resultText(t, resp)
	assert.False(t, isError)

	var payload struct {
		Count    int  `json:"count"`
		Blocking bool `json:"blocking"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	assert.Equal(t, 0, payload.Count)
	assert.False(t, payload.Blocking)
}

func TestUnknownForceToolIsToolError(t *testing.T) {
	s := newServer(t)
	resp := call(t, s, `{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"force_rewrite_history"}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error, "unknown tools surface as isError results")

	result, ok := resp.Result.(*ToolsCallResult)
	require.True(t, ok)
	assert.True(t, result.IsError)
}
