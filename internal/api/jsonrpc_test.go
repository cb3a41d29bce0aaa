package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diffsec/knowsync/internal/circuitbreaker"
	"github.com/diffsec/knowsync/internal/embedding"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/ratelimit"
	"github.com/diffsec/knowsync/internal/syncengine"
)

func newTestToolServer(t *testing.T) (*ToolServer, *project.Registry, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(x):\n    return x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := project.NewRegistry(filepath.Join(t.TempDir(), "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Upsert(project.Project{ID: "p1", LocalPath: root, SyncStatus: project.StatusNeverSynced}); err != nil {
		t.Fatal(err)
	}

	fs := newFakeStore()
	limiter := ratelimit.New(1000, time.Minute)
	embedder := embedding.NewBatchEmbedder(stubProvider{}, limiter)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig)
	engine := syncengine.New(fs, reg, embedder, breakers)

	return NewToolServer(reg, engine, fs), reg, root
}

func callTool(t *testing.T, ts *ToolServer, name string, args map[string]any) RPCResponse {
	t.Helper()
	params, err := json.Marshal(toolCallParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	req := RPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params}
	return ts.HandleRequest(context.Background(), req)
}

func TestToolsListReturnsFiveTools(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := ts.HandleRequest(context.Background(), RPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}
	tools, ok := result["tools"].([]toolDef)
	if !ok || len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %#v", result["tools"])
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := ts.HandleRequest(context.Background(), RPCRequest{JSONRPC: "2.0", ID: 1, Method: "bogus"})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestToolsCallMissingRequiredFieldIsInvalidParams(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := callTool(t, ts, "get_project_sync_status", map[string]any{})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestToolsCallUnknownToolIsMethodNotFound(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := callTool(t, ts, "does_not_exist", map[string]any{"project_id": "p1"})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestSyncProjectCodebaseToolSyncsAndReturnsStats(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := callTool(t, ts, "sync_project_codebase", map[string]any{"project_id": "p1"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["success"] != true {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestGetProjectSyncStatusToolReportsMissingProject(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := callTool(t, ts, "get_project_sync_status", map[string]any{"project_id": "nope"})
	if resp.Error != nil {
		t.Fatalf("unexpected JSON-RPC error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["success"] != false {
		t.Fatalf("expected success:false for missing project, got %+v", result)
	}
}

func TestListProjectFilesAndGetFileContentAfterSync(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	if resp := callTool(t, ts, "sync_project_codebase", map[string]any{"project_id": "p1"}); resp.Error != nil {
		t.Fatalf("sync failed: %+v", resp.Error)
	}

	resp := callTool(t, ts, "list_project_files", map[string]any{"project_id": "p1"})
	result := resp.Result.(map[string]any)
	files, ok := result["files"].([]string)
	if !ok || len(files) != 1 {
		t.Fatalf("expected one synced file, got %+v", result)
	}

	resp = callTool(t, ts, "get_file_content", map[string]any{"project_id": "p1", "file_path": "a.py"})
	result = resp.Result.(map[string]any)
	if result["success"] != true || result["content"] != "def f(x):\n    return x\n" {
		t.Fatalf("unexpected get_file_content result: %+v", result)
	}
}

func TestGetFileContentRejectsPathEscape(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	resp := callTool(t, ts, "get_file_content", map[string]any{"project_id": "p1", "file_path": "../../etc/passwd"})
	result := resp.Result.(map[string]any)
	if result["success"] != false {
		t.Fatalf("expected path escape to be rejected, got %+v", result)
	}
}

func TestSearchProjectCodeFindsSubstring(t *testing.T) {
	ts, _, _ := newTestToolServer(t)
	if resp := callTool(t, ts, "sync_project_codebase", map[string]any{"project_id": "p1"}); resp.Error != nil {
		t.Fatalf("sync failed: %+v", resp.Error)
	}
	resp := callTool(t, ts, "search_project_code", map[string]any{"project_id": "p1", "query": "return x"})
	result := resp.Result.(map[string]any)
	if result["success"] != true || result["count"].(int) == 0 {
		t.Fatalf("expected at least one match, got %+v", result)
	}
}
