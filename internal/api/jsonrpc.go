package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/store"
	"github.com/diffsec/knowsync/internal/syncengine"
)

// JSON-RPC 2.0 error codes per spec.md §6.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// RPCRequest is one JSON-RPC 2.0 request, grounded on
// vjache-cie/cmd/cie/mcp.go's jsonRPCRequest.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is the JSON-RPC 2.0 response counterpart.
type RPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func errorResponse(id any, code int, message string, data any) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// toolCallParams is the params object of a tools/call request.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolDef describes one tool's JSON Schema input, grounded on
// vjache-cie/cmd/cie/mcp.go's getTools table.
type toolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type toolHandlerFunc func(t *ToolServer, ctx context.Context, args map[string]any) (map[string]any, error)

// ToolServer is the JSON-RPC 2.0 tool surface of spec.md §6, exposing the
// five named tools over both stdio and HTTP transports (the transport is
// the caller's concern: ServeHTTP here, a stdin/stdout loop in cmd/).
type ToolServer struct {
	Registry *project.Registry
	Engine   *syncengine.Engine
	Store    store.KnowledgeStore
}

// NewToolServer builds a ToolServer.
func NewToolServer(reg *project.Registry, engine *syncengine.Engine, st store.KnowledgeStore) *ToolServer {
	return &ToolServer{Registry: reg, Engine: engine, Store: st}
}

// HandleRequest dispatches one JSON-RPC request and returns its response.
// Unlike vjache-cie's mcp.go (which wraps every tool result in MCP
// content-blocks), spec.md §6 requires each tool's raw {success, ...}
// object as the JSON-RPC result directly, so tools/call here returns the
// handler's map unwrapped.
func (t *ToolServer) HandleRequest(ctx context.Context, req RPCRequest) RPCResponse {
	switch req.Method {
	case "tools/list":
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": toolDefs()}}

	case "tools/call":
		var params toolCallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
			}
		}
		def, handler, ok := lookupTool(params.Name)
		if !ok {
			return errorResponse(req.ID, codeMethodNotFound, "Method not found", params.Name)
		}
		if err := validateAgainstSchema(def.InputSchema, params.Arguments); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
		}

		result, err := handler(t, ctx, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, codeInternalError, "Internal error", err.Error())
		}
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}

	default:
		return errorResponse(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}
}

// ServeHTTP is the HTTP transport for the tool interface (spec.md §6 says
// "stdio or HTTP"); the stdio transport lives in cmd/ as a line-delimited
// read loop over os.Stdin, grounded the same way vjache-cie/cmd/cie/mcp.go's
// serveMCPLoop reads one JSON-RPC request per line.
func (t *ToolServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCResponse(w, errorResponse(nil, codeParseError, "Parse error", err.Error()))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCResponse(w, errorResponse(req.ID, codeInvalidRequest, "Invalid Request", nil))
		return
	}
	writeRPCResponse(w, t.HandleRequest(r.Context(), req))
}

func writeRPCResponse(w http.ResponseWriter, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func lookupTool(name string) (toolDef, toolHandlerFunc, bool) {
	for _, d := range toolDefs() {
		if d.Name == name {
			return d, toolHandlers[name], true
		}
	}
	return toolDef{}, nil, false
}

var toolHandlers = map[string]toolHandlerFunc{
	"sync_project_codebase":  (*ToolServer).syncProjectCodebase,
	"search_project_code":    (*ToolServer).searchProjectCode,
	"get_project_sync_status": (*ToolServer).getProjectSyncStatus,
	"list_project_files":     (*ToolServer).listProjectFiles,
	"get_file_content":       (*ToolServer).getFileContent,
}

// toolDefs mirrors project_sync_tools.py's MCP_TOOLS table (original_source),
// translated from pydantic Field schemas into JSON Schema literals the same
// shape vjache-cie/cmd/cie/mcp.go's getTools hand-writes them.
func toolDefs() []toolDef {
	return []toolDef{
		{
			Name:        "sync_project_codebase",
			Description: "Trigger synchronization of a project's codebase to the knowledge store.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id":    map[string]any{"type": "string", "description": "ID of the project to sync"},
					"trigger":       map[string]any{"type": "string", "enum": []string{"manual", "auto", "git-hook"}, "default": "manual"},
					"changed_files": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"project_id"},
			},
		},
		{
			Name:        "search_project_code",
			Description: "Search for text within a project's synced codebase.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id":  map[string]any{"type": "string", "description": "ID of the project to search"},
					"query":       map[string]any{"type": "string", "description": "Search text"},
					"match_count": map[string]any{"type": "integer", "default": 5},
					"file_filter": map[string]any{"type": "string", "description": "Optional glob filter, e.g. '*.py'"},
				},
				"required": []string{"project_id", "query"},
			},
		},
		{
			Name:        "get_project_sync_status",
			Description: "Get synchronization status for a project.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"project_id": map[string]any{"type": "string"}},
				"required":   []string{"project_id"},
			},
		},
		{
			Name:        "list_project_files",
			Description: "List all files in a synced project.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id":  map[string]any{"type": "string"},
					"file_filter": map[string]any{"type": "string"},
				},
				"required": []string{"project_id"},
			},
		},
		{
			Name:        "get_file_content",
			Description: "Get the content of a specific file from a synced project.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id": map[string]any{"type": "string"},
					"file_path":  map[string]any{"type": "string", "description": "Path relative to the project root"},
				},
				"required": []string{"project_id", "file_path"},
			},
		},
	}
}

// validateAgainstSchema is a deliberately small JSON Schema validator:
// it checks required properties are present and that declared properties
// match their schema's "type" when present. This is the REDESIGN FLAGS
// item that the original project_sync_tools.py left as a comment ("MCP
// tool layer attempts JSON Schema validation but leaves it as a
// comment") — here it is real, not a no-op.
func validateAgainstSchema(schema map[string]any, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required field %q", name)
			}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(value, wantType) {
			return fmt.Errorf("field %q: expected type %s", name, wantType)
		}
	}
	return nil
}

func matchesJSONType(value any, wantType string) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer", "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// syncProjectCodebase implements the sync_project_codebase tool.
func (t *ToolServer) syncProjectCodebase(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := stringArg(args, "project_id")
	if _, ok := t.Registry.Get(projectID); !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("project %s not found", projectID)}, nil
	}

	var changedFiles []string
	if raw, ok := args["changed_files"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				changedFiles = append(changedFiles, s)
			}
		}
	}

	stats, err := t.Engine.SyncProject(ctx, projectID, changedFiles)
	if err != nil {
		return map[string]any{"success": false, "project_id": projectID, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "project_id": projectID, "result": stats}, nil
}

// searchProjectCode implements search_project_code. spec.md's Non-goals
// exclude vector similarity search from the core, so this does a literal,
// case-insensitive substring search over the synced file set instead of
// semantic search — a real capability, just not the embedding-backed one
// an external search service would offer (spec.md §6's "Analytics/search
// APIs" remain explicitly out of scope as collaborators).
func (t *ToolServer) searchProjectCode(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := stringArg(args, "project_id")
	query, _ := stringArg(args, "query")
	fileFilter, _ := stringArg(args, "file_filter")
	matchCount := 5
	if v, ok := args["match_count"].(float64); ok && v > 0 {
		matchCount = int(v)
	}

	p, ok := t.Registry.Get(projectID)
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("project %s not found", projectID)}, nil
	}
	if p.CodebaseSourceID == "" {
		return map[string]any{"success": true, "results": []any{}, "count": 0}, nil
	}

	files, err := syncedFiles(ctx, t.Store, p.CodebaseSourceID, fileFilter)
	if err != nil {
		return nil, err
	}

	type match struct {
		FilePath string `json:"file_path"`
		Line     int    `json:"line"`
		Snippet  string `json:"snippet"`
	}
	var results []match
	needle := strings.ToLower(query)
	for _, path := range files {
		if len(results) >= matchCount {
			break
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				results = append(results, match{FilePath: path, Line: i + 1, Snippet: strings.TrimSpace(line)})
				if len(results) >= matchCount {
					break
				}
			}
		}
	}

	return map[string]any{"success": true, "results": results, "count": len(results)}, nil
}

// getProjectSyncStatus implements get_project_sync_status.
func (t *ToolServer) getProjectSyncStatus(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := stringArg(args, "project_id")
	resp, ok, err := buildSyncStatus(ctx, t.Registry, t.Store, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("project %s not found", projectID)}, nil
	}
	return map[string]any{"success": true, "status": resp}, nil
}

// listProjectFiles implements list_project_files from the synced file
// set recorded in the store, not a fresh disk walk — spec.md's wording
// ("List all files in a synced project") is about what has been synced.
func (t *ToolServer) listProjectFiles(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := stringArg(args, "project_id")
	fileFilter, _ := stringArg(args, "file_filter")

	p, ok := t.Registry.Get(projectID)
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("project %s not found", projectID)}, nil
	}
	if p.CodebaseSourceID == "" {
		return map[string]any{"success": true, "files": []string{}, "count": 0}, nil
	}

	files, err := syncedFiles(ctx, t.Store, p.CodebaseSourceID, fileFilter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "files": files, "count": len(files)}, nil
}

func syncedFiles(ctx context.Context, st store.KnowledgeStore, sourceID, fileFilter string) ([]string, error) {
	refs, err := st.SelectChunkRefsBySource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range refs {
		path := r.Metadata.FilePath
		if seen[path] {
			continue
		}
		if fileFilter != "" {
			if ok, _ := filepath.Match(fileFilter, filepath.Base(path)); !ok {
				continue
			}
		}
		seen[path] = true
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

// getFileContent implements get_file_content. file_path is resolved
// against the project's LocalPath and rejected if it would escape it,
// the same traversal guard project.ValidateLocalPath applies to the
// project root itself.
func (t *ToolServer) getFileContent(ctx context.Context, args map[string]any) (map[string]any, error) {
	projectID, _ := stringArg(args, "project_id")
	relPath, _ := stringArg(args, "file_path")

	p, ok := t.Registry.Get(projectID)
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("project %s not found", projectID)}, nil
	}

	full, err := resolveWithinRoot(p.LocalPath, relPath)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "file_path": relPath, "content": string(content)}, nil
}

func resolveWithinRoot(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("resolve file path: %w", err)
	}
	if canonical != canonicalRoot && !strings.HasPrefix(canonical, canonicalRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("file_path %q escapes project root", rel)
	}
	return canonical, nil
}
