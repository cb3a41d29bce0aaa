package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diffsec/knowsync/internal/api"
)

// mcpCmd starts the JSON-RPC 2.0 tool surface over stdio: one request per
// line on stdin, one response per line on stdout. Grounded on
// vjache-cie/cmd/cie/mcp.go's serveMCPLoop, adapted to this module's
// ToolServer (which returns each tool's raw {success, ...} result
// directly rather than wrapping it in MCP content-blocks — see
// internal/api/jsonrpc.go's HandleRequest doc comment).
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the JSON-RPC tool surface over stdio",
	Long: `Start the JSON-RPC 2.0 tool surface (sync_project_codebase,
search_project_code, get_project_sync_status, list_project_files,
get_file_content) as a stdin/stdout line-delimited loop, for MCP-style
AI-agent clients that launch a subprocess rather than speak HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := buildStack()
		if err != nil {
			exitError("%v", err)
		}
		defer st.Close()

		tools := api.NewToolServer(st.Registry, st.Engine, st.Store)
		serveMCPLoop(tools)
	},
}

func serveMCPLoop(tools *api.ToolServer) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var req api.RPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			fmt.Fprintf(os.Stderr, "invalid JSON-RPC request: %v\n", err)
			continue
		}

		resp := tools.HandleRequest(context.Background(), req)

		respBytes, err := json.Marshal(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode response: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s\n", respBytes)
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "stdin read error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
