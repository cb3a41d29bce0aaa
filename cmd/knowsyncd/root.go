package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var (
	jsonOutput bool
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "knowsyncd",
	Short: "Incremental codebase-to-knowledge-store sync pipeline",
	Long: `knowsyncd watches one or more local codebases and keeps a knowledge
store incrementally in sync with them: file changes are debounced, diffed
at the chunk level by content hash, embedded in rate-limited batches, and
reconciled into the store behind a circuit breaker with checkpoint-based
recovery.

Run 'knowsyncd project add <path>' to register a project, then either
'knowsyncd sync <project-id>' for a one-shot sync or 'knowsyncd worker run'
to start the background supervisor that watches, debounces, and syncs
continuously.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "knowsync-registry.yaml", "Path to the project registry YAML file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "knowsync.db", "Path to the SQLite knowledge store")
	rootCmd.PersistentFlags().StringVar(&embedProviderName, "embedding-provider", "ollama", "Embedding provider (ollama, openai)")
	rootCmd.PersistentFlags().StringVar(&embedModel, "embedding-model", "", "Embedding model override (defaults to the provider's default)")
	rootCmd.PersistentFlags().StringVar(&embedEndpoint, "embedding-endpoint", "", "Embedding endpoint override")
}

// outputJSON outputs data as JSON
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// output outputs data in the appropriate format
func output(data interface{}, textFormatter func(interface{}) string) {
	if jsonOutput {
		if err := outputJSON(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(textFormatter(data))
	}
}

// exitError prints an error message and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
