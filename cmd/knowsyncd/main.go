// Package main is the knowsyncd CLI and worker binary (SPEC_FULL.md §4's
// "CLI | cmd/knowsyncd" row): project registry management, one-shot sync
// triggers, the long-running Worker supervisor, and the JSON-RPC stdio
// tool transport all live behind its subcommands.
package main

func main() {
	Execute()
}
