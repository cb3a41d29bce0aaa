package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/diffsec/knowsync/internal/parallel"
)

var (
	syncTrigger      string
	syncChangedFiles []string
	syncWait         bool
)

// syncCmd runs a single synchronous sync_project call against the full
// stack, the CLI-side equivalent of internal/api's POST /projects/{id}/sync
// handler — both call syncengine.Engine.SyncProject directly rather than
// through SyncQueue, since both need the completed SyncStats back in the
// same call rather than fanned out across the background Worker.
var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Run a one-shot sync for a registered project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		projectID := args[0]

		switch syncTrigger {
		case "manual", "auto", "git-hook":
		default:
			exitError("invalid --trigger %q (valid: manual, auto, git-hook)", syncTrigger)
		}

		st, err := buildStack()
		if err != nil {
			exitError("%v", err)
		}
		defer st.Close()

		if _, ok := st.Registry.Get(projectID); !ok {
			exitError("project %s not found", projectID)
		}

		if syncWait && !jsonOutput {
			st.Engine.OnProgress = newSyncProgressBar()
		}

		stats, err := st.Engine.SyncProject(context.Background(), projectID, syncChangedFiles)
		if err != nil {
			exitError("sync failed: %v", err)
		}

		if jsonOutput {
			_ = outputJSON(stats)
		} else {
			status := color.GreenString("synced")
			if len(stats.Errors) > 0 {
				status = color.RedString("error")
			}
			fmt.Printf("Synced %s [%s]: %d files processed, %d chunks added, %d modified, %d deleted (%.2fs)\n",
				projectID, status, stats.FilesProcessed, stats.ChunksAdded, stats.ChunksModified, stats.ChunksDeleted, stats.DurationSec)
			for _, e := range stats.Errors {
				fmt.Printf("  %s %s\n", color.RedString("error:"), e)
			}
		}
	},
}

// newSyncProgressBar renders a progressbar.ProgressBar over each pass of
// syncengine's ParallelProcessor (added files, then modified files), one
// bar per pass since Progress.Total changes between them.
func newSyncProgressBar() func(parallel.Progress) {
	var bar *progressbar.ProgressBar
	var total int

	return func(p parallel.Progress) {
		if bar == nil || p.Total != total {
			if bar != nil {
				_ = bar.Finish()
			}
			total = p.Total
			bar = progressbar.Default(int64(total), "syncing")
		}
		_ = bar.Set(p.Processed)
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncTrigger, "trigger", "manual", "Sync trigger (manual, auto, git-hook)")
	syncCmd.Flags().StringArrayVar(&syncChangedFiles, "changed-file", nil, "Restrict the sync to this file (repeatable); omit to scan the whole project")
	syncCmd.Flags().BoolVar(&syncWait, "wait", false, "Show a progress bar while the sync runs (ignored with --json)")
	rootCmd.AddCommand(syncCmd)
}
