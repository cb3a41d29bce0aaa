package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/diffsec/knowsync/internal/project"
)

// projectCmd groups registry management subcommands, the same grouping
// style the teacher uses for its own multi-subcommand "index" family.
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the registry of local codebases kept in sync",
	Long: `Manage the project registry: the set of local codebase directories
knowsyncd watches and keeps synced into the knowledge store.

Subcommands:
  add      Register a new project at a local path
  list     List all registered projects
  show     Show one project's full record
  remove   Remove a project from the registry`,
}

var (
	projectAddID       string
	projectAddSyncMode string
	projectAddAuto     bool
)

var projectAddCmd = &cobra.Command{
	Use:   "add <local-path>",
	Short: "Register a new project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		canonical, err := project.ValidateLocalPath(args[0])
		if err != nil {
			exitError("%v", err)
		}
		if !validSyncModes[projectAddSyncMode] {
			exitError("invalid --sync-mode %q (valid: manual, realtime, periodic, vcs-hook)", projectAddSyncMode)
		}

		id := projectAddID
		if id == "" {
			id = uuid.NewString()
		}

		reg, err := project.NewRegistry(registryPath)
		if err != nil {
			exitError("open registry: %v", err)
		}
		if _, exists := reg.Get(id); exists {
			exitError("project %s already exists", id)
		}

		p := project.Project{
			ID:              id,
			LocalPath:       canonical,
			SyncMode:        project.SyncMode(projectAddSyncMode),
			AutoSyncEnabled: projectAddAuto,
			SyncStatus:      project.StatusNeverSynced,
		}
		if err := reg.Upsert(p); err != nil {
			exitError("save project: %v", err)
		}

		if jsonOutput {
			_ = outputJSON(p)
		} else {
			fmt.Printf("Registered project %s at %s (sync_mode=%s)\n", p.ID, p.LocalPath, p.SyncMode)
		}
	},
}

var validSyncModes = map[string]bool{
	string(project.SyncModeManual):   true,
	string(project.SyncModeRealtime): true,
	string(project.SyncModePeriodic): true,
	string(project.SyncModeVCSHook):  true,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered projects",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := project.NewRegistry(registryPath)
		if err != nil {
			exitError("open registry: %v", err)
		}
		projects := reg.List()

		output(projects, func(data interface{}) string {
			var s string
			for _, p := range data.([]project.Project) {
				s += fmt.Sprintf("%s  %-10s  %-9s  %s\n", p.ID, p.SyncMode, p.SyncStatus, p.LocalPath)
			}
			return s
		})
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show one project's full record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := project.NewRegistry(registryPath)
		if err != nil {
			exitError("open registry: %v", err)
		}
		p, ok := reg.Get(args[0])
		if !ok {
			exitError("project %s not found", args[0])
		}

		if jsonOutput {
			_ = outputJSON(p)
		} else {
			fmt.Printf("ID:               %s\n", p.ID)
			fmt.Printf("LocalPath:        %s\n", p.LocalPath)
			fmt.Printf("SyncMode:         %s\n", p.SyncMode)
			fmt.Printf("AutoSyncEnabled:  %v\n", p.AutoSyncEnabled)
			fmt.Printf("SyncStatus:       %s\n", p.SyncStatus)
			if p.LastSyncError != "" {
				fmt.Printf("LastSyncError:    %s\n", p.LastSyncError)
			}
		}
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <project-id>",
	Short: "Remove a project from the registry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := project.NewRegistry(registryPath)
		if err != nil {
			exitError("open registry: %v", err)
		}
		if err := reg.DeleteProject(args[0]); err != nil {
			exitError("%v", err)
		}
		if jsonOutput {
			_ = outputJSON(map[string]bool{"removed": true})
		} else {
			fmt.Printf("Removed project %s\n", args[0])
		}
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectAddID, "id", "", "Project ID (default: a generated UUID)")
	projectAddCmd.Flags().StringVar(&projectAddSyncMode, "sync-mode", string(project.SyncModeManual), "Sync mode (manual, realtime, periodic, vcs-hook)")
	projectAddCmd.Flags().BoolVar(&projectAddAuto, "auto-sync", false, "Enable automatic syncing")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectShowCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}
