package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"capomastro/src/dispatch"
	"capomastro/src/logger"
	"capomastro/src/orchestrator"
)

var buildCmd = &cobra.Command{
	Use:   "build [project]",
	Short: "Request a build of a project",
	Long: `Create a project build and dispatch a run of each of its
dependencies, carrying a fresh correlation token.

With --dependency flags, only the named dependencies are rebuilt; the
rest are recorded against their current builds.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		depNames, _ := cmd.Flags().GetStringArray("dependency")
		requestedBy, _ := cmd.Flags().GetString("requested-by")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		project, err := st.ProjectByName(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown project %s: %v\n", args[0], err)
			os.Exit(1)
		}

		log := logger.NewConsoleLogger()
		dispatcher := dispatch.NewDispatcher(st, dispatchEngines, log)
		orch := orchestrator.NewOrchestrator(st, dispatcher, log)

		pb, err := orch.RequestBuild(ctx, project, orchestrator.RequestOptions{
			RequestedBy:  requestedBy,
			Dependencies: depNames,
			DryRun:       dryRun,
		})
		if err != nil {
			if pb == nil {
				fmt.Fprintf(os.Stderr, "Failed to request build: %v\n", err)
				os.Exit(1)
			}
			// Partial failure: the project build exists, some dispatches
			// did not go out.
			fmt.Fprintf(os.Stderr, "Build %s created with dispatch failures: %v\n", pb.BuildID, err)
			os.Exit(1)
		}

		fmt.Printf("Requested build %s of %s (%s)\n", pb.BuildID, project.Name, joinNames(depNames))
	},
}

var buildDepCmd = &cobra.Command{
	Use:   "build-dep [dependency]",
	Short: "Request an ad-hoc build of a single dependency",
	Long: `Trigger the dependency's job outside any project build. The run
carries no correlation token, so it will not attach to a project build;
auto-tracking projects still pick it up when it finishes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		dep, err := st.DependencyByName(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown dependency %s: %v\n", args[0], err)
			os.Exit(1)
		}

		log := logger.NewConsoleLogger()
		dispatcher := dispatch.NewDispatcher(st, dispatchEngines, log)
		orch := orchestrator.NewOrchestrator(st, dispatcher, log)

		if err := orch.RequestDependencyBuild(ctx, dep, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to trigger %s: %v\n", dep.Name, err)
			os.Exit(1)
		}
		fmt.Printf("Triggered build of %s\n", dep.Name)
	},
}

func init() {
	buildCmd.Flags().StringArray("dependency", nil, "rebuild only this dependency (repeatable)")
	buildCmd.Flags().String("requested-by", "", "who asked for this build")
	buildCmd.Flags().Bool("dry-run", false, "create the project build without dispatching")
}
