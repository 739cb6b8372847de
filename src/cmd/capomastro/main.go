// Package main provides the capomastro command line interface.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"capomastro/src/archive"
	"capomastro/src/config"
	"capomastro/src/dispatch"
	"capomastro/src/jenkins"
	"capomastro/src/model"
	"capomastro/src/registry"
	"capomastro/src/store"
)

var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "capomastro",
	Short: "Capomastro - build orchestration across Jenkins servers",
	Long: `Capomastro coordinates builds of multi-dependency projects across
one or more Jenkins servers.

It requests dependency builds, receives phase notifications back from
the servers, aggregates them into per-project build status, and archives
the artifacts of finished project builds.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
	},
}

// openStore connects to the configured database. The data commands all
// need a shared database; in-memory storage is only meaningful inside a
// single serve process.
func openStore(ctx context.Context) store.Store {
	if appConfig.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "ERROR: CAPOMASTRO_DATABASE_URL environment variable is required")
		fmt.Fprintln(os.Stderr, "Example: export CAPOMASTRO_DATABASE_URL=postgres://localhost/capomastro?sslmode=disable")
		os.Exit(1)
	}
	st, err := store.NewPostgresStore(appConfig.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize schema: %v\n", err)
		os.Exit(1)
	}
	return st
}

func newEngine(server *model.Server) *jenkins.Client {
	return jenkins.NewClient(server.URL, server.Username, server.Password)
}

func dispatchEngines(server *model.Server) dispatch.Engine { return newEngine(server) }

func registryEngines(server *model.Server) registry.Engine { return newEngine(server) }

func archiveFetchers(server *model.Server) archive.Fetcher { return newEngine(server) }

var addServerCmd = &cobra.Command{
	Use:   "add-server [name] [url]",
	Short: "Register a Jenkins server",
	Long: `Register a Jenkins server so that jobs can be dispatched to it and
its notifications accepted.

The --remote-addr flag must name the address the server's notifications
will arrive from; notifications from unclaimed addresses are rejected.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		remoteAddr, _ := cmd.Flags().GetString("remote-addr")

		server := &model.Server{
			Name:       args[0],
			URL:        args[1],
			Username:   username,
			Password:   password,
			RemoteAddr: remoteAddr,
		}
		if err := st.CreateServer(ctx, server); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registered server %s (%s)\n", server.Name, server.URL)
	},
}

var addProjectCmd = &cobra.Command{
	Use:   "add-project [name]",
	Short: "Create a project from existing dependencies",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		depNames, _ := cmd.Flags().GetStringArray("dependency")
		autoTrack, _ := cmd.Flags().GetBool("auto-track")

		project := &model.Project{Name: args[0]}
		if err := st.CreateProject(ctx, project); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create project: %v\n", err)
			os.Exit(1)
		}
		for _, name := range depNames {
			dep, err := st.DependencyByName(ctx, name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Unknown dependency %s: %v\n", name, err)
				os.Exit(1)
			}
			pd := &model.ProjectDependency{
				ProjectID:    project.ID,
				DependencyID: dep.ID,
				AutoTrack:    autoTrack,
			}
			if err := st.CreateProjectDependency(ctx, pd); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to link dependency %s: %v\n", name, err)
				os.Exit(1)
			}
		}
		fmt.Printf("Created project %s with %d dependencies\n", project.Name, len(depNames))
	},
}

var addDependencyCmd = &cobra.Command{
	Use:   "add-dependency [name]",
	Short: "Create a dependency bound to a Jenkins job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		serverName, _ := cmd.Flags().GetString("server")
		jobName, _ := cmd.Flags().GetString("job")
		parameters, _ := cmd.Flags().GetString("parameters")
		description, _ := cmd.Flags().GetString("description")

		server, err := st.ServerByName(ctx, serverName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown server %s: %v\n", serverName, err)
			os.Exit(1)
		}
		job, err := st.JobByName(ctx, server.ID, jobName)
		if store.IsNotFound(err) {
			job = &model.Job{ServerID: server.ID, Name: jobName}
			err = st.CreateJob(ctx, job)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve job %s: %v\n", jobName, err)
			os.Exit(1)
		}

		dep := &model.Dependency{
			Name:        args[0],
			JobID:       &job.ID,
			Description: description,
			Parameters:  parameters,
		}
		if err := st.CreateDependency(ctx, dep); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create dependency: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created dependency %s bound to %s on %s\n", dep.Name, job.Name, server.Name)
	},
}

var pushJobCmd = &cobra.Command{
	Use:   "push-job [server] [job-name] [config-xml-file]",
	Short: "Create or update a job on a Jenkins server",
	Long: `Render the given config.xml template and push it to the server,
creating the job if it does not exist yet.

The template can reference {{.NotificationsURL}} to point the job's
notification plugin back at this capomastro instance, and the fields of
the dependency named with --dependency.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st := openStore(ctx)
		defer st.Close()

		serverName, jobName, configPath := args[0], args[1], args[2]
		depName, _ := cmd.Flags().GetString("dependency")

		server, err := st.ServerByName(ctx, serverName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unknown server %s: %v\n", serverName, err)
			os.Exit(1)
		}

		var dep *model.Dependency
		if depName != "" {
			dep, err = st.DependencyByName(ctx, depName)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Unknown dependency %s: %v\n", depName, err)
				os.Exit(1)
			}
		}

		raw, err := os.ReadFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", configPath, err)
			os.Exit(1)
		}
		configXML, err := jenkins.GenerateJobConfig(string(raw), dep, appConfig.NotificationHost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render job config: %v\n", err)
			os.Exit(1)
		}

		client := newEngine(server)
		if _, err := client.GetJob(ctx, jobName); err != nil {
			err = client.CreateJob(ctx, jobName, configXML)
		} else {
			err = client.UpdateJobConfig(ctx, jobName, configXML)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to push job config: %v\n", err)
			os.Exit(1)
		}

		if _, err := st.JobByName(ctx, server.ID, jobName); store.IsNotFound(err) {
			job := &model.Job{ServerID: server.ID, Name: jobName}
			if err := st.CreateJob(ctx, job); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to record job: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Printf("Pushed %s to %s\n", jobName, server.Name)
	},
}

func init() {
	addServerCmd.Flags().String("username", "", "API username for the server")
	addServerCmd.Flags().String("password", "", "API password or token for the server")
	addServerCmd.Flags().String("remote-addr", "", "address the server's notifications arrive from")
	_ = addServerCmd.MarkFlagRequired("remote-addr")

	addProjectCmd.Flags().StringArray("dependency", nil, "dependency to include (repeatable)")
	addProjectCmd.Flags().Bool("auto-track", true, "follow each dependency's newest build")

	addDependencyCmd.Flags().String("server", "", "server the job lives on")
	addDependencyCmd.Flags().String("job", "", "name of the Jenkins job")
	addDependencyCmd.Flags().String("parameters", "", "default build parameters, one KEY=VALUE per line")
	addDependencyCmd.Flags().String("description", "", "human-readable description")
	_ = addDependencyCmd.MarkFlagRequired("server")
	_ = addDependencyCmd.MarkFlagRequired("job")

	pushJobCmd.Flags().String("dependency", "", "dependency whose fields parameterize the template")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addServerCmd)
	rootCmd.AddCommand(addProjectCmd)
	rootCmd.AddCommand(addDependencyCmd)
	rootCmd.AddCommand(pushJobCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(buildDepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// joinNames is used by the build commands to echo the requested scope.
func joinNames(names []string) string {
	if len(names) == 0 {
		return "all dependencies"
	}
	return strings.Join(names, ", ")
}
