package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"capomastro/src/aggregator"
	"capomastro/src/archive"
	"capomastro/src/broker"
	"capomastro/src/events"
	"capomastro/src/jenkins"
	"capomastro/src/logger"
	"capomastro/src/registry"
	"capomastro/src/store"
	"capomastro/src/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification endpoint and status aggregator",
	Long: `Serve the Jenkins notification endpoint and keep project build
status up to date as notifications arrive.

With REDPANDA_BROKERS set, finished project builds are also published
to Redpanda. With CAPOMASTRO_ARCHIVE_DIR set, their artifacts are
archived on finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	log := logger.NewConsoleLogger()

	var st store.Store
	if appConfig.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(appConfig.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Postgres: %v\n", err)
			os.Exit(1)
		}
		if err := pg.InitSchema(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize schema: %v\n", err)
			os.Exit(1)
		}
		st = pg
		log.Info("Using Postgres storage")
	} else {
		st = store.NewInMemoryStore()
		log.Info("CAPOMASTRO_DATABASE_URL not set, using in-memory storage")
	}
	defer st.Close()

	bus := events.NewBus()
	reg := registry.NewRegistry(st, bus, registryEngines, log)

	agg := aggregator.NewAggregator(st, bus, log)
	agg.Attach(bus)

	if len(appConfig.RedpandaBrokers) > 0 {
		brk, err := broker.NewRedpandaBroker(appConfig.RedpandaBrokers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create broker: %v\n", err)
			os.Exit(1)
		}
		defer brk.Close()
		broker.NewBridge(brk, log).Attach(bus)
		log.Info("Publishing finished project builds to Redpanda: %v", appConfig.RedpandaBrokers)
	}

	if appConfig.ArchiveDir != "" {
		archiver := archive.NewArchiver(st, archive.CdimagePolicy{}, archiveFetchers, log)
		bus.SubscribeProjectBuilds(func(ctx context.Context, ev events.ProjectBuildEvent) {
			// Archival downloads artifacts from Jenkins; keep it off the
			// notification request path.
			go func() {
				transport := &archive.LocalTransport{Root: appConfig.ArchiveDir}
				if err := archiver.ArchiveProjectBuild(context.Background(), ev.ProjectBuild, transport); err != nil {
					log.Error("Failed to archive %s: %v", ev.ProjectBuild.BuildID, err)
				}
			}()
		})
		log.Info("Archiving finished project builds to %s", appConfig.ArchiveDir)
	}

	handler := webhook.NewHandler(st, reg, log)
	server := &http.Server{
		Addr:    appConfig.ListenAddr,
		Handler: handler.Router(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received, stopping...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("Shutdown error: %v", err)
		}
	}()

	log.Info("Listening for notifications on %s%s", appConfig.ListenAddr, jenkins.NotificationsPath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
