package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"capomastro/src/broker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail finished project builds from Redpanda",
	Long: `Subscribe to the finished-project-builds topic and print each event
as it arrives. Requires REDPANDA_BROKERS.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(appConfig.RedpandaBrokers) == 0 {
			fmt.Fprintln(os.Stderr, "ERROR: REDPANDA_BROKERS environment variable is required for watch")
			fmt.Fprintln(os.Stderr, "Example: export REDPANDA_BROKERS=localhost:19092")
			os.Exit(1)
		}
		groupID, _ := cmd.Flags().GetString("group")

		brk, err := broker.NewRedpandaBroker(appConfig.RedpandaBrokers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create broker: %v\n", err)
			os.Exit(1)
		}
		defer brk.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		messages, err := brk.Subscribe(ctx, broker.TopicProjectBuildsFinished, groupID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to subscribe: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Watching %s...\n", broker.TopicProjectBuildsFinished)
		for msg := range messages {
			var envelope broker.FinishedEnvelope
			if err := json.Unmarshal(msg.Value, &envelope); err != nil {
				fmt.Fprintf(os.Stderr, "Skipping undecodable message at offset %d: %v\n", msg.Offset, err)
				continue
			}
			fmt.Printf("%s  project=%d build=%s status=%s\n",
				envelope.Timestamp.Format("2006-01-02 15:04:05"),
				envelope.ProjectID, envelope.BuildID, envelope.Status)
		}
	},
}

func init() {
	watchCmd.Flags().String("group", "capomastro-watch", "consumer group id")
	rootCmd.AddCommand(watchCmd)
}
