package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunematch/arena/internal/messaging"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print pick and exhaustion events from every server until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.NATS.URL == "" {
			return errors.New("nats.url is not set")
		}
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		nc, err := messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		out := cmd.OutOrStdout()
		if err := nc.SubscribeEvents(func(subject string, data []byte) {
			fmt.Fprintf(out, "%s %s\n", subject, data)
		}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
