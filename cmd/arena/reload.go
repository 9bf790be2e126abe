package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/messaging"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask every running server to reload the roster",
	RunE: func(_ *cobra.Command, _ []string) error {
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

		who, _ := os.Hostname()
		if err := nc.PublishRosterReload(messaging.RosterReloadEvent{
			RequestedBy: who,
			Ts:          time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
		log.Info("roster reload requested", zap.String("subject", messaging.SubjectRosterReload))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}
