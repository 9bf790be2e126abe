package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/roster"
)

var errNoDatabase = errors.New("database.url is not set")

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the users table schema",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(roster.Up), string(roster.Down)},
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.Database.URL == "" {
			return errNoDatabase
		}
		dir := roster.Direction(args[0])
		if dir != roster.Up && dir != roster.Down {
			return fmt.Errorf("unknown direction %q, want up or down", args[0])
		}
		if err := roster.Migrate(cfg.Database.URL, dir); err != nil {
			return err
		}
		log.Info("migration finished", zap.String("direction", string(dir)))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the built-in profiles into the users table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.Database.URL == "" {
			return errNoDatabase
		}
		profiles, err := roster.Builtin()
		if err != nil {
			return err
		}

		db, err := roster.Open(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := roster.NewStore(db).Upsert(cmd.Context(), profiles); err != nil {
			return err
		}
		log.Info("seeded users table", zap.Int("profiles", len(profiles)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
