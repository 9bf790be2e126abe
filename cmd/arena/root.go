package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/config"
	"github.com/tunematch/arena/internal/logger"
	"github.com/tunematch/arena/internal/profile"
	"github.com/tunematch/arena/internal/roster"
)

const app = "arena"

var (
	// Used for flags.
	cfgFile string

	v = config.New()

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "arena runs pairwise elimination sessions over music taste profiles",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a YAML config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.JSON, cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("creating a logger: %w", err)
	}
	return cfg, log, nil
}

// loadRoster loads profiles from the configured database, falling back to
// the built-in roster. The returned Lister is nil without a database; the
// close func is always safe to call.
func loadRoster(ctx context.Context, cfg *config.Config, log *zap.Logger) (*profile.Roster, roster.Lister, func(), error) {
	var (
		lister  roster.Lister
		closeDB = func() {}
	)
	if cfg.Database.URL != "" {
		db, err := roster.Open(ctx, cfg.Database.URL)
		if err != nil {
			log.Warn("database unavailable", zap.Error(err))
		} else {
			lister = roster.NewStore(db)
			closeDB = func() { db.Close() }
		}
	}

	r, origin, err := roster.Load(ctx, lister, log)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	log.Info("roster loaded", zap.Int("profiles", r.Len()), zap.String("origin", string(origin)))
	return r, lister, closeDB, nil
}

func serverName(cfg *config.Config) string {
	if cfg.Server.Name != "" {
		return cfg.Server.Name
	}
	if host, _ := os.Hostname(); host != "" {
		return host
	}
	return "arena-1"
}
