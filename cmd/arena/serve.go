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
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/ban"
	"github.com/tunematch/arena/internal/game"
	"github.com/tunematch/arena/internal/httpapi"
	"github.com/tunematch/arena/internal/messaging"
	"github.com/tunematch/arena/internal/protocol"
	"github.com/tunematch/arena/internal/ratelimit"
	"github.com/tunematch/arena/internal/roster"
	"github.com/tunematch/arena/internal/session"
	"github.com/tunematch/arena/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket game server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	_ = v.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

// serverStatus feeds /health.
type serverStatus struct {
	ws   *ws.Server
	game *game.Service
}

func (s serverStatus) Connections() int      { return s.ws.Connections().Count() }
func (s serverStatus) Players() int          { return s.game.Players() }
func (s serverStatus) Uptime() time.Duration { return s.ws.Uptime() }

func serve(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := serverName(cfg)
	log.Info("arena server starting",
		zap.String("version", version),
		zap.String("listen", cfg.Server.Listen),
		zap.String("server", name),
		zap.Int("worker_pool", cfg.Server.WorkerPool),
		zap.Int("max_connections", cfg.Server.MaxConnections))

	// --- Roster ---
	profiles, lister, closeDB, err := loadRoster(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	// --- WebSocket server ---
	wsServer := ws.NewServer(ws.ServerConfig{
		WorkerPoolSize: cfg.Server.WorkerPool,
		MaxConnections: cfg.Server.MaxConnections,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxMessageSize: cfg.Server.MaxMessageSize,
	}, log)

	deps := game.Deps{Sender: wsServer, Log: log}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		rdb, err := session.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()

		deps.Sessions = session.NewStore(rdb, name)
		deps.Limiter = ratelimit.NewLimiter(rdb, log)
		deps.Bans = ban.NewStore(rdb)
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsConfig.Name = name
		natsClient, err = messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		deps.Publisher = natsClient
	}

	svc := game.NewService(game.Config{
		Timings:       arena.Timings{Reveal: cfg.Game.Reveal, Transition: cfg.Game.Transition},
		AttemptBudget: cfg.Game.AttemptBudget,
		ServerName:    name,
	}, profiles, deps)

	if natsClient != nil {
		err := natsClient.SubscribeRosterReload(func(ev messaging.RosterReloadEvent) {
			reloadCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			r, origin, err := roster.Load(reloadCtx, lister, log)
			if err != nil {
				log.Error("roster reload failed", zap.Error(err))
				return
			}
			svc.ReloadRoster(r)
			log.Info("roster reload applied",
				zap.String("requested_by", ev.RequestedBy),
				zap.String("origin", string(origin)))
		})
		if err != nil {
			return err
		}
	}

	// --- Wiring ---
	dispatcher := ws.NewMessageDispatcher(log)
	dispatcher.Register(protocol.TypePick, func(c *ws.Connection, msg interface{}) {
		pick, ok := msg.(protocol.PickMsg)
		if !ok {
			return
		}
		if err := svc.Pick(context.Background(), c.ID, pick.Side); err != nil {
			log.Debug("pick failed", zap.String("session", c.ID), zap.Error(err))
		}
	})
	dispatcher.Register(protocol.TypeReset, func(c *ws.Connection, _ interface{}) {
		if err := svc.Reset(context.Background(), c.ID); err != nil {
			log.Debug("reset failed", zap.String("session", c.ID), zap.Error(err))
		}
	})

	wsServer.SetAdmit(func(r *http.Request) []byte {
		return svc.Admit(r.Context(), ws.ClientIP(r))
	})
	wsServer.SetOnConnect(func(c *ws.Connection) {
		if err := svc.Join(context.Background(), c.ID, c.RemoteAddr); err != nil {
			log.Warn("join failed", zap.String("session", c.ID), zap.Error(err))
		}
	})
	wsServer.SetOnMessage(dispatcher.Dispatch)
	wsServer.SetOnDisconnect(func(c *ws.Connection) {
		svc.Leave(context.Background(), c.ID)
	})

	if err := wsServer.Start(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: httpapi.NewRouter(httpapi.Deps{
			WS:         wsServer,
			Status:     serverStatus{ws: wsServer, game: svc},
			Roster:     svc.Roster,
			TrustProxy: cfg.Server.TrustProxy,
			Log:        log,
		}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		wsServer.Shutdown()
		svc.Close(context.Background())
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// Closing connections runs Leave for every player.
	wsServer.Shutdown()
	svc.Close(shutdownCtx)

	log.Info("arena server stopped")
	return nil
}
