package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"triviarena/internal/auth"
	"triviarena/internal/config"
	"triviarena/internal/game"
	"triviarena/internal/gateway"
	"triviarena/internal/logger"
	"triviarena/internal/metrics"
	"triviarena/internal/rooms"
	"triviarena/internal/scheduler"
	"triviarena/internal/store"
	"triviarena/internal/trivia"
	"triviarena/internal/users"
)

// Run wires the whole service together and blocks until shutdown.
func Run() error {
	cfg, err := config.Load(os.Getenv("TRIVIARENA_CONFIG"))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	met := metrics.New(prometheus.DefaultRegisterer)

	var kv store.KV
	var dir users.Directory
	if cfg.Store.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(cfg.Store.DatabaseURL, log.Named("store"))
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(); err != nil {
			return err
		}
		go sweepStore(pg, cfg.Store.SweepInterval, log)
		kv = pg
		dir = users.NewDB(pg.DB())
	} else {
		log.Warn("database_url not set, using in-memory store (single process only)")
		kv = store.NewMemory()
		dir = users.NewStatic()
	}

	var source trivia.Source
	if cfg.Trivia.ServiceURL != "" {
		source = trivia.NewClient(cfg.Trivia.ServiceURL, cfg.Trivia.RequestTimeout)
	} else {
		log.Warn("trivia service_url not set, using the built-in question bank")
		source = trivia.NewStaticBank()
	}

	var authn auth.Authenticator
	switch {
	case cfg.Auth.Secret != "":
		authn = auth.NewJWT(cfg.Auth.Secret)
	case cfg.Auth.AllowGuests:
		log.Warn("auth secret not set, accepting guest connections")
		authn = auth.Guest{}
	default:
		return errors.New("auth.secret is required when guests are disabled")
	}

	mgr := rooms.NewManager(kv, dir, rooms.ManagerConfig{
		RoomTTL:  cfg.Rooms.TTL,
		CacheTTL: cfg.Rooms.CacheTTL,
	}, met, log.Named("rooms"))
	engine := game.NewEngine(mgr, log.Named("game"))
	sched := scheduler.New(log.Named("scheduler"))
	gw := gateway.New(mgr, engine, sched, source, authn, met, gateway.Config{
		PollInterval: cfg.Game.PollInterval,
		QuestionGap:  cfg.Game.QuestionGap,
	}, log.Named("gateway"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	gw.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func sweepStore(pg *store.Postgres, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := pg.SweepExpired(context.Background()); err != nil {
			log.Warn("store sweep failed", zap.Error(err))
		}
	}
}
