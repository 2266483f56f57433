package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vango-go/village-live/internal/dotenv"
	"github.com/vango-go/village-live/internal/roster"
	"github.com/vango-go/village-live/pkg/config"
	"github.com/vango-go/village-live/pkg/live/metrics"
	"github.com/vango-go/village-live/pkg/relay"
)

const shutdownGracePeriod = 10 * time.Second

type relayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (relay.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig: func() (config.Config, error) { return config.Load(os.Getenv("VILLAGE_CONFIG")) },
		openStore:  openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (relay.Store, error) {
	if cfg.DatabaseURL == "" {
		return relay.NewMemoryStore(), nil
	}
	return relay.OpenPGStore(ctx, cfg.DatabaseURL, logger)
}

func buildHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// seedRoster registers the roster's elder so the dashboard can start calls
// for it. A missing roster file is not an error.
func seedRoster(ctx context.Context, srv *relay.Server, path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("roster file not found; no elder seeded", "roster_path", path)
		return nil
	}
	r, err := roster.Load(path)
	if err != nil {
		return err
	}
	elder := r.Elder()
	if err := srv.SeedElder(ctx, elder); err != nil {
		return fmt.Errorf("seed elder: %w", err)
	}
	logger.Info("seeded elder", "elder_id", elder.ID, "village_members", len(elder.Village), "mode", r.Mode)
	return nil
}

func runRelay(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level != nil {
		level.Set(cfg.Level())
	}

	store, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	srv := relay.New(relay.Config{WriteTimeout: cfg.WriteTimeout},
		relay.WithLogger(logger),
		relay.WithMetrics(metrics.NewMetrics(cfg.MetricsNamespace)),
		relay.WithStore(store),
	)
	if err := seedRoster(ctx, srv, cfg.RosterPath, logger); err != nil {
		return err
	}
	httpSrv := buildHTTPServer(cfg.RelayAddr, srv.Handler())

	logger.Info("starting relay", "addr", cfg.RelayAddr, "postgres", cfg.DatabaseURL != "")

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled; shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining()
	closed := srv.CloseSessions()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped", "sessions_closed", closed)
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := dotenv.LoadFiles(".env"); err != nil {
		fmt.Fprintf(stderr, "village-relay: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, logger, level, deps); err != nil {
		fmt.Fprintf(stderr, "village-relay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
