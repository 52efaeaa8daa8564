package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/onsol-labs/gpl/internal/authority"
	"github.com/onsol-labs/gpl/internal/server"
	"github.com/onsol-labs/gpl/internal/session"
	"github.com/onsol-labs/gpl/internal/syncer"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("gpld exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("gpld")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.issuer_url", "http://localhost:8080")
	viper.SetDefault("database.url", "")
	viper.SetDefault("session.token_ttl_seconds", 3600)
	viper.SetDefault("sync.sweep_interval", "30s")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Authoritative store ──────────────────────────────────────────────────
	var store authority.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pg := authority.NewPostgresStore(db, logger)
		if err := pg.Migrate(context.Background()); err != nil {
			return err
		}
		store = pg
		logger.Info("using postgres authoritative store")
	} else {
		store = authority.NewMemoryStore()
		logger.Warn("no database configured, using in-memory authoritative store")
	}

	// ── Mirrors ──────────────────────────────────────────────────────────────
	// Mirrors are disposable caches: every known tree is rebuilt from the
	// store's replay at startup rather than restored from local state.
	sync := syncer.New(store, logger)
	startCtx := context.Background()
	trees, err := store.Trees(startCtx)
	if err != nil {
		return fmt.Errorf("list trees: %w", err)
	}
	for _, t := range trees {
		if err := sync.Track(startCtx, t.Config.TreeID); err != nil {
			return fmt.Errorf("mirror tree %s: %w", t.Config.TreeID, err)
		}
		rep, err := sync.Check(startCtx, t.Config.TreeID)
		if err != nil {
			return err
		}
		if !rep.Match {
			return fmt.Errorf("tree %s diverged immediately after replay", t.Config.TreeID)
		}
	}
	logger.Info("mirrors rebuilt from authoritative store", zap.Int("trees", len(trees)))

	// ── Sessions ─────────────────────────────────────────────────────────────
	sessions := session.NewManager(logger)
	_, tokenKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate token key: %w", err)
	}
	issuer := session.NewTokenIssuer(
		tokenKey,
		viper.GetString("server.issuer_url"),
		time.Duration(viper.GetInt("session.token_ttl_seconds"))*time.Second,
	)

	// ── HTTP server ──────────────────────────────────────────────────────────
	router := server.NewRouter(server.Config{
		CORSOrigins:  viper.GetStringSlice("server.cors_origins"),
		RateLimitRPS: viper.GetInt("server.rate_limit_rps"),
	}, store, sync, sessions, issuer, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sync.Run(sweepCtx, viper.GetDuration("sync.sweep_interval"))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gpld listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
