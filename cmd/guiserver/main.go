package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/config"
	"github.com/Tiger66639/juju-gui-charm/internal/database"
	"github.com/Tiger66639/juju-gui-charm/internal/server"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Database != nil {
		if err := database.RunMigrations(ctx, cfg.Database); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		pool, err = database.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("database pool")
		}
		defer pool.Close()
	}

	var nrApp *newrelic.Application
	if cfg.Observability != nil && cfg.Observability.Enabled {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.Observability.ServiceName),
			newrelic.ConfigLicense(cfg.Observability.LicenseKey),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("new relic application")
		}
	}

	srv := server.New(cfg, pool, nrApp)

	if cfg.Server.RedirectPort != "" {
		redirector := server.NewRedirector(cfg)
		go func() {
			err := redirector.Start(":" + cfg.Server.RedirectPort)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("redirector exited")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = redirector.Shutdown(context.Background())
		}()
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
