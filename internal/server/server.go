// Package server wires the GUI server: static GUI serving, the WebSocket
// proxy to the Juju API and the deployment history REST API.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/integrations/nrecho-v4"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/Tiger66639/juju-gui-charm/internal/auth"
	"github.com/Tiger66639/juju-gui-charm/internal/bundles"
	"github.com/Tiger66639/juju-gui-charm/internal/config"
	"github.com/Tiger66639/juju-gui-charm/internal/handler"
	"github.com/Tiger66639/juju-gui-charm/internal/repository"
	"github.com/Tiger66639/juju-gui-charm/internal/response"
	"github.com/Tiger66639/juju-gui-charm/internal/wsproxy"
)

// Version is reported by the info endpoint.
const Version = "0.3.0"

// Server holds the Echo app and dependencies.
type Server struct {
	Echo     *echo.Echo
	Config   *config.Config
	deployer *bundles.Deployer // stopped on Shutdown
}

// New builds the Echo server and registers routes. pool and nrApp may be
// nil when persistence or observability are not configured.
func New(cfg *config.Config, pool *pgxpool.Pool, nrApp *newrelic.Application) *Server {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover(), middleware.Logger())
	if nrApp != nil {
		e.Use(nrecho.Middleware(nrApp))
	}

	var tokens *auth.TokenManager
	if cfg.Auth.TokenSecret != "" {
		tokens = auth.NewTokenManager(cfg.Auth.TokenSecret, time.Duration(cfg.Auth.TokenTTL)*time.Second)
	}

	var history bundles.HistoryStore
	var deploymentRepo *repository.DeploymentRepository
	if pool != nil {
		deploymentRepo = repository.NewDeploymentRepository(pool)
		history = deploymentRepo
	}

	importer := &bundles.APIImporter{
		URL:      cfg.Juju.APIURL,
		Insecure: cfg.Juju.InsecureAPI,
		Username: cfg.Juju.APIUsername,
		Password: cfg.Juju.APIPassword,
		Logger:   logger,
	}
	deployer := bundles.NewDeployer(importer.Import, history, logger)

	proxy := &wsproxy.Proxy{
		JujuURL:    cfg.Juju.APIURL,
		Insecure:   cfg.Juju.InsecureAPI,
		APIVersion: cfg.Juju.APIVersion,
		Deployer:   deployer,
		Tokens:     tokens,
		Logger:     logger,
	}
	e.GET("/ws", proxy.Handler)

	e.GET("/gui-server-info", func(c echo.Context) error {
		return response.OK(c, map[string]any{
			"version":    Version,
			"apiVersion": cfg.Juju.APIVersion,
		}, "")
	})

	if deploymentRepo != nil {
		deploymentHandler := &handler.DeploymentHandler{Repo: deploymentRepo}
		e.GET("/deployments", deploymentHandler.List)
		e.GET("/deployments/:id", deploymentHandler.Get)
	}

	// The GUI is a single page app: unknown paths fall back to index.html.
	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root:  cfg.Server.GuiRoot,
		HTML5: true,
	}))

	return &Server{Echo: e, Config: cfg, deployer: deployer}
}

// Start starts the HTTP server. Blocks until the context is cancelled or
// the server fails. On context cancel, Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	addr := ":" + s.Config.Server.Port
	if s.Config.Server.TLSCert != "" && s.Config.Server.TLSKey != "" {
		return s.Echo.StartTLS(addr, s.Config.Server.TLSCert, s.Config.Server.TLSKey)
	}
	return s.Echo.Start(addr)
}

// Shutdown gracefully shuts down the server and stops the deployer.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deployer != nil {
		s.deployer.Stop()
	}
	return s.Echo.Shutdown(ctx)
}

// NewRedirector returns a small app that redirects every request to the
// secure endpoint. It listens on the plain HTTP port in production.
func NewRedirector(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Any("/*", func(c echo.Context) error {
		target := "https://" + c.Request().Host + c.Request().RequestURI
		return c.Redirect(http.StatusMovedPermanently, target)
	})
	return e
}
