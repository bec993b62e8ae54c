// ABOUTME: Gateway orchestrator that wires the session store, catalog, and MCP server
// ABOUTME: Manages listeners (TCP or Tailscale), health endpoints, and lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/grimoire-gateway/internal/alerts"
	"github.com/2389/grimoire-gateway/internal/builtins"
	"github.com/2389/grimoire-gateway/internal/catalog"
	"github.com/2389/grimoire-gateway/internal/config"
	"github.com/2389/grimoire-gateway/internal/mcp"
	"github.com/2389/grimoire-gateway/internal/ops"
	"github.com/2389/grimoire-gateway/internal/session"
	"github.com/2389/grimoire-gateway/internal/store"
	"github.com/2389/grimoire-gateway/internal/tenant"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Gateway orchestrates the grimoire-gateway server components.
// It owns the session store, the tool registry, the MCP server, and the
// operator console, and runs them behind one HTTP listener.
type Gateway struct {
	config   *config.Config
	sessions session.Store
	db       *store.SQLiteStore
	registry *catalog.Registry
	resolver *tenant.Resolver
	events   *mcp.Broadcaster
	manager  *mcp.Manager
	mcp      *mcp.Server
	console  *ops.Console
	alerter  *alerts.Alerter

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initSessionStore creates the session backend selected by config.
func initSessionStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	switch cfg.Session.Backend {
	case "redis":
		return session.NewRedisStore(session.RedisConfig{
			Addr:      cfg.Session.Redis.Addr,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
		}, logger), nil
	case "memory", "":
		logger.Warn("using in-memory session store, records do not survive a restart")
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// initDatabase opens the audit/usage database.
func initDatabase(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("GRIMOIRE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return db, nil
}

// initAlerter builds the alerter with Matrix delivery when configured,
// falling back to log-only delivery otherwise.
func initAlerter(cfg *config.Config, logger *slog.Logger) *alerts.Alerter {
	if !cfg.Alerts.Matrix.Enabled {
		return alerts.NewAlerter(nil, logger)
	}
	notifier, err := alerts.NewMatrixNotifier(alerts.MatrixConfig{
		Homeserver:  cfg.Alerts.Matrix.Homeserver,
		UserID:      cfg.Alerts.Matrix.UserID,
		AccessToken: cfg.Alerts.Matrix.AccessToken,
		RoomID:      cfg.Alerts.Matrix.RoomID,
	}, logger)
	if err != nil {
		logger.Error("matrix alerting disabled", "error", err)
		return alerts.NewAlerter(nil, logger)
	}
	logger.Info("matrix alerting enabled", "room_id", cfg.Alerts.Matrix.RoomID)
	return alerts.NewAlerter(notifier, logger)
}

// buildRegistry assembles the immutable tool catalog: built-in packs plus
// any webhook packs declared in the packs file.
func buildRegistry(cfg *config.Config, sessions session.Store, revoker builtins.SessionRevoker, resolver *tenant.Resolver, logger *slog.Logger) (*catalog.Registry, error) {
	builder := catalog.NewBuilder(logger)

	core := builtins.CorePack(cfg.Server.Name, Version)
	if err := builder.AddPack(&core); err != nil {
		return nil, fmt.Errorf("adding core pack: %w", err)
	}
	diag := builtins.DiagPack()
	if err := builder.AddPack(&diag); err != nil {
		return nil, fmt.Errorf("adding diag pack: %w", err)
	}
	admin := builtins.AdminPack(sessions, revoker)
	if err := builder.AddPack(&admin); err != nil {
		return nil, fmt.Errorf("adding admin pack: %w", err)
	}

	if cfg.Catalog.PacksFile != "" {
		packs, err := catalog.LoadPacksFile(cfg.Catalog.PacksFile, resolver, nil)
		if err != nil {
			return nil, fmt.Errorf("loading packs file: %w", err)
		}
		for _, pack := range packs {
			if err := builder.AddPack(pack); err != nil {
				return nil, fmt.Errorf("adding pack from %s: %w", cfg.Catalog.PacksFile, err)
			}
		}
	}

	return builder.Build()
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := initSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := initDatabase(cfg)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}

	alerter := initAlerter(cfg, logger)

	events := mcp.NewBroadcaster(logger)
	manager := mcp.NewManager(sessions, events, logger)
	manager.SetCloseHook(func(ctx context.Context, identity *tenant.Identity, reason string) {
		if identity != nil && reason == "revoked" {
			alerter.SessionRevoked(ctx, identity.SessionID, identity.OrgID)
		}
	})

	resolver := tenant.NewResolver(sessions, logger)

	registry, err := buildRegistry(cfg, sessions, manager, resolver, logger)
	if err != nil {
		_ = db.Close()
		_ = sessions.Close()
		return nil, err
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:      registry,
		Store:         sessions,
		Manager:       manager,
		Events:        events,
		Logger:        logger,
		Audit:         db,
		Usage:         db,
		ServerName:    cfg.Server.Name,
		ServerVersion: Version,
		SessionTTL:    cfg.Session.TTL,
		RequireScopes: cfg.Admission.RequireScopes,
	})
	if err != nil {
		_ = db.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		sessions: sessions,
		db:       db,
		registry: registry,
		resolver: resolver,
		events:   events,
		manager:  manager,
		mcp:      mcpServer,
		alerter:  alerter,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mcpServer.RegisterRoutes(mux)

	if cfg.Ops.Enabled {
		gw.console = ops.New(sessions, registry, manager, db, ops.Config{
			TokenHash: cfg.Ops.TokenHash,
		})
		gw.console.RegisterRoutes(mux)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler exposes the root HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.alerter.Startup(ctx, g.config.Server.Name, Version)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway: HTTP first so no new requests
// arrive, then every live connection is torn down so its session record
// and event stream are released before the stores close.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "connection teardown", g.manager.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.events.Close()
	errs = appendCloseError(errs, "session store close", g.sessions.Close())
	errs = appendCloseError(errs, "database close", g.db.Close())

	g.alerter.Shutdown(ctx, g.config.Server.Name)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener creates the HTTP listener based on configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if
// not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "grimoire-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns the HTTP
// listener on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate listener based on
// config: public funnel, manual TLS certs, or plain HTTP on the tailnet.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return g.createTailscaleTLSListener(tsCfg)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener serves HTTPS using operator-provided certs
// (generate via: tailscale cert <hostname>).
func (g *Gateway) createTailscaleTLSListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with provided certs on :443")
	cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("loading TLS keypair: %w", err)
	}
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the session store is reachable. A failed
// probe feeds the store-outage alerter, a successful one resolves it.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.sessions.Ping(r.Context()); err != nil {
		g.alerter.StoreOutage(r.Context(), err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("session store unreachable"))
		return
	}
	g.alerter.StoreRecovered(r.Context())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
