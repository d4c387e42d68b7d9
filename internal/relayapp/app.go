// Package relayapp wires the proxyserver.Proxy, the shared ServerGroup, the
// admin-plane HTTP surface, and the activity/chain/mitm/auth collaborators
// into one runnable Application, grounded on the teacher's internal/app
// wiring (config -> server -> logger -> registry -> Start/Stop lifecycle)
// generalised from a single Ollama reverse-proxy handler into the
// intercepting-proxy bootstrap spec section 6 describes.
package relayapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaycore/relay/internal/activity"
	"github.com/relaycore/relay/internal/auth"
	"github.com/relaycore/relay/internal/chainmgr"
	"github.com/relaycore/relay/internal/config"
	"github.com/relaycore/relay/internal/engine/servergroup"
	"github.com/relaycore/relay/internal/filter"
	"github.com/relaycore/relay/internal/logger"
	"github.com/relaycore/relay/internal/mitm"
	"github.com/relaycore/relay/internal/proxyserver"
	"github.com/relaycore/relay/internal/resolver"
	"github.com/relaycore/relay/internal/router"
	"github.com/relaycore/relay/internal/version"
	"github.com/relaycore/relay/pkg/eventbus"
)

// Application owns the proxy's whole runtime: the ServerGroup all Proxy
// instances share, the single client-facing Proxy, and the admin HTTP
// server exposing health/status/version/metrics.
type Application struct {
	cfg       *config.Config
	log       *logger.StyledLogger
	startTime time.Time

	group   *servergroup.ServerGroup
	proxy   *proxyserver.Proxy
	admin   *http.Server
	routes  *router.RouteRegistry
	metrics *prometheus.Registry

	reloads        *eventbus.EventBus[time.Time]
	lastReloadMu   sync.Mutex
	lastReload     time.Time
	stopReloadWait func()
}

// New builds the Application from cfg but does not start it.
func New(cfg *config.Config, log *logger.StyledLogger, startTime time.Time) (*Application, error) {
	group := servergroup.New(servergroup.Options{
		Name:            cfg.Server.Name,
		AcceptorThreads: cfg.Server.AcceptorThreads,
		ClientThreads:   cfg.Server.ClientThreads,
		ServerThreads:   cfg.Server.ServerThreads,
		Logger:          log,
	})

	opts := proxyserver.DefaultOptions()
	opts.Name = cfg.Server.Name
	opts.Address = cfg.Server.Address
	opts.Port = cfg.Server.Port
	opts.NetworkInterface = cfg.Server.NetworkInterface
	opts.AllowLocalOnly = cfg.Server.AllowLocalOnly
	opts.AcceptorThreads = cfg.Server.AcceptorThreads
	opts.ClientThreads = cfg.Server.ClientThreads
	opts.ServerThreads = cfg.Server.ServerThreads
	opts.ProxyAlias = cfg.Server.ProxyAlias

	opts.IdleConnectionTimeout = cfg.Proxy.IdleConnectionTimeout
	opts.ConnectTimeout = cfg.Proxy.ConnectTimeout
	opts.ReadBytesPerSec = cfg.Proxy.ReadBytesPerSec
	opts.WriteBytesPerSec = cfg.Proxy.WriteBytesPerSec
	opts.MaxInitialLineLength = cfg.Proxy.MaxInitialLineLength
	opts.MaxHeaderSize = cfg.Proxy.MaxHeaderSize
	opts.MaxChunkSize = cfg.Proxy.MaxChunkSize
	opts.AllowRequestsToOriginServer = cfg.Proxy.AllowRequestsToOriginServer
	opts.Transparent = cfg.Proxy.Transparent
	opts.UseDNSSec = cfg.Proxy.UseDNSSec
	opts.AcceptProxyProtocol = cfg.Proxy.AcceptProxyProtocol
	opts.SendProxyProtocol = cfg.Proxy.SendProxyProtocol
	if cfg.Proxy.UseDNSSec {
		opts.Resolver = resolver.NewDNSSEC(nil)
	} else {
		opts.Resolver = resolver.NewPlain()
	}

	opts.AuthenticateSslClients = cfg.Security.AuthenticateSslClients
	if cfg.Security.BasicAuth.Enabled {
		opts.ProxyAuthenticator = auth.NewBasic(cfg.Security.BasicAuth.Credentials)
	}

	if cfg.Security.Mitm.Enabled {
		ca, err := mitm.NewCA(cfg.Security.Mitm.CommonName)
		if err != nil {
			return nil, fmt.Errorf("relayapp: generate MITM CA: %w", err)
		}
		opts.ClientSide = proxyserver.MitmClientSide(mitm.NewManager(ca))
	} else {
		opts.ClientSide = proxyserver.PlainClientSide()
	}

	if cfg.Chain.Enabled {
		upstreams := make([]chainmgr.Upstream, 0, len(cfg.Chain.Upstreams))
		for _, u := range cfg.Chain.Upstreams {
			upstreams = append(upstreams, chainmgr.Upstream{
				Name:            u.Name,
				Address:         u.Address,
				RequiresTLS:     u.RequiresTLS,
				ForwardsConnect: u.ForwardsConnect,
			})
		}
		opts.ChainProxyManager = chainmgr.NewStatic(upstreams, cfg.Chain.AllowDirect)
	}

	opts.FiltersSource = filter.NewSource(log)

	proxy := proxyserver.New(opts, group, log)
	proxy.AddActivityTracker(activity.NewSlogTracker(log.GetUnderlying()))

	var registry *prometheus.Registry
	if cfg.Telemetry.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		proxy.AddActivityTracker(activity.NewPrometheusTracker(registry))
	}

	app := &Application{
		cfg: cfg, log: log, startTime: startTime,
		group: group, proxy: proxy, routes: router.NewRouteRegistry(log), metrics: registry,
		reloads: eventbus.New[time.Time](),
	}
	app.registerRoutes()
	return app, nil
}

// NotifyConfigReloaded is registered with config.OnChange by main so a
// viper config-file reload fans out through the same pub/sub the rest of
// the pack uses for this, rather than a one-off callback field.
func (a *Application) NotifyConfigReloaded() {
	a.reloads.PublishAsync(time.Now())
}

func (a *Application) registerRoutes() {
	a.routes.Register("/health", a.handleHealth, "Liveness probe")
	a.routes.Register("/status", a.handleStatus, "Proxy status and uptime")
	a.routes.Register("/version", a.handleVersion, "Build version information")
	if a.metrics != nil {
		a.routes.RegisterWithMethod("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}).ServeHTTP, "Prometheus metrics", "GET")
	}
}

// Start binds the proxy listener and the admin HTTP server.
func (a *Application) Start(ctx context.Context) error {
	if err := a.proxy.Start(); err != nil {
		return fmt.Errorf("relayapp: start proxy: %w", err)
	}
	a.log.Info("proxy started", "bound", a.proxy.BoundAddress().String())

	mux := http.NewServeMux()
	a.routes.WireUp(mux)

	a.admin = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Admin.Address, a.cfg.Server.Admin.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		select {
		case err := <-errCh:
			a.log.Error("admin server error", "error", err)
		case <-ctx.Done():
		}
	}()

	a.log.Info("admin server started", "address", a.admin.Addr)

	reloadCtx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := a.reloads.Subscribe(reloadCtx)
	go func() {
		for t := range events {
			a.lastReloadMu.Lock()
			a.lastReload = t
			a.lastReloadMu.Unlock()
			a.log.Info("configuration reloaded", "at", t.Format(time.RFC3339))
		}
	}()
	a.stopReloadWait = func() {
		cancel()
		unsubscribe()
	}

	return nil
}

// Stop performs a graceful shutdown of both the proxy and the admin server.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.proxy.Stop(true); err != nil {
		a.log.Error("proxy stop error", "error", err)
	}

	if a.stopReloadWait != nil {
		a.stopReloadWait()
	}
	a.reloads.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if a.admin != nil {
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("relayapp: admin server shutdown: %w", err)
		}
	}
	return nil
}

func (a *Application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (a *Application) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.lastReloadMu.Lock()
	lastReload := a.lastReload
	a.lastReloadMu.Unlock()

	status := map[string]any{
		"name":    a.cfg.Server.Name,
		"uptime":  time.Since(a.startTime).String(),
		"stopped": a.proxy.Stopped(),
	}
	if !lastReload.IsZero() {
		status["lastConfigReload"] = lastReload.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (a *Application) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    version.Name,
		"version": version.Version,
		"commit":  version.Commit,
	})
}
