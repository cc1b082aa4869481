package devproxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/telemetry"
)

const (
	// DefaultListen is the proxy listen address.
	DefaultListen = "localhost:8080"

	// routeDevServer labels requests served by the dev server.
	routeDevServer = "devserver"

	routeKey = "devproxy.route"
)

// Options configures a Proxy.
type Options struct {
	// ConfigPath is the build config file. Empty uses buildconfig.Default
	// and disables reloading.
	ConfigPath string

	// Listen is the proxy listen address.
	Listen string

	// DevServer overrides the dev server origin. Empty means
	// http://localhost:<server.port>.
	DevServer string

	// Environ is passed to Starlark build configs.
	Environ map[string]string

	// Metrics receives request and reload metrics. May be nil.
	Metrics *telemetry.Metrics

	// Transport forwards requests. Nil uses a clone of http.DefaultTransport.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// Proxy is the development reverse proxy.
type Proxy struct {
	opts      Options
	loader    *buildconfig.Loader
	state     atomic.Pointer[routingTable]
	transport http.RoundTripper
	router    *gin.Engine
	logger    zerolog.Logger
}

// routingTable is an immutable snapshot of a loaded build config.
type routingTable struct {
	cfg       *buildconfig.Config
	devServer *url.URL
	targets   map[string]*url.URL
	loadedAt  time.Time
}

// New loads the build config and builds the proxy.
func New(ctx context.Context, opts Options) (*Proxy, error) {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	p := &Proxy{
		opts:      opts,
		loader:    buildconfig.NewLoader(opts.Environ, opts.Logger),
		transport: transport,
		logger:    opts.Logger.With().Str("component", "devproxy").Logger(),
	}

	cfg := buildconfig.Default()
	if opts.ConfigPath != "" {
		var err error
		cfg, err = p.loader.Load(ctx, opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	table, err := p.newRoutingTable(cfg)
	if err != nil {
		return nil, err
	}
	p.state.Store(table)
	p.router = p.newRouter()

	return p, nil
}

// Config returns the build config currently in effect.
func (p *Proxy) Config() *buildconfig.Config {
	return p.state.Load().cfg
}

// DevServer returns the dev server origin currently in effect.
func (p *Proxy) DevServer() string {
	return p.state.Load().devServer.String()
}

// Handler returns the proxy's HTTP handler.
func (p *Proxy) Handler() http.Handler {
	return p.router.Handler()
}

// Reload re-reads the build config. On failure the current rules are kept.
func (p *Proxy) Reload(ctx context.Context) error {
	if p.opts.ConfigPath == "" {
		return nil
	}

	cfg, err := p.loader.Load(ctx, p.opts.ConfigPath)
	if err == nil {
		var table *routingTable
		table, err = p.newRoutingTable(cfg)
		if err == nil {
			p.state.Store(table)
		}
	}
	if err != nil {
		p.recordReload("error")
		p.logger.Error().Err(err).Str("path", p.opts.ConfigPath).Msg("Build config reload failed, keeping previous rules")
		return err
	}

	p.recordReload("success")
	p.logger.Info().
		Str("path", p.opts.ConfigPath).
		Int("rules", len(cfg.Server.Proxy)).
		Msg("Build config reloaded")
	return nil
}

func (p *Proxy) recordReload(result string) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordConfigReload(result)
	}
}

func (p *Proxy) newRoutingTable(cfg *buildconfig.Config) (*routingTable, error) {
	table := &routingTable{
		cfg:      cfg,
		targets:  make(map[string]*url.URL, len(cfg.Server.Proxy)),
		loadedAt: time.Now(),
	}

	devServer := p.opts.DevServer
	if devServer == "" {
		devServer = "http://" + net.JoinHostPort("localhost", strconv.Itoa(cfg.Server.Port))
	}
	u, err := parseOrigin(devServer)
	if err != nil {
		return nil, fmt.Errorf("dev server: %w", err)
	}
	table.devServer = u

	for prefix, rule := range cfg.Server.Proxy {
		u, err := parseOrigin(rule.Target)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", prefix, err)
		}
		table.targets[prefix] = u
	}
	return table, nil
}

// parseOrigin parses an origin, mapping ws and wss to the http schemes the
// upgrade handshake is sent over.
func parseOrigin(origin string) (*url.URL, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("invalid origin %q: unsupported scheme", origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q: missing host", origin)
	}
	return u, nil
}

func (p *Proxy) newRouter() *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(p.observe(), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	if p.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(p.opts.Metrics.Handler()))
	}
	router.NoRoute(p.forward)
	return router
}

// observe logs every request and records metrics for forwarded ones.
func (p *Proxy) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.GetString(routeKey)
		if route != "" && p.opts.Metrics != nil {
			p.opts.Metrics.RecordProxyRequest(route, status, duration)
		}

		p.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", route).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request")
	}
}

// forward proxies the request to the rule target or the dev server.
func (p *Proxy) forward(c *gin.Context) {
	table := p.state.Load()
	r := c.Request

	target := table.devServer
	route := routeDevServer
	changeOrigin := true

	if rule, ok := table.cfg.Match(r.URL.Path); ok {
		if isUpgrade(r) && !rule.WS {
			c.Set(routeKey, rule.Prefix)
			c.String(http.StatusBadRequest, "websocket proxying is not enabled for %s\n", rule.Prefix)
			return
		}
		target = table.targets[rule.Prefix]
		route = rule.Prefix
		changeOrigin = rule.ChangeOrigin
	}
	c.Set(routeKey, route)

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if !changeOrigin {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			p.logger.Warn().
				Err(err).
				Str("path", req.URL.Path).
				Str("target", target.String()).
				Msg("Upstream unavailable")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = fmt.Fprintf(w, "proxy error: %s is unavailable\n", target.Host)
		},
	}
	if isUpgrade(r) {
		// A hijacked connection never reports its status through the writer.
		c.Status(http.StatusSwitchingProtocols)
	}
	proxy.ServeHTTP(c.Writer, r)
	// Commit the upstream status so an empty 404 body is not replaced.
	c.Writer.WriteHeaderNow()
}

func isUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return r.Header.Get("Upgrade") != ""
			}
		}
	}
	return false
}
