// Package gateway is the HTTP surface and request pipeline: auth, the
// /v1/messages completion flow with its agent tool-call loop, token
// counting, and the management API over config, logs, and the extension
// registries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/relay/internal/agents"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/logs"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/plugins"
	"github.com/haasonsaas/relay/internal/prompt"
	"github.com/haasonsaas/relay/internal/router"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/tokens"
	"github.com/haasonsaas/relay/internal/upstream"
	"github.com/haasonsaas/relay/internal/usage"
)

// HeaderProjectPath carries the client's working directory for
// project-scoped memory and router overrides.
const HeaderProjectPath = "x-ccr-project-path"

// Options wires the server's collaborators. Nil fields disable the
// corresponding feature rather than failing.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Router     *router.Router
	Agents     *agents.Registry
	Hooks      *hooks.Registry
	Skills     *skills.Registry
	Plugins    *plugins.Manager
	Memory     *memory.Service
	Builder    *prompt.Builder
	Upstream   *upstream.Client
	Usage      *usage.Tracker
	Counter    *tokens.Counter
	Metrics    *observability.Metrics
	Logs       *logs.Manager
	// Restart is invoked by POST /api/restart after the reply is sent.
	Restart func()
	Logger  *slog.Logger
}

// Server is the gateway process.
type Server struct {
	cfg        *config.Config
	cfgPath    string
	router     *router.Router
	agents     *agents.Registry
	hooks      *hooks.Registry
	skills     *skills.Registry
	plugins    *plugins.Manager
	memory     *memory.Service
	builder    *prompt.Builder
	upstream   *upstream.Client
	usage      *usage.Tracker
	counter    *tokens.Counter
	metrics    *observability.Metrics
	logs       *logs.Manager
	restart    func()
	logger     *slog.Logger
	httpServer *http.Server
}

// New builds a server from options.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Server{
		cfg:      cfg,
		cfgPath:  opts.ConfigPath,
		router:   opts.Router,
		agents:   opts.Agents,
		hooks:    opts.Hooks,
		skills:   opts.Skills,
		plugins:  opts.Plugins,
		memory:   opts.Memory,
		builder:  opts.Builder,
		upstream: opts.Upstream,
		usage:    opts.Usage,
		counter:  opts.Counter,
		metrics:  opts.Metrics,
		logs:     opts.Logs,
		restart:  opts.Restart,
		logger:   logger.With("component", "gateway"),
	}
}

// Handler builds the full route table wrapped in the auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	mux.HandleFunc("POST /v1/messages/count_tokens", s.handleCountTokens)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/config", s.handleConfigGet)
	mux.HandleFunc("POST /api/config", s.handleConfigSet)
	mux.HandleFunc("POST /api/restart", s.handleRestart)

	mux.HandleFunc("GET /api/logs", s.handleLogsList)
	mux.HandleFunc("GET /api/logs/files", s.handleLogsList)
	mux.HandleFunc("DELETE /api/logs", s.handleLogsDeleteRoot)
	mux.HandleFunc("GET /api/logs/{name}", s.handleLogsRead)
	mux.HandleFunc("DELETE /api/logs/{name}", s.handleLogsDelete)

	mux.HandleFunc("GET /api/plugins", s.handlePluginsList)
	mux.HandleFunc("POST /api/plugins/{name}/enable", s.handlePluginEnable)
	mux.HandleFunc("POST /api/plugins/{name}/disable", s.handlePluginDisable)
	mux.HandleFunc("GET /api/hooks", s.handleHooksList)
	mux.HandleFunc("GET /api/hooks/events", s.handleHookEvents)
	mux.HandleFunc("GET /api/skills", s.handleSkillsList)

	return s.authMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.logger.Info("gateway listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// fireHook dispatches one hook event when a registry is wired.
func (s *Server) fireHook(ctx context.Context, event *hooks.Event) hooks.DispatchResult {
	if s.hooks == nil {
		return hooks.DispatchResult{Continue: true}
	}
	res := s.hooks.Fire(ctx, event)
	if s.metrics != nil {
		outcome := "continue"
		if !res.Continue {
			outcome = "veto"
		}
		s.metrics.HookDispatches.WithLabelValues(string(event.Type), outcome).Inc()
	}
	return res
}

// writeError renders an error with its taxonomy status and body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	ge, ok := errdefs.As(err)
	if !ok {
		ge = errdefs.Wrap(errdefs.InternalError, "request failed", err)
	}
	s.logger.Error("request failed", ge.LogArgs()...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.HTTPStatus())
	w.Write(ge.APIBody())
}
