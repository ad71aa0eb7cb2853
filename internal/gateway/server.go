// Package gateway wires the header-augmenting filter into an HTTP server:
// one listener proxying augmented requests to the upstream cluster, one
// refresh controller polling the header-providing service, and an admin
// server exposing status and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/headergate/config"
	"github.com/example/headergate/internal/logging"
	"github.com/example/headergate/internal/metrics"
	"github.com/example/headergate/internal/middleware"
	"github.com/example/headergate/internal/middleware/headerinject"
	"github.com/example/headergate/internal/refresh"
	"github.com/example/headergate/internal/shareddata"
)

// Server hosts one configured deployment of the header-augmenting filter.
type Server struct {
	configPath  string
	store       shareddata.Store
	filter      atomic.Pointer[filterInstance]
	httpServer  *http.Server
	adminServer *http.Server
	startTime   time.Time
}

// filterInstance is one activation of the filter: controller, injector and
// the assembled handler chain. Reload swaps in a whole new instance rather
// than mutating a live one.
type filterInstance struct {
	controller *refresh.Controller
	injector   *headerinject.Injector
	handler    http.Handler
	cancel     context.CancelFunc
}

// NewServer creates a gateway server from configuration. An invalid or
// missing filter stanza fails activation here, before any listener starts.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	s := &Server{
		configPath: configPath,
		store:      buildStore(cfg),
		startTime:  time.Now(),
	}

	inst, err := s.buildFilter(cfg)
	if err != nil {
		return nil, err
	}
	s.filter.Store(inst)
	inst.start()

	s.httpServer = &http.Server{
		Addr:         cfg.Listener.Address,
		Handler:      http.HandlerFunc(s.serveHTTP),
		ReadTimeout:  cfg.Listener.ReadTimeout,
		WriteTimeout: cfg.Listener.WriteTimeout,
		IdleTimeout:  cfg.Listener.IdleTimeout,
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// buildStore selects the shared cache backend.
func buildStore(cfg *config.Config) shareddata.Store {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logging.Info("using redis shared header cache", zap.String("addr", cfg.Redis.Addr))
		return shareddata.NewRedisStore(client, cfg.Redis.KeyPrefix)
	}
	return shareddata.NewMemoryStore()
}

// buildFilter activates a filter instance from the raw filter stanza.
func (s *Server) buildFilter(cfg *config.Config) (*filterInstance, error) {
	controller := refresh.NewController(s.store, refresh.NewHTTPDispatcher(cfg.Clusters))
	if err := controller.OnConfigure(cfg.Filter); err != nil {
		return nil, fmt.Errorf("filter activation failed: %w", err)
	}

	injector := headerinject.New(s.store)

	proxy, err := upstreamProxy(cfg)
	if err != nil {
		return nil, err
	}

	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Logging(),
		injector.Middleware(),
	)

	return &filterInstance{
		controller: controller,
		injector:   injector,
		handler:    chain.Then(proxy),
	}, nil
}

func (f *filterInstance) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.controller.Run(ctx)
}

func (f *filterInstance) stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// upstreamProxy builds the reverse proxy to the configured upstream cluster.
func upstreamProxy(cfg *config.Config) (http.Handler, error) {
	cluster, ok := cfg.Clusters[cfg.Upstream]
	if !ok {
		return nil, fmt.Errorf("upstream references unknown cluster %q", cfg.Upstream)
	}
	scheme := cluster.Scheme
	if scheme == "" {
		scheme = "http"
	}
	target, err := url.Parse(scheme + "://" + cluster.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream cluster address: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.Warn("upstream request failed",
			zap.String("upstream", cluster.Address),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.filter.Load().handler.ServeHTTP(w, r)
}

// Handler returns the current filter handler chain. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

// Reload swaps in a freshly activated filter instance. On activation
// failure the running instance stays active.
func (s *Server) Reload(cfg *config.Config) error {
	inst, err := s.buildFilter(cfg)
	if err != nil {
		logging.Warn("reload rejected, keeping active filter", zap.Error(err))
		return err
	}

	inst.start()
	old := s.filter.Swap(inst)
	old.stop()

	logging.Info("filter reloaded")
	return nil
}

// Run starts the listener, the admin server and the config watcher, and
// blocks until a termination signal or a listener error.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("listener started", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if s.adminServer != nil {
		g.Go(func() error {
			logging.Info("admin server started", zap.String("address", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		watcher.OnChange(func(cfg *config.Config) {
			s.Reload(cfg)
		})
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.filter.Load().stop()
		if s.adminServer != nil {
			s.adminServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// adminHandler creates the admin API handler.
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inst := s.filter.Load()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"uptime":    time.Since(s.startTime).String(),
		"refresh":   inst.controller.Status(),
		"injection": inst.injector.Status(),
	})
}
