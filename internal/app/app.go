package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alex-user-go/fares/internal/airline"
	"github.com/alex-user-go/fares/internal/config"
	"github.com/alex-user-go/fares/internal/dispatch"
	"github.com/alex-user-go/fares/internal/handler"
	"github.com/alex-user-go/fares/internal/manager"
	"github.com/alex-user-go/fares/internal/middleware"
	"github.com/alex-user-go/fares/internal/obs"
	"github.com/alex-user-go/fares/internal/search"
	"github.com/alex-user-go/fares/internal/search/cache"
	"github.com/alex-user-go/fares/internal/search/ratelimit"
	"github.com/alex-user-go/fares/internal/search/types"
)

// Services is the wired object graph of the service.
type Services struct {
	Config     config.Config
	Registry   *manager.Registry
	Airlines   *airline.Directory
	Metrics    *obs.Metrics
	Aggregator *search.Aggregator
	Cache      *cache.Cache[*types.Result]
	Limiter    *ratelimit.Limiter

	closers []func() error
}

// Build wires every component from cfg. Every manager is registered before
// Build returns, so no search can observe a partially filled registry.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Services, error) {
	s := &Services{
		Config:   cfg,
		Registry: manager.NewRegistry(),
		Airlines: airline.NewDirectory(cfg.AirlineRecords()),
		Metrics:  obs.NewMetrics(logger),
	}

	for _, m := range cfg.ManagerConfigs() {
		s.Registry.Register(m)
	}

	transport := dispatch.NewHTTPTransport(time.Duration(cfg.Search.ProviderTimeout))
	dispatcher := dispatch.NewDispatcher(transport, s.Metrics, logger)
	s.Aggregator = search.NewAggregator(
		s.Registry,
		dispatcher,
		s.Airlines,
		time.Duration(cfg.Search.Timeout),
		logger,
	)

	opts := []cache.Option{
		cache.WithErrorHandler(func(key string, err error) {
			logger.Warn("shared cache error", "key", key, "error", err)
		}),
	}
	if cfg.Redis.Addr != "" {
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Timeout:   time.Duration(cfg.Redis.Timeout),
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		opts = append(opts, cache.WithStore(store))
		logger.Info("shared cache enabled", "addr", cfg.Redis.Addr)
	}

	s.Cache = cache.NewCache[*types.Result](time.Duration(cfg.Search.CacheTTL), opts...)
	s.closers = append(s.closers, func() error { s.Cache.Close(); return nil })

	s.Limiter = ratelimit.New(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.Window))
	s.closers = append(s.closers, func() error { s.Limiter.Close(); return nil })

	logger.Info("services initialized",
		"managers", s.Registry.Len(),
		"airlines", s.Airlines.Len(),
	)
	return s, nil
}

// Close releases background resources in reverse order of creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Router returns the HTTP handler of the service.
func (s *Services) Router(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(s.Metrics.Middleware)
	if origins := s.Config.Server.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAge:         300,
		}))
	}

	h := handler.New(s.Aggregator, s.Registry, s.Cache, s.Limiter, s.Metrics, logger)
	h.Register(r)
	r.Get("/healthz", obs.HealthHandler(logger))
	r.Method(http.MethodGet, "/metrics", s.Metrics.MetricsHandler())

	return r
}

// Serve runs the HTTP server until ctx is cancelled or SIGINT/SIGTERM arrives.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	services, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Error("close services", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      services.Router(logger),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
