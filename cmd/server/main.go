package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/courseaudit/analysiscache"
	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/config"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
	"github.com/liamcoop/courseaudit/remediation"
	"github.com/liamcoop/courseaudit/rules"
	"github.com/liamcoop/courseaudit/tour"
)

// App is the wired service: the HTTP server plus the retention sweeper.
type App struct {
	Server  *Server
	Sweeper *auditrun.Sweeper
	closers []func() error
}

// NewApp wires every component against an open database.
func NewApp(ctx context.Context, db *sql.DB, cfg *config.Config) (*App, error) {
	m := metrics.NewCollector()

	courses, err := course.NewPostgresStore(db, cfg.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create course store: %w", err)
	}
	widget, err := tour.NewPostgresWidget(db, cfg.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create tour widget: %w", err)
	}
	runs := auditrun.NewPostgresStore(db)
	definitions := conditions.NewPostgresStore(db)

	evaluator, err := conditions.NewEvaluator(conditions.NewCourseResolver(courses))
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	library := conditions.NewLibrary(definitions, evaluator, nil)

	app := &App{}
	cache, err := newAnalysisCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rc, ok := cache.(*analysiscache.RedisCache); ok {
		app.closers = append(app.closers, rc.Close)
	}

	a := newAuditor(courses, library, cache, m)
	tours := tour.NewOrchestrator(a, runs, widget, m)
	fixes, err := remediation.NewService(courses, definitions,
		remediation.WithInvalidator(a.InvalidateAnalyses),
		remediation.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remediation service: %w", err)
	}

	app.Server = NewServer(Deps{
		Auditor:        a,
		Tours:          tours,
		Remediation:    fixes,
		Library:        library,
		Metrics:        m,
		Ping:           db.PingContext,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	app.Sweeper = auditrun.NewSweeper(runs, widget, cfg.Retention, cfg.SweepInterval).WithMetrics(m)
	return app, nil
}

// newAuditor builds the auditor over the built-in and stored rules. Cached
// analyses are dropped whenever a stored definition changes.
func newAuditor(courses course.Store, library *conditions.Library, cache analysiscache.Cache, m *metrics.Collector) *auditor.Auditor {
	a := auditor.New(courses, rules.DefaultRegistry(courses),
		auditor.WithLibrary(library),
		auditor.WithAnalysisCache(cache),
		auditor.WithMetrics(m),
	)
	library.OnChange(a.InvalidateAllAnalyses)
	return a
}

// newAnalysisCache selects Redis when an address is configured.
func newAnalysisCache(ctx context.Context, cfg *config.Config) (analysiscache.Cache, error) {
	cacheCfg := analysiscache.Config{TTL: cfg.AnalysisTTL}
	if cfg.RedisAddr == "" {
		return analysiscache.NewInMemoryCache(cacheCfg), nil
	}

	rc := analysiscache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cacheCfg)
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using Redis analysis cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return rc, nil
}

// Close releases resources owned by the app.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warn("Failed to close resource", "error", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Setup(ctx, logger.ConfigFromEnv()); err != nil {
		logger.Warn("Falling back to JSON logging", "error", err)
	}
	defer logger.Shutdown(context.Background())

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("Failed to ping database", "error", err)
	}

	app, err := NewApp(ctx, db, cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer app.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.Sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return
	}
	logger.Info("Server stopped")
}
