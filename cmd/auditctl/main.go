// Package main provides auditctl, an operator tool that audits courses, imports
// rule sets and sweeps expired audit runs directly against the database.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/liamcoop/courseaudit/analysiscache"
	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/auditrun"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/course"
	"github.com/liamcoop/courseaudit/internal/config"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/rules"
	"github.com/liamcoop/courseaudit/tour"
)

var version = "dev"

// environment is what the commands operate on.
type environment struct {
	Auditor *auditor.Auditor
	Library *conditions.Library
	Runs    auditrun.Store
	Tours   auditrun.TourDeleter
	close   func()
}

func (e *environment) Close() {
	if e.close != nil {
		e.close()
	}
}

// opener builds the environment once flags are parsed.
type opener func(ctx context.Context, cfg *config.Config) (*environment, error)

// openPostgres wires the stores against the platform database.
func openPostgres(ctx context.Context, cfg *config.Config) (*environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	courses, err := course.NewPostgresStore(db, cfg.TablePrefix)
	if err != nil {
		db.Close()
		return nil, err
	}
	widget, err := tour.NewPostgresWidget(db, cfg.TablePrefix)
	if err != nil {
		db.Close()
		return nil, err
	}
	evaluator, err := conditions.NewEvaluator(conditions.NewCourseResolver(courses))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	library := conditions.NewLibrary(conditions.NewPostgresStore(db), evaluator, nil)

	closeAll := func() { db.Close() }
	if cache := sharedAnalysisCache(ctx, cfg); cache != nil {
		library.OnChange(func(ctx context.Context) {
			if err := cache.InvalidateAll(ctx); err != nil {
				logger.Warn("Failed to drop cached analyses", "error", err)
			}
		})
		closeAll = func() {
			cache.Close()
			db.Close()
		}
	}

	return &environment{
		Auditor: auditor.New(courses, rules.DefaultRegistry(courses), auditor.WithLibrary(library)),
		Library: library,
		Runs:    auditrun.NewPostgresStore(db),
		Tours:   widget,
		close:   closeAll,
	}, nil
}

// sharedAnalysisCache connects to the server's Redis analysis cache, if one
// is configured, so rule changes made here reach running servers.
func sharedAnalysisCache(ctx context.Context, cfg *config.Config) *analysiscache.RedisCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	rc := analysiscache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, analysiscache.Config{TTL: cfg.AnalysisTTL})
	if err := rc.Ping(ctx); err != nil {
		logger.Warn("Redis unreachable, cached analyses will expire on their own",
			"addr", cfg.RedisAddr, "error", err)
		rc.Close()
		return nil
	}
	return rc
}

// cli holds the global flags shared by every command.
type cli struct {
	open        opener
	cfg         *config.Config
	databaseURL string
	prefix      string
	output      string
}

func (c *cli) environment(ctx context.Context) (*environment, error) {
	if c.databaseURL != "" {
		c.cfg.DatabaseURL = c.databaseURL
	}
	if c.prefix != "" {
		c.cfg.TablePrefix = c.prefix
	}
	return c.open(ctx, c.cfg)
}

func newRootCmd(open opener, cfg *config.Config) *cobra.Command {
	c := &cli{open: open, cfg: cfg}

	rootCmd := &cobra.Command{
		Use:   "auditctl",
		Short: "Operator CLI for the course audit service",
		Long: `auditctl audits courses, manages stored rule definitions and sweeps
expired audit runs. It talks to the platform database directly, using the
same configuration variables as the server (DATABASE_URL, DB_TABLE_PREFIX).`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&c.prefix, "table-prefix", "", "Platform table prefix (defaults to DB_TABLE_PREFIX)")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format: table, json, yaml, markdown")

	rootCmd.AddCommand(newAuditCmd(c))
	rootCmd.AddCommand(newRulesCmd(c))
	rootCmd.AddCommand(newImportRulesCmd(c))
	rootCmd.AddCommand(newSweepCmd(c))
	return rootCmd
}

func main() {
	ctx := context.Background()
	if err := logger.Setup(ctx, logger.ConfigFromEnv()); err != nil {
		logger.Warn("Falling back to JSON logging", "error", err)
	}

	code := 0
	if err := newRootCmd(openPostgres, config.FromEnv()).ExecuteContext(ctx); err != nil {
		code = 1
	}
	logger.Shutdown(ctx)
	os.Exit(code)
}
