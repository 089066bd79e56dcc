// Package logger is the process-wide structured logger. Output is JSON on
// stdout, or the OpenTelemetry log pipeline when enabled. Warnings and errors
// are counted on every call and may be sampled before they are written.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.Level(12)
)

// Config selects the logging backend.
type Config struct {
	Level       slog.Level
	SampleRate  int // write 1 of every SampleRate warnings and errors
	OTELEnabled bool
	ServiceName string
}

// ConfigFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and
// OTEL_SERVICE_NAME.
func ConfigFromEnv() Config {
	cfg := Config{Level: LevelInfo, SampleRate: 1, ServiceName: "courseaudit"}
	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		cfg.SampleRate = rate
	}
	cfg.OTELEnabled = strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}
	return cfg
}

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32
	shutdownFunc func(context.Context) error
)

// Counters for warnings and errors, incremented whether or not the entry is
// sampled out.
var (
	TotalWarnings  atomic.Int64
	TotalErrors    atomic.Int64
	Total4xxErrors atomic.Int64
	Total5xxErrors atomic.Int64
)

func init() {
	sampleRate.Store(1)
	setupJSON()
}

// Setup installs the logger described by cfg. When the OpenTelemetry
// pipeline cannot be created the JSON handler stays in place and the error
// is returned.
func Setup(ctx context.Context, cfg Config) error {
	programLevel.Set(cfg.Level)
	if cfg.SampleRate > 0 {
		sampleRate.Store(int32(cfg.SampleRate))
	}
	if !cfg.OTELEnabled {
		setupJSON()
		return nil
	}

	shutdown, err := setupOTEL(ctx, cfg.ServiceName)
	if err != nil {
		setupJSON()
		return fmt.Errorf("failed to set up OpenTelemetry logging: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

func setupJSON() {
	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTEL(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)
	return provider.Shutdown, nil
}

// levelHandler applies the program level to a handler that has none.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OpenTelemetry pipeline, if one is installed.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func SetLevel(level slog.Level) { programLevel.Set(level) }
func GetLevel() slog.Level      { return programLevel.Level() }

// ParseLevel converts a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func sampled() bool {
	rate := sampleRate.Load()
	return rate <= 1 || rand.IntN(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger.Info(msg, args...) }

// Warn counts the warning and writes it when sampled.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if sampled() {
		Logger.Warn(msg, args...)
	}
}

// Error counts the error and writes it when sampled.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if sampled() {
		Logger.Error(msg, args...)
	}
}

// Fatal writes the message, flushes the pipeline and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// CountHTTPStatus tallies 4xx and 5xx responses.
func CountHTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
	}
}
