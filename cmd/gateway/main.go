// Package main is the gateway's entrypoint: load configuration, build the
// Pipeline Engine/Model Router/Guardrail Subsystem, and serve the
// OpenAI-compatible HTTP surface, grounded on the teacher's cmd/server/main.go
// (banner print, flag-driven startup, signal-based graceful shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ai-gateway/internal/gwconfig"
	"ai-gateway/internal/guardrails"
	"ai-gateway/internal/httpapi"
	"ai-gateway/internal/logger"
	"ai-gateway/internal/pipeline"
	"ai-gateway/internal/providers"
	"ai-gateway/internal/router"
	"ai-gateway/internal/secrets"
	"ai-gateway/internal/store"
	"ai-gateway/internal/transport"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "ai-gateway",
		Usage: "OpenAI-compatible multi-provider LLM gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "0.0.0.0:8099", Usage: "address to listen on", EnvVars: []string{"ADDR"}},
			&cli.StringFlag{Name: "config-source", Value: "file", Usage: "config source: file or database", EnvVars: []string{"CONFIG_SOURCE"}},
			&cli.StringFlag{Name: "config-file", Value: "config.yaml", Usage: "path to YAML config (config-source=file)", EnvVars: []string{"CONFIG_FILE"}},
			&cli.StringFlag{Name: "database-url", Value: "gateway.db", Usage: "sqlite path (config-source=database)", EnvVars: []string{"DATABASE_URL"}},
			&cli.IntFlag{Name: "stream-buffer-bytes", Value: 1000, Usage: "max bytes buffered per stream awaiting post-call guardrails", EnvVars: []string{"STREAM_BUFFER_SIZE_BYTES"}},
			&cli.StringFlag{Name: "otel-endpoint", Usage: "OTLP/HTTP trace collector endpoint; tracing disabled if empty", EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"}},
			&cli.StringFlag{Name: "metrics-username", EnvVars: []string{"METRICS_USERNAME"}},
			&cli.StringFlag{Name: "metrics-password", EnvVars: []string{"METRICS_PASSWORD"}},
			&cli.BoolFlag{Name: "debug", Usage: "verbose development logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	printBanner()

	if err := logger.Init(c.Bool("debug"), "ai-gateway", version); err != nil {
		logger.InitSilent()
	}
	defer logger.Sync()
	log := logger.Sugar

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := secrets.New(logger.Named("secrets"))

	raw, db, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	mgr := gwconfig.NewManager(logger.Named("config"))
	if err := mgr.Apply(ctx, raw, resolver); err != nil {
		return fmt.Errorf("applying configuration: %w", err)
	}

	tracer, shutdownTracer, err := buildTracer(ctx, c.String("otel-endpoint"))
	if err != nil {
		return fmt.Errorf("configuring tracing: %w", err)
	}
	defer shutdownTracer(context.Background())

	upstreamClient, err := transport.New(transport.DefaultOptions())
	if err != nil {
		return fmt.Errorf("building upstream transport: %w", err)
	}
	registry := providers.NewRegistry(upstreamClient)
	rt := router.New(registry)

	guardClient := guardrails.NewTraceloopClient(upstreamClient)
	guardEngine := guardrails.New(guardClient, 30*time.Second, logger.Named("guardrails"))

	engine := pipeline.New(rt, guardEngine, tracer, logger.Named("pipeline"), pipeline.WithMaxStreamBufferBytes(c.Int("stream-buffer-bytes")))

	srv := httpapi.NewServer(mgr, engine, db, logger.Named("httpapi"),
		httpapi.WithMetricsAuth(c.String("metrics-username"), c.String("metrics-password")),
	)

	httpServer := &http.Server{
		Addr:         c.String("addr"),
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("gateway listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadConfig reads either the YAML or database config source per
// CONFIG_SOURCE (spec.md §6), returning the database handle too so the
// database source's connection can double as the health check's liveness
// probe and so the file source case returns a nil *gorm.DB.
func loadConfig(c *cli.Context) (gwconfig.RawConfig, *gorm.DB, error) {
	switch c.String("config-source") {
	case "database":
		db, err := gorm.Open(sqlite.Open(c.String("database-url")), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return gwconfig.RawConfig{}, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := store.AutoMigrate(db); err != nil {
			return gwconfig.RawConfig{}, nil, fmt.Errorf("migrating database: %w", err)
		}
		raw, err := store.NewLoader(db).Load()
		if err != nil {
			return gwconfig.RawConfig{}, nil, err
		}
		return raw, db, nil
	case "file", "":
		raw, err := gwconfig.LoadFile(c.String("config-file"))
		return raw, nil, err
	default:
		return gwconfig.RawConfig{}, nil, fmt.Errorf("unknown config-source %q, want 'file' or 'database'", c.String("config-source"))
	}
}

// buildTracer wires an OTLP/HTTP exporter when an endpoint is configured;
// otherwise it returns a no-op tracer so internal/pipeline's tracing plugin
// check (tracingEnabled) simply never emits spans.
func buildTracer(ctx context.Context, endpoint string) (trace.Tracer, func(context.Context) error, error) {
	if endpoint == "" {
		return otel.Tracer("ai-gateway"), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("building OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Tracer("ai-gateway"), tp.Shutdown, nil
}

func printBanner() {
	fmt.Printf("ai-gateway %s (%s)\n", version, commit)
}
