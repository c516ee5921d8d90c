// Command medifind serves medicine price comparisons across online
// pharmacies.
//
// Usage:
//
//	medifind                          # HTTP API on :8080 with built-in sources
//	medifind -config medifind.yaml    # sources and limits from YAML
//	medifind -mcp                     # MCP tool over stdio
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/medifind/dbopen"
	"github.com/hazyhaar/medifind/observability"
	"github.com/hazyhaar/medifind/pharmacy"
	"github.com/hazyhaar/medifind/search"
	"github.com/hazyhaar/medifind/shield"
	"github.com/hazyhaar/medifind/source"
)

const version = "1.0.0"

type options struct {
	configPath    string
	addr          string
	mcpStdio      bool
	retentionDays int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to medifind.yaml (default: built-in sources)")
	flag.StringVar(&opts.addr, "addr", "", "listen address, overrides config and MEDIFIND_ADDR")
	flag.BoolVar(&opts.mcpStdio, "mcp", false, "serve the MCP tool over stdio instead of HTTP")
	flag.IntVar(&opts.retentionDays, "retention-days", 30, "days of search log to keep, 0 keeps everything")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout carries the MCP stream in -mcp mode.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("medifind: .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("medifind: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*search.Config, error) {
	cfg := search.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = search.LoadConfigFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	backends, err := pharmacy.NewBackends(cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	reg := source.NewRegistry()
	if err := pharmacy.Register(reg, cfg, backends, logger); err != nil {
		return err
	}

	svcOpts := []search.Option{
		search.WithLogger(logger),
		search.WithMetrics(search.NewMetrics()),
	}

	var (
		logDB     *sql.DB
		searchLog *observability.SearchLog
	)
	if cfg.LogDB != "" {
		logDB, err = dbopen.Open(cfg.LogDB, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			return fmt.Errorf("search log: %w", err)
		}
		defer logDB.Close()
		searchLog = observability.NewSearchLog(logDB, observability.WithLogger(logger))
		svcOpts = append(svcOpts, search.WithSearchLog(searchLog))
		logger.Info("medifind: search log enabled", "path", cfg.LogDB)
	}

	svc := search.New(cfg, reg, svcOpts...)

	warmOpts := []search.WarmerOption{search.WithPopular(10)}
	if logDB != nil && opts.retentionDays > 0 {
		retention := observability.RetentionConfig{
			SearchDays:     opts.retentionDays,
			HTTPLogsDays:   opts.retentionDays,
			RunVacuumAfter: true,
		}
		warmOpts = append(warmOpts, search.WithJob("@daily", "retention", func(ctx context.Context) error {
			return observability.Cleanup(ctx, logDB, retention)
		}))
	}
	warmer := search.NewWarmer(svc, cfg.Warm, warmOpts...)
	if err := warmer.Start(ctx); err != nil {
		return err
	}
	defer warmer.Stop()

	if opts.mcpStdio {
		return serveMCP(ctx, logger, svc)
	}
	return serveHTTP(ctx, logger, cfg, svc, searchLog)
}

func serveMCP(ctx context.Context, logger *slog.Logger, svc *search.Service) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "medifind", Version: version}, nil)
	svc.RegisterMCP(srv)
	logger.Info("medifind: MCP over stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, logger *slog.Logger, cfg *search.Config, svc *search.Service, searchLog *observability.SearchLog) error {
	stack := shield.StackConfig{
		RatePerIP: 5,
		Burst:     20,
		Exclude:   []string{"/healthz", "/metrics"},
	}
	if searchLog != nil {
		stack.RequestLog = searchLog
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(shield.APIStack(stack)...),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Scheduler.Deadline + 90*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("medifind: listening", "addr", cfg.Addr, "sources", len(cfg.EnabledSources()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("medifind: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("medifind: shutdown", "error", err)
	}
	logger.Info("medifind: server stopped")
	return nil
}
