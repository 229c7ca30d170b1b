package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-grades/internal/api"
	"github.com/p-n-ai/pai-grades/internal/content"
	"github.com/p-n-ai/pai-grades/internal/grades"
	"github.com/p-n-ai/pai-grades/internal/platform/cache"
	"github.com/p-n-ai/pai-grades/internal/platform/config"
	"github.com/p-n-ai/pai-grades/internal/platform/database"
	"github.com/p-n-ai/pai-grades/internal/report"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type scoreStore interface {
	grades.ScoreStore
	grades.ScoreWriter
}

// app holds the wired service and the connections it must close.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires content, caches, stores, the grade factory and reports into
// the HTTP API. PostgreSQL and Redis are used only when configured.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	var checks []api.Checker

	bus := grades.NewPublishBus()
	loader, err := content.NewLoader(cfg.Content.Path, bus)
	if err != nil {
		return nil, err
	}

	var structures grades.StructureCache = grades.NewMemoryStructureCache()
	if cfg.Cache.Backend == "redis" {
		c, err := cache.New(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		checks = append(checks, c)
		structures = grades.NewRedisStructureCache(c.Client, cfg.Cache.StructureTTL)
	}
	courses := grades.NewCachedContentStore(loader, structures)
	bus.Subscribe(courses)

	var scores scoreStore = grades.NewMemoryScoreStore()
	var events grades.EventLogger = grades.NopEventLogger{}
	if cfg.UsePostgres() {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		checks = append(checks, db)

		if cfg.Database.Migrate {
			if err := grades.Migrate(ctx, db.Pool); err != nil {
				a.Close()
				return nil, err
			}
		}
		pgScores, err := grades.NewPostgresScoreStore(db.Pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		scores = pgScores
		events = grades.NewPostgresEventLogger(db.Pool)
	}

	factory := grades.NewFactory(grades.FactoryConfig{
		Content:     courses,
		Scores:      scores,
		Events:      events,
		Concurrency: cfg.Grading.Concurrency,
	})

	reports, err := report.NewStore(cfg.Reports.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	signer, err := report.NewSigner([]byte(cfg.Reports.SigningKey), cfg.Reports.LinkTTL)
	if err != nil {
		a.Close()
		return nil, err
	}
	format, err := report.ParseFormat(cfg.Reports.Format)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.handler = api.New(api.Config{
		Factory:      factory,
		Scores:       scores,
		Bus:          bus,
		Content:      loader,
		Reports:      reports,
		Signer:       signer,
		Formatter:    report.NewFormatter(cfg.Reports.Locale),
		ReportFormat: format,
		Checks:       checks,
	}).Handler()

	slog.Info("grading service ready",
		"courses", len(loader.AllCourses()),
		"cache", cfg.Cache.Backend,
		"postgres", cfg.UsePostgres(),
		"concurrency", cfg.Grading.Concurrency,
	)
	return a, nil
}
