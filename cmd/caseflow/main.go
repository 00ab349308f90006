package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/taxops/caseflow/internal/authoring"
	"github.com/taxops/caseflow/internal/documents"
	"github.com/taxops/caseflow/internal/engine"
	"github.com/taxops/caseflow/internal/expressions"
	"github.com/taxops/caseflow/internal/logging"
	"github.com/taxops/caseflow/internal/notify"
	"github.com/taxops/caseflow/internal/rules"
	"github.com/taxops/caseflow/internal/scheduler"
	"github.com/taxops/caseflow/internal/store"
	"github.com/taxops/caseflow/internal/streaming"
	"github.com/taxops/caseflow/internal/tables"
	"github.com/taxops/caseflow/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "caseflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg)

	if err := os.MkdirAll(caseflowDir(), 0o755); err != nil {
		return fmt.Errorf("create caseflow dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Expression engines and bindings.
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init cel engine: %w", err)
	}
	engines := expressions.NewRegistry(expressions.NewExprEngine(), celEngine)
	binder := expressions.NewBinder(expressions.NewGoJQEngine())
	evaluator := rules.NewEvaluator()

	// Publish-time validation.
	configs, err := validation.NewConfigValidator()
	if err != nil {
		return fmt.Errorf("init config validator: %w", err)
	}
	validator := validation.NewValidator(configs, engines, binder, st)

	// Step executors and the case runner.
	templates := documents.NewDirTemplates(cfg.TemplateDir)
	registry := engine.NewRegistry(
		engine.NewDecisionTableExecutor(st, evaluator, binder),
		engine.NewCalculationExecutor(engines, binder),
		engine.NewHumanTaskExecutor(st),
		engine.NewClientApprovalExecutor(st),
		engine.NewDocumentGenerationExecutor(templates, expressions.NewTemplateRenderer(), binder),
	)
	runner := engine.NewRunner(st, registry, logger)
	hub := streaming.NewMemoryHub()
	notifier := notify.Multi(notify.NewLogNotifier(logger), notify.NewHubNotifier(hub))
	runner.SetNotifier(notifier)

	// Background maintenance: approval expiry and overdue task flagging.
	sweeper, err := scheduler.NewSweeper(st, runner, notifier, cfg.SweepSchedule, logger)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}

	app := &App{
		Store:     st,
		Runner:    runner,
		Events:    hub,
		Authoring: authoring.NewService(st, validator, logger),
		Tables:    tables.NewService(st, evaluator, logger),
		Templates: templates,
		Sweeper:   sweeper,
	}

	if err := app.Sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	logger.Info("caseflow engine ready",
		"db_path", cfg.DBPath,
		"template_dir", cfg.TemplateDir,
		"sweep_schedule", cfg.SweepSchedule,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := app.Sweeper.Stop(); err != nil {
		logger.Error("sweeper stop failed", "error", err)
	}
	return nil
}

// App groups the wired services. The engine has no network surface of its
// own; an application layer embeds these and exposes whatever transport it
// needs.
type App struct {
	Store     store.Store
	Runner    *engine.Runner
	Events    streaming.Hub
	Authoring *authoring.Service
	Tables    *tables.Service
	Templates *documents.DirTemplates
	Sweeper   *scheduler.Sweeper
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if cfg.LogFormat == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
