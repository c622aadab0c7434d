package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/c360studio/semplan/config"
	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/model"
	"github.com/c360studio/semplan/planner"
	"github.com/c360studio/semplan/session"
)

// env is the process environment the commands run in.
type env struct {
	getenv  func(string) string
	homeDir string
	workDir string
	stdout  io.Writer
	stderr  io.Writer
	now     func() time.Time

	// sleep replaces retry backoff waits when set.
	sleep llm.Sleeper
}

func defaultEnv() *env {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return &env{
		getenv:  os.Getenv,
		homeDir: home,
		workDir: wd,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		now:     time.Now,
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	provider   string
	sessionID  string
}

// App wires configuration, providers, the coordinator and session storage.
type App struct {
	cfg         *config.Config
	logger      *slog.Logger
	loader      *config.Loader
	registry    *model.Registry
	coordinator *planner.Coordinator
	metrics     *planner.Metrics
	promReg     *prometheus.Registry

	store session.Store
	db    *sql.DB
	calls *session.SQLiteCallStore

	env *env
}

// NewApp loads configuration and builds every component.
func NewApp(e *env, flags globalFlags) (*App, error) {
	logger := newLogger(e.stderr, flags.logLevel)

	opts := []config.LoaderOption{
		config.WithGetenv(e.getenv),
		config.WithHomeDir(e.homeDir),
		config.WithWorkDir(e.workDir),
	}
	if flags.configPath != "" {
		opts = append(opts, config.WithConfigFile(flags.configPath))
	}
	loader := config.NewLoader(logger, opts...)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		loader:  loader,
		promReg: prometheus.NewRegistry(),
		env:     e,
	}
	app.metrics = planner.NewMetrics(app.promReg)

	if err := app.openStore(); err != nil {
		return nil, err
	}

	providers := cfg.ProviderConfigs(loader.KeyFunc(cfg))
	app.registry = model.NewRegistry(providers)
	app.registry.SetHealthConfig(cfg.Health)
	app.registry.SetClock(e.now)
	for name, names := range cfg.Operations {
		app.registry.SetPreference(model.ParseOperation(name), names)
	}

	planners := make(map[string]planner.Planner, len(providers))
	for _, p := range providers {
		client, err := llm.NewClient(p, app.clientOptions()...)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("create client for %s: %w", p.Name, err)
		}
		planners[p.Name] = planner.NewClient(client,
			planner.WithClientLogger(logger),
			planner.WithClientClock(e.now))
	}

	logger.Debug("Providers configured",
		slog.Any("providers", app.registry.Names()),
		slog.String("session_driver", cfg.Session.Driver))

	app.coordinator = planner.NewCoordinator(app.registry, planners,
		planner.WithLogger(logger),
		planner.WithClock(e.now),
		planner.WithHistoryWindow(cfg.HistoryWindow),
		planner.WithMetrics(app.metrics))

	return app, nil
}

func (a *App) clientOptions() []llm.ClientOption {
	opts := []llm.ClientOption{
		llm.WithRetryConfig(a.cfg.Retry.LLM()),
		llm.WithLogger(a.logger),
		llm.WithObserver(a.metrics),
	}
	if a.calls != nil {
		opts = append(opts, llm.WithCallStore(a.calls))
	}
	if a.env.sleep != nil {
		opts = append(opts, llm.WithSleeper(a.env.sleep))
	}
	return opts
}

func (a *App) openStore() error {
	switch a.cfg.Session.Driver {
	case config.SessionDriverSQLite:
		db, err := session.OpenSQLite(a.cfg.Session.Path)
		if err != nil {
			return err
		}
		store, err := session.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return err
		}
		calls, err := session.NewSQLiteCallStore(db)
		if err != nil {
			_ = db.Close()
			return err
		}
		a.db, a.store, a.calls = db, store, calls
	default:
		store, err := session.NewFileStore(a.cfg.Session.Path)
		if err != nil {
			return err
		}
		a.store = store
	}
	return nil
}

// Close releases the session database, if any.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close session database", slog.String("error", err.Error()))
		}
	}
}

// loadSession returns the session named id, or a new one.
func (a *App) loadSession(ctx context.Context, id string) (*session.Session, error) {
	return session.LoadOrNew(ctx, a.store, id, a.env.now())
}

// requireSession loads an existing session.
func (a *App) requireSession(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, errors.New("--session is required")
	}
	return a.store.Load(ctx, id)
}

// saveSession persists sess even when ctx is already canceled, so an
// interrupted operation still records its outcome.
func (a *App) saveSession(ctx context.Context, sess *session.Session) error {
	if err := a.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// writeMetrics dumps the collected metrics in the Prometheus text format.
func (a *App) writeMetrics(w io.Writer) error {
	families, err := a.promReg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
