// Package internal provides the App struct that wires all components of the
// action plan resolution system together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/cli"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/observability"
	"github.com/werkudaraevent-eng/actionplan-sub001/internal/storage"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// File names inside the base directory.
const (
	eventLogFile = ".actionplan_events.jsonl"
	logFile      = ".actionplan.log"
)

// recordStore is what every system-of-record adapter provides.
type recordStore interface {
	core.SystemOfRecord
	cli.PlanAdmin
}

// App holds all service dependencies for the resolution workflow.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig
	Logger    *zap.Logger

	// System of record
	Store recordStore

	// Core services
	Policies     core.PolicyStore
	Orchestrator core.CommitOrchestrator

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the directory holding
// .apconfig, the plan file and the event log.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, err
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Logger = newLogger(basePath, cfg.LogLevel)

	// --- System of record ---
	switch cfg.Store.Driver {
	case models.DriverMySQL:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := storage.OpenMySQLStore(ctx, cfg.Store.DSN, app.Logger)
		if err != nil {
			return nil, fmt.Errorf("opening mysql store: %w", err)
		}
		app.Store = db
	default:
		app.Store = storage.NewFileStore(basePath, app.Logger)
	}

	// --- Core services ---
	app.Policies = core.NewPolicyStore(app.Store, app.Logger)
	app.Orchestrator = core.NewCommitOrchestrator(app.Store, cfg.Workflow.MaxParallelApprovals, app.Logger)

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, eventLogFile))
	if err != nil {
		// Non-fatal: resolution works without the event log.
		app.Logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		if cfg.Notifications.Alerts.PartialCommitHours > 0 {
			thresholds.PartialCommitHours = cfg.Notifications.Alerts.PartialCommitHours
		}
		if cfg.Notifications.Alerts.SubmissionHours > 0 {
			thresholds.SubmissionHours = cfg.Notifications.Alerts.SubmissionHours
		}
		if cfg.Notifications.Alerts.MaxFailedCommits > 0 {
			thresholds.MaxFailedCommits = cfg.Notifications.Alerts.MaxFailedCommits
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.Slack.WebhookURL)
	}

	var evtAdapter core.EventLogger
	if app.EventLog != nil {
		evtAdapter = &eventLogAdapter{log: app.EventLog}
	}

	// --- Wire CLI package-level variables ---
	cli.Store = app.Store
	cli.Admin = app.Store
	cli.Policies = app.Policies
	cli.Orchestrator = app.Orchestrator
	cli.Events = evtAdapter
	cli.Logger = app.Logger
	cli.WorkflowMode = cfg.Workflow.Mode
	cli.ActorID = actorID(cfg.ActorID)

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close releases the event log, the database pool and flushes the logger.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	var firstErr error
	if a.EventLog != nil {
		if err := a.EventLog.Close(); err != nil {
			firstErr = err
		}
	}
	if c, ok := a.Store.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return firstErr
}

// ResolveBasePath determines the data directory. It checks the
// ACTIONPLAN_HOME env var, then walks up from the current directory looking
// for .apconfig, and finally falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("ACTIONPLAN_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".apconfig")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// newLogger writes to a log file in the base directory so that log lines
// never interleave with the interactive screen. It falls back to a no-op
// logger when the file cannot be opened.
func newLogger(basePath, level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return zap.NewNop()
	}
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{filepath.Join(basePath, logFile)},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// actorID falls back to the OS user when .apconfig does not name one.
func actorID(configured string) string {
	if configured != "" {
		return configured
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.NewEvent(time.Now().UTC(), eventType, data))
}
