// Package core contains the business logic of the action plan resolution
// workflow: policy loading, the resolution engine, the decision ledger, the
// commit orchestrator and the workflow shell that drives them.
package core

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// ConfigurationManager loads and validates configuration from the .apconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .apconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Store: models.StoreConfig{Driver: models.DriverFile},
		Workflow: models.WorkflowConfig{
			Mode:                 models.ModeStandalone,
			MaxParallelApprovals: 4,
		},
		LogLevel: "info",
	}
}

// LoadGlobalConfig reads the .apconfig file from the base path using Viper.
// If the file does not exist, defaults are returned.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(".apconfig")
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("ACTIONPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", string(cfg.Store.Driver))
	v.SetDefault("store.dsn", "")
	v.SetDefault("actor.id", "")
	v.SetDefault("workflow.mode", string(cfg.Workflow.Mode))
	v.SetDefault("workflow.max_parallel_approvals", cfg.Workflow.MaxParallelApprovals)
	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.slack.webhook_url", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading .apconfig: %w", err)
		}
		// No config file: fall through so environment overrides still apply.
	}

	cfg.Store.Driver = models.StoreDriver(strings.ToLower(v.GetString("store.driver")))
	cfg.Store.DSN = v.GetString("store.dsn")
	cfg.ActorID = v.GetString("actor.id")
	cfg.Workflow.Mode = models.WorkflowMode(strings.ToLower(v.GetString("workflow.mode")))
	cfg.Workflow.MaxParallelApprovals = v.GetInt("workflow.max_parallel_approvals")
	cfg.LogLevel = v.GetString("log.level")
	cfg.Notifications.Enabled = v.GetBool("notifications.enabled")
	cfg.Notifications.Slack.WebhookURL = v.GetString("notifications.slack.webhook_url")
	cfg.Notifications.Alerts.PartialCommitHours = v.GetInt("notifications.alerts.partial_commit_hours")
	cfg.Notifications.Alerts.SubmissionHours = v.GetInt("notifications.alerts.submission_hours")
	cfg.Notifications.Alerts.MaxFailedCommits = v.GetInt("notifications.alerts.max_failed_commits")

	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and returns a
// single error listing every problem found.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	switch cfg.Store.Driver {
	case models.DriverFile:
	case models.DriverMySQL:
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn must be set when store.driver is mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is invalid, must be one of: file, mysql", cfg.Store.Driver))
	}

	switch cfg.Workflow.Mode {
	case models.ModeStandalone, models.ModeSubmit:
	default:
		errs = append(errs, fmt.Sprintf("workflow.mode %q is invalid, must be one of: standalone, submit", cfg.Workflow.Mode))
	}

	if cfg.Workflow.MaxParallelApprovals < 0 {
		errs = append(errs, fmt.Sprintf(
			"workflow.max_parallel_approvals must be non-negative, got %d",
			cfg.Workflow.MaxParallelApprovals,
		))
	}

	if cfg.LogLevel != "" {
		if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, fmt.Sprintf("log.level %q is invalid", cfg.LogLevel))
		}
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, "notifications.slack.webhook_url must be set when notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
