package models

// StoreDriver selects the system-of-record adapter.
type StoreDriver string

const (
	DriverFile  StoreDriver = "file"
	DriverMySQL StoreDriver = "mysql"
)

// WorkflowMode selects what happens after a successful commit.
type WorkflowMode string

const (
	// ModeStandalone closes the workflow as soon as the commit succeeds.
	ModeStandalone WorkflowMode = "standalone"
	// ModeSubmit advances to the confirmation step and then finalizes the report.
	ModeSubmit WorkflowMode = "submit"
)

// StoreConfig configures the system-of-record adapter.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver" mapstructure:"driver"`
	DSN    string      `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// WorkflowConfig tunes the resolution workflow.
type WorkflowConfig struct {
	Mode                 WorkflowMode `yaml:"mode" mapstructure:"mode"`
	MaxParallelApprovals int          `yaml:"max_parallel_approvals" mapstructure:"max_parallel_approvals"`
}

// AlertConfig overrides alert thresholds.
type AlertConfig struct {
	PartialCommitHours int `yaml:"partial_commit_hours,omitempty" mapstructure:"partial_commit_hours"`
	SubmissionHours    int `yaml:"submission_hours,omitempty" mapstructure:"submission_hours"`
	MaxFailedCommits   int `yaml:"max_failed_commits,omitempty" mapstructure:"max_failed_commits"`
}

// SlackConfig holds the Slack webhook destination.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty" mapstructure:"webhook_url"`
}

// NotificationConfig controls alert delivery.
type NotificationConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackConfig `yaml:"slack" mapstructure:"slack"`
	Alerts  AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .apconfig via Viper.
type GlobalConfig struct {
	Store         StoreConfig        `yaml:"store" mapstructure:"store"`
	ActorID       string             `yaml:"actor_id" mapstructure:"actor_id"`
	Workflow      WorkflowConfig     `yaml:"workflow" mapstructure:"workflow"`
	LogLevel      string             `yaml:"log_level" mapstructure:"log_level"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}
