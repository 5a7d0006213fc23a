package config

import "time"

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (JSON, ENV,
// defaults) and keeps the app layer free of infrastructure details.
type Config interface {
	// Core settings
	Home() string   // Base directory for autopack state (AUTOPACK_HOME)
	DBPath() string // SQLite database path (AUTOPACK_DB_PATH)

	// Workspace
	WorkspaceDir() string // Version-controlled workspace root (AUTOPACK_WORKSPACE)

	// Budget / caps
	RunTokenCap() int      // Run-level token cap (AUTOPACK_RUN_TOKEN_CAP)
	DailyTokenBudget() int // Daily budget for the feedback loop (AUTOPACK_DAILY_TOKEN_BUDGET)

	// Execution limits
	MaxRetryAttempts() int       // Attempts before a phase fails (AUTOPACK_MAX_RETRY_ATTEMPTS)
	PhaseTimeout() time.Duration // Per-phase watchdog deadline (AUTOPACK_PHASE_TIMEOUT_SEC)
	StaleTimeout() time.Duration // EXECUTING staleness before reclaim (AUTOPACK_STALE_TIMEOUT_SEC)
	ActionMaxRetries() int       // External action retry ceiling (AUTOPACK_ACTION_MAX_RETRIES)

	// Approval flow
	ApprovalTimeout() time.Duration      // Polling deadline (AUTOPACK_APPROVAL_TIMEOUT_SEC)
	ApprovalPollInterval() time.Duration // Fixed poll interval (AUTOPACK_APPROVAL_POLL_SEC)

	// Kill switch
	SignalFilePath() string // Pause signal file location (AUTOPACK_SIGNAL_FILE)

	// Feedback loop
	FeedbackInterval() time.Duration // Daemon cycle interval (AUTOPACK_FEEDBACK_INTERVAL_SEC)
	FeedbackPolicyPath() string      // Cost policy YAML path (AUTOPACK_FEEDBACK_POLICY)

	// Logging
	StderrLevel() string // Stderr log level (AUTOPACK_STDERR_LEVEL)

	// Metadata
	ConfigSource() string // "json", "env", or "default"
	SettingPath() string  // Path to setting.json if loaded from file
}

// AppConfig is the concrete implementation of Config.
type AppConfig struct {
	home   string
	dbPath string

	workspaceDir string

	runTokenCap      int
	dailyTokenBudget int

	maxRetryAttempts int
	phaseTimeoutSec  int
	staleTimeoutSec  int
	actionMaxRetries int

	approvalTimeoutSec int
	approvalPollSec    int

	signalFilePath string

	feedbackIntervalSec int
	feedbackPolicyPath  string

	stderrLevel string

	configSource string
	settingPath  string
}

// AppConfigParams carries all values needed to build an AppConfig
type AppConfigParams struct {
	Home                string
	DBPath              string
	WorkspaceDir        string
	RunTokenCap         int
	DailyTokenBudget    int
	MaxRetryAttempts    int
	PhaseTimeoutSec     int
	StaleTimeoutSec     int
	ActionMaxRetries    int
	ApprovalTimeoutSec  int
	ApprovalPollSec     int
	SignalFilePath      string
	FeedbackIntervalSec int
	FeedbackPolicyPath  string
	StderrLevel         string
	ConfigSource        string
	SettingPath         string
}

// NewAppConfig builds an immutable AppConfig from params
func NewAppConfig(p AppConfigParams) *AppConfig {
	return &AppConfig{
		home:                p.Home,
		dbPath:              p.DBPath,
		workspaceDir:        p.WorkspaceDir,
		runTokenCap:         p.RunTokenCap,
		dailyTokenBudget:    p.DailyTokenBudget,
		maxRetryAttempts:    p.MaxRetryAttempts,
		phaseTimeoutSec:     p.PhaseTimeoutSec,
		staleTimeoutSec:     p.StaleTimeoutSec,
		actionMaxRetries:    p.ActionMaxRetries,
		approvalTimeoutSec:  p.ApprovalTimeoutSec,
		approvalPollSec:     p.ApprovalPollSec,
		signalFilePath:      p.SignalFilePath,
		feedbackIntervalSec: p.FeedbackIntervalSec,
		feedbackPolicyPath:  p.FeedbackPolicyPath,
		stderrLevel:         p.StderrLevel,
		configSource:        p.ConfigSource,
		settingPath:         p.SettingPath,
	}
}

func (c *AppConfig) Home() string         { return c.home }
func (c *AppConfig) DBPath() string       { return c.dbPath }
func (c *AppConfig) WorkspaceDir() string { return c.workspaceDir }

func (c *AppConfig) RunTokenCap() int      { return c.runTokenCap }
func (c *AppConfig) DailyTokenBudget() int { return c.dailyTokenBudget }

func (c *AppConfig) MaxRetryAttempts() int { return c.maxRetryAttempts }

func (c *AppConfig) PhaseTimeout() time.Duration {
	return time.Duration(c.phaseTimeoutSec) * time.Second
}

func (c *AppConfig) StaleTimeout() time.Duration {
	return time.Duration(c.staleTimeoutSec) * time.Second
}

func (c *AppConfig) ActionMaxRetries() int { return c.actionMaxRetries }

func (c *AppConfig) ApprovalTimeout() time.Duration {
	return time.Duration(c.approvalTimeoutSec) * time.Second
}

func (c *AppConfig) ApprovalPollInterval() time.Duration {
	return time.Duration(c.approvalPollSec) * time.Second
}

func (c *AppConfig) SignalFilePath() string { return c.signalFilePath }

func (c *AppConfig) FeedbackInterval() time.Duration {
	return time.Duration(c.feedbackIntervalSec) * time.Second
}

func (c *AppConfig) FeedbackPolicyPath() string { return c.feedbackPolicyPath }

func (c *AppConfig) StderrLevel() string  { return c.stderrLevel }
func (c *AppConfig) ConfigSource() string { return c.configSource }
func (c *AppConfig) SettingPath() string  { return c.settingPath }
