package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hshk99/autopack/internal/app/config"
)

// RawSettings represents the structure of setting.json file.
// Pointer fields distinguish "absent" from zero values.
type RawSettings struct {
	// Core settings
	Home   *string `json:"home"`
	DBPath *string `json:"db_path"`

	// Workspace
	WorkspaceDir *string `json:"workspace_dir"`

	// Budget / caps
	RunTokenCap      *int `json:"run_token_cap"`
	DailyTokenBudget *int `json:"daily_token_budget"`

	// Execution limits
	MaxRetryAttempts *int `json:"max_retry_attempts"`
	PhaseTimeoutSec  *int `json:"phase_timeout_sec"`
	StaleTimeoutSec  *int `json:"stale_timeout_sec"`
	ActionMaxRetries *int `json:"action_max_retries"`

	// Approval flow
	ApprovalTimeoutSec *int `json:"approval_timeout_sec"`
	ApprovalPollSec    *int `json:"approval_poll_sec"`

	// Kill switch
	SignalFilePath *string `json:"signal_file_path"`

	// Feedback loop
	FeedbackIntervalSec *int    `json:"feedback_interval_sec"`
	FeedbackPolicyPath  *string `json:"feedback_policy_path"`

	// Logging
	StderrLevel *string `json:"stderr_level"`
}

// LoadSettings loads configuration with priority:
// setting.json > environment variables > defaults
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	jsonPath := filepath.Join(baseDir, "setting.json")
	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", jsonPath, err)
		}
		configSource = "json"
		settingPath = jsonPath
	} else if applyEnvOverrides(settings) {
		configSource = "env"
	}

	applyDefaults(settings)

	return buildAppConfig(settings, configSource, settingPath), nil
}

// applyEnvOverrides fills settings from AUTOPACK_* environment
// variables; reports whether any variable was set.
func applyEnvOverrides(settings *RawSettings) bool {
	found := false

	setStr := func(key string, dst **string) {
		if v := os.Getenv(key); v != "" {
			*dst = &v
			found = true
		}
	}
	setInt := func(key string, dst **int) {
		if v := os.Getenv(key); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				*dst = &n
				found = true
			}
		}
	}

	setStr("AUTOPACK_HOME", &settings.Home)
	setStr("AUTOPACK_DB_PATH", &settings.DBPath)
	setStr("AUTOPACK_WORKSPACE", &settings.WorkspaceDir)
	setInt("AUTOPACK_RUN_TOKEN_CAP", &settings.RunTokenCap)
	setInt("AUTOPACK_DAILY_TOKEN_BUDGET", &settings.DailyTokenBudget)
	setInt("AUTOPACK_MAX_RETRY_ATTEMPTS", &settings.MaxRetryAttempts)
	setInt("AUTOPACK_PHASE_TIMEOUT_SEC", &settings.PhaseTimeoutSec)
	setInt("AUTOPACK_STALE_TIMEOUT_SEC", &settings.StaleTimeoutSec)
	setInt("AUTOPACK_ACTION_MAX_RETRIES", &settings.ActionMaxRetries)
	setInt("AUTOPACK_APPROVAL_TIMEOUT_SEC", &settings.ApprovalTimeoutSec)
	setInt("AUTOPACK_APPROVAL_POLL_SEC", &settings.ApprovalPollSec)
	setStr("AUTOPACK_SIGNAL_FILE", &settings.SignalFilePath)
	setInt("AUTOPACK_FEEDBACK_INTERVAL_SEC", &settings.FeedbackIntervalSec)
	setStr("AUTOPACK_FEEDBACK_POLICY", &settings.FeedbackPolicyPath)
	setStr("AUTOPACK_STDERR_LEVEL", &settings.StderrLevel)

	return found
}

// applyDefaults fills defaults for any nil fields
func applyDefaults(settings *RawSettings) {
	strDef := func(dst **string, v string) {
		if *dst == nil {
			*dst = &v
		}
	}
	intDef := func(dst **int, v int) {
		if *dst == nil {
			*dst = &v
		}
	}

	strDef(&settings.Home, ".autopack")
	strDef(&settings.DBPath, "") // resolved against Home when empty
	strDef(&settings.WorkspaceDir, ".")
	intDef(&settings.RunTokenCap, 500000)
	intDef(&settings.DailyTokenBudget, 1000000)
	intDef(&settings.MaxRetryAttempts, 3)
	intDef(&settings.PhaseTimeoutSec, 1800)
	intDef(&settings.StaleTimeoutSec, 3600)
	intDef(&settings.ActionMaxRetries, 3)
	intDef(&settings.ApprovalTimeoutSec, 600)
	intDef(&settings.ApprovalPollSec, 10)
	strDef(&settings.SignalFilePath, filepath.Join(*settings.Home, "autopack_paused.signal"))
	intDef(&settings.FeedbackIntervalSec, 3600)
	strDef(&settings.FeedbackPolicyPath, filepath.Join(*settings.Home, "feedback_policy.yaml"))
	strDef(&settings.StderrLevel, "warn")

	if *settings.DBPath == "" {
		v := filepath.Join(*settings.Home, "autopack.db")
		settings.DBPath = &v
	}
}

// buildAppConfig converts raw settings into the immutable AppConfig
func buildAppConfig(s *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.AppConfigParams{
		Home:                *s.Home,
		DBPath:              *s.DBPath,
		WorkspaceDir:        *s.WorkspaceDir,
		RunTokenCap:         *s.RunTokenCap,
		DailyTokenBudget:    *s.DailyTokenBudget,
		MaxRetryAttempts:    *s.MaxRetryAttempts,
		PhaseTimeoutSec:     *s.PhaseTimeoutSec,
		StaleTimeoutSec:     *s.StaleTimeoutSec,
		ActionMaxRetries:    *s.ActionMaxRetries,
		ApprovalTimeoutSec:  *s.ApprovalTimeoutSec,
		ApprovalPollSec:     *s.ApprovalPollSec,
		SignalFilePath:      *s.SignalFilePath,
		FeedbackIntervalSec: *s.FeedbackIntervalSec,
		FeedbackPolicyPath:  *s.FeedbackPolicyPath,
		StderrLevel:         *s.StderrLevel,
		ConfigSource:        configSource,
		SettingPath:         settingPath,
	})
}
