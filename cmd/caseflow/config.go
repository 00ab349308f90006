package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all caseflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	TemplateDir   string `json:"template_dir"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"` // "text" or "json"
	SweepSchedule string `json:"sweep_schedule"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(caseflowDir(), "caseflow.db"),
		TemplateDir:   filepath.Join(caseflowDir(), "templates"),
		LogLevel:      "info",
		LogFormat:     "text",
		SweepSchedule: "* * * * *",
	}
}

func caseflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caseflow"
	}
	return filepath.Join(home, ".caseflow")
}

func settingsPath() string {
	return filepath.Join(caseflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CASEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CASEFLOW_TEMPLATE_DIR"); v != "" {
		cfg.TemplateDir = v
	}
	if v := os.Getenv("CASEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CASEFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CASEFLOW_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}

	return cfg
}
