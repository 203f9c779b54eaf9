package config

import (
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for skillwatch.
type Config struct {
	DBPath       string
	ConfigPath   string // watchlist document
	StatePath    string // flat snapshot written by export
	JournalPath  string
	SkillsDir    string
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
	CloneTimeout time.Duration
	// ValidatorTimeout bounds one run of the external skill validator.
	ValidatorTimeout time.Duration
	ValidatorCmd     string
	UserAgent        string
	MaxFetchBytes    int64
	LogLevel         string
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/skillwatch).
func Load() Config {
	return Config{
		DBPath:           viper.GetString("db"),
		ConfigPath:       viper.GetString("config"),
		StatePath:        viper.GetString("state"),
		JournalPath:      viper.GetString("journal"),
		SkillsDir:        viper.GetString("skills_dir"),
		ProbeTimeout:     viper.GetDuration("probe_timeout"),
		FetchTimeout:     viper.GetDuration("fetch_timeout"),
		CloneTimeout:     viper.GetDuration("clone_timeout"),
		ValidatorTimeout: viper.GetDuration("validator_timeout"),
		ValidatorCmd:     viper.GetString("validator_cmd"),
		UserAgent:        viper.GetString("user_agent"),
		MaxFetchBytes:    viper.GetInt64("max_fetch_bytes"),
		LogLevel:         viper.GetString("log_level"),
	}
}
