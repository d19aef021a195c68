package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DaemonPort        int           `mapstructure:"daemon_port"`
	DBPath            string        `mapstructure:"db_path"`
	LogDir            string        `mapstructure:"log_dir"`
	LogRetentionDays  int           `mapstructure:"log_retention_days"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	WorkerTimeout     time.Duration `mapstructure:"worker_timeout"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	StopGracePeriod   time.Duration `mapstructure:"stop_grace_period"`
}

var Default = Config{
	DaemonPort:        9400,
	DBPath:            "backo.db",
	LogDir:            "logs",
	LogRetentionDays:  180,
	PollInterval:      10 * time.Second,
	MaxConcurrentJobs: 3,
	WorkerTimeout:     time.Hour,
	ReapInterval:      time.Minute,
	StopGracePeriod:   5 * time.Second,
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}

	configDir := filepath.Join(home, ".backo")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("daemon_port", Default.DaemonPort)
	viper.SetDefault("db_path", filepath.Join(configDir, Default.DBPath))
	viper.SetDefault("log_dir", filepath.Join(configDir, Default.LogDir))
	viper.SetDefault("log_retention_days", Default.LogRetentionDays)
	viper.SetDefault("poll_interval", Default.PollInterval)
	viper.SetDefault("max_concurrent_jobs", Default.MaxConcurrentJobs)
	viper.SetDefault("worker_timeout", Default.WorkerTimeout)
	viper.SetDefault("reap_interval", Default.ReapInterval)
	viper.SetDefault("stop_grace_period", Default.StopGracePeriod)

	viper.SetEnvPrefix("BACKO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if ok := errors.As(err, &notFound); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
