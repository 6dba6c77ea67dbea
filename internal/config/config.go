package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Moderation struct {
		FlagThreshold       int           `yaml:"flag_threshold"`
		DedupWindow         time.Duration `yaml:"dedup_window"`
		ReportRateLimit     int64         `yaml:"report_rate_limit"`
		ReportRateWindow    time.Duration `yaml:"report_rate_window"`
		BurstThreshold      int           `yaml:"burst_threshold"`
		BurstWindow         time.Duration `yaml:"burst_window"`
		RapidActionLimit    int           `yaml:"rapid_action_limit"`
		RapidActionWindow   time.Duration `yaml:"rapid_action_window"`
		RepeatOffenderLimit int           `yaml:"repeat_offender_limit"`
		SweepInterval       time.Duration `yaml:"sweep_interval"`
	} `yaml:"moderation"`
	Session struct {
		FlushInterval   time.Duration `yaml:"flush_interval"`
		BufferRetention time.Duration `yaml:"buffer_retention"`
		MaxSessions     int           `yaml:"max_sessions"`
	} `yaml:"session"`
	StreamProvider struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"stream_provider"`
}

// LoadConfig reads configuration from the specified YAML file. Secrets may
// be overridden through the environment so the file itself can be committed.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Timeout == 0 {
		c.Database.Timeout = 10 * time.Second
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Moderation.FlagThreshold == 0 {
		c.Moderation.FlagThreshold = 3
	}
	if c.Moderation.DedupWindow == 0 {
		c.Moderation.DedupWindow = 10 * time.Minute
	}
	if c.Moderation.ReportRateLimit == 0 {
		c.Moderation.ReportRateLimit = 30
	}
	if c.Moderation.ReportRateWindow == 0 {
		c.Moderation.ReportRateWindow = time.Minute
	}
	if c.Moderation.BurstThreshold == 0 {
		c.Moderation.BurstThreshold = 10
	}
	if c.Moderation.BurstWindow == 0 {
		c.Moderation.BurstWindow = 5 * time.Minute
	}
	if c.Moderation.RapidActionLimit == 0 {
		c.Moderation.RapidActionLimit = 20
	}
	if c.Moderation.RapidActionWindow == 0 {
		c.Moderation.RapidActionWindow = 10 * time.Minute
	}
	if c.Moderation.RepeatOffenderLimit == 0 {
		c.Moderation.RepeatOffenderLimit = 3
	}
	if c.Moderation.SweepInterval == 0 {
		c.Moderation.SweepInterval = 5 * time.Minute
	}
	if c.Session.FlushInterval == 0 {
		c.Session.FlushInterval = 30 * time.Second
	}
	if c.Session.BufferRetention == 0 {
		c.Session.BufferRetention = 5 * time.Minute
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 10000
	}
	if c.StreamProvider.Timeout == 0 {
		c.StreamProvider.Timeout = 30 * time.Second
	}
}
