package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines service configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	JWT         JWTConfig         `yaml:"jwt"`
	AI          AIConfig          `yaml:"ai"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Compromise  CompromiseConfig  `yaml:"compromise"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type NegotiationConfig struct {
	MaxRounds     int           `yaml:"max_rounds"`
	RoundTimeout  time.Duration `yaml:"round_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CompromiseConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type TranscriberConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Load reads configuration from an optional YAML file and environment variables.
// Environment variables win over the file.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxConnLifetime: 30 * time.Minute,
		},
		JWT: JWTConfig{
			TTL: 24 * time.Hour,
		},
		AI: AIConfig{
			Timeout: 30 * time.Second,
		},
		Negotiation: NegotiationConfig{
			MaxRounds:     3,
			RoundTimeout:  48 * time.Hour,
			SweepInterval: time.Minute,
		},
		Compromise: CompromiseConfig{
			MaxRounds: 1,
		},
		Outbox: OutboxConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    50,
		},
		Transcriber: TranscriberConfig{
			Command: "python3",
			Args:    []string{"scripts/whisper_helper.py"},
		},
	}

	if path := os.Getenv("ACCORDFLOW_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}
	if base := os.Getenv("AI_BASE_URL"); base != "" {
		cfg.AI.BaseURL = base
	}
	if host := os.Getenv("ACCORDFLOW_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if portStr := os.Getenv("ACCORDFLOW_HTTP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCORDFLOW_HTTP_PORT: %w", err)
		}
		cfg.HTTP.Port = port
	}
	if roundsStr := os.Getenv("ACCORDFLOW_COMPROMISE_MAX_ROUNDS"); roundsStr != "" {
		rounds, err := strconv.Atoi(roundsStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ACCORDFLOW_COMPROMISE_MAX_ROUNDS: %w", err)
		}
		cfg.Compromise.MaxRounds = rounds
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Negotiation.MaxRounds < 1 {
		return fmt.Errorf("config: negotiation.max_rounds must be at least 1")
	}
	if c.Compromise.MaxRounds < 0 {
		return fmt.Errorf("config: compromise.max_rounds must not be negative")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
