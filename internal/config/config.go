// Package config loads the bot's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BotID string `yaml:"bot_id"`

	Exchange struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		Testnet   bool   `yaml:"testnet"`
	} `yaml:"exchange"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Cycle struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"cycle"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		return nil, fmt.Errorf("exchange api credentials are required")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BotID == "" {
		c.BotID = "mombot"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "bot.db"
	}
	if c.Cycle.IntervalMinutes <= 0 {
		c.Cycle.IntervalMinutes = 15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// CycleInterval returns the evaluation cadence as a duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Cycle.IntervalMinutes) * time.Minute
}
