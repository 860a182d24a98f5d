// Package config loads the process configuration from a JSON file.
package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/exchange"
	"tradecore/internal/storage"
	"tradecore/pkg/exception"
)

// Config mirrors the JSON config layout.
type Config struct {
	ServerID      string `json:"server_id"`
	RunTimeUpdate bool   `json:"run_time_update"`

	Log       LogConfig        `json:"log"`
	RabbitMQ  RabbitMQConfig   `json:"rabbitmq"`
	Redis     RedisConfig      `json:"redis"`
	MongoDB   storage.Config   `json:"mongodb"`
	Heartbeat HeartbeatConfig  `json:"heartbeat"`
	Platforms []PlatformConfig `json:"platforms"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	Path    string `json:"path"`
}

// RabbitMQConfig locates the event broker.
type RabbitMQConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// URI renders the AMQP connection string.
func (c RabbitMQConfig) URI() string {
	port := c.Port
	if port == 0 {
		port = 5672
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.Username, c.Password, c.Host, port)
}

// RedisConfig locates the lock backend. Optional; without it locks are
// process-local.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// HeartbeatConfig controls the liveness publisher.
type HeartbeatConfig struct {
	IntervalSeconds int `json:"interval"`
}

// PlatformConfig describes one venue account to trade on.
type PlatformConfig struct {
	Platform   string `json:"platform"`
	Account    string `json:"account"`
	Strategy   string `json:"strategy"`
	Symbol     string `json:"symbol"`
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"secret_key"`
	Passphrase string `json:"passphrase"`
	RestHost   string `json:"rest_host"`
	WssHost    string `json:"wss_host"`
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file, path: %s", path)
	}
	cfg := &Config{}
	if err := sonic.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file, path: %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerID == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "server_id is empty")
	}
	if c.RabbitMQ.Host == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "rabbitmq host is empty")
	}
	if len(c.Platforms) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "no platforms configured")
	}
	known := map[string]bool{}
	for _, p := range exchange.Platforms() {
		known[p] = true
	}
	for _, p := range c.Platforms {
		if !known[p.Platform] {
			return errors.Wrapf(exception.ErrOrderUnsupportedPlatform, "platform: %s", p.Platform)
		}
		if p.Account == "" || p.Symbol == "" {
			return errors.Wrapf(exception.ErrInvalidArgument, "platform %s missing account or symbol", p.Platform)
		}
		if p.AccessKey == "" || p.SecretKey == "" {
			return errors.Wrapf(exception.ErrMissingCredential, "platform: %s, account: %s", p.Platform, p.Account)
		}
	}
	return nil
}
