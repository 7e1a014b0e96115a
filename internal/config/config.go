// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Redis  RedisConfig  `yaml:"redis"`
	Cache  CacheConfig  `yaml:"cache"`
	Model  ModelConfig  `yaml:"model"`
	Chat   ChatConfig   `yaml:"chat"`
	DBPath string       `yaml:"db_path"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type AuthConfig struct {
	SecretKey   string        `yaml:"secret_key"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	TTL              time.Duration `yaml:"ttl"`
	MemoryMaxEntries int           `yaml:"memory_max_entries"`
}

type ModelConfig struct {
	// BaseURL of the llama.cpp server. Empty means mock mode.
	BaseURL     string        `yaml:"base_url"`
	Name        string        `yaml:"name"`
	Temperature float32       `yaml:"temperature"`
	TopP        float32       `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ChatConfig struct {
	SystemPrompt     string `yaml:"system_prompt"`
	SyncHistoryMax   int    `yaml:"sync_history_max"`
	StreamHistoryMax int    `yaml:"stream_history_max"`
}

const defaultSystemPrompt = "You are a helpful assistant. Answer questions directly without using prefixes like 'AI:', 'Assistant:', or 'User:'. Do not generate example dialogues."

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8000",
			RequestTimeout: 120 * time.Second,
			MaxBodyBytes:   512 * 1024,
		},
		Auth: AuthConfig{
			SecretKey:   "dev-secret-key-change-in-production",
			TokenExpiry: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Cache: CacheConfig{
			Enabled:          true,
			TTL:              time.Hour,
			MemoryMaxEntries: 1024,
		},
		Model: ModelConfig{
			Name:        "tinyllama-1.1b-chat-q4",
			Temperature: 0.7,
			TopP:        0.95,
			MaxTokens:   512,
			Timeout:     90 * time.Second,
		},
		Chat: ChatConfig{
			SystemPrompt:     defaultSystemPrompt,
			SyncHistoryMax:   3,
			StreamHistoryMax: 5,
		},
		DBPath: "pocketllm.db",
	}
}

// Load reads config from path (if non-empty and present) on top of the
// defaults, then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Chat.SyncHistoryMax < 0 || cfg.Chat.StreamHistoryMax < 0 {
		return Config{}, fmt.Errorf("history limits must not be negative")
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getenv("PORT", c.Server.Port)
	c.Auth.SecretKey = getenv("SECRET_KEY", c.Auth.SecretKey)
	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)
	c.Model.BaseURL = getenv("MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.Name = getenv("MODEL_NAME", c.Model.Name)
	c.DBPath = getenv("DB_PATH", c.DBPath)

	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = b
		}
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.TTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
}

// getenv returns the value of the environment variable key or def if not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
