// Package config provides application configuration with
// env-over-file-over-default precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
)

// LLMConfig holds model backend settings.
type LLMConfig struct {
	Endpoint     string `json:"endpoint"`
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"-"`
	ClientSecret string `json:"-"`
	AppKey       string `json:"-"`
	Model        string `json:"model"`
	APIVersion   string `json:"api_version"`

	Timeout    time.Duration `json:"-"`
	MaxRetries int           `json:"max_retries"`

	IntentTemperature float64 `json:"intent_temperature"`
	IntentMaxTokens   int     `json:"intent_max_tokens"`

	ResponseTemperature float64 `json:"response_temperature"`
	ResponseMaxTokens   int     `json:"response_max_tokens"`
}

// DatabaseConfig holds conversation storage settings.
type DatabaseConfig struct {
	Path string `json:"path"`
	// MaxMessages is the per-session retention limit; 0 disables eviction.
	MaxMessages int `json:"max_messages"`
}

// Config holds all application configuration.
type Config struct {
	Port        string
	CORSOrigins []string
	LLM         LLMConfig
	Database    DatabaseConfig
}

// fileConfig is the on-disk JSON shape. Durations are seconds, matching
// the original chat_config.json layout.
type fileConfig struct {
	Port string `json:"port"`
	LLM  struct {
		Endpoint            string  `json:"endpoint"`
		TokenURL            string  `json:"token_url"`
		Model               string  `json:"model"`
		APIVersion          string  `json:"api_version"`
		TimeoutSeconds      int     `json:"timeout"`
		MaxRetries          int     `json:"max_retries"`
		IntentTemperature   float64 `json:"intent_temperature"`
		IntentMaxTokens     int     `json:"intent_max_tokens"`
		ResponseTemperature float64 `json:"response_temperature"`
		ResponseMaxTokens   int     `json:"response_max_tokens"`
	} `json:"llm"`
	Database struct {
		Path        string `json:"path"`
		MaxMessages *int   `json:"max_messages"`
	} `json:"database"`
}

// Default values applied before file and environment layers.
func defaults() *Config {
	return &Config{
		Port: "8080",
		LLM: LLMConfig{
			Endpoint:            "https://chat-ai.cisco.com",
			TokenURL:            "https://id.cisco.com/oauth2/default/v1/token",
			Model:               "gpt-4o",
			APIVersion:          "2025-04-01-preview",
			Timeout:             30 * time.Second,
			MaxRetries:          3,
			IntentTemperature:   0.1,
			IntentMaxTokens:     500,
			ResponseTemperature: 0.3,
			ResponseMaxTokens:   1500,
		},
		Database: DatabaseConfig{
			Path:        "./data/intent_conversations.db",
			MaxMessages: 100,
		},
	}
}

// Load builds configuration from defaults, an optional JSON config file
// (CONFIG_PATH, default ./chat_config.json), and environment variables,
// in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnv("CONFIG_PATH", "./chat_config.json")
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cdoerr.Wrap(cdoerr.CodeConfig, "read config file "+path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cdoerr.Wrap(cdoerr.CodeConfig, "parse config file "+path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.LLM.Endpoint, fc.LLM.Endpoint)
	setString(&c.LLM.TokenURL, fc.LLM.TokenURL)
	setString(&c.LLM.Model, fc.LLM.Model)
	setString(&c.LLM.APIVersion, fc.LLM.APIVersion)
	if fc.LLM.TimeoutSeconds > 0 {
		c.LLM.Timeout = time.Duration(fc.LLM.TimeoutSeconds) * time.Second
	}
	if fc.LLM.MaxRetries > 0 {
		c.LLM.MaxRetries = fc.LLM.MaxRetries
	}
	if fc.LLM.IntentTemperature > 0 {
		c.LLM.IntentTemperature = fc.LLM.IntentTemperature
	}
	if fc.LLM.IntentMaxTokens > 0 {
		c.LLM.IntentMaxTokens = fc.LLM.IntentMaxTokens
	}
	if fc.LLM.ResponseTemperature > 0 {
		c.LLM.ResponseTemperature = fc.LLM.ResponseTemperature
	}
	if fc.LLM.ResponseMaxTokens > 0 {
		c.LLM.ResponseMaxTokens = fc.LLM.ResponseMaxTokens
	}
	setString(&c.Database.Path, fc.Database.Path)
	if fc.Database.MaxMessages != nil && *fc.Database.MaxMessages >= 0 {
		c.Database.MaxMessages = *fc.Database.MaxMessages
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}

	c.LLM.Endpoint = getEnv("LLM_ENDPOINT", c.LLM.Endpoint)
	c.LLM.TokenURL = getEnv("LLM_TOKEN_URL", c.LLM.TokenURL)
	c.LLM.ClientID = getEnv("CLIENT_ID", c.LLM.ClientID)
	c.LLM.ClientSecret = getEnv("CLIENT_SECRET", c.LLM.ClientSecret)
	c.LLM.AppKey = getEnv("APP_KEY", c.LLM.AppKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.APIVersion = getEnv("LLM_API_VERSION", c.LLM.APIVersion)
	if secs := getEnvInt("LLM_TIMEOUT_SECONDS", 0); secs > 0 {
		c.LLM.Timeout = time.Duration(secs) * time.Second
	}
	if retries := getEnvInt("LLM_MAX_RETRIES", 0); retries > 0 {
		c.LLM.MaxRetries = retries
	}

	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	if v, ok := os.LookupEnv("DB_MAX_MESSAGES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			c.Database.MaxMessages = n
		}
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return cdoerr.Config("PORT cannot be empty")
	}
	if c.LLM.Endpoint == "" {
		return cdoerr.Config("LLM_ENDPOINT cannot be empty")
	}
	if c.LLM.TokenURL == "" {
		return cdoerr.Config("LLM_TOKEN_URL cannot be empty")
	}
	if c.LLM.ClientID == "" {
		return cdoerr.Config("CLIENT_ID is required")
	}
	if c.LLM.ClientSecret == "" {
		return cdoerr.Config("CLIENT_SECRET is required")
	}
	if c.LLM.Model == "" {
		return cdoerr.Config("LLM_MODEL cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return cdoerr.Config("LLM timeout must be positive")
	}
	if c.LLM.MaxRetries < 1 {
		return cdoerr.Config("LLM max retries must be at least 1")
	}
	if c.Database.Path == "" {
		return cdoerr.Config("DB_PATH cannot be empty")
	}
	if c.Database.MaxMessages < 0 {
		return cdoerr.Config("DB_MAX_MESSAGES cannot be negative")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
