// Package config provides configuration for the orchestrator.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file pointed to by CONFIG_FILE, then environment variables (highest
// precedence). A .env file in the working directory is loaded first when
// present.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Planning
	DefaultEngine string
	LLMBaseURL    string
	LLMAPIKey     string
	LLMTimeout    time.Duration

	// Run lifecycle
	DefaultRunTimeout time.Duration
	MinRunTimeout     time.Duration
	MaxRunTimeout     time.Duration
	RetentionWindow   time.Duration
	ChunkDelay        time.Duration

	// Approval policy
	PolicyFile string

	// Logging
	LogLevel string
}

// yamlConfig is the shape of the optional CONFIG_FILE overlay.
type yamlConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Planner struct {
		Engine     string `yaml:"engine"`
		LLMBaseURL string `yaml:"llm_base_url"`
	} `yaml:"planner"`
	Runs struct {
		DefaultTimeoutMs int64 `yaml:"default_timeout_ms"`
		RetentionMs      int64 `yaml:"retention_ms"`
	} `yaml:"runs"`
	Policy struct {
		File string `yaml:"file"`
	} `yaml:"policy"`
}

// Load loads configuration from .env, the optional YAML file and
// environment variables.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("INFO: loaded .env file")
	}

	cfg := &Config{
		HTTPPort:          8080,
		DatabaseURL:       "file:orchestrator.db?cache=shared&mode=rwc",
		DefaultEngine:     "static",
		LLMBaseURL:        "http://localhost:4000",
		LLMTimeout:        60 * time.Second,
		DefaultRunTimeout: 120 * time.Second,
		MinRunTimeout:     10 * time.Millisecond,
		MaxRunTimeout:     15 * time.Minute,
		RetentionWindow:   5 * time.Minute,
		ChunkDelay:        10 * time.Millisecond,
		LogLevel:          "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			log.Printf("WARN: failed to load config file %s: %v", path, err)
		}
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultEngine = getEnv("ENGINE", cfg.DefaultEngine)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT_MS", cfg.LLMTimeout)
	cfg.DefaultRunTimeout = getEnvDuration("RUN_TIMEOUT_MS", cfg.DefaultRunTimeout)
	cfg.MinRunTimeout = getEnvDuration("RUN_TIMEOUT_MIN_MS", cfg.MinRunTimeout)
	cfg.MaxRunTimeout = getEnvDuration("RUN_TIMEOUT_MAX_MS", cfg.MaxRunTimeout)
	cfg.RetentionWindow = getEnvDuration("RUN_RETENTION_MS", cfg.RetentionWindow)
	cfg.ChunkDelay = getEnvDuration("CHUNK_DELAY_MS", cfg.ChunkDelay)
	cfg.PolicyFile = getEnv("POLICY_FILE", cfg.PolicyFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg
}

func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return err
	}
	if y.Server.Port != 0 {
		c.HTTPPort = y.Server.Port
	}
	if y.Database.URL != "" {
		c.DatabaseURL = y.Database.URL
	}
	if y.Planner.Engine != "" {
		c.DefaultEngine = y.Planner.Engine
	}
	if y.Planner.LLMBaseURL != "" {
		c.LLMBaseURL = y.Planner.LLMBaseURL
	}
	if y.Runs.DefaultTimeoutMs > 0 {
		c.DefaultRunTimeout = time.Duration(y.Runs.DefaultTimeoutMs) * time.Millisecond
	}
	if y.Runs.RetentionMs > 0 {
		c.RetentionWindow = time.Duration(y.Runs.RetentionMs) * time.Millisecond
	}
	if y.Policy.File != "" {
		c.PolicyFile = y.Policy.File
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultVal
}
