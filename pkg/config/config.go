// Package config provides application configuration
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	TelegramToken  string
	OwnerID        int64
	OwnerName      string
	TogetherAPIKey string
	AssistSecret   string

	Port          int
	KVDir         string
	DBPath        string
	ServiceChatID int64
	HistoryLimit  int

	Tuning Tuning
}

// Tuning holds generation parameters, optionally overridden by a YAML
// file. These are fixed at startup, not runtime-configurable.
type Tuning struct {
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"baseUrl"`
	MaxTokens      int     `yaml:"maxTokens"`
	Temperature    float32 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	TokenBudget    int     `yaml:"tokenBudget"`
}

// Load reads configuration from .env, the environment, an optional
// env.config file, and an optional awaybot.yaml tuning overlay.
// Environment variables win over env.config values.
func Load() (*Config, error) {
	// .env is optional; absence is not an error
	_ = godotenv.Load()

	fileCfg := ReadEnvConfig(getEnv("AWAYBOT_ENV_CONFIG", "env.config"))
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v, ok := fileCfg[key]; ok && v != "" {
			return v
		}
		return def
	}

	ownerID, _ := strconv.ParseInt(get("OWNER_USER_ID", "0"), 10, 64)
	serviceChat, _ := strconv.ParseInt(get("SERVICE_CHAT_ID", "777000"), 10, 64)
	port, _ := strconv.Atoi(get("PORT", "8000"))
	historyLimit, _ := strconv.Atoi(get("HISTORY_LIMIT", "10"))

	cfg := &Config{
		TelegramToken:  get("TELEGRAM_BOT_TOKEN", ""),
		OwnerID:        ownerID,
		OwnerName:      get("OWNER_NAME", "the owner"),
		TogetherAPIKey: get("TOGETHER_API_KEY", ""),
		AssistSecret:   get("ASSIST_SECRET", ""),
		Port:           port,
		KVDir:          get("KV_DIR", "./data/flags"),
		DBPath:         get("DB_PATH", "./data/awaybot.db"),
		ServiceChatID:  serviceChat,
		HistoryLimit:   historyLimit,
	}

	if path := get("AWAYBOT_TUNING", "awaybot.yaml"); path != "" {
		if err := loadTuning(path, &cfg.Tuning); err != nil {
			return nil, fmt.Errorf("load tuning %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration is present. The
// process must refuse to start misconfigured.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN cannot be empty")
	}
	if c.OwnerID == 0 {
		return fmt.Errorf("OWNER_USER_ID must be set")
	}
	if c.TogetherAPIKey == "" {
		return fmt.Errorf("TOGETHER_API_KEY cannot be empty")
	}
	if c.AssistSecret == "" {
		return fmt.Errorf("ASSIST_SECRET cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	return nil
}

// loadTuning overlays YAML tuning values if the file exists
func loadTuning(path string, t *Tuning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, t)
}

// ReadEnvConfig reads env.config (KEY=VALUE)
func ReadEnvConfig(path string) map[string]string {
	config := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return config
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		config[key] = value
	}
	return config
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
