package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/stellarlinkco/clawgate/internal/hooks"
)

const (
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 18791
	DefaultHookTimeoutMs       = 5000
	DefaultHookMaxRetries      = 2
	MaxHookRetries             = 10
	DefaultModelType           = "heuristic"
	DefaultModelName           = "qwen2.5-coder-1.5b-instruct-q2_k"
	DefaultModelURL            = "https://huggingface.co/Qwen/Qwen2.5-Coder-1.5B-Instruct-GGUF/resolve/main/qwen2.5-coder-1.5b-instruct-q2_k.gguf"
	DefaultFallbackModelURL    = "https://huggingface.co/TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF/resolve/main/tinyllama-1.1b-chat-v1.0.Q2_K.gguf"
	DefaultModelSizeMB         = 577
	DefaultQuantization        = "Q2_K"
	DefaultInferenceTimeoutMs  = 2000
	DefaultTemperature         = 0.1
	DefaultIdleUnloadMs        = 300000 // 5 minutes
	DefaultRetentionDays       = 7
	DefaultCleanupSchedule     = "0 3 * * *"
	DefaultPermissionTimeoutMs = 5000
)

type Config struct {
	Server      ServerConfig      `json:"server"`
	Hooks       HooksConfig       `json:"hooks"`
	Model       ModelConfig       `json:"model"`
	Permissions PermissionsConfig `json:"permissions"`
	Audit       AuditConfig       `json:"audit"`
	Notify      NotifyConfig      `json:"notify"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type HooksConfig struct {
	Enabled    bool             `json:"enabled"`
	TimeoutMs  int              `json:"timeoutMs"`
	MaxRetries int              `json:"maxRetries"`
	Callbacks  []hooks.HookSpec `json:"callbacks,omitempty"`
}

type ModelConfig struct {
	Type               string  `json:"type"` // "heuristic" (default) or "llama-server"
	Name               string  `json:"name"`
	Path               string  `json:"path"`
	URL                string  `json:"url,omitempty"`
	FallbackURL        string  `json:"fallbackUrl,omitempty"`
	Checksum           string  `json:"checksum,omitempty"`
	SizeMB             int     `json:"sizeMb"`
	Quantization       string  `json:"quantization"`
	ServerBinary       string  `json:"serverBinary,omitempty"`
	InferenceTimeoutMs int     `json:"inferenceTimeoutMs"`
	Temperature        float64 `json:"temperature"`
	IdleUnloadMs       int     `json:"idleUnloadMs"`
}

type PermissionsConfig struct {
	AutoApproveRead              bool     `json:"autoApproveRead"`
	DangerouslySkipConfirmations bool     `json:"dangerouslySkipConfirmations"`
	DenyPatterns                 []string `json:"denyPatterns,omitempty"`
	DefaultTimeoutMs             int      `json:"defaultTimeoutMs"`
}

type AuditConfig struct {
	DBPath          string `json:"dbPath,omitempty"`
	RetentionDays   int    `json:"retentionDays"`
	CleanupSchedule string `json:"cleanupSchedule"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Hooks: HooksConfig{
			Enabled:    true,
			TimeoutMs:  DefaultHookTimeoutMs,
			MaxRetries: DefaultHookMaxRetries,
		},
		Model: ModelConfig{
			Type:               DefaultModelType,
			Name:               DefaultModelName,
			Path:               filepath.Join(home, ".clawgate", "models", DefaultModelName+".gguf"),
			URL:                DefaultModelURL,
			FallbackURL:        DefaultFallbackModelURL,
			SizeMB:             DefaultModelSizeMB,
			Quantization:       DefaultQuantization,
			InferenceTimeoutMs: DefaultInferenceTimeoutMs,
			Temperature:        DefaultTemperature,
			IdleUnloadMs:       DefaultIdleUnloadMs,
		},
		Permissions: PermissionsConfig{
			AutoApproveRead:              true,
			DangerouslySkipConfirmations: false,
			DefaultTimeoutMs:             DefaultPermissionTimeoutMs,
		},
		Audit: AuditConfig{
			DBPath:          filepath.Join(home, ".clawgate", "decisions.db"),
			RetentionDays:   DefaultRetentionDays,
			CleanupSchedule: DefaultCleanupSchedule,
		},
		Notify: NotifyConfig{},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clawgate")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads the config file at path on top of the defaults,
// then applies environment overrides. A missing file is not an error;
// the defaults stand.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if host := os.Getenv("CLAWGATE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CLAWGATE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if enabled := os.Getenv("CLAWGATE_HOOKS_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Hooks.Enabled = parsed
		}
	}
	if modelType := os.Getenv("CLAWGATE_MODEL_TYPE"); modelType != "" {
		cfg.Model.Type = modelType
	}
	if path := os.Getenv("CLAWGATE_MODEL_PATH"); path != "" {
		cfg.Model.Path = path
	}
	if url := os.Getenv("CLAWGATE_MODEL_URL"); url != "" {
		cfg.Model.URL = url
	}
	if skip := os.Getenv("CLAWGATE_SKIP_CONFIRMATIONS"); skip != "" {
		if parsed, err := strconv.ParseBool(skip); err == nil {
			cfg.Permissions.DangerouslySkipConfirmations = parsed
		}
	}
	if dbPath := os.Getenv("CLAWGATE_DB_PATH"); dbPath != "" {
		cfg.Audit.DBPath = dbPath
	}
	if days := os.Getenv("CLAWGATE_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Audit.RetentionDays = parsed
		}
	}
	if token := os.Getenv("CLAWGATE_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chatID := os.Getenv("CLAWGATE_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}

	if cfg.Model.Path == "" {
		cfg.Model.Path = DefaultConfig().Model.Path
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = DefaultConfig().Audit.DBPath
	}
	if cfg.Audit.CleanupSchedule == "" {
		cfg.Audit.CleanupSchedule = DefaultCleanupSchedule
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// Validate rejects configurations the daemon cannot run with. Called
// after load and again after CLI flag overrides.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", c.Server.Port)
	}
	if c.Hooks.TimeoutMs <= 0 {
		return fmt.Errorf("hooks.timeoutMs must be greater than 0")
	}
	if c.Hooks.MaxRetries < 0 || c.Hooks.MaxRetries > MaxHookRetries {
		return fmt.Errorf("hooks.maxRetries must be in [0, %d]", MaxHookRetries)
	}
	switch c.Model.Type {
	case "heuristic", "llama-server":
	default:
		return fmt.Errorf("unsupported model type %q", c.Model.Type)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name cannot be empty")
	}
	if c.Model.InferenceTimeoutMs <= 0 {
		return fmt.Errorf("model.inferenceTimeoutMs must be greater than 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0.0 and 1.0")
	}
	if c.Model.IdleUnloadMs < 0 {
		return fmt.Errorf("model.idleUnloadMs must not be negative")
	}
	if c.Permissions.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("permissions.defaultTimeoutMs must be greater than 0")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retentionDays must be at least 1")
	}
	for _, pattern := range c.Permissions.DenyPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid deny pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.TimeoutMs) * time.Millisecond
}

func (c *ModelConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutMs) * time.Millisecond
}

func (c *ModelConfig) IdleUnload() time.Duration {
	return time.Duration(c.IdleUnloadMs) * time.Millisecond
}

func (c *PermissionsConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}
