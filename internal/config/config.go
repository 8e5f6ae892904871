package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "PARLEY"

const (
	DriverRouter = "router"
	DriverDirect = "direct"
)

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Inference InferenceConfig `mapstructure:"inference"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

// BackendConfig points at the routing and chat-history service.
type BackendConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type AuthConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

type InferenceConfig struct {
	// Driver is "router" (POST /chat on the backend) or "direct".
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
	Direct  DirectConfig  `mapstructure:"direct"`
}

// DirectConfig configures the OpenAI-compatible endpoint used by the direct
// driver.
type DirectConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	AutoModel      string            `mapstructure:"auto_model"`
	ProviderModels map[string]string `mapstructure:"provider_models"`
	MaxRetries     int               `mapstructure:"max_retries"`
	Tools          bool              `mapstructure:"tools"`
}

type StorageConfig struct {
	// Dir holds the local preference database. Empty means the user config dir.
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("backend.retry_count", 2)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.user_id", "")

	v.SetDefault("inference.driver", DriverRouter)
	v.SetDefault("inference.timeout", 120*time.Second)
	v.SetDefault("inference.direct.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("inference.direct.api_key", "")
	v.SetDefault("inference.direct.auto_model", "openrouter/auto")
	v.SetDefault("inference.direct.provider_models", map[string]string{
		"openai":    "openai/gpt-4.1-mini",
		"anthropic": "anthropic/claude-sonnet-4",
		"gemini":    "google/gemini-2.5-flash",
	})
	v.SetDefault("inference.direct.max_retries", 2)
	v.SetDefault("inference.direct.tools", true)

	v.SetDefault("storage.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Load reads .env (if present), the optional config file at path and
// PARLEY_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func (c *Config) normalize() {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Inference.Driver = strings.ToLower(strings.TrimSpace(c.Inference.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

func (c *Config) Validate() error {
	switch c.Inference.Driver {
	case DriverRouter:
		if c.Backend.BaseURL == "" {
			return errors.New("backend.base_url is required")
		}
	case DriverDirect:
		if c.Inference.Direct.APIKey == "" {
			return errors.New("inference.direct.api_key is required for the direct driver")
		}
	default:
		return errors.Errorf("unknown inference.driver %q", c.Inference.Driver)
	}
	if c.Inference.Timeout <= 0 {
		return errors.New("inference.timeout must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
