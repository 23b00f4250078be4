package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig configures the student exam client.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	NISN           string        `mapstructure:"nisn"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Store          StoreConfig   `mapstructure:"store"`
	Session        SessionConfig `mapstructure:"session"`
}

// StoreConfig selects the device-local answer cache.
type StoreConfig struct {
	// Driver is "file" or "redis".
	Driver   string `mapstructure:"driver"`
	Dir      string `mapstructure:"dir"`
	RedisURL string `mapstructure:"redis_url"`
}

// SessionConfig tunes the exam session engine.
type SessionConfig struct {
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	EssayDebounce   time.Duration `mapstructure:"essay_debounce"`
	PasteDelay      time.Duration `mapstructure:"paste_delay"`
	AutoSubmitRetry time.Duration `mapstructure:"auto_submit_retry"`
}

// LoadClient reads exam-client.yaml (or the file at path) and applies
// EXSTEM_* environment overrides, e.g. EXSTEM_STORE_DIR.
func LoadClient(path string) (*ClientConfig, error) {
	v := viper.New()

	v.SetDefault("base_url", "http://localhost:8080/api/v1")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "pretty")
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "./.exstem")
	v.SetDefault("store.redis_url", "redis://localhost:6379/1")
	v.SetDefault("session.grace_period", "5s")
	v.SetDefault("session.drain_timeout", "2m")
	v.SetDefault("session.essay_debounce", "2s")
	v.SetDefault("session.paste_delay", "500ms")
	v.SetDefault("session.auto_submit_retry", "5s")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("exam-client")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.exstem")
	}

	v.SetEnvPrefix("EXSTEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read client config: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode client config: %w", err)
	}

	switch cfg.Store.Driver {
	case "file", "redis":
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return &cfg, nil
}
