package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "promozap"
	DefaultPGSSLMode       = "disable"
	DefaultSessionKey      = "primary"
	DefaultCacheDir        = "auth_state"
	DefaultGatewayURL      = "ws://127.0.0.1:3001/gateway"
	DefaultMaxReconnects   = 5
	DefaultShopeeBaseURL   = "https://open-api.affiliate.shopee.com.br/graphql"
	DefaultShopeeTimeout   = 30
	DefaultGeminiBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultGeminiTimeout   = 15
	DefaultDedupWindowSecs = 60
	DefaultDedupMaxTracked = 512
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
	Shopee   ShopeeConfig   `toml:"shopee"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Dedup    DedupConfig    `toml:"dedup"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// WhatsAppConfig identifies the session and the two conversations the bot
// works with: messages are read from MonitoredJID and resolved offers are
// published to TargetJID.
type WhatsAppConfig struct {
	SessionKey    string `toml:"session_key" validate:"required"`
	CacheDir      string `toml:"cache_dir" validate:"required"`
	GatewayURL    string `toml:"gateway_url" validate:"required,url"`
	MonitoredJID  string `toml:"monitored_jid" validate:"required"`
	TargetJID     string `toml:"target_jid" validate:"required"`
	MaxReconnects int    `toml:"max_reconnects" validate:"gt=0"`
}

type ShopeeConfig struct {
	AppID          string `toml:"app_id" validate:"required"`
	Secret         string `toml:"secret" validate:"required"`
	BaseURL        string `toml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gt=0"`
}

type GeminiConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url" validate:"required,url"`
	Model          string `toml:"model" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gt=0"`
}

type DedupConfig struct {
	WindowSeconds int `toml:"window_seconds" validate:"gt=0"`
	MaxTracked    int `toml:"max_tracked" validate:"gt=0"`
}

func (c ShopeeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DedupConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		WhatsApp: WhatsAppConfig{
			SessionKey:    DefaultSessionKey,
			CacheDir:      DefaultCacheDir,
			GatewayURL:    DefaultGatewayURL,
			MaxReconnects: DefaultMaxReconnects,
		},
		Shopee: ShopeeConfig{
			BaseURL:        DefaultShopeeBaseURL,
			TimeoutSeconds: DefaultShopeeTimeout,
		},
		Gemini: GeminiConfig{
			BaseURL:        DefaultGeminiBaseURL,
			Model:          DefaultGeminiModel,
			TimeoutSeconds: DefaultGeminiTimeout,
		},
		Dedup: DedupConfig{
			WindowSeconds: DefaultDedupWindowSecs,
			MaxTracked:    DefaultDedupMaxTracked,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every field the bot needs at runtime. Load alone does not
// validate so that tooling (migrations, status checks) can read a partial
// config.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
