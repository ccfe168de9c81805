package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "seikyubot"
	DefaultPGSSLMode    = "disable"
	DefaultLarkBaseURL  = "https://open.feishu.cn"
	DefaultGeminiBase   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultAppBaseURL   = "http://localhost:8080"
	DefaultSelectionTTL = 5
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Lark     LarkConfig     `toml:"lark"`
	Gemini   GeminiConfig   `toml:"gemini"`
	App      AppConfig      `toml:"app"`
	Issuer   IssuerConfig   `toml:"issuer"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// LarkConfig holds the Lark open-platform app credentials. There is no
// encrypt_key field on purpose: encrypted webhook payloads are rejected and
// encryption must stay disabled in the app console.
type LarkConfig struct {
	AppID             string `toml:"app_id" validate:"required"`
	AppSecret         string `toml:"app_secret" validate:"required"`
	VerificationToken string `toml:"verification_token"`
	BaseURL           string `toml:"base_url"`
}

type GeminiConfig struct {
	APIKey  string `toml:"api_key" validate:"required"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

// AppConfig controls values surfaced to end users.
type AppConfig struct {
	// BaseURL is the externally reachable URL used to build invoice edit links.
	BaseURL string `toml:"base_url"`
	// SelectionTTLMinutes bounds how long an issuer-selection prompt stays open.
	SelectionTTLMinutes int `toml:"selection_ttl_minutes"`
}

// IssuerConfig holds the two statically configured issuer identities.
type IssuerConfig struct {
	Pattern1 IssuerPattern `toml:"pattern1"`
	Pattern2 IssuerPattern `toml:"pattern2"`
}

type IssuerPattern struct {
	Name       string `toml:"name"`
	Company    string `toml:"company"`
	Address    string `toml:"address"`
	PostalCode string `toml:"postal_code"`
	Phone      string `toml:"phone"`
	Email      string `toml:"email"`
	BankInfo   string `toml:"bank_info"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
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
		Lark: LarkConfig{
			BaseURL: DefaultLarkBaseURL,
		},
		Gemini: GeminiConfig{
			Model:   DefaultGeminiModel,
			BaseURL: DefaultGeminiBase,
		},
		App: AppConfig{
			BaseURL:             DefaultAppBaseURL,
			SelectionTTLMinutes: DefaultSelectionTTL,
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

	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultHTTPAddr
	}
	if c.Lark.BaseURL == "" {
		c.Lark.BaseURL = DefaultLarkBaseURL
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = DefaultGeminiModel
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = DefaultGeminiBase
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = DefaultAppBaseURL
	}
	if c.App.SelectionTTLMinutes <= 0 {
		c.App.SelectionTTLMinutes = DefaultSelectionTTL
	}
}

// Validate checks the fields required to talk to the external platforms.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Lark); err != nil {
		return fmt.Errorf("lark config: %w", err)
	}
	if err := v.Struct(c.Gemini); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}
	return nil
}
