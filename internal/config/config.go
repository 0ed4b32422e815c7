package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/hitoshi/menucatalog/internal/validation"
)

// ConfigPathEnvVar は設定ファイルのパスを指定する環境変数名。
const ConfigPathEnvVar = "CONFIG_PATH"

// セッションストアの種類
const (
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"
	SessionStoreBadger   = "badger"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
// 優先順位は 環境変数 > 設定ファイル > デフォルト値。
type Config struct {
	// Database
	DatabaseURL string `koanf:"database_url"`

	// Google
	GoogleClientID     string        `koanf:"google_client_id"`
	GoogleClientSecret string        `koanf:"google_client_secret"`
	GoogleRedirectURL  string        `koanf:"google_redirect_url"`
	ProviderTimeout    time.Duration `koanf:"provider_timeout" validate:"gt=0"`

	// Session
	SessionMaxAge          int           `koanf:"session_max_age" validate:"gt=0"` // 秒
	SessionStore           string        `koanf:"session_store" validate:"oneof=postgres memory badger"`
	SessionBadgerPath      string        `koanf:"session_badger_path"`
	SessionCleanupInterval time.Duration `koanf:"session_cleanup_interval" validate:"gt=0"`

	// Rate Limit（req/min）
	RateLimitGeneral int `koanf:"rate_limit_general" validate:"gt=0"`
	RateLimitWrite   int `koanf:"rate_limit_write" validate:"gt=0"`
	RateLimitSignIn  int `koanf:"rate_limit_signin" validate:"gt=0"`

	// Server
	ServerPort string `koanf:"server_port" validate:"required,numeric"`
	BaseURL    string `koanf:"base_url"`

	// Cookie
	CookieSecure bool   `koanf:"-"` // BASE_URLがhttpsの場合にtrue
	CookieDomain string `koanf:"cookie_domain"`

	// CORS
	CORSAllowedOrigin string `koanf:"cors_allowed_origin"`

	// Logging
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// requiredKeys は未設定の場合に起動を中止する設定キー。
var requiredKeys = []string{
	"database_url",
	"google_client_id",
	"google_client_secret",
	"base_url",
}

func defaultConfig() *Config {
	return &Config{
		GoogleRedirectURL:      "postmessage",
		ProviderTimeout:        10 * time.Second,
		SessionMaxAge:          86400,
		SessionStore:           SessionStorePostgres,
		SessionCleanupInterval: time.Hour,
		RateLimitGeneral:       120,
		RateLimitWrite:         30,
		RateLimitSignIn:        10,
		ServerPort:             "8080",
		CORSAllowedOrigin:      "http://localhost:3000",
		LogLevel:               "info",
	}
}

// Load はデフォルト値、設定ファイル（CONFIG_PATH）、環境変数の順にConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 空文字の環境変数は未設定として扱い、既知のキーのみを読み込む
	known := knownKeys(k)
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		key = strings.ToLower(key)
		if _, ok := known[key]; !ok || value == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if k.String(key) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate は値の範囲と列挙値を検証する。
func (c *Config) Validate() error {
	err := validation.Validator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s=%v (%s)", fe.Field(), fe.Value(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(problems, ", "))
}

// SessionMaxAgeDuration はセッションの有効期間を返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

func knownKeys(k *koanf.Koanf) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, key := range k.Keys() {
		keys[key] = struct{}{}
	}
	for _, key := range requiredKeys {
		keys[key] = struct{}{}
	}
	return keys
}
