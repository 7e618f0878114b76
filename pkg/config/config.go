package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App    AppConfig
	Remote RemoteConfig
	JWT    JWTConfig
	Redis  RedisConfig
	Cart   CartConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CARTSYNC_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// RemoteConfig points at the server-authoritative cart API.
type RemoteConfig struct {
	BaseURL string        `envconfig:"CARTSYNC_REMOTE_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"CARTSYNC_REMOTE_TIMEOUT" default:"15s"`
}

func (r RemoteConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(r.BaseURL))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvRemoteBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvRemoteBaseURL)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvRemoteTimeout)
	}
	return nil
}

type JWTConfig struct {
	Secret string `envconfig:"CARTSYNC_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CARTSYNC_JWT_ISSUER" required:"true"`
	// ExpirationMinutes bounds tokens minted locally for development and tests.
	ExpirationMinutes int `envconfig:"CARTSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address      string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether snapshots should be persisted at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type CartConfig struct {
	// ComboRootPrefix marks the sku of a combo's root line. Must match the remote service.
	ComboRootPrefix string        `envconfig:"CARTSYNC_CART_COMBO_ROOT_PREFIX" default:"COMBO-"`
	SnapshotTTL     time.Duration `envconfig:"CARTSYNC_CART_SNAPSHOT_TTL" default:"24h"`
	EventHeartbeat  time.Duration `envconfig:"CARTSYNC_CART_EVENT_HEARTBEAT" default:"20s"`
}

func (c CartConfig) validate() error {
	if strings.TrimSpace(c.ComboRootPrefix) == "" {
		return fmt.Errorf("%s must not be empty", EnvComboRootPrefix)
	}
	if c.EventHeartbeat <= 0 {
		return fmt.Errorf("%s must be positive", EnvEventHeartbeat)
	}
	return nil
}
