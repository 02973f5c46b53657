package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	External  ExternalConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig selects the user store: "postgres", "mongo" or "memory".
type StorageConfig struct {
	Backend         string
	ConnectAttempts uint
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	AccessSecret    string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
}

type AuthConfig struct {
	LocalEnabled     bool
	DefaultProvider  string
	BcryptCost       int
	OperationTimeout time.Duration
}

// ExternalConfig describes the optional remote identity provider.
type ExternalConfig struct {
	Enabled              bool
	Name                 string
	Issuer               string
	AppID                string
	JWKSURL              string
	Algorithm            string
	KeySetTTL            time.Duration
	HTTPTimeout          time.Duration
	ClockSkew            time.Duration
	LinkByEmail          bool
	RequireVerifiedEmail bool
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("STORAGE_CONNECT_ATTEMPTS", 5)
	v.SetDefault("MONGODB_DATABASE", "gogotex")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "auth:")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)
	v.SetDefault("JWT_ISSUER", "gogotex-auth")
	v.SetDefault("JWT_AUDIENCE", "gogotex")
	v.SetDefault("AUTH_LOCAL_ENABLED", true)
	v.SetDefault("AUTH_DEFAULT_PROVIDER", "local")
	v.SetDefault("AUTH_BCRYPT_COST", 12)
	v.SetDefault("AUTH_OPERATION_TIMEOUT", 5)
	v.SetDefault("AUTH_EXTERNAL_ENABLED", false)
	v.SetDefault("AUTH_EXTERNAL_NAME", "external")
	v.SetDefault("AUTH_EXTERNAL_ALGORITHM", "RS256")
	v.SetDefault("AUTH_EXTERNAL_KEYSET_TTL", 60)
	v.SetDefault("AUTH_EXTERNAL_LINK_BY_EMAIL", true)
	v.SetDefault("AUTH_EXTERNAL_REQUIRE_VERIFIED_EMAIL", false)
	v.SetDefault("AUTH_CLOCK_SKEW", 30)
	v.SetDefault("AUTH_HTTP_TIMEOUT", 10)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)
	v.SetDefault("RATE_LIMIT_RPS", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(v.GetString("STORAGE_BACKEND")),
			ConnectAttempts: v.GetUint("STORAGE_CONNECT_ATTEMPTS"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		JWT: JWTConfig{
			AccessSecret:    v.GetString("JWT_ACCESS_SECRET"),
			RefreshSecret:   v.GetString("JWT_REFRESH_SECRET"),
			AccessTokenTTL:  time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(v.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
			Issuer:          v.GetString("JWT_ISSUER"),
			Audience:        v.GetString("JWT_AUDIENCE"),
		},
		Auth: AuthConfig{
			LocalEnabled:     v.GetBool("AUTH_LOCAL_ENABLED"),
			DefaultProvider:  v.GetString("AUTH_DEFAULT_PROVIDER"),
			BcryptCost:       v.GetInt("AUTH_BCRYPT_COST"),
			OperationTimeout: time.Duration(v.GetInt("AUTH_OPERATION_TIMEOUT")) * time.Second,
		},
		External: ExternalConfig{
			Enabled:              v.GetBool("AUTH_EXTERNAL_ENABLED"),
			Name:                 v.GetString("AUTH_EXTERNAL_NAME"),
			Issuer:               v.GetString("AUTH_EXTERNAL_ISSUER"),
			AppID:                v.GetString("AUTH_EXTERNAL_APP_ID"),
			JWKSURL:              v.GetString("AUTH_EXTERNAL_JWKS_URL"),
			Algorithm:            v.GetString("AUTH_EXTERNAL_ALGORITHM"),
			KeySetTTL:            time.Duration(v.GetInt("AUTH_EXTERNAL_KEYSET_TTL")) * time.Minute,
			HTTPTimeout:          time.Duration(v.GetInt("AUTH_HTTP_TIMEOUT")) * time.Second,
			ClockSkew:            time.Duration(v.GetInt("AUTH_CLOCK_SKEW")) * time.Second,
			LinkByEmail:          v.GetBool("AUTH_EXTERNAL_LINK_BY_EMAIL"),
			RequireVerifiedEmail: v.GetBool("AUTH_EXTERNAL_REQUIRE_VERIFIED_EMAIL"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required"))
	} else if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if !c.Auth.LocalEnabled && !c.External.Enabled {
		errs = append(errs, errors.New("no identity provider is enabled"))
	}
	if c.External.Enabled && (c.External.Issuer == "" || c.External.AppID == "") {
		errs = append(errs, errors.New("AUTH_EXTERNAL_ISSUER and AUTH_EXTERNAL_APP_ID are required when the external provider is enabled"))
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	case "mongo":
		if c.MongoDB.URI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}
