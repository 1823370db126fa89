package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/streamline-studio/streamline/backend/go-services/internal/storage"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	MinIO     storage.MinIOConfig
	RateLimit RateLimitConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	Auth      AuthConfig
	Autosave  AutosaveConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig selects the document store. Driver is memory, mongo or postgres.
type StorageConfig struct {
	Driver string
	// InlineLimit is the revision size above which content moves to MinIO (mongo only).
	InlineLimit int
	UseMinIO    bool
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	Window   time.Duration
	UseRedis bool
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

// Issuer returns the realm issuer URL, or "" when Keycloak is not configured.
func (k KeycloakConfig) Issuer() string {
	if k.URL == "" || k.Realm == "" {
		return ""
	}
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type AuthConfig struct {
	// AllowInsecureToken accepts unsigned tokens; local and integration use only.
	AllowInsecureToken bool
}

// AutosaveConfig tunes the editor-side controller and its draft cache.
type AutosaveConfig struct {
	Debounce     time.Duration
	SaveTimeout  time.Duration
	DraftCeiling int
	// DraftDriver is memory, redis or sqlite.
	DraftDriver string
	DraftTTL    time.Duration
	SQLitePath  string
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5002")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("STORAGE_DRIVER", "memory")
	viper.SetDefault("REVISION_INLINE_LIMIT", 4<<20)
	viper.SetDefault("MONGODB_DATABASE", "streamline")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("POSTGRES_MAX_CONNS", 10)
	viper.SetDefault("POSTGRES_TIMEOUT", 10)
	viper.SetDefault("RATE_LIMIT_RPS", 10.0)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW", 1)
	viper.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	viper.SetDefault("AUTOSAVE_DEBOUNCE_MS", 2000)
	viper.SetDefault("AUTOSAVE_TIMEOUT", 10)
	viper.SetDefault("DRAFT_MAX_BYTES", 500000)
	viper.SetDefault("DRAFT_DRIVER", "memory")
	viper.SetDefault("DRAFT_TTL_HOURS", 168)
	viper.SetDefault("DRAFT_SQLITE_PATH", "drafts.db")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(viper.GetString("STORAGE_DRIVER")),
			InlineLimit: viper.GetInt("REVISION_INLINE_LIMIT"),
			UseMinIO:    viper.GetBool("REVISION_BLOBS_MINIO"),
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN:      viper.GetString("POSTGRES_DSN"),
			MaxConns: viper.GetInt32("POSTGRES_MAX_CONNS"),
			Timeout:  time.Duration(viper.GetInt("POSTGRES_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		MinIO: *storage.LoadMinIOConfig(),
		RateLimit: RateLimitConfig{
			Enabled:  viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    viper.GetInt("RATE_LIMIT_BURST"),
			Window:   time.Duration(viper.GetInt("RATE_LIMIT_WINDOW")) * time.Second,
			UseRedis: viper.GetBool("RATE_LIMIT_USE_REDIS"),
		},
		Keycloak: KeycloakConfig{
			URL:          viper.GetString("KEYCLOAK_URL"),
			Realm:        viper.GetString("KEYCLOAK_REALM"),
			ClientID:     viper.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: viper.GetString("KEYCLOAK_CLIENT_SECRET"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(viper.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		Auth: AuthConfig{
			AllowInsecureToken: viper.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		Autosave: AutosaveConfig{
			Debounce:     time.Duration(viper.GetInt("AUTOSAVE_DEBOUNCE_MS")) * time.Millisecond,
			SaveTimeout:  time.Duration(viper.GetInt("AUTOSAVE_TIMEOUT")) * time.Second,
			DraftCeiling: viper.GetInt("DRAFT_MAX_BYTES"),
			DraftDriver:  strings.ToLower(viper.GetString("DRAFT_DRIVER")),
			DraftTTL:     time.Duration(viper.GetInt("DRAFT_TTL_HOURS")) * time.Hour,
			SQLitePath:   viper.GetString("DRAFT_SQLITE_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == "" && cfg.Keycloak.Issuer() == "" && !cfg.Auth.AllowInsecureToken {
		logger.Warnf("no token verifier configured: set KEYCLOAK_URL/KEYCLOAK_REALM or JWT_SECRET")
	}
	return cfg, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mongo":
		if c.MongoDB.URI == "" {
			return missing("MONGODB_URI", "STORAGE_DRIVER=mongo")
		}
		if c.Storage.UseMinIO && c.MinIO.Endpoint == "" {
			return missing("MINIO_ENDPOINT", "REVISION_BLOBS_MINIO=true")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return missing("POSTGRES_DSN", "STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q (want memory, mongo or postgres)", c.Storage.Driver)
	}

	switch c.Autosave.DraftDriver {
	case "memory":
	case "redis":
		if c.Redis.Addr() == "" {
			return missing("REDIS_HOST", "DRAFT_DRIVER=redis")
		}
	case "sqlite":
		if c.Autosave.SQLitePath == "" {
			return missing("DRAFT_SQLITE_PATH", "DRAFT_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("config: unknown DRAFT_DRIVER %q (want memory, redis or sqlite)", c.Autosave.DraftDriver)
	}

	if c.RateLimit.Enabled && c.RateLimit.UseRedis && c.Redis.Addr() == "" {
		return missing("REDIS_HOST", "RATE_LIMIT_USE_REDIS=true")
	}
	if c.Autosave.Debounce <= 0 {
		return fmt.Errorf("config: AUTOSAVE_DEBOUNCE_MS must be positive")
	}
	if c.Autosave.DraftCeiling <= 0 {
		return fmt.Errorf("config: DRAFT_MAX_BYTES must be positive")
	}
	return nil
}

func missing(key, because string) error {
	return fmt.Errorf("config: %s is required when %s", key, because)
}
