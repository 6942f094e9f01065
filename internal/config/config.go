package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates application configuration values.
type Config struct {
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Store       StoreConfig     `yaml:"store"`
	Graph       GraphConfig     `yaml:"graph"`
	Session     SessionConfig   `yaml:"session"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Blob        BlobConfig      `yaml:"blob"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
	AllowedOriginsCSV string        `yaml:"allowedOrigins"`
	PublicBaseURL     string        `yaml:"publicBaseUrl"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver         string `yaml:"driver"` // postgres|neo4j|memory
	DatabaseURL    string `yaml:"databaseUrl"`
	MaxConnections int    `yaml:"maxConnections"`
	MigrateOnStart bool   `yaml:"migrateOnStart"`
}

// GraphConfig describes connectivity to the graph database (Neo4j).
type GraphConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"maxConnections"`
}

// SessionConfig controls session token signing and the session cookie.
type SessionConfig struct {
	Secret       string        `yaml:"secret"`
	TTL          time.Duration `yaml:"ttl"`
	CookieName   string        `yaml:"cookieName"`
	SecureCookie bool          `yaml:"secureCookie"`
}

// AuthConfig tunes credential hashing.
type AuthConfig struct {
	BcryptCost int `yaml:"bcryptCost"`
}

// LimitConfig allows Limit events per Window.
type LimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// RateLimitConfig holds the per-concern throttling policies.
type RateLimitConfig struct {
	PhoneCheck LimitConfig `yaml:"phoneCheck"`
	Auth       LimitConfig `yaml:"auth"`
	API        LimitConfig `yaml:"api"`
}

// BlobConfig configures photo upload storage.
type BlobConfig struct {
	Dir            string `yaml:"dir"`
	BaseURL        string `yaml:"baseUrl"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // text|json
	IncludeCaller bool   `yaml:"includeCaller"`
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverNeo4j    = "neo4j"
	DriverMemory   = "memory"
)

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10
	defaultStoreMaxConns    = 10
	defaultSessionTTL       = 30 * 24 * time.Hour
	defaultCookieName       = "session"
	defaultBcryptCost       = 10
	defaultBlobDir          = "./data/blobs"
	defaultMaxUploadBytes   = 10 << 20
	devSessionSecret        = "dev-secret-change-in-production"
)

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Environment: EnvDevelopment,
		HTTP: HTTPConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			IdleTimeout:     defaultIdleTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Store: StoreConfig{
			Driver:         DriverPostgres,
			MaxConnections: defaultStoreMaxConns,
			MigrateOnStart: true,
		},
		Graph: GraphConfig{
			MaxConnections: defaultGraphMaxSessions,
		},
		Session: SessionConfig{
			TTL:        defaultSessionTTL,
			CookieName: defaultCookieName,
		},
		Auth: AuthConfig{
			BcryptCost: defaultBcryptCost,
		},
		RateLimit: RateLimitConfig{
			PhoneCheck: LimitConfig{Limit: 10, Window: 15 * time.Minute},
			Auth:       LimitConfig{Limit: 5, Window: 15 * time.Minute},
			API:        LimitConfig{Limit: 100, Window: time.Minute},
		},
		Blob: BlobConfig{
			Dir:            defaultBlobDir,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Logging: LoggingConfig{
			Level:  defaultLoggingLevel,
			Format: defaultLoggingFormat,
		},
	}
}

// Load reads configuration from an optional YAML file named by CONFIG_FILE
// and then from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Session.Secret == "" && cfg.Environment != EnvProduction {
		cfg.Session.Secret = devSessionSecret
	}
	if cfg.Environment == EnvProduction {
		cfg.Session.SecureCookie = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case DriverNeo4j:
		if c.Graph.URI == "" {
			return errors.New("GRAPH_URI is required for the neo4j store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Session.Secret == "" {
		return errors.New("SESSION_SECRET is required in production")
	}
	if c.Environment == EnvProduction && c.Session.Secret == devSessionSecret {
		return errors.New("SESSION_SECRET must be changed in production")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.HTTP.Port)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Environment = strings.ToLower(valueOrDefault("APP_ENV", cfg.Environment))

	cfg.HTTP.Host = valueOrDefault("SERVER_HOST", cfg.HTTP.Host)
	port, err := parsePort("SERVER_PORT", cfg.HTTP.Port)
	if err != nil {
		return err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"SESSION_TTL", &cfg.Session.TTL},
		{"RATE_LIMIT_PHONE_CHECK_WINDOW", &cfg.RateLimit.PhoneCheck.Window},
		{"RATE_LIMIT_AUTH_WINDOW", &cfg.RateLimit.Auth.Window},
		{"RATE_LIMIT_API_WINDOW", &cfg.RateLimit.API.Window},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	cfg.HTTP.AllowedOriginsCSV = valueOrDefault("SERVER_ALLOWED_ORIGINS", cfg.HTTP.AllowedOriginsCSV)
	cfg.HTTP.PublicBaseURL = valueOrDefault("PUBLIC_BASE_URL", cfg.HTTP.PublicBaseURL)

	cfg.Store.Driver = strings.ToLower(valueOrDefault("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.DatabaseURL = valueOrDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.MaxConnections = parseIntWithDefault("DATABASE_MAX_CONNECTIONS", cfg.Store.MaxConnections)
	cfg.Store.MigrateOnStart = parseBoolWithDefault("DATABASE_MIGRATE", cfg.Store.MigrateOnStart)

	cfg.Graph.URI = valueOrDefault("GRAPH_URI", cfg.Graph.URI)
	cfg.Graph.Database = valueOrDefault("GRAPH_DATABASE", cfg.Graph.Database)
	cfg.Graph.Username = valueOrDefault("GRAPH_USERNAME", cfg.Graph.Username)
	cfg.Graph.Password = valueOrDefault("GRAPH_PASSWORD", cfg.Graph.Password)
	cfg.Graph.MaxConnections = parseIntWithDefault("GRAPH_MAX_CONNECTIONS", cfg.Graph.MaxConnections)

	cfg.Session.Secret = valueOrDefault("SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.CookieName = valueOrDefault("SESSION_COOKIE_NAME", cfg.Session.CookieName)
	cfg.Session.SecureCookie = parseBoolWithDefault("SESSION_SECURE_COOKIE", cfg.Session.SecureCookie)

	cfg.Auth.BcryptCost = parseIntWithDefault("AUTH_BCRYPT_COST", cfg.Auth.BcryptCost)

	cfg.RateLimit.PhoneCheck.Limit = parseIntWithDefault("RATE_LIMIT_PHONE_CHECK", cfg.RateLimit.PhoneCheck.Limit)
	cfg.RateLimit.Auth.Limit = parseIntWithDefault("RATE_LIMIT_AUTH", cfg.RateLimit.Auth.Limit)
	cfg.RateLimit.API.Limit = parseIntWithDefault("RATE_LIMIT_API", cfg.RateLimit.API.Limit)

	cfg.Blob.Dir = valueOrDefault("BLOB_DIR", cfg.Blob.Dir)
	cfg.Blob.BaseURL = valueOrDefault("BLOB_BASE_URL", cfg.Blob.BaseURL)
	cfg.Blob.MaxUploadBytes = int64(parseIntWithDefault("BLOB_MAX_UPLOAD_BYTES", int(cfg.Blob.MaxUploadBytes)))

	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.IncludeCaller = parseBoolWithDefault("LOG_INCLUDE_CALLER", cfg.Logging.IncludeCaller)
	return nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
