package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBPath          string        `mapstructure:"DB_PATH"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	TokenTTL        time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	BlobDriver      string        `mapstructure:"BLOB_DRIVER"`
	BlobFSRoot      string        `mapstructure:"BLOB_FS_ROOT"`
	BlobS3Bucket    string        `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string        `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string        `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool          `mapstructure:"BLOB_S3_PATH_STYLE"`
	MetricsEnabled  bool          `mapstructure:"METRICS_ENABLED"`
	DefaultSLAHours int           `mapstructure:"DEFAULT_SLA_HOURS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "hub.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("JWT_ISSUER", "vetting-app")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BLOB_DRIVER", "fs")
	v.SetDefault("BLOB_FS_ROOT", "./uploads")
	v.SetDefault("BLOB_S3_REGION", "us-east-1")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("DEFAULT_SLA_HOURS", 48)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"DATABASE_URL", "DB_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR",
		"JWT_SECRET", "JWT_ISSUER", "TOKEN_TTL",
		"CORS_ORIGINS",
		"BLOB_DRIVER", "BLOB_FS_ROOT", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
		"METRICS_ENABLED", "DEFAULT_SLA_HOURS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.BlobDriver = strings.ToLower(cfg.BlobDriver)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Backend reports which relational store is in use. DATABASE_URL selects
// PostgreSQL; otherwise the SQLite file at DB_PATH is used.
func (c *Config) Backend() string {
	if c.DatabaseURL != "" {
		return BackendPostgres
	}
	return BackendSQLite
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if !schemaPattern.MatchString(c.DBSchema) {
		return fmt.Errorf("DB_SCHEMA %q is not a valid schema identifier", c.DBSchema)
	}
	if c.Backend() == BackendSQLite && c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required when DATABASE_URL is not set")
	}

	switch c.BlobDriver {
	case "memory":
	case "fs":
		if c.BlobFSRoot == "" {
			return fmt.Errorf("BLOB_FS_ROOT is required when BLOB_DRIVER is \"fs\"")
		}
	case "s3":
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be \"memory\", \"fs\", or \"s3\", got %q", c.BlobDriver)
	}

	if c.DefaultSLAHours < 1 || c.DefaultSLAHours > 999 {
		return fmt.Errorf("DEFAULT_SLA_HOURS must be between 1 and 999, got %d", c.DefaultSLAHours)
	}
	return nil
}
