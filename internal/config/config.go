package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

type Config struct {
	APIPort  int            `mapstructure:"apiPort"`
	LogLevel string         `mapstructure:"logLevel"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"cors"`
}

type DatabaseConfig struct {
	Type         string        `mapstructure:"type"`
	Path         string        `mapstructure:"path"`
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"maxOpenConns"`
	MaxRetries   int           `mapstructure:"maxRetries"`
	RetryDelay   time.Duration `mapstructure:"retryDelay"`
}

// AuthConfig carries the signing secret. Treat it as a secret: it is handed to
// the token manager once at startup and must never be logged.
type AuthConfig struct {
	SecretKey  string        `mapstructure:"secretKey"`
	BcryptCost int           `mapstructure:"bcryptCost"`
	TokenTTL   time.Duration `mapstructure:"tokenTTL"`
}

// String redacts the secret so the config can be logged safely.
func (a AuthConfig) String() string {
	return fmt.Sprintf("{SecretKey:<redacted> BcryptCost:%d TokenTTL:%s}", a.BcryptCost, a.TokenTTL)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("apiPort", 8081)
	v.SetDefault("logLevel", "info")
	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.path", "/data/messagely.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxRetries", 5)
	v.SetDefault("database.retryDelay", "2s")
	v.SetDefault("auth.secretKey", "")
	v.SetDefault("auth.bcryptCost", 12)
	v.SetDefault("auth.tokenTTL", "24h")
	v.SetDefault("cors.allowedOrigins", []string{"http://localhost:*", "http://127.0.0.1:*"})
}

// LoadConfig loads the configuration from a YAML file and environment variables.
// Environment variables use the key path with dots replaced by underscores,
// e.g. AUTH_SECRETKEY or DATABASE_TYPE.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid apiPort %d", c.APIPort)
	}
	if c.Auth.SecretKey == "" {
		return errors.New("auth.secretKey must be set")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcryptCost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth.tokenTTL must not be negative")
	}
	switch c.Database.Type {
	case DatabaseSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path must be set for sqlite")
		}
	case DatabasePostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}
