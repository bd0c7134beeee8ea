package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerConfig     ServerConfig     `mapstructure:"server"`
	AuthConfig       AuthConfig       `mapstructure:"auth"`
	DatabaseConfig   DatabaseConfig   `mapstructure:"database"`
	RedisConfig      RedisConfig      `mapstructure:"redis"`
	VaultConfig      VaultConfig      `mapstructure:"vault"`
	LoggingConfig    LoggingConfig    `mapstructure:"logging"`
	DisciplineConfig DisciplineConfig `mapstructure:"discipline"`
	RewardsConfig    RewardsConfig    `mapstructure:"rewards"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	AllowedOrigins  string `mapstructure:"allowed_origins"` // CORS allowed origins, comma separated
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	TLSCertFile     string `mapstructure:"tls_cert_file"`
	TLSKeyFile      string `mapstructure:"tls_key_file"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // Seconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // Seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // Seconds
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	GinMode         string `mapstructure:"gin_mode"`
}

// AuthConfig holds token validation settings. Tokens are issued by the
// identity provider; this service only verifies them.
type AuthConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	JWTSecret           string        `mapstructure:"jwt_secret"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
	DevUserID           string        `mapstructure:"dev_user_id"` // used when auth is disabled
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // postgres, sqlite, memory
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"ssl_mode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`  // KV v2 mount
	SecretPath string `mapstructure:"secret_path"` // path holding service secrets
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CACert     string `mapstructure:"ca_cert"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `mapstructure:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `mapstructure:"json_format"`  // Output as JSON
	IncludeFile bool   `mapstructure:"include_file"` // Include file and line number
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// DisciplineConfig holds the day-boundary and override rules.
type DisciplineConfig struct {
	DefaultTimezone      string        `mapstructure:"default_timezone"`
	LateCutoff           string        `mapstructure:"late_cutoff"` // HH:MM local time
	OverrideMinReasonLen int           `mapstructure:"override_min_reason_len"`
	OverrideHold         time.Duration `mapstructure:"override_hold"`
	SessionStaleAfter    time.Duration `mapstructure:"session_stale_after"`
	DayCacheTTL          time.Duration `mapstructure:"day_cache_ttl"`
}

type RewardsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	XPPerCleanDay   int  `mapstructure:"xp_per_clean_day"`
	OverridePenalty int  `mapstructure:"override_penalty"`
}

// Load reads an optional config file (json, yaml or toml) and then applies
// environment overrides, which always take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.gin_mode", "release")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.access_token_duration", 15*time.Minute)
	v.SetDefault("auth.dev_user_id", "local")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "journal")
	v.SetDefault("database.name", "journal")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "journal.db")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "trading-journal/service")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.json_format", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("discipline.default_timezone", "America/New_York")
	v.SetDefault("discipline.late_cutoff", "16:10")
	v.SetDefault("discipline.override_min_reason_len", 30)
	v.SetDefault("discipline.override_hold", 3*time.Second)
	v.SetDefault("discipline.session_stale_after", 30*time.Second)
	v.SetDefault("discipline.day_cache_ttl", 10*time.Minute)

	v.SetDefault("rewards.enabled", true)
	v.SetDefault("rewards.xp_per_clean_day", 10)
	v.SetDefault("rewards.override_penalty", 25)
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.TLSEnabled = getEnvBoolOrDefault("SERVER_TLS_ENABLED", cfg.ServerConfig.TLSEnabled)
	cfg.ServerConfig.TLSCertFile = getEnvOrDefault("SERVER_TLS_CERT", cfg.ServerConfig.TLSCertFile)
	cfg.ServerConfig.TLSKeyFile = getEnvOrDefault("SERVER_TLS_KEY", cfg.ServerConfig.TLSKeyFile)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)
	cfg.ServerConfig.RateLimitPerMin = getEnvIntOrDefault("SERVER_RATE_LIMIT_PER_MIN", cfg.ServerConfig.RateLimitPerMin)
	cfg.ServerConfig.GinMode = getEnvOrDefault("GIN_MODE", cfg.ServerConfig.GinMode)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.DevUserID = getEnvOrDefault("AUTH_DEV_USER_ID", cfg.AuthConfig.DevUserID)

	// Database config
	cfg.DatabaseConfig.Driver = getEnvOrDefault("DB_DRIVER", cfg.DatabaseConfig.Driver)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	cfg.DatabaseConfig.SQLitePath = getEnvOrDefault("DB_SQLITE_PATH", cfg.DatabaseConfig.SQLitePath)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Discipline config
	cfg.DisciplineConfig.DefaultTimezone = getEnvOrDefault("DISCIPLINE_DEFAULT_TIMEZONE", cfg.DisciplineConfig.DefaultTimezone)
	cfg.DisciplineConfig.LateCutoff = getEnvOrDefault("DISCIPLINE_LATE_CUTOFF", cfg.DisciplineConfig.LateCutoff)
	cfg.DisciplineConfig.OverrideMinReasonLen = getEnvIntOrDefault("DISCIPLINE_OVERRIDE_MIN_REASON_LEN", cfg.DisciplineConfig.OverrideMinReasonLen)
	cfg.DisciplineConfig.OverrideHold = getEnvDurationOrDefault("DISCIPLINE_OVERRIDE_HOLD", cfg.DisciplineConfig.OverrideHold)
	cfg.DisciplineConfig.SessionStaleAfter = getEnvDurationOrDefault("DISCIPLINE_SESSION_STALE_AFTER", cfg.DisciplineConfig.SessionStaleAfter)
	cfg.DisciplineConfig.DayCacheTTL = getEnvDurationOrDefault("DISCIPLINE_DAY_CACHE_TTL", cfg.DisciplineConfig.DayCacheTTL)

	// Rewards config
	cfg.RewardsConfig.Enabled = getEnvBoolOrDefault("REWARDS_ENABLED", cfg.RewardsConfig.Enabled)
	cfg.RewardsConfig.XPPerCleanDay = getEnvIntOrDefault("REWARDS_XP_PER_CLEAN_DAY", cfg.RewardsConfig.XPPerCleanDay)
	cfg.RewardsConfig.OverridePenalty = getEnvIntOrDefault("REWARDS_OVERRIDE_PENALTY", cfg.RewardsConfig.OverridePenalty)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DatabaseConfig.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.DatabaseConfig.Driver)
	}

	if _, _, err := ParseCutoff(c.DisciplineConfig.LateCutoff); err != nil {
		return err
	}

	if c.DisciplineConfig.OverrideMinReasonLen < 1 {
		return fmt.Errorf("override_min_reason_len must be positive")
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" && !c.VaultConfig.Enabled {
		return fmt.Errorf("auth is enabled but no jwt secret is configured")
	}

	return nil
}

// ParseCutoff parses an "HH:MM" wall-clock time.
func ParseCutoff(s string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid cutoff %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid cutoff hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid cutoff minute in %q", s)
	}
	return hour, minute, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
