package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Env            string
	RequestTimeout time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey string
	Issuer     string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// SearchConfig holds search index configuration.
// DefaultPartner is applied to every search request that carries no partner filter.
type SearchConfig struct {
	Backend        string
	Addresses      []string
	Username       string
	Password       string
	IndexName      string
	DefaultPartner string
	ReindexOnStart bool
}

// RedisConfig holds the throttle history store configuration.
// An empty Addr keeps throttle history in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MailConfig holds outbound SMTP configuration for workflow notifications
type MailConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// IngestConfig holds upstream loader configuration
type IngestConfig struct {
	PageSize      int
	LoaderTimeout time.Duration
	HTTPTimeout   time.Duration
	MaxAttempts   int
	MaxPartners   int
}

// ThrottleConfig holds default request rates per view scope
type ThrottleConfig struct {
	DefaultRate string
	ScopeRates  map[string]string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Search      SearchConfig
	Redis       RedisConfig
	Mail        MailConfig
	Ingest      IngestConfig
	Throttle    ThrottleConfig
}

// Load loads configuration from the optional .env file and environment variables
func Load(serviceName string) (*Config, error) {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "course_catalog"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Env:            getEnv("APP_ENV", "development"),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			Issuer:     getEnv("JWT_ISSUER", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", serviceName),
		},
		Search: SearchConfig{
			Backend:        getEnv("SEARCH_BACKEND", "memory"),
			Addresses:      getEnvAsList("SEARCH_ADDRESSES", []string{"http://localhost:9200"}),
			Username:       getEnv("SEARCH_USERNAME", ""),
			Password:       getEnv("SEARCH_PASSWORD", ""),
			IndexName:      getEnv("SEARCH_INDEX", "catalog"),
			DefaultPartner: getEnv("DEFAULT_PARTNER_CODE", "edx"),
			ReindexOnStart: getEnvAsBool("SEARCH_REINDEX_ON_START", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mail: MailConfig{
			Enabled:  getEnvAsBool("MAIL_ENABLED", false),
			Host:     getEnv("MAIL_HOST", "localhost"),
			Port:     getEnvAsInt("MAIL_PORT", 587),
			Username: getEnv("MAIL_USERNAME", ""),
			Password: getEnv("MAIL_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "publisher@example.com"),
			Timeout:  getEnvAsDuration("MAIL_TIMEOUT", 15*time.Second),
		},
		Ingest: IngestConfig{
			PageSize:      getEnvAsInt("INGEST_PAGE_SIZE", 50),
			LoaderTimeout: getEnvAsDuration("INGEST_LOADER_TIMEOUT", 30*time.Minute),
			HTTPTimeout:   getEnvAsDuration("INGEST_HTTP_TIMEOUT", 60*time.Second),
			MaxAttempts:   getEnvAsInt("INGEST_MAX_ATTEMPTS", 5),
			MaxPartners:   getEnvAsInt("INGEST_MAX_PARTNERS", 4),
		},
		Throttle: ThrottleConfig{
			DefaultRate: getEnv("THROTTLE_DEFAULT_RATE", "100/hour"),
			ScopeRates:  getEnvAsMap("THROTTLE_SCOPE_RATES"),
		},
	}

	if config.Ingest.PageSize <= 0 {
		return nil, fmt.Errorf("INGEST_PAGE_SIZE must be positive, got %d", config.Ingest.PageSize)
	}

	return config, nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_name", c.DB.DBName),
		zap.String("search_backend", c.Search.Backend),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as booleans
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsMap parses "scope=rate,scope=rate"
func getEnvAsMap(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
