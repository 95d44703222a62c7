package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App       AppSettings
	HTTP      HTTPSettings
	Log       LogSettings
	Storage   StorageSettings
	Telescope TelescopeSettings
	Kafka     KafkaSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LogSettings struct {
	Level string
}

// StorageSettings selects the entry backend. Only the section named by
// Driver is used.
type StorageSettings struct {
	Driver   string
	Postgres PostgresSettings
	MySQL    MySQLSettings
	SQLite   SQLiteSettings
	Mongo    MongoSettings
}

type PostgresSettings struct {
	URL             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type MySQLSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLiteSettings struct {
	Path string
}

type MongoSettings struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// TelescopeSettings mirrors the dashboard options exposed to the host.
type TelescopeSettings struct {
	RoutePrefix             string
	WatchedEntries          []string
	CORSAllowedOrigins      []string
	EnableQueryLogging      bool
	EnableFileReading       bool
	FileReadingEnvironments []string
	IncludeCurlCommand      bool
	RecordMemoryUsage       bool
	RedactSensitiveData     bool
	ResponseBodySizeLimit   int
	QueryResultSizeLimit    int
	UIDir                   string
	PruneInterval           time.Duration
	PruneMaxAge             time.Duration
	Workers                 int
	QueueSize               int
	StoreTimeout            time.Duration
}

// KafkaSettings enables entry export when Brokers is set.
type KafkaSettings struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

var storageDrivers = map[string]bool{
	"postgres": true,
	"mysql":    true,
	"sqlite":   true,
	"mongo":    true,
}

// Load resolves the application configuration from environment variables.
// Variables from a .env file are loaded first; variables already set in the
// environment take precedence.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "telescope"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Storage: StorageSettings{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "sqlite")),
			Postgres: PostgresSettings{
				URL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
				Host:            getEnv("DB_HOST", "localhost"),
				Port:            getEnvAsInt("DB_PORT", 5432),
				Database:        getEnv("DB_NAME", "telescope"),
				User:            getEnv("DB_USER", "postgres"),
				Password:        getEnv("DB_PASSWORD", ""),
				SSLMode:         getEnv("DB_SSL_MODE", "disable"),
				MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
				ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			MySQL: MySQLSettings{
				Host:            getEnv("MYSQL_HOST", "localhost"),
				Port:            getEnvAsInt("MYSQL_PORT", 3306),
				Database:        getEnv("MYSQL_DATABASE", "telescope"),
				User:            getEnv("MYSQL_USER", "root"),
				Password:        getEnv("MYSQL_PASSWORD", ""),
				MaxOpenConns:    getEnvAsInt("MYSQL_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    getEnvAsInt("MYSQL_MAX_IDLE_CONNS", 2),
				ConnMaxLifetime: getEnvAsDuration("MYSQL_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			SQLite: SQLiteSettings{
				Path: getEnv("SQLITE_PATH", "telescope.db"),
			},
			Mongo: MongoSettings{
				URI:        strings.TrimSpace(os.Getenv("MONGO_URI")),
				Database:   getEnv("MONGO_DATABASE", "telescope"),
				Collection: getEnv("MONGO_COLLECTION", "telescope_entries"),
				Timeout:    getEnvAsDuration("MONGO_TIMEOUT", 10*time.Second),
			},
		},
		Telescope: TelescopeSettings{
			RoutePrefix:             getEnv("TELESCOPE_ROUTE_PREFIX", "/telescope"),
			WatchedEntries:          getEnvAsCSV("TELESCOPE_WATCHED_ENTRIES", []string{"requests", "exceptions", "queries"}),
			CORSAllowedOrigins:      getEnvAsCSV("TELESCOPE_CORS_ALLOWED_ORIGINS", []string{"*"}),
			EnableQueryLogging:      getEnvAsBool("TELESCOPE_ENABLE_QUERY_LOGGING", true),
			EnableFileReading:       getEnvAsBool("TELESCOPE_ENABLE_FILE_READING", false),
			FileReadingEnvironments: getEnvAsCSV("TELESCOPE_FILE_READING_ENVIRONMENTS", []string{"development", "local"}),
			IncludeCurlCommand:      getEnvAsBool("TELESCOPE_INCLUDE_CURL_COMMAND", false),
			RecordMemoryUsage:       getEnvAsBool("TELESCOPE_RECORD_MEMORY_USAGE", false),
			RedactSensitiveData:     getEnvAsBool("TELESCOPE_REDACT_SENSITIVE_DATA", true),
			ResponseBodySizeLimit:   getEnvAsInt("TELESCOPE_RESPONSE_BODY_SIZE_LIMIT", 1000),
			QueryResultSizeLimit:    getEnvAsInt("TELESCOPE_QUERY_RESULT_SIZE_LIMIT", 200),
			UIDir:                   strings.TrimSpace(os.Getenv("TELESCOPE_UI_DIR")),
			PruneInterval:           getEnvAsDuration("TELESCOPE_PRUNE_INTERVAL", 0),
			PruneMaxAge:             getEnvAsDuration("TELESCOPE_PRUNE_MAX_AGE", 7*24*time.Hour),
			Workers:                 getEnvAsInt("TELESCOPE_WORKERS", 2),
			QueueSize:               getEnvAsInt("TELESCOPE_QUEUE_SIZE", 1024),
			StoreTimeout:            getEnvAsDuration("TELESCOPE_STORE_TIMEOUT", 0),
		},
		Kafka: KafkaSettings{
			Brokers:      getEnvAsCSV("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_TOPIC", "telescope.entries"),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 50*time.Millisecond),
			WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("invalid config: APP_PORT must be between 1 and 65535")
	}
	if !storageDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid config: STORAGE_DRIVER %q must be one of postgres, mysql, sqlite, mongo", c.Storage.Driver)
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Postgres.URL == "" && (c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "") {
			return errors.New("invalid config: DATABASE_URL or DB_HOST and DB_NAME are required when STORAGE_DRIVER=postgres")
		}
	case "mysql":
		if c.Storage.MySQL.Host == "" || c.Storage.MySQL.Database == "" {
			return errors.New("invalid config: MYSQL_HOST and MYSQL_DATABASE are required when STORAGE_DRIVER=mysql")
		}
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return errors.New("invalid config: SQLITE_PATH is required when STORAGE_DRIVER=sqlite")
		}
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return errors.New("invalid config: MONGO_URI is required when STORAGE_DRIVER=mongo")
		}
	}

	if !strings.HasPrefix(c.Telescope.RoutePrefix, "/") {
		return errors.New("invalid config: TELESCOPE_ROUTE_PREFIX must start with '/'")
	}
	if c.Telescope.ResponseBodySizeLimit < 0 || c.Telescope.QueryResultSizeLimit < 0 {
		return errors.New("invalid config: TELESCOPE size limits must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		return errors.New("invalid config: KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
