package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	// Store: "postgres" or "sqlite"
	StoreDriver string `yaml:"store_driver"`
	SQLitePath  string `yaml:"sqlite_path"`

	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`
	// DBDriver picks the Postgres driver under gorm: "pgx" or "postgres" (lib/pq)
	DBDriver string `yaml:"db_driver"`

	// Generator: "openai" or "offline"
	Generator     string `yaml:"generator"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIModel   string `yaml:"openai_model"`

	GenerationTimeout   time.Duration `yaml:"generation_timeout"`
	BreakerMaxRequests  int           `yaml:"breaker_max_requests"`
	BreakerInterval     time.Duration `yaml:"breaker_interval"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`

	HistoryLimit int `yaml:"history_limit"`

	ServerPort string `yaml:"server_port"`
	ServerHost string `yaml:"server_host"`

	// Worker pool configuration
	LibraryWorkers   int `yaml:"library_workers"`
	LibraryQueueSize int `yaml:"library_queue_size"`

	// Observability
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",

		StoreDriver: "sqlite",
		SQLitePath:  "kno-canvas.db",

		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "postgres",
		DBPassword: "postgres",
		DBName:     "kno_canvas",
		DBSSLMode:  "disable",
		DBDriver:   "pgx",

		Generator:     "openai",
		OpenAIBaseURL: "https://api.openai.com/v1",
		OpenAIModel:   "gpt-4o-mini",

		GenerationTimeout:   60 * time.Second,
		BreakerMaxRequests:  1,
		BreakerInterval:     time.Minute,
		BreakerTimeout:      30 * time.Second,
		BreakerFailureRatio: 0.6,

		HistoryLimit: 100,

		ServerPort: "8080",
		ServerHost: "localhost",

		LibraryWorkers:   2,
		LibraryQueueSize: 100,

		JaegerEndpoint: "http://localhost:14268/api/traces",
		ServiceName:    "kno-canvas",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables. Later sources win.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.DBSSLMode = getEnv("DB_SSLMODE", c.DBSSLMode)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)

	c.Generator = getEnv("GENERATOR", c.Generator)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)

	c.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", c.GenerationTimeout)
	c.BreakerMaxRequests = getEnvInt("BREAKER_MAX_REQUESTS", c.BreakerMaxRequests)
	c.BreakerInterval = getEnvDuration("BREAKER_INTERVAL", c.BreakerInterval)
	c.BreakerTimeout = getEnvDuration("BREAKER_TIMEOUT", c.BreakerTimeout)
	c.BreakerFailureRatio = getEnvFloat("BREAKER_FAILURE_RATIO", c.BreakerFailureRatio)

	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)

	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)

	c.LibraryWorkers = getEnvInt("LIBRARY_WORKERS", c.LibraryWorkers)
	c.LibraryQueueSize = getEnvInt("LIBRARY_QUEUE_SIZE", c.LibraryQueueSize)

	c.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.JaegerEndpoint)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.StoreDriver)
	}
	switch c.DBDriver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be pgx or postgres, got %q", c.DBDriver)
	}
	switch c.Generator {
	case "offline":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("GENERATOR must be openai or offline, got %q", c.Generator)
	}
	if c.LibraryWorkers < 1 {
		return fmt.Errorf("LIBRARY_WORKERS must be at least 1")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
