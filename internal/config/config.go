package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Address             string
	Password            string
	PoolSize            int
	VerificationMarkTTL time.Duration
}

type NotifyConfig struct {
	Workers   int
	QueueSize int
}

type LogConfig struct {
	Level    string
	Encoding string
}

type Config struct {
	Server      ServerConfig
	StoreDriver string
	MySQL       MySQLConfig
	Redis       RedisConfig
	Notify      NotifyConfig
	Log         LogConfig
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":50051"),
			ShutdownTimeout: durationVar("SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		StoreDriver: getEnv("STORE_DRIVER", StoreMySQL),
		MySQL: MySQLConfig{
			DSN:             getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/apparatus_check?parseTime=true"),
			MaxOpenConns:    intVar("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    intVar("MYSQL_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: durationVar("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:             getEnv("REDIS_ADDR", ""),
			Password:            getEnv("REDIS_PASSWORD", ""),
			PoolSize:            intVar("REDIS_POOL_SIZE", 100),
			VerificationMarkTTL: durationVar("VERIFICATION_MARK_TTL", 24*time.Hour),
		},
		Notify: NotifyConfig{
			Workers:   intVar("NOTIFY_WORKERS", 4),
			QueueSize: intVar("NOTIFY_QUEUE_SIZE", 1024),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
	}

	if cfg.StoreDriver != StoreMySQL && cfg.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.StoreDriver))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return cfg, nil
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Address != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
