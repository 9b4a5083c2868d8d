package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Training TrainingConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type TrainingConfig struct {
	MaxActiveJobs int
	// DataDir holds per-job config artifacts and output directories.
	DataDir       string
	ModelCacheDir string
	WorkerImage   string
	DockerBin     string
	GPUs          string // docker --gpus value, empty runs without GPUs

	LaunchTimeout     time.Duration
	ProbeTimeout      time.Duration
	SweepInterval     time.Duration
	ReconcileLockTTL  time.Duration
	PendingTimeout    time.Duration
	WebhookMaxRetries int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxActive, err := getEnvInt("TRAINING_MAX_ACTIVE_JOBS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_MAX_ACTIVE_JOBS: %w", err)
	}

	webhookRetries, err := getEnvInt("WEBHOOK_MAX_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_MAX_RETRIES: %w", err)
	}

	launchTimeout, err := getEnvDuration("TRAINING_LAUNCH_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_LAUNCH_TIMEOUT: %w", err)
	}

	probeTimeout, err := getEnvDuration("TRAINING_PROBE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_PROBE_TIMEOUT: %w", err)
	}

	sweepInterval, err := getEnvDuration("TRAINING_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_SWEEP_INTERVAL: %w", err)
	}

	lockTTL, err := getEnvDuration("TRAINING_RECONCILE_LOCK_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_RECONCILE_LOCK_TTL: %w", err)
	}

	pendingTimeout, err := getEnvDuration("TRAINING_PENDING_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAINING_PENDING_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Training: TrainingConfig{
			MaxActiveJobs:     maxActive,
			DataDir:           getEnv("TRAINING_DATA_DIR", "/var/lib/trainer"),
			ModelCacheDir:     getEnv("TRAINING_MODEL_CACHE_DIR", "/var/cache/trainer/models"),
			WorkerImage:       getEnv("TRAINING_WORKER_IMAGE", ""),
			DockerBin:         getEnv("TRAINING_DOCKER_BIN", "docker"),
			GPUs:              getEnv("TRAINING_GPUS", ""),
			LaunchTimeout:     launchTimeout,
			ProbeTimeout:      probeTimeout,
			SweepInterval:     sweepInterval,
			ReconcileLockTTL:  lockTTL,
			PendingTimeout:    pendingTimeout,
			WebhookMaxRetries: webhookRetries,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Training.WorkerImage == "" {
		missing = append(missing, "TRAINING_WORKER_IMAGE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Training.MaxActiveJobs < 1 {
		return fmt.Errorf("TRAINING_MAX_ACTIVE_JOBS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
