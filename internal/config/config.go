package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DB            DBConfig
	Storage       StorageConfig
	JWT           JWTConfig
	Server        ServerConfig
	Admin         AdminConfig
	Audit         AuditConfig
	Activity      ActivityConfig
	PasswordReset PasswordResetConfig
	Import        ImportConfig
	Legacy        LegacyConfig
}

type DBConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the postgres connection string. The sqlite driver uses Path.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type StorageConfig struct {
	Driver   string
	LocalDir string
	MinIO    MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
	BodyLimitMB int
}

type AdminConfig struct {
	Email    string
	Password string
}

type AuditConfig struct {
	ExportInterval time.Duration
	QueueSize      int
}

type ActivityConfig struct {
	TouchInterval time.Duration
}

type PasswordResetConfig struct {
	TTL time.Duration
}

type ImportConfig struct {
	MaxRows int
}

type LegacyConfig struct {
	DataFile string
}

const overlayEnvKey = "CRM_CONFIG_FILE"

// Load reads configuration from the process environment. Values missing from
// the environment are taken from a .env file and then from the YAML overlay
// named by CRM_CONFIG_FILE, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if path, ok := os.LookupEnv(overlayEnvKey); ok && path != "" {
		if err := applyOverlay(path); err != nil {
			return nil, err
		}
	}

	return &Config{
		DB: DBConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "./data/crm.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "crmdesk"),
			Password: getEnv("DB_PASSWORD", "crmdesk_secret"),
			Name:     getEnv("DB_NAME", "crmdesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			Driver:   getEnv("STORAGE_DRIVER", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "./data/documents"),
			MinIO: MinIOConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", "crmdesk"),
				SecretKey: getEnv("MINIO_SECRET_KEY", "crmdesk_secret"),
				Bucket:    getEnv("MINIO_BUCKET", "crmdesk"),
				UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			},
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
			BodyLimitMB: getEnvAsInt("BODY_LIMIT_MB", 20),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", "admin@crmdesk.local"),
			Password: getEnv("ADMIN_PASSWORD", "admin123"),
		},
		Audit: AuditConfig{
			ExportInterval: getEnvAsDuration("AUDIT_EXPORT_INTERVAL", 1*time.Hour),
			QueueSize:      getEnvAsInt("AUDIT_QUEUE_SIZE", 1000),
		},
		Activity: ActivityConfig{
			TouchInterval: getEnvAsDuration("ACTIVITY_TOUCH_INTERVAL", 1*time.Minute),
		},
		PasswordReset: PasswordResetConfig{
			TTL: getEnvAsDuration("PASSWORD_RESET_TTL", 1*time.Hour),
		},
		Import: ImportConfig{
			MaxRows: getEnvAsInt("IMPORT_MAX_ROWS", 5000),
		},
		Legacy: LegacyConfig{
			DataFile: getEnv("LEGACY_DATA_FILE", "./data/data.json"),
		},
	}, nil
}

// applyOverlay exports every key of a flat YAML map that is not already set.
func applyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config overlay %s: %w", path, err)
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parsing config overlay %s: %w", path, err)
	}

	for key, value := range values {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("applying config overlay key %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
