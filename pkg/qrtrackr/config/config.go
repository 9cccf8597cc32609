package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	QR       QRConfig
	Uploads  UploadConfig

	// BaseURL is the public origin used to build tracking and image URLs.
	BaseURL string
	// Debug enables verbose logging.
	Debug bool
	// DropOnUninstall controls whether -uninstall removes stored data.
	DropOnUninstall bool
	// LogFile, when set, receives JSON log lines in addition to the terminal.
	LogFile string
	// ScanSalt salts visitor ip hashes recorded with each scan.
	ScanSalt string
	// AdminPassword seeds the first admin account on an empty database.
	AdminPassword string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type QRConfig struct {
	Size          int
	Margin        int
	Level         string
	Encoder       string
	RemoteURL     string
	RemoteTimeout time.Duration
}

type UploadConfig struct {
	Dir     string
	URLPath string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: getEnv("QRTRACKR_DB_DRIVER", "sqlite"),
			DSN:    getEnv("QRTRACKR_DB_DSN", "qrtrackr.db"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("QRTRACKR_REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_TOPIC", "qr-scans"),
		},
		QR: QRConfig{
			Size:          getEnvInt("QRTRACKR_QR_SIZE", 300),
			Margin:        getEnvInt("QRTRACKR_QR_MARGIN", 4),
			Level:         getEnv("QRTRACKR_QR_LEVEL", "M"),
			Encoder:       getEnv("QRTRACKR_QR_ENCODER", "local"),
			RemoteURL:     getEnv("QRTRACKR_QR_REMOTE_URL", "https://api.qrserver.com/v1/create-qr-code/"),
			RemoteTimeout: getEnvDuration("QRTRACKR_QR_REMOTE_TIMEOUT", 30*time.Second),
		},
		Uploads: UploadConfig{
			Dir:     getEnv("QRTRACKR_UPLOAD_DIR", "uploads/qr-codes"),
			URLPath: getEnv("QRTRACKR_UPLOAD_PATH", "/uploads/qr-codes"),
		},
		BaseURL:         strings.TrimRight(getEnv("QRTRACKR_BASE_URL", "http://localhost:8080"), "/"),
		Debug:           getEnvBool("QRTRACKR_DEBUG", false),
		DropOnUninstall: getEnvBool("QRTRACKR_DROP_ON_UNINSTALL", false),
		LogFile:         getEnv("QRTRACKR_LOG_FILE", ""),
		ScanSalt:        getEnv("QRTRACKR_SCAN_SALT", "qrtrackr-dev-salt-change-in-production"),
		AdminPassword:   getEnv("QRTRACKR_ADMIN_PASSWORD", "changeme"),
	}
}

// UploadURL is the absolute URL prefix under which generated images are served.
func (c *Config) UploadURL() string {
	return c.BaseURL + "/" + strings.Trim(c.Uploads.URLPath, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
