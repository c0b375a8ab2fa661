package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Auth       AuthConfig
	HTTP       HTTPConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	MQ         MQConfig
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

type HTTPConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"recipebook"`
	Password string `env:"DB_PASSWORD" envDefault:"password"`
	DBName   string `env:"DB_NAME" envDefault:"recipebook_db"`
	UseSSL   bool   `env:"DB_USE_SSL" envDefault:"false"`
}

// StorageConfig selects the object store that keeps recipe images.
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"minio"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"recipebook"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// MQConfig selects the broker recipe events are published to.
// An empty or "none" backend disables publishing.
type MQConfig struct {
	Backend  string `env:"MQ_BACKEND" envDefault:"none"`
	Channel  string `env:"MQ_RECIPE_CHANNEL" envDefault:"recipe-events"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

// RabbitMQConfig configures the fanout exchange recipe events go through.
// An empty Queue gives each subscriber its own exclusive queue; a named
// queue is shared by every subscriber that uses it.
type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	Queue           string `env:"RABBITMQ_QUEUE"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH_COUNT" envDefault:"0"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error getting env configs: %w", err)
	}
	return cfg, nil
}
