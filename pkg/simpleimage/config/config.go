// Package config loads server configuration from the environment and builds
// a running image service from it.
package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// ServerConfig represents server configuration for the image service
type ServerConfig struct {
	Port         string `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment  string `env:"ENVIRONMENT" env-default:"development" env-description:"development, production or testing"`
	LogLevel     string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	APIKeySHA256 string `env:"API_KEY_SHA256" env-description:"SHA-256 of the API key; empty disables the check"`
	JWTSecret    string `env:"JWT_SECRET" env-description:"HS256 secret for caller identity tokens; empty trusts X-User-ID"`

	Database DatabaseConfig
	Storage  StorageConfig
	Images   ImageConfig
	Cache    CacheConfig
	Events   EventsConfig
	Metrics  MetricsConfig
	Worker   WorkerConfig
}

// DatabaseConfig selects the metadata repository
type DatabaseConfig struct {
	Type         string `env:"DATABASE_TYPE" env-default:"memory" env-description:"memory or postgres"`
	URL          string `env:"DATABASE_URL" env-description:"postgres connection string"`
	Schema       string `env:"DATABASE_SCHEMA" env-default:"public"`
	EnsureSchema bool   `env:"DATABASE_ENSURE_SCHEMA" env-default:"false" env-description:"create the images table on startup"`
}

// StorageConfig selects the blob store
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" env-default:"memory" env-description:"memory, fs, s3 or minio"`

	// Local backends sign their own download URLs
	FSBaseDir      string `env:"STORAGE_FS_BASE_DIR" env-default:"./data/images"`
	SigningSecret  string `env:"STORAGE_SIGNING_SECRET" env-description:"HMAC secret for memory/fs download URLs"`
	PresignBaseURL string `env:"STORAGE_PRESIGN_BASE_URL" env-default:"http://localhost:8080"`

	S3    S3Config
	MinIO MinIOConfig
}

// S3Config configures the aws-sdk backend
type S3Config struct {
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	Bucket          string `env:"AWS_S3_BUCKET" env-default:"images"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"AWS_S3_ENDPOINT"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	UploadPartSize  int64  `env:"AWS_S3_UPLOAD_PART_SIZE" env-default:"8388608"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

// MinIOConfig configures the minio-go backend
type MinIOConfig struct {
	Endpoint        string `env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	Bucket          string `env:"MINIO_BUCKET" env-default:"images"`
	AccessKeyID     string `env:"MINIO_ACCESS_KEY" env-default:"minioadmin"`
	SecretAccessKey string `env:"MINIO_SECRET_KEY" env-default:"minioadmin"`
	UseSSL          bool   `env:"MINIO_USE_SSL" env-default:"false"`
	Region          string `env:"MINIO_REGION" env-default:"us-east-1"`
	CreateBucket    bool   `env:"MINIO_CREATE_BUCKET" env-default:"false"`
}

// ImageConfig maps onto simpleimage.Settings
type ImageConfig struct {
	KeyPrefix            string        `env:"IMAGE_KEY_PREFIX" env-default:"images"`
	AllowedContentTypes  []string      `env:"IMAGE_ALLOWED_CONTENT_TYPES" env-default:"image/jpeg,image/png,image/gif,image/webp"`
	MaxFileSize          int64         `env:"IMAGE_MAX_FILE_SIZE" env-default:"104857600"`
	MaxPixels            int64         `env:"IMAGE_MAX_PIXELS" env-default:"100000000" env-description:"largest width*height accepted"`
	RenditionSizes       []int         `env:"IMAGE_RENDITION_SIZES" env-default:"150,300,600"`
	RenditionQuality     int           `env:"IMAGE_RENDITION_QUALITY" env-default:"85"`
	RenditionConcurrency int           `env:"IMAGE_RENDITION_CONCURRENCY" env-default:"1"`
	EncryptionMode       string        `env:"IMAGE_ENCRYPTION" env-default:"AES256" env-description:"AES256 or aws:kms"`
	KMSKeyID             string        `env:"IMAGE_KMS_KEY_ID"`
	DefaultURLTTL        time.Duration `env:"IMAGE_URL_DEFAULT_TTL" env-default:"5m"`
	MaxURLTTL            time.Duration `env:"IMAGE_URL_MAX_TTL" env-default:"15m"`
	PublicBaseURL        string        `env:"IMAGE_PUBLIC_BASE_URL" env-default:"http://localhost:8080/public"`
	DeleteBatchSize      int           `env:"IMAGE_DELETE_BATCH_SIZE" env-default:"1000"`
	IngestTimeout        time.Duration `env:"IMAGE_INGEST_TIMEOUT" env-default:"0s"`
}

// CacheConfig configures the metadata lookup cache
type CacheConfig struct {
	Enabled    bool          `env:"CACHE_ENABLED" env-default:"true"`
	MaxEntries int           `env:"CACHE_MAX_ENTRIES" env-default:"1024"`
	TTL        time.Duration `env:"CACHE_TTL" env-default:"30s"`
}

// EventsConfig selects the lifecycle event sink
type EventsConfig struct {
	Sink              string        `env:"EVENT_SINK" env-default:"log" env-description:"none, log or kafka"`
	KafkaBrokers      []string      `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTopic        string        `env:"KAFKA_TOPIC" env-default:"image-events"`
	KafkaBatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"10ms"`
}

// MetricsConfig configures Prometheus export
type MetricsConfig struct {
	Enabled   bool   `env:"METRICS_ENABLED" env-default:"true"`
	Namespace string `env:"METRICS_NAMESPACE" env-default:"simpleimage"`
}

// WorkerConfig sizes the asynchronous ingestion pool
type WorkerConfig struct {
	CoreWorkers int `env:"WORKER_CORE" env-default:"4"`
	MaxWorkers  int `env:"WORKER_MAX" env-default:"8"`
	QueueSize   int `env:"WORKER_QUEUE_SIZE" env-default:"100"`
}

// Load reads the environment (falling back to the env-default tags), then
// applies opts on top and validates the result.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Usage writes the supported environment variables to w.
func Usage(w io.Writer) {
	var cfg ServerConfig
	cleanenv.FUsage(w, &cfg, nil)()
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Database.Type {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database url is required when using postgres")
		}
	default:
		return fmt.Errorf("database type must be 'memory' or 'postgres', got %q", c.Database.Type)
	}

	switch c.Storage.Backend {
	case "memory":
	case "fs":
		if c.Storage.FSBaseDir == "" {
			return errors.New("filesystem base directory is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("s3 bucket is required")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return errors.New("minio endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("storage backend must be one of memory, fs, s3, minio; got %q", c.Storage.Backend)
	}

	switch c.Events.Sink {
	case "none", "log":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 || c.Events.KafkaTopic == "" {
			return errors.New("kafka brokers and topic are required for the kafka event sink")
		}
	default:
		return fmt.Errorf("event sink must be one of none, log, kafka; got %q", c.Events.Sink)
	}

	if c.Environment == "production" && c.usesLocalSigning() && c.Storage.SigningSecret == "" {
		return errors.New("storage signing secret is required in production")
	}

	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("invalid image settings: %w", err)
	}
	return nil
}

// Settings converts the image section to service settings
func (c *ServerConfig) Settings() simpleimage.Settings {
	img := c.Images
	return simpleimage.Settings{
		KeyPrefix:            img.KeyPrefix,
		AllowedContentTypes:  img.AllowedContentTypes,
		MaxFileSize:          img.MaxFileSize,
		MaxPixels:            img.MaxPixels,
		RenditionSizes:       img.RenditionSizes,
		Encryption:           simpleimage.Encryption{Mode: simpleimage.EncryptionMode(img.EncryptionMode), KMSKeyID: img.KMSKeyID},
		DefaultURLTTL:        img.DefaultURLTTL,
		MaxURLTTL:            img.MaxURLTTL,
		PublicBaseURL:        img.PublicBaseURL,
		DeleteBatchSize:      img.DeleteBatchSize,
		IngestTimeout:        img.IngestTimeout,
		RenditionConcurrency: img.RenditionConcurrency,
		DefaultPageSize:      20,
		MaxPageSize:          100,
	}
}

func (c *ServerConfig) usesLocalSigning() bool {
	return c.Storage.Backend == "memory" || c.Storage.Backend == "fs"
}
