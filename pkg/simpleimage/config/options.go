package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the metadata repository
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.Database.Type = dbType
		c.Database.URL = url
		return nil
	}
}

// WithMemoryStorage selects the in-memory blob store
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage.Backend = "memory"
		return nil
	}
}

// WithFilesystemStorage selects the filesystem blob store rooted at baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage.Backend = "fs"
		c.Storage.FSBaseDir = baseDir
		return nil
	}
}

// WithS3Storage selects the S3 blob store
func WithS3Storage(s3 S3Config) Option {
	return func(c *ServerConfig) error {
		if s3.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		if s3.Region == "" {
			s3.Region = "us-east-1"
		}
		c.Storage.Backend = "s3"
		c.Storage.S3 = s3
		return nil
	}
}

// WithMinIOStorage selects the MinIO blob store
func WithMinIOStorage(minio MinIOConfig) Option {
	return func(c *ServerConfig) error {
		if minio.Endpoint == "" || minio.Bucket == "" {
			return fmt.Errorf("minio endpoint and bucket cannot be empty")
		}
		c.Storage.Backend = "minio"
		c.Storage.MinIO = minio
		return nil
	}
}

// WithSigningSecret sets the HMAC secret used by local blob stores
func WithSigningSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.Storage.SigningSecret = secret
		return nil
	}
}

// WithRenditionSizes replaces the configured rendition sizes
func WithRenditionSizes(sizes ...int) Option {
	return func(c *ServerConfig) error {
		if len(sizes) == 0 {
			return fmt.Errorf("at least one rendition size is required")
		}
		c.Images.RenditionSizes = append([]int(nil), sizes...)
		return nil
	}
}

// WithURLTTL sets the default and maximum signed URL lifetimes
func WithURLTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(c *ServerConfig) error {
		c.Images.DefaultURLTTL = defaultTTL
		c.Images.MaxURLTTL = maxTTL
		return nil
	}
}

// WithEventSink selects none, log or kafka
func WithEventSink(sink string) Option {
	return func(c *ServerConfig) error {
		c.Events.Sink = sink
		return nil
	}
}

// WithCache enables or disables the metadata cache
func WithCache(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Cache.Enabled = enabled
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.Metrics.Enabled = enabled
		return nil
	}
}
