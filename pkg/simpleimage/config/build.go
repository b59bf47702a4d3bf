package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-image/pkg/simpleimage"
	kafkaevents "github.com/tendant/simple-image/pkg/simpleimage/events/kafka"
	"github.com/tendant/simple-image/pkg/simpleimage/metrics"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
	"github.com/tendant/simple-image/pkg/simpleimage/rendition"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
	fsstorage "github.com/tendant/simple-image/pkg/simpleimage/storage/fs"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
	miniostorage "github.com/tendant/simple-image/pkg/simpleimage/storage/minio"
	s3storage "github.com/tendant/simple-image/pkg/simpleimage/storage/s3"
	"github.com/tendant/simple-image/pkg/simpleimage/worker"
)

// Runtime is a built service together with the collaborators the server
// needs direct access to.
type Runtime struct {
	Service   simpleimage.Service
	BlobStore simpleimage.BlobStore

	// Signer is set for the memory and fs backends, whose download URLs
	// are served by this process.
	Signer *presigned.Signer

	closers []func(ctx context.Context) error
}

// Close shuts down the service first, then its dependencies, in reverse
// construction order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Service.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildService creates the service and its collaborators from the
// configuration. reg may be nil to use the default Prometheus registerer.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, reg promclient.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.closeDeps(ctx)
		return nil, err
	}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	if c.Cache.Enabled {
		repo = simpleimage.NewCachedRepository(repo, simpleimage.CacheConfig{
			MaxEntries: c.Cache.MaxEntries,
			TTL:        c.Cache.TTL,
		})
	}

	store, err := c.buildBlobStore(rt, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Backend, err))
	}
	rt.BlobStore = store

	sink, err := c.buildEventSink(rt, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to build event sink: %w", err))
	}

	pool := worker.New(worker.Config{
		CoreWorkers: c.Worker.CoreWorkers,
		MaxWorkers:  c.Worker.MaxWorkers,
		QueueSize:   c.Worker.QueueSize,
		Logger:      logger,
	})
	rt.closers = append(rt.closers, pool.Close)

	options := []simpleimage.Option{
		simpleimage.WithRepository(repo),
		simpleimage.WithBlobStore(store),
		simpleimage.WithRenditionGenerator(rendition.New(
			rendition.WithQuality(c.Images.RenditionQuality),
			rendition.WithMaxPixels(c.Images.MaxPixels),
		)),
		simpleimage.WithExecutor(pool),
		simpleimage.WithEventSink(sink),
		simpleimage.WithLogger(logger),
		simpleimage.WithSettings(c.Settings()),
	}

	if c.Metrics.Enabled {
		observer, err := metrics.NewPrometheusObserver(c.Metrics.Namespace, reg)
		if err != nil {
			return fail(fmt.Errorf("failed to register metrics: %w", err))
		}
		options = append(options, simpleimage.WithObserver(observer))
	}

	svc, err := simpleimage.New(options...)
	if err != nil {
		return fail(err)
	}
	rt.Service = svc
	return rt, nil
}

func (r *Runtime) closeDeps(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (simpleimage.Repository, error) {
	switch c.Database.Type {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := newPgxPool(ctx, c.Database.URL, c.Database.Schema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		repo := repopg.NewWithPool(pool)
		if c.Database.EnsureSchema {
			if err := repo.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
}

func newPgxPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" && schema != "public" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildBlobStore creates a BlobStore based on the storage configuration
func (c *ServerConfig) buildBlobStore(rt *Runtime, logger *slog.Logger) (simpleimage.BlobStore, error) {
	img := c.Images
	switch c.Storage.Backend {
	case "memory":
		rt.Signer = c.buildSigner(logger)
		return memorystorage.New(memorystorage.WithSigner(rt.Signer)), nil

	case "fs":
		rt.Signer = c.buildSigner(logger)
		return fsstorage.New(fsstorage.Config{BaseDir: c.Storage.FSBaseDir, Signer: rt.Signer})

	case "s3":
		s3 := c.Storage.S3
		return s3storage.New(s3storage.Config{
			Region:                 s3.Region,
			Bucket:                 s3.Bucket,
			AccessKeyID:            s3.AccessKeyID,
			SecretAccessKey:        s3.SecretAccessKey,
			Endpoint:               s3.Endpoint,
			UsePathStyle:           s3.UsePathStyle,
			SSEAlgorithm:           img.EncryptionMode,
			SSEKMSKeyID:            img.KMSKeyID,
			UploadPartSize:         s3.UploadPartSize,
			CreateBucketIfNotExist: s3.CreateBucket,
		})

	case "minio":
		m := c.Storage.MinIO
		return miniostorage.New(miniostorage.Config{
			Endpoint:               m.Endpoint,
			Bucket:                 m.Bucket,
			AccessKeyID:            m.AccessKeyID,
			SecretAccessKey:        m.SecretAccessKey,
			UseSSL:                 m.UseSSL,
			Region:                 m.Region,
			SSEAlgorithm:           img.EncryptionMode,
			SSEKMSKeyID:            img.KMSKeyID,
			CreateBucketIfNotExist: m.CreateBucket,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Backend)
	}
}

// buildSigner returns the HMAC signer for local backends. Without a
// configured secret a random one is generated, so URLs do not survive a
// restart.
func (c *ServerConfig) buildSigner(logger *slog.Logger) *presigned.Signer {
	secret := c.Storage.SigningSecret
	if secret == "" {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		secret = hex.EncodeToString(buf)
		logger.Warn("no storage signing secret configured, using a random one")
	}
	return presigned.New(
		presigned.WithSecretKey(secret),
		presigned.WithBaseURL(c.Storage.PresignBaseURL),
		presigned.WithDefaultExpiration(c.Images.DefaultURLTTL),
	)
}

func (c *ServerConfig) buildEventSink(rt *Runtime, logger *slog.Logger) (simpleimage.EventSink, error) {
	switch c.Events.Sink {
	case "none":
		return simpleimage.NewNoopEventSink(), nil
	case "log":
		return simpleimage.NewLoggingEventSink(logger), nil
	case "kafka":
		sink, err := kafkaevents.NewSink(kafkaevents.Config{
			Brokers:      c.Events.KafkaBrokers,
			Topic:        c.Events.KafkaTopic,
			BatchTimeout: c.Events.KafkaBatchTimeout,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return sink.Close() })
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported event sink: %s", c.Events.Sink)
	}
}
