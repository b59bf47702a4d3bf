package simpleimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ingestion stages reported in IngestionError.Stage
const (
	StageSubmit         = "submit"
	StageUploadOriginal = "upload_original"
	StageRenditions     = "renditions"
	StageFinalize       = "finalize"
)

// Ingest validates the request, creates a PROCESSING record and runs the
// pipeline: upload original, upload every rendition, finalize the status.
// Validation errors leave no trace. Any later error leaves a FAILED record
// and is returned as *IngestionError.
func (s *service) Ingest(ctx context.Context, req IngestRequest) (*Image, error) {
	started := s.now()

	contentType, tags, err := s.validateIngest(req)
	if err != nil {
		return nil, err
	}
	width, height, err := s.generator.Dimensions(req.Data)
	if err != nil {
		return nil, newValidationError("file", "File is not a valid image: %v", err)
	}
	if err := s.checkPixels(width, height); err != nil {
		return nil, err
	}

	id := uuid.New()
	image := &Image{
		ID:            id,
		Title:         req.Title,
		Description:   req.Description,
		Tags:          tags,
		ContentType:   contentType,
		FileSizeBytes: int64(len(req.Data)),
		Width:         width,
		Height:        height,
		PhysicalKey:   s.keys.Original(id),
		UploadedBy:    req.UploadedBy,
		Status:        StatusProcessing,
	}

	if err := s.repository.SaveImage(ctx, image); err != nil {
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}
	s.emitCreated(ctx, image)

	s.logger.Info("image ingestion started",
		"image_id", id, "content_type", contentType, "size", len(req.Data), "async", req.Async)

	if req.Async {
		return s.ingestAsync(ctx, image.Clone(), req.Data, started)
	}
	return s.ingestSync(ctx, image.Clone(), req.Data, started)
}

func (s *service) ingestAsync(ctx context.Context, image *Image, data []byte, started time.Time) (*Image, error) {
	pending := image.Clone()
	_, err := s.executor.Submit(func(taskCtx context.Context) {
		// errors are recorded on the image
		_, _ = s.process(taskCtx, image, data, started)
	})
	if err != nil {
		return s.fail(context.WithoutCancel(ctx), image, StageSubmit, err, started)
	}
	return pending, nil
}

type ingestResult struct {
	image *Image
	err   error
}

// ingestSync runs the pipeline inline. With IngestTimeout set, it stops
// waiting after the timeout and lets the pipeline finish on its own.
func (s *service) ingestSync(ctx context.Context, image *Image, data []byte, started time.Time) (*Image, error) {
	if s.settings.IngestTimeout <= 0 {
		return s.process(ctx, image, data, started)
	}

	pending := image.Clone()
	done := make(chan ingestResult, 1)
	go func() {
		final, err := s.process(context.WithoutCancel(ctx), image, data, started)
		done <- ingestResult{image: final, err: err}
	}()

	timer := time.NewTimer(s.settings.IngestTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.image, res.err
	case <-timer.C:
		s.logger.Warn("ingestion exceeded timeout, continuing in background",
			"image_id", image.ID, "timeout", s.settings.IngestTimeout)
		return pending, fmt.Errorf("%w: image %s", ErrIngestTimeout, image.ID)
	}
}

// process uploads the original, then the renditions derived from the same
// bytes, then finalizes. The status write uses a context that outlives the
// caller so an abandoned request still leaves a terminal record.
func (s *service) process(ctx context.Context, image *Image, data []byte, started time.Time) (*Image, error) {
	if err := s.put(ctx, image.PhysicalKey, data, image.ContentType); err != nil {
		return s.fail(ctx, image, StageUploadOriginal, err, started)
	}

	if err := s.generateRenditions(ctx, image.ID, data); err != nil {
		return s.fail(ctx, image, StageRenditions, err, started)
	}

	final, err := s.finalize(ctx, image, StatusCompleted, "")
	if err != nil {
		return nil, &IngestionError{ImageID: image.ID, Stage: StageFinalize, Err: err}
	}
	s.observer.ObserveIngestion(StatusCompleted, s.now().Sub(started))
	s.logger.Info("image ingestion completed", "image_id", image.ID, "duration", s.now().Sub(started))
	return final, nil
}

// generateRenditions attempts every size, even after a failure, and
// reports all failures together.
func (s *service) generateRenditions(ctx context.Context, id uuid.UUID, data []byte) error {
	sizes := s.settings.RenditionSizes
	errs := make([]error, len(sizes))

	if s.settings.RenditionConcurrency <= 1 {
		for i, size := range sizes {
			errs[i] = s.generateRendition(ctx, id, data, size)
		}
		return errors.Join(errs...)
	}

	var g errgroup.Group
	g.SetLimit(s.settings.RenditionConcurrency)
	var mu sync.Mutex
	for i, size := range sizes {
		i, size := i, size
		g.Go(func() error {
			err := s.generateRendition(ctx, id, data, size)
			mu.Lock()
			errs[i] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *service) generateRendition(ctx context.Context, id uuid.UUID, data []byte, size int) error {
	rendered, err := s.generator.Generate(data, size)
	if err != nil {
		return fmt.Errorf("rendition %d: %w", size, err)
	}
	if err := s.put(ctx, s.keys.Rendition(id, size), rendered, s.generator.ContentType()); err != nil {
		return fmt.Errorf("rendition %d: %w", size, err)
	}
	return nil
}

func (s *service) put(ctx context.Context, key string, data []byte, contentType string) error {
	start := s.now()
	err := s.blobStore.Put(ctx, bytes.NewReader(data), PutParams{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		Access:      AccessPrivate,
		Encryption:  s.settings.Encryption,
	})
	s.observer.ObserveBlobOperation("put", s.now().Sub(start), err)
	return err
}

// fail records FAILED with the cause and returns the IngestionError.
// Objects already uploaded stay; deletion cleans them up.
func (s *service) fail(ctx context.Context, image *Image, stage string, cause error, started time.Time) (*Image, error) {
	ingestErr := &IngestionError{ImageID: image.ID, Stage: stage, Err: cause}
	s.logger.Error("image ingestion failed", "image_id", image.ID, "stage", stage, "err", cause)

	final, err := s.finalize(ctx, image, StatusFailed, fmt.Sprintf("%s: %v", stage, cause))
	if err != nil {
		s.logger.Error("failed to record ingestion failure", "image_id", image.ID, "err", err)
		final = image.Clone()
		final.Status = StatusFailed
	}
	s.observer.ObserveIngestion(StatusFailed, s.now().Sub(started))
	return final, ingestErr
}

// finalize moves the record out of PROCESSING. Losing a race to another
// finalizer is not an error; the stored terminal status is returned.
func (s *service) finalize(ctx context.Context, image *Image, to ImageStatus, reason string) (*Image, error) {
	ctx = context.WithoutCancel(ctx)

	updated, err := s.repository.TransitionStatus(ctx, image.ID, to, reason)
	switch {
	case err == nil:
		if updated.Status != image.Status {
			s.emitStatusChanged(ctx, updated, image.Status)
		}
		return updated, nil
	case errors.Is(err, ErrInvalidStatusTransition):
		current, getErr := s.repository.GetImage(ctx, image.ID)
		if getErr != nil {
			return nil, getErr
		}
		s.logger.Warn("image already finalized", "image_id", image.ID, "status", current.Status, "wanted", to)
		return current, nil
	case errors.Is(err, ErrImageNotFound):
		s.logger.Warn("image deleted before ingestion finished", "image_id", image.ID)
		return nil, err
	default:
		return nil, fmt.Errorf("failed to update status of image %s: %w", image.ID, err)
	}
}
