package simpleimage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ListVersions returns the stored versions of the image's original, newest
// first.
func (s *service) ListVersions(ctx context.Context, id uuid.UUID) ([]ObjectVersion, error) {
	image, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}

	start := s.now()
	versions, err := s.blobStore.ListVersions(ctx, image.PhysicalKey)
	s.observer.ObserveBlobOperation("list_versions", s.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of image %s: %w", id, err)
	}
	return versions, nil
}

// RestoreVersion makes versionID the current original and regenerates the
// renditions from it so the rendition set matches the restored bytes.
// Unknown versions return ErrVersionNotFound. If regeneration fails the
// restored original stays and the error is returned; the status is kept.
func (s *service) RestoreVersion(ctx context.Context, id uuid.UUID, versionID string) (*Image, error) {
	if versionID == "" {
		return nil, newValidationError("version_id", "Version id is required")
	}

	image, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canRestoreVersion(image.Status); err != nil {
		return nil, err
	}

	versions, err := s.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if !containsVersion(versions, versionID) {
		return nil, fmt.Errorf("%w: %s of image %s", ErrVersionNotFound, versionID, id)
	}

	start := s.now()
	err = s.blobStore.CopyVersion(ctx, image.PhysicalKey, versionID)
	s.observer.ObserveBlobOperation("copy_version", s.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to restore version %s of image %s: %w", versionID, id, err)
	}
	s.logger.Info("restored image version", "image_id", id, "version_id", versionID)

	data, err := s.readObject(ctx, image.PhysicalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read restored original of image %s: %w", id, err)
	}
	width, height, err := s.generator.Dimensions(data)
	if err != nil {
		return nil, fmt.Errorf("restored original of image %s: %w", id, err)
	}
	if err := s.checkPixels(width, height); err != nil {
		return nil, fmt.Errorf("restored original of image %s: %w", id, err)
	}
	if err := s.generateRenditions(ctx, id, data); err != nil {
		return nil, fmt.Errorf("failed to regenerate renditions of image %s: %w", id, err)
	}

	image.FileSizeBytes = int64(len(data))
	image.Width, image.Height = width, height
	if err := s.repository.UpdateImage(ctx, image); err != nil {
		if errors.Is(err, ErrImageNotFound) {
			s.removeOrphans(ctx, image)
		}
		return nil, fmt.Errorf("failed to update image %s: %w", id, err)
	}
	return image, nil
}

// removeOrphans drops objects written for an image whose record was
// deleted while they were being written.
func (s *service) removeOrphans(ctx context.Context, image *Image) {
	keys := s.keysFor(image)
	failures, err := s.blobStore.DeleteMany(context.WithoutCancel(ctx), keys)
	s.observer.ObserveDeletion(len(keys), len(failures))
	if err != nil || len(failures) > 0 {
		s.logger.Warn("failed to remove objects of deleted image",
			"image_id", image.ID, "failed", len(failures), "err", err)
	}
}

func (s *service) readObject(ctx context.Context, key string) ([]byte, error) {
	start := s.now()
	body, err := s.blobStore.Get(ctx, key)
	s.observer.ObserveBlobOperation("get", s.now().Sub(start), err)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, s.settings.MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.settings.MaxFileSize {
		return nil, &StorageError{
			Backend: s.blobStore.Name(),
			Key:     key,
			Op:      "get",
			Err:     fmt.Errorf("object exceeds the maximum of %d bytes", s.settings.MaxFileSize),
		}
	}
	return data, nil
}

func containsVersion(versions []ObjectVersion, versionID string) bool {
	for _, v := range versions {
		if v.VersionID == versionID {
			return true
		}
	}
	return false
}
