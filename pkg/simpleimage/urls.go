package simpleimage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResolveURL returns a signed URL for the original (Size 0) or a public URL
// for a rendition. The image must be COMPLETED so every key exists.
// Backends that sign locally embed whole seconds, rounding the expiry up.
func (s *service) ResolveURL(ctx context.Context, req URLRequest) (*ResolvedURL, error) {
	if req.Size < 0 {
		return nil, newValidationError("size", "Size cannot be negative")
	}
	if req.Size > 0 {
		if req.TTL != 0 {
			return nil, fmt.Errorf("%w: size %d", ErrRenditionNotSignable, req.Size)
		}
		if !s.settings.hasRenditionSize(req.Size) {
			return nil, newValidationError("size", "Rendition size %d is not configured", req.Size)
		}
	} else if req.TTL < 0 || req.TTL > s.settings.MaxURLTTL {
		return nil, fmt.Errorf("%w: requested %s, allowed up to %s", ErrExpiryOutOfRange, req.TTL, s.settings.MaxURLTTL)
	}

	image, err := s.GetImage(ctx, req.ImageID)
	if err != nil {
		return nil, err
	}
	if err := canResolveURL(image.Status); err != nil {
		return nil, err
	}

	if req.Size > 0 {
		return &ResolvedURL{URL: s.publicRenditionURL(image.ID, req.Size)}, nil
	}
	return s.signOriginal(ctx, image, req.TTL)
}

func (s *service) publicRenditionURL(id uuid.UUID, size int) string {
	return s.settings.PublicBaseURL + "/" + s.keys.Rendition(id, size)
}

// signOriginal asks the blob store to presign the original for exactly ttl.
// Issuing a URL never writes to the repository.
func (s *service) signOriginal(ctx context.Context, image *Image, ttl time.Duration) (*ResolvedURL, error) {
	if ttl == 0 {
		ttl = s.settings.DefaultURLTTL
	}

	start := s.now()
	signed, err := s.blobStore.Presign(ctx, image.PhysicalKey, ttl)
	s.observer.ObserveBlobOperation("presign", s.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to sign URL for image %s: %w", image.ID, err)
	}

	expiresAt := signed.ExpiresAt
	return &ResolvedURL{URL: signed.URL, Signed: true, ExpiresAt: &expiresAt}, nil
}
