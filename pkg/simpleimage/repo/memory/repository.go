package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Repository implements simpleimage.Repository using in-memory storage.
// Records are copied on the way in and out.
type Repository struct {
	mu     sync.RWMutex
	images map[uuid.UUID]*simpleimage.Image
	now    func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		images: make(map[uuid.UUID]*simpleimage.Image),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ simpleimage.Repository = (*Repository)(nil)

// SaveImage inserts or updates the record. Timestamps and, when the stored
// record is terminal, the status are written back to image.
func (r *Repository) SaveImage(ctx context.Context, image *simpleimage.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stored, exists := r.images[image.ID]
	if exists {
		image.CreatedAt = stored.CreatedAt
		if stored.Status.IsTerminal() {
			image.Status = stored.Status
			image.FailureReason = stored.FailureReason
		}
	} else if image.CreatedAt.IsZero() {
		image.CreatedAt = now
	}
	image.UpdatedAt = now

	r.images[image.ID] = image.Clone()
	return nil
}

// UpdateImage refuses ids that are gone, so an update racing a delete
// cannot bring the record back.
func (r *Repository) UpdateImage(ctx context.Context, image *simpleimage.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.images[image.ID]
	if !exists {
		return simpleimage.ErrImageNotFound
	}

	updated := stored.Clone()
	updated.Title = image.Title
	updated.Description = image.Description
	updated.Tags = append([]string(nil), image.Tags...)
	if len(updated.Tags) == 0 {
		updated.Tags = nil
	}
	updated.FileSizeBytes = image.FileSizeBytes
	updated.Width = image.Width
	updated.Height = image.Height
	updated.UpdatedAt = r.now()
	r.images[image.ID] = updated

	image.Status = updated.Status
	image.FailureReason = updated.FailureReason
	image.CreatedAt = updated.CreatedAt
	image.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*simpleimage.Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}
	return image.Clone(), nil
}

// TransitionStatus moves a PROCESSING record to a terminal status. The
// write lock makes the check and the update one step.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, to simpleimage.ImageStatus, reason string) (*simpleimage.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	image, exists := r.images[id]
	if !exists {
		return nil, simpleimage.ErrImageNotFound
	}

	switch {
	case image.Status == to:
		return image.Clone(), nil
	case image.Status != simpleimage.StatusProcessing:
		return nil, simpleimage.ErrInvalidStatusTransition
	}

	image.Status = to
	image.FailureReason = reason
	image.UpdatedAt = r.now()
	return image.Clone(), nil
}

func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.images[id]; !exists {
		return simpleimage.ErrImageNotFound
	}
	delete(r.images, id)
	return nil
}

func (r *Repository) SearchImages(ctx context.Context, criteria simpleimage.SearchCriteria) (*simpleimage.Page, error) {
	r.mu.RLock()
	var matched []*simpleimage.Image
	for _, image := range r.images {
		if matches(image, criteria) {
			matched = append(matched, image.Clone())
		}
	}
	r.mu.RUnlock()

	sortImages(matched, criteria.SortBy, criteria.SortDesc)

	page := &simpleimage.Page{
		Items:  []*simpleimage.Image{},
		Total:  int64(len(matched)),
		Limit:  criteria.Limit,
		Offset: criteria.Offset,
	}

	start := criteria.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if criteria.Limit > 0 && start+criteria.Limit < end {
		end = start + criteria.Limit
	}
	page.Items = matched[start:end]
	return page, nil
}

func (r *Repository) ImageStatistics(ctx context.Context) (*simpleimage.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &simpleimage.Stats{}
	for _, image := range r.images {
		if image.Status != simpleimage.StatusCompleted {
			continue
		}
		stats.Count++
		stats.TotalSizeBytes += image.FileSizeBytes
	}
	if stats.Count > 0 {
		stats.AverageBytes = float64(stats.TotalSizeBytes) / float64(stats.Count)
	}
	return stats, nil
}

func matches(image *simpleimage.Image, c simpleimage.SearchCriteria) bool {
	if c.Title != "" && !strings.Contains(strings.ToLower(image.Title), strings.ToLower(c.Title)) {
		return false
	}
	if c.ContentType != "" && !strings.EqualFold(image.ContentType, c.ContentType) {
		return false
	}
	if c.Tag != "" && !image.HasTag(c.Tag) {
		return false
	}
	if c.UploadedBy != "" && image.UploadedBy != c.UploadedBy {
		return false
	}
	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if image.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortImages orders by field, breaking ties by id so pages are stable.
func sortImages(images []*simpleimage.Image, field simpleimage.SortField, desc bool) {
	less := func(a, b *simpleimage.Image) int {
		switch field {
		case simpleimage.SortByTitle:
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case simpleimage.SortByFileSize:
			return compareInt64(a.FileSizeBytes, b.FileSizeBytes)
		case simpleimage.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}

	sort.SliceStable(images, func(i, j int) bool {
		c := less(images[i], images[j])
		if c == 0 {
			return images[i].ID.String() < images[j].ID.String()
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
