package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
)

func newImage(title string, status simpleimage.ImageStatus, size int64, tags ...string) *simpleimage.Image {
	return &simpleimage.Image{
		ID:            uuid.New(),
		Title:         title,
		Tags:          tags,
		ContentType:   "image/jpeg",
		FileSizeBytes: size,
		UploadedBy:    "alice",
		Status:        status,
	}
}

func TestMemoryRepository_ImageOperations(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	image := newImage("Sunset", simpleimage.StatusProcessing, 100, "beach")

	t.Run("SaveImage sets timestamps", func(t *testing.T) {
		require.NoError(t, repo.SaveImage(ctx, image))
		assert.False(t, image.CreatedAt.IsZero())
		assert.False(t, image.UpdatedAt.IsZero())
	})

	t.Run("GetImage returns a copy", func(t *testing.T) {
		got, err := repo.GetImage(ctx, image.ID)
		require.NoError(t, err)
		assert.Equal(t, "Sunset", got.Title)

		got.Tags[0] = "mutated"
		again, err := repo.GetImage(ctx, image.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"beach"}, again.Tags)
	})

	t.Run("GetImage unknown id", func(t *testing.T) {
		_, err := repo.GetImage(ctx, uuid.New())
		assert.ErrorIs(t, err, simpleimage.ErrImageNotFound)
	})

	t.Run("DeleteImage", func(t *testing.T) {
		require.NoError(t, repo.DeleteImage(ctx, image.ID))
		assert.ErrorIs(t, repo.DeleteImage(ctx, image.ID), simpleimage.ErrImageNotFound)
	})
}

func TestMemoryRepository_StatusTransitions(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	image := newImage("x", simpleimage.StatusProcessing, 1)
	require.NoError(t, repo.SaveImage(ctx, image))

	updated, err := repo.TransitionStatus(ctx, image.ID, simpleimage.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, simpleimage.StatusCompleted, updated.Status)

	// repeating the same transition is a no-op
	_, err = repo.TransitionStatus(ctx, image.ID, simpleimage.StatusCompleted, "")
	assert.NoError(t, err)

	// terminal statuses never change
	_, err = repo.TransitionStatus(ctx, image.ID, simpleimage.StatusFailed, "late failure")
	assert.ErrorIs(t, err, simpleimage.ErrInvalidStatusTransition)
	_, err = repo.TransitionStatus(ctx, image.ID, simpleimage.StatusProcessing, "")
	assert.ErrorIs(t, err, simpleimage.ErrInvalidStatusTransition)

	// nor does a full save carrying a stale status
	stale := image.Clone()
	stale.Status = simpleimage.StatusProcessing
	stale.Title = "renamed"
	require.NoError(t, repo.SaveImage(ctx, stale))
	assert.Equal(t, simpleimage.StatusCompleted, stale.Status)

	got, err := repo.GetImage(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, simpleimage.StatusCompleted, got.Status)
	assert.Equal(t, "renamed", got.Title)

	_, err = repo.TransitionStatus(ctx, uuid.New(), simpleimage.StatusFailed, "")
	assert.ErrorIs(t, err, simpleimage.ErrImageNotFound)
}

func TestMemoryRepository_UpdateImage(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	image := newImage("Sunset", simpleimage.StatusProcessing, 100, "beach")
	require.NoError(t, repo.SaveImage(ctx, image))
	_, err := repo.TransitionStatus(ctx, image.ID, simpleimage.StatusCompleted, "")
	require.NoError(t, err)

	update := image.Clone()
	update.Title = "Dusk"
	update.Tags = nil
	update.Width, update.Height = 40, 20
	update.Status = simpleimage.StatusProcessing
	update.PhysicalKey = "ignored"
	require.NoError(t, repo.UpdateImage(ctx, update))
	assert.Equal(t, simpleimage.StatusCompleted, update.Status)

	got, err := repo.GetImage(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dusk", got.Title)
	assert.Nil(t, got.Tags)
	assert.Equal(t, 40, got.Width)
	assert.Equal(t, simpleimage.StatusCompleted, got.Status)
	assert.Equal(t, image.PhysicalKey, got.PhysicalKey)

	require.NoError(t, repo.DeleteImage(ctx, image.ID))
	assert.ErrorIs(t, repo.UpdateImage(ctx, update), simpleimage.ErrImageNotFound)
	_, err = repo.GetImage(ctx, image.ID)
	assert.ErrorIs(t, err, simpleimage.ErrImageNotFound)
}

func TestMemoryRepository_ConcurrentFinalization(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	image := newImage("x", simpleimage.StatusProcessing, 1)
	require.NoError(t, repo.SaveImage(ctx, image))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := simpleimage.StatusCompleted
			if i%2 == 1 {
				to = simpleimage.StatusFailed
			}
			_, errs[i] = repo.TransitionStatus(ctx, image.ID, to, "")
		}(i)
	}
	wg.Wait()

	got, err := repo.GetImage(ctx, image.ID)
	require.NoError(t, err)
	require.True(t, got.Status.IsTerminal())
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, simpleimage.ErrInvalidStatusTransition, "writer %d", i)
		}
	}
}

func TestMemoryRepository_Search(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		img := newImage(fmt.Sprintf("Beach %d", i), simpleimage.StatusCompleted, int64(100*(i+1)), "beach")
		require.NoError(t, repo.SaveImage(ctx, img))
	}
	png := newImage("Mountain", simpleimage.StatusCompleted, 50, "hills")
	png.ContentType = "image/png"
	require.NoError(t, repo.SaveImage(ctx, png))
	require.NoError(t, repo.SaveImage(ctx, newImage("Beach processing", simpleimage.StatusProcessing, 1, "beach")))

	completed := []simpleimage.ImageStatus{simpleimage.StatusCompleted}

	tests := []struct {
		name     string
		criteria simpleimage.SearchCriteria
		total    int64
		items    int
	}{
		{"title substring case-insensitive", simpleimage.SearchCriteria{Title: "beach", Statuses: completed}, 5, 5},
		{"content type", simpleimage.SearchCriteria{ContentType: "image/png", Statuses: completed}, 1, 1},
		{"tag", simpleimage.SearchCriteria{Tag: "hills"}, 1, 1},
		{"all statuses", simpleimage.SearchCriteria{Title: "beach"}, 6, 6},
		{"paged", simpleimage.SearchCriteria{Statuses: completed, Limit: 2, Offset: 4}, 6, 2},
		{"offset past end", simpleimage.SearchCriteria{Statuses: completed, Limit: 2, Offset: 10}, 6, 0},
		{"owner", simpleimage.SearchCriteria{UploadedBy: "bob"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.SearchImages(ctx, tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.total, page.Total)
			assert.Len(t, page.Items, tt.items)
		})
	}

	t.Run("sorted by size descending", func(t *testing.T) {
		page, err := repo.SearchImages(ctx, simpleimage.SearchCriteria{
			Statuses: completed,
			SortBy:   simpleimage.SortByFileSize,
			SortDesc: true,
		})
		require.NoError(t, err)
		require.Len(t, page.Items, 6)
		assert.Equal(t, int64(500), page.Items[0].FileSizeBytes)
		assert.Equal(t, int64(50), page.Items[5].FileSizeBytes)
	})
}

func TestMemoryRepository_Statistics(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	stats, err := repo.ImageStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, float64(0), stats.AverageBytes)

	require.NoError(t, repo.SaveImage(ctx, newImage("a", simpleimage.StatusCompleted, 100)))
	require.NoError(t, repo.SaveImage(ctx, newImage("b", simpleimage.StatusCompleted, 300)))
	require.NoError(t, repo.SaveImage(ctx, newImage("c", simpleimage.StatusFailed, 1000)))
	require.NoError(t, repo.SaveImage(ctx, newImage("d", simpleimage.StatusProcessing, 1000)))

	stats, err = repo.ImageStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(400), stats.TotalSizeBytes)
	assert.Equal(t, float64(200), stats.AverageBytes)
}
