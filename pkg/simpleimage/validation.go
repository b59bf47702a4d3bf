package simpleimage

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ParseImageID parses an id string, reporting malformed ids as validation
// errors.
func ParseImageID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, newValidationError("id", "Invalid image id %q", s)
	}
	return id, nil
}

// NormalizeContentType lower-cases a MIME type and strips parameters
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return strings.ToLower(contentType)
}

// validateIngest runs every synchronous check that needs no decoding. It
// returns the normalized content type and tags.
func (s *service) validateIngest(req IngestRequest) (string, []string, error) {
	if len(req.Data) == 0 {
		return "", nil, newValidationError("file", "File cannot be empty")
	}

	contentType := NormalizeContentType(req.ContentType)
	if contentType == "" {
		return "", nil, newValidationError("content_type", "Content type is required")
	}
	if !s.settings.allowsContentType(contentType) {
		return "", nil, newValidationError("content_type",
			"Content type %s is not allowed (allowed: %s)", contentType, strings.Join(s.settings.AllowedContentTypes, ", "))
	}

	if int64(len(req.Data)) > s.settings.MaxFileSize {
		return "", nil, newValidationError("file",
			"File size %d exceeds the maximum of %d bytes", len(req.Data), s.settings.MaxFileSize)
	}

	tags, err := validateDescriptive(req.Title, req.Description, req.Tags)
	if err != nil {
		return "", nil, err
	}
	return contentType, tags, nil
}

func (s *service) checkPixels(width, height int) error {
	if int64(width)*int64(height) > s.settings.MaxPixels {
		return newValidationError("file",
			"Image of %dx%d pixels exceeds the maximum of %d pixels", width, height, s.settings.MaxPixels)
	}
	return nil
}

// validateDescriptive checks title, description and tags, returning the
// tags trimmed and de-duplicated in first-seen order.
func validateDescriptive(title, description string, tags []string) ([]string, error) {
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return nil, newValidationError("title", "Title must be at most %d characters (got %d)", MaxTitleLength, n)
	}
	if n := utf8.RuneCountInString(description); n > MaxDescriptionLength {
		return nil, newValidationError("description", "Description must be at most %d characters (got %d)", MaxDescriptionLength, n)
	}
	return normalizeTags(tags)
}

func normalizeTags(tags []string) ([]string, error) {
	if tags == nil {
		return nil, nil
	}

	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return nil, newValidationError("tags", "Tags cannot be empty")
		}
		if n := utf8.RuneCountInString(tag); n > MaxTagLength {
			return nil, newValidationError("tags", "Tag %q must be at most %d characters", truncate(tag, 20), MaxTagLength)
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}

	if len(out) > MaxTags {
		return nil, newValidationError("tags", "At most %d tags are allowed (got %d)", MaxTags, len(out))
	}
	return out, nil
}

// searchCriteria validates paging and sorting
func (s *service) searchCriteria(req SearchRequest) (SearchCriteria, error) {
	if req.SortBy != "" && !req.SortBy.Valid() {
		return SearchCriteria{}, newValidationError("sort_by", "Cannot sort by %q", req.SortBy)
	}
	if req.Offset < 0 {
		return SearchCriteria{}, newValidationError("offset", "Offset cannot be negative")
	}
	limit := req.Limit
	switch {
	case limit < 0:
		return SearchCriteria{}, newValidationError("limit", "Limit cannot be negative")
	case limit == 0:
		limit = s.settings.DefaultPageSize
	case limit > s.settings.MaxPageSize:
		return SearchCriteria{}, newValidationError("limit", "Limit must be at most %d", s.settings.MaxPageSize)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = SortByCreatedAt
	}

	return SearchCriteria{
		Title:       strings.TrimSpace(req.Title),
		ContentType: NormalizeContentType(req.ContentType),
		Tag:         strings.TrimSpace(req.Tag),
		SortBy:      sortBy,
		SortDesc:    req.SortDesc,
		Limit:       limit,
		Offset:      req.Offset,
	}, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string([]rune(s)[:n]))
}
