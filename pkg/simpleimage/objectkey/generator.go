package objectkey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// OriginalName is the final path segment of an original object
	OriginalName = "original"

	// RenditionPrefix prefixes the final path segment of a rendition object
	RenditionPrefix = "thumbnail_"
)

// Generator derives physical keys from an image id. Keys are never taken
// from user input, so any id plus the configured sizes reproduces the full
// key set without asking the store.
//
// Layout (kept stable for external tooling that inspects the bucket):
//
//	{prefix}/{id}/original
//	{prefix}/{id}/thumbnail_{size}
type Generator struct {
	prefix string
}

// New creates a generator rooted at prefix. Slashes around the prefix are
// trimmed; an empty prefix puts ids at the bucket root.
func New(prefix string) *Generator {
	return &Generator{prefix: sanitizePrefix(prefix)}
}

// Prefix returns the normalized prefix.
func (g *Generator) Prefix() string {
	return g.prefix
}

// Original returns the key of the original object.
func (g *Generator) Original(id uuid.UUID) string {
	return g.join(id, OriginalName)
}

// Rendition returns the key of the rendition for size.
func (g *Generator) Rendition(id uuid.UUID, size int) string {
	return g.join(id, RenditionPrefix+strconv.Itoa(size))
}

// All returns the original key followed by one rendition key per size.
func (g *Generator) All(id uuid.UUID, sizes []int) []string {
	keys := make([]string, 0, len(sizes)+1)
	keys = append(keys, g.Original(id))
	for _, size := range sizes {
		keys = append(keys, g.Rendition(id, size))
	}
	return keys
}

// Parse splits a key produced by this generator into its id and variant.
// The variant is "original" or "thumbnail_{size}".
func (g *Generator) Parse(key string) (uuid.UUID, string, error) {
	rest := key
	if g.prefix != "" {
		if !strings.HasPrefix(key, g.prefix+"/") {
			return uuid.Nil, "", fmt.Errorf("key %q is outside prefix %q", key, g.prefix)
		}
		rest = strings.TrimPrefix(key, g.prefix+"/")
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return uuid.Nil, "", fmt.Errorf("key %q does not match {prefix}/{id}/{variant}", key)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("key %q has invalid id: %w", key, err)
	}

	variant := parts[1]
	if variant != OriginalName {
		size, err := strconv.Atoi(strings.TrimPrefix(variant, RenditionPrefix))
		if !strings.HasPrefix(variant, RenditionPrefix) || err != nil || size <= 0 {
			return uuid.Nil, "", fmt.Errorf("key %q has unknown variant %q", key, variant)
		}
	}
	return id, variant, nil
}

func (g *Generator) join(id uuid.UUID, name string) string {
	if g.prefix == "" {
		return fmt.Sprintf("%s/%s", id, name)
	}
	return fmt.Sprintf("%s/%s/%s", g.prefix, id, name)
}

// sanitizePrefix trims separators and replaces characters that are unsafe
// in object keys; inner slashes are kept so prefixes may nest.
func sanitizePrefix(prefix string) string {
	replacer := strings.NewReplacer(
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	prefix = strings.Trim(replacer.Replace(prefix), "/")
	for strings.Contains(prefix, "//") {
		prefix = strings.ReplaceAll(prefix, "//", "/")
	}
	return prefix
}
