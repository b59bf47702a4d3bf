package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// ObjectHandler streams stored objects for backends without their own
// HTTP endpoint: the original behind a presigned URL, renditions publicly.
// Content types come from the image record and the rendition format.
type ObjectHandler struct {
	service simpleimage.Service
	store   simpleimage.BlobStore
	keys    *objectkey.Generator
}

// NewObjectHandler creates a handler for objects named by keys
func NewObjectHandler(service simpleimage.Service, store simpleimage.BlobStore, keys *objectkey.Generator) *ObjectHandler {
	return &ObjectHandler{service: service, store: store, keys: keys}
}

// SignedRoutes serves any key under a valid presigned URL
func (h *ObjectHandler) SignedRoutes(signer *presigned.Signer) chi.Router {
	r := chi.NewRouter()
	r.Use(presigned.Middleware(signer))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, presigned.ObjectKeyFromContext(r.Context()))
	})
	return r
}

// PublicRoutes serves rendition keys without a signature. Originals are
// never served here.
func (h *ObjectHandler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		_, variant, err := h.keys.Parse(key)
		if err != nil || variant == objectkey.OriginalName {
			http.NotFound(w, r)
			return
		}
		h.serve(w, r, key)
	})
	return r
}

func (h *ObjectHandler) serve(w http.ResponseWriter, r *http.Request, key string) {
	if key == "" {
		http.NotFound(w, r)
		return
	}

	body, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, simpleimage.ErrObjectNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("Failed to read object", "key", key, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer body.Close()

	contentType, original := h.describe(r, key)
	w.Header().Set("Content-Type", contentType)
	if original {
		w.Header().Set("Cache-Control", "private, no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("Failed to stream object", "key", key, "err", err)
	}
}

// describe returns the content type of key and whether it is an original.
// Keys that name no known image or rendition are served as octet-stream.
func (h *ObjectHandler) describe(r *http.Request, key string) (string, bool) {
	const fallback = "application/octet-stream"

	id, variant, err := h.keys.Parse(key)
	if err != nil {
		return fallback, strings.HasSuffix(key, "/"+objectkey.OriginalName)
	}
	if variant == objectkey.OriginalName {
		image, err := h.service.GetImage(r.Context(), id)
		if err != nil || image.ContentType == "" {
			return fallback, true
		}
		return image.ContentType, true
	}
	for _, rd := range h.service.Renditions() {
		if h.keys.Rendition(id, rd.Size) == key {
			return rd.ContentType, false
		}
	}
	return fallback, false
}
