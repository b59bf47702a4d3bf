// Package api exposes a simpleimage.Service over HTTP.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// maxFormMemory bounds the multipart form kept in memory; larger parts
// spill to temp files.
const maxFormMemory = 32 << 20

// ImageHandler serves the image API
type ImageHandler struct {
	service     simpleimage.Service
	maxBodySize int64
}

// HandlerOption configures an ImageHandler
type HandlerOption func(*ImageHandler)

// WithMaxBodySize caps request bodies. The service still enforces its own
// file size limit; this only stops oversized uploads early.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *ImageHandler) {
		h.maxBodySize = n
	}
}

// NewImageHandler creates a new image handler
func NewImageHandler(service simpleimage.Service, opts ...HandlerOption) *ImageHandler {
	h := &ImageHandler{service: service, maxBodySize: 64 << 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the image routes. Callers mount it behind Identity.
func (h *ImageHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Ingest)
	r.Get("/", h.Search)
	r.Get("/mine", h.ListOwned)
	r.Get("/stats", h.Statistics)
	r.Get("/renditions", h.Renditions)
	r.Post("/delete", h.DeleteBatch)

	r.Route("/{imageID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Get("/status", h.Status)
		r.Get("/url", h.URL)
		r.Get("/versions", h.ListVersions)
		r.Post("/versions/{versionID}/restore", h.RestoreVersion)
	})

	return r
}

// StatusResponse is the body of GET /{imageID}/status
type StatusResponse struct {
	ID     uuid.UUID               `json:"id"`
	Status simpleimage.ImageStatus `json:"status"`
}

// UpdateRequest is the body of PATCH /{imageID}
type UpdateRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// DeleteBatchRequest is the body of POST /delete
type DeleteBatchRequest struct {
	IDs   []string `json:"ids"`
	Force bool     `json:"force"`
}

// Ingest accepts a multipart form with a "file" part and optional title,
// description and tags fields. With ?async=true it answers 202 as soon as
// the record exists.
func (h *ImageHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, r, &simpleimage.ValidationError{Field: "file", Reason: "invalid multipart form: " + err.Error()}, nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, &simpleimage.ValidationError{Field: "file", Reason: "file is required"}, nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, &simpleimage.ValidationError{Field: "file", Reason: "failed to read file: " + err.Error()}, nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	req := simpleimage.IngestRequest{
		Data:        data,
		ContentType: contentType,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        formTags(r),
		UploadedBy:  IdentityFromContext(r.Context()),
		Async:       queryBool(r, "async"),
	}

	image, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, err, image)
		return
	}

	if image.Status == simpleimage.StatusProcessing {
		render.Status(r, http.StatusAccepted)
	} else {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, image)
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	image, err := h.service.GetImage(r.Context(), id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, image)
}

func (h *ImageHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, StatusResponse{ID: id, Status: status})
}

func (h *ImageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	var body UpdateRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		writeError(w, r, &simpleimage.ValidationError{Field: "body", Reason: "invalid JSON body"}, nil)
		return
	}

	req := simpleimage.UpdateImageRequest{ID: id, Title: body.Title, Description: body.Description}
	if body.Tags != nil {
		req.Tags = *body.Tags
		req.ClearTags = len(*body.Tags) == 0
	}

	image, err := h.service.UpdateImage(r.Context(), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, image)
}

// Search lists completed images. Query: title, content_type, tag, sort_by,
// order (asc|desc), limit, offset.
func (h *ImageHandler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequest(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	page, err := h.service.SearchImages(r.Context(), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, page)
}

// ListOwned lists the caller's images in any status, optionally filtered
// by repeated status parameters.
func (h *ImageHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequest(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	for _, s := range r.URL.Query()["status"] {
		req.Statuses = append(req.Statuses, simpleimage.ImageStatus(strings.ToUpper(s)))
	}

	page, err := h.service.ListOwnedImages(r.Context(), IdentityFromContext(r.Context()), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, page)
}

func (h *ImageHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, stats)
}

func (h *ImageHandler) Renditions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Renditions())
}

// URL resolves a URL for the original (size omitted or 0) or a rendition.
// ttl accepts a Go duration ("10m") or whole seconds.
func (h *ImageHandler) URL(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	req := simpleimage.URLRequest{ImageID: id}
	if s := r.URL.Query().Get("size"); s != "" {
		size, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, &simpleimage.ValidationError{Field: "size", Reason: "size must be an integer"}, nil)
			return
		}
		req.Size = size
	}
	if s := r.URL.Query().Get("ttl"); s != "" {
		ttl, err := parseTTL(s)
		if err != nil {
			writeError(w, r, &simpleimage.ValidationError{Field: "ttl", Reason: err.Error()}, nil)
			return
		}
		req.TTL = ttl
	}

	resolved, err := h.service.ResolveURL(r.Context(), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	render.JSON(w, r, resolved)
}

// Delete removes one image. ?force=true also removes PROCESSING records.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	err := h.service.DeleteImage(r.Context(), id, simpleimage.DeleteOptions{Force: queryBool(r, "force")})
	if err != nil {
		var partial *simpleimage.PartialFailureError
		if errors.As(err, &partial) {
			render.Status(r, http.StatusMultiStatus)
			render.JSON(w, r, partial.Report)
			return
		}
		writeError(w, r, err, nil)
		return
	}
	render.NoContent(w, r)
}

// DeleteBatch removes many images. It answers 200 when every image is gone
// and 207 with the report otherwise; retrying the same ids is safe.
func (h *ImageHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	var body DeleteBatchRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		writeError(w, r, &simpleimage.ValidationError{Field: "body", Reason: "invalid JSON body"}, nil)
		return
	}

	ids := make([]uuid.UUID, 0, len(body.IDs))
	for _, s := range body.IDs {
		id, err := simpleimage.ParseImageID(s)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		ids = append(ids, id)
	}

	report, err := h.service.DeleteImages(r.Context(), ids, simpleimage.DeleteOptions{Force: body.Force})
	if err != nil {
		var partial *simpleimage.PartialFailureError
		if !errors.As(err, &partial) {
			writeError(w, r, err, nil)
			return
		}
		slog.Warn("batch delete left images behind", "failed", len(report.FailedImageIDs()))
		render.Status(r, http.StatusMultiStatus)
	}
	render.JSON(w, r, report)
}

func (h *ImageHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(r.Context(), id)
	if err != nil {
		h.writeVersionError(w, r, err)
		return
	}
	if versions == nil {
		versions = []simpleimage.ObjectVersion{}
	}
	render.JSON(w, r, versions)
}

func (h *ImageHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	image, err := h.service.RestoreVersion(r.Context(), id, chi.URLParam(r, "versionID"))
	if err != nil {
		h.writeVersionError(w, r, err)
		return
	}
	render.JSON(w, r, image)
}

func (h *ImageHandler) writeVersionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, simpleimage.ErrVersioningUnsupported) {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "versioning_unsupported", Message: err.Error()}})
		return
	}
	writeError(w, r, err, nil)
}

func imageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := simpleimage.ParseImageID(chi.URLParam(r, "imageID"))
	if err != nil {
		writeError(w, r, err, nil)
		return uuid.Nil, false
	}
	return id, true
}

func searchRequest(r *http.Request) (simpleimage.SearchRequest, error) {
	q := r.URL.Query()
	req := simpleimage.SearchRequest{
		Title:       q.Get("title"),
		ContentType: q.Get("content_type"),
		Tag:         q.Get("tag"),
		SortBy:      simpleimage.SortField(q.Get("sort_by")),
		SortDesc:    strings.EqualFold(q.Get("order"), "desc"),
	}

	var err error
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return req, err
	}
	if req.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		return req, err
	}
	return req, nil
}

func queryInt(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &simpleimage.ValidationError{Field: field, Reason: field + " must be an integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// formTags accepts repeated "tags" fields and comma separated values
func formTags(r *http.Request) []string {
	var tags []string
	for _, v := range r.MultipartForm.Value["tags"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func parseTTL(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.New("ttl must be a duration such as 10m or a number of seconds")
	}
	return d, nil
}
