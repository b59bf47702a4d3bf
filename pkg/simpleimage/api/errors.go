package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one error. ImageID is set when the failure left a
// record behind, so the caller can inspect or delete it.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	ImageID string `json:"image_id,omitempty"`
}

// statusFor maps service errors to HTTP status codes and error codes.
func statusFor(err error) (int, string) {
	var ingestErr *simpleimage.IngestionError
	var partial *simpleimage.PartialFailureError

	switch {
	case simpleimage.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case simpleimage.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpleimage.ErrImageNotReady):
		return http.StatusConflict, "image_not_ready"
	case errors.Is(err, simpleimage.ErrImageBeingProcessed):
		return http.StatusConflict, "image_being_processed"
	case errors.Is(err, simpleimage.ErrInvalidStatusTransition):
		return http.StatusConflict, "invalid_status"
	case errors.Is(err, simpleimage.ErrExpiryOutOfRange):
		return http.StatusUnprocessableEntity, "expiry_out_of_range"
	case errors.Is(err, simpleimage.ErrRenditionNotSignable):
		return http.StatusUnprocessableEntity, "rendition_not_signable"
	case errors.Is(err, simpleimage.ErrIngestTimeout):
		return http.StatusGatewayTimeout, "ingest_timeout"
	case errors.As(err, &partial):
		return http.StatusMultiStatus, "partial_failure"
	case errors.As(err, &ingestErr):
		return http.StatusInternalServerError, "ingestion_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError renders err. image, when non-nil, is the record the failed
// operation left behind.
func writeError(w http.ResponseWriter, r *http.Request, err error, image *simpleimage.Image) {
	status, code := statusFor(err)

	body := ErrorBody{Code: code, Message: err.Error()}
	var verr *simpleimage.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
		body.Message = verr.Reason
	}
	var ingestErr *simpleimage.IngestionError
	if errors.As(err, &ingestErr) {
		body.ImageID = ingestErr.ImageID.String()
	} else if image != nil {
		body.ImageID = image.ID.String()
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: body})
}
