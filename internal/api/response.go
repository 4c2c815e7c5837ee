package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quiverhq/quiver/internal/apperr"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
	Details   []apperr.Detail `json:"details,omitempty"`
}

// statusOf maps an error kind to its HTTP status. This is the single
// place that mapping lives; handlers never pick status codes
// themselves.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusForbidden
	case apperr.KindGone:
		return http.StatusGone
	case apperr.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response. Encoding happens into a buffer
// first so a marshal failure can still produce a clean 500 instead of
// a half-written body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("failed to write response body", "error", err)
	}
}

// writeError renders err in the error envelope. Internal causes are
// logged with the request id but never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	requestID := requestIDFromContext(r.Context())

	appErr := apperr.As(err)
	if appErr == nil {
		appErr = apperr.Internal(err)
	}

	status := statusOf(appErr.Kind)
	if status >= 500 {
		logger.Error("request failed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
		Details:   appErr.Details,
	}})
}

// writeServiceUnavailable is the one response outside the kind map:
// readiness probes and saturation push-back answer 503.
func writeServiceUnavailable(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{
		Code:      "SERVICE_UNAVAILABLE",
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	}})
}
