package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// contextKey is the type of the context keys shared with the server
// middleware, such as RequestIDKey.
type contextKey string

// RequestIDKey carries the correlation id set by the server middleware.
const RequestIDKey contextKey = "request_id"

// validate is the shared request-schema validator.
var validate = validator.New()

// dataEnvelope wraps a single entity response.
type dataEnvelope struct {
	Data interface{} `json:"data"`
}

// listEnvelope wraps a collection response with pagination meta.
type listEnvelope struct {
	Data interface{} `json:"data"`
	Meta listMeta    `json:"meta"`
}

type listMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Message   string        `json:"message"`
	Details   []errorDetail `json:"details"`
	RequestID string        `json:"request_id"`
}

type errorDetail struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	Field     string `json:"field,omitempty"`
}

// writeData writes a single-entity envelope.
func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataEnvelope{Data: data})
}

// writeList writes a collection envelope with pagination meta.
func writeList(w http.ResponseWriter, data interface{}, total, page, limit int) {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(listEnvelope{
		Data: data,
		Meta: listMeta{Total: total, Page: page, Limit: limit, Pages: pages},
	})
}

// writeRaw writes an unenveloped JSON body. Used for action responses whose
// shape the API defines directly (start, cancel, retry, progress).
func writeRaw(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError translates an error kind into its wire status and the error
// envelope, and logs it once with structured context. This is the single
// boundary where service errors become responses.
func writeError(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, err error) {
	status := errkind.HTTPStatus(err)
	kind := errkind.KindOf(err)
	requestID := RequestIDFrom(r.Context())

	event := logger.Warn()
	if status >= 500 {
		event = logger.Error()
	}
	event.
		Str("request_id", requestID).
		Str("path", r.URL.Path).
		Str("error_kind", string(kind)).
		Int("status", status).
		Err(err).
		Msg("Request failed")

	message := err.Error()
	if status >= 500 {
		// Internal detail stays in the log.
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		Message: message,
		Details: []errorDetail{
			{Detail: message, ErrorCode: string(kind)},
		},
		RequestID: requestID,
	})
}

// RequestIDFrom extracts the correlation id placed by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authenticate verifies the request's bearer token and returns the acting
// user id.
func authenticate(r *http.Request, verifier interfaces.TokenVerifier) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", errkind.Unauthorized("missing bearer token", nil)
	}
	return verifier.Verify(r.Context(), token)
}

// decodeBody parses and schema-validates a JSON request body.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errkind.Validationf("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errkind.Validationf("invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errkind.Validationf("%v", err)
	}
	return nil
}
