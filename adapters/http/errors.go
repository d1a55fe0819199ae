package http

import (
	"encoding/json"
	"net/http"

	"github.com/artpar/metergate/domain/apperr"
	"github.com/rs/zerolog"
)

// ErrorResponseBody represents an error response body for swagger docs.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details for swagger docs.
type ErrorDetail struct {
	Code    string `json:"code" example:"quota_exhausted"`
	Message string `json:"message" example:"usage quota exhausted, purchase more calls"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status and writes the error envelope.
// Causes are logged at error level for internal failures and never sent to the client.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		logger.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, e.HTTPStatus(), ErrorResponseBody{
		Error: ErrorDetail{Code: e.ErrorCode(), Message: e.Message},
	})
}
