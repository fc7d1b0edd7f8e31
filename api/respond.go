package api

import (
	"encoding/json"
	"net/http"

	"bsid.es/diana"
	"bsid.es/diana/pkg/logger"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusCode maps application error codes to HTTP statuses.
var statusCode = map[string]int{
	string(diana.ErrInvalid):              http.StatusBadRequest,
	string(diana.ErrNotFound):             http.StatusNotFound,
	string(diana.ErrPermissionDenied):     http.StatusForbidden,
	string(diana.ErrSchedulerUnavailable): http.StatusServiceUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail writes err as a JSON error body. Internal errors are logged and their
// details withheld from the client.
func fail(w http.ResponseWriter, log *logger.Logger, err error) {
	code := string(diana.ErrorCode(err))
	status, ok := statusCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		log.Error("request failed", logger.Err(err))
	} else {
		log.Debug("request rejected", "code", code, logger.Err(err))
	}

	writeJSON(w, status, errorResponse{
		Error:   code,
		Message: diana.ErrorDescription(err),
	})
}
