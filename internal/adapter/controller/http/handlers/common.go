package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// JSONResponse sends a JSON response with the given status code
func JSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Detail string `json:"detail"`
}

// ErrorResponse sends a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, detail string) {
	JSONResponse(w, statusCode, ErrorBody{Detail: detail})
}

// DecodeJSON decodes a bounded JSON request body
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, entity.ErrInvalidQuery) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
