package dto

import (
	"errors"
	"net/http"

	"github.com/bnema/flotilla/internal/domain"
)

// ErrorResponse represents a common API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried next to the message so clients can restore the sentinel.
const (
	CodeUnauthorized       = "unauthorized"
	CodeContainerNotFound  = "container_not_found"
	CodeImageNotFound      = "image_not_found"
	CodeTransferNotFound   = "transfer_not_found"
	CodeNameConflict       = "name_conflict"
	CodeTransferIncomplete = "transfer_incomplete"
	CodeChunkHashMismatch  = "chunk_hash_mismatch"
	CodeInvalidChunk       = "invalid_chunk"
	CodeInvalidName        = "invalid_name"
	CodeInvalidRequest     = "invalid_request"
	CodeUnsupported        = "unsupported_runtime"
	CodeRuntime            = "runtime_error"
	CodeInternal           = "internal_error"
)

// errorCodes maps sentinels to their HTTP status and code. Order matters:
// the first match wins, and sentinels are checked before the runtime failure
// that may wrap them.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{domain.ErrContainerNotFound, http.StatusNotFound, CodeContainerNotFound},
	{domain.ErrImageNotFound, http.StatusNotFound, CodeImageNotFound},
	{domain.ErrTransferNotFound, http.StatusNotFound, CodeTransferNotFound},
	{domain.ErrContainerNameConflict, http.StatusConflict, CodeNameConflict},
	{domain.ErrTransferIncomplete, http.StatusConflict, CodeTransferIncomplete},
	{domain.ErrChunkHashMismatch, http.StatusBadRequest, CodeChunkHashMismatch},
	{domain.ErrInvalidChunk, http.StatusBadRequest, CodeInvalidChunk},
	{domain.ErrInvalidName, http.StatusBadRequest, CodeInvalidName},
	{domain.ErrInvalidConfig, http.StatusBadRequest, CodeInvalidRequest},
	{domain.ErrUnsupportedRuntime, http.StatusBadRequest, CodeUnsupported},
}

// StatusFor returns the HTTP status and code for err.
func StatusFor(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	var opErr *domain.AgentOperationError
	if errors.As(err, &opErr) {
		return http.StatusBadGateway, CodeRuntime
	}
	return http.StatusInternalServerError, CodeInternal
}

// SentinelFor returns the domain error behind code, or nil when the code
// has no sentinel.
func SentinelFor(code string) error {
	for _, e := range errorCodes {
		if e.code == code {
			return e.err
		}
	}
	return nil
}
