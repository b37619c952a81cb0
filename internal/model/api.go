package model

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// BatchRequest is the request body for POST /api/ingest/batch. Entries stay
// raw until the gateway dispatches each through ParseEvent, so one malformed
// entry cannot fail the whole request.
type BatchRequest struct {
	Events []json.RawMessage `json:"events"`
}

// BatchEntryResult reports the outcome of one batch entry in submission order.
type BatchEntryResult struct {
	Index int          `json:"index"`
	OK    bool         `json:"ok"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// BatchResponse is the per-entry result list for POST /api/ingest/batch.
type BatchResponse struct {
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Results   []BatchEntryResult `json:"results"`
}

// CreateKeyRequest is the request body for POST /api/ingest/keys.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Agents       int    `json:"agents"`
	Archive      string `json:"archive,omitempty"`
	BufferDepth  int    `json:"buffer_depth,omitempty"`
	BufferStatus string `json:"buffer_status,omitempty"` // "ok", "high", "critical"
	Uptime       int64  `json:"uptime_seconds"`
}
