package api

import (
	"acsm-bridge/internal/types"
)

// convertResponse is the success payload of POST /api/v1/convert.
type convertResponse struct {
	Message    string             `json:"message"`
	RunID      string             `json:"run_id"`
	Filename   string             `json:"filename"`
	Outputs    []types.OutputFile `json:"output_files"`
	FilesCount int                `json:"files_count"`
	FromCache  bool               `json:"from_cache,omitempty"`
}

// errorResponse is the failure payload for all endpoints.
type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"error_type,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// healthResponse is the payload of GET /api/v1/health.
type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	IdentityReady bool     `json:"identity_ready"`
	Artifacts     []string `json:"artifacts,omitempty"`
}

// statusCodeFor maps a failure category to an HTTP status code. Input
// errors and exhausted download limits are the caller's to act on; the
// rest are infrastructure failures.
func statusCodeFor(category types.FailureCategory) int {
	switch category {
	case types.CategoryInvalidRequest, types.CategoryDeviceLimitReached:
		return 400
	default:
		return 500
	}
}
