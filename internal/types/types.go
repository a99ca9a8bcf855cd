// Package types defines the request and result types shared across the
// bridge.
package types

import (
	"fmt"
	"strings"
	"time"
)

// FailureCategory identifies why a conversion run failed.
type FailureCategory string

const (
	// CategoryInvalidRequest marks input that could not be accepted.
	CategoryInvalidRequest FailureCategory = "INVALID_REQUEST"

	// CategoryActivationFailed marks a device activation that did not
	// produce a usable identity.
	CategoryActivationFailed FailureCategory = "ACTIVATION_FAILED"

	// CategoryDeviceLimitReached marks a publisher-side download limit.
	// The failure is terminal; retrying cannot help.
	CategoryDeviceLimitReached FailureCategory = "DEVICE_LIMIT_REACHED"

	// CategoryIdentityExpired marks a stale device identity that a forced
	// reset may repair.
	CategoryIdentityExpired FailureCategory = "IDENTITY_EXPIRED"

	// CategoryUnclassified covers every failure with no known sentinel.
	CategoryUnclassified FailureCategory = "UNCLASSIFIED"
)

// ConversionRequest describes one fulfillment token to convert. Exactly
// one of TokenURL and TokenContent must be set.
type ConversionRequest struct {
	TokenURL     string `json:"token_url,omitempty"`
	TokenContent string `json:"token_content,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// Validate checks that the request carries exactly one token source.
func (r *ConversionRequest) Validate() error {
	url := strings.TrimSpace(r.TokenURL)
	content := strings.TrimSpace(r.TokenContent)

	if url == "" && content == "" {
		return fmt.Errorf("either token_url or token_content is required")
	}
	if url != "" && content != "" {
		return fmt.Errorf("token_url and token_content are mutually exclusive")
	}

	r.TokenURL = url
	r.TokenContent = content
	return nil
}

// OutputFile is one produced document published to object storage.
type OutputFile struct {
	Filename    string `json:"filename"`
	Key         string `json:"key"`
	SizeBytes   int64  `json:"size_bytes"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Failure is the terminal failure of a run, with the tool diagnostics
// that produced the classification.
type Failure struct {
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	ExitCode int             `json:"exit_code,omitempty"`
}

// ConversionResult is the single terminal outcome of one run.
type ConversionResult struct {
	RunID       string        `json:"run_id"`
	Filename    string        `json:"filename,omitempty"`
	Outputs     []OutputFile  `json:"output_files,omitempty"`
	Failure     *Failure      `json:"failure,omitempty"`
	Attempts    int           `json:"attempts"`
	FromCache   bool          `json:"from_cache,omitempty"`
	Duration    time.Duration `json:"-"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Succeeded reports whether the run produced outputs.
func (r *ConversionResult) Succeeded() bool {
	return r.Failure == nil && len(r.Outputs) > 0
}
