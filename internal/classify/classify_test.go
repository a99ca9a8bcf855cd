package classify

import (
	"testing"

	"acsm-bridge/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics string
		want        types.FailureCategory
	}{
		{
			name:        "device limit sentinel",
			diagnostics: "ERROR: E_GOOGLE_DEVICE_LIMIT_REACHED for resource urn:uuid:1234",
			want:        types.CategoryDeviceLimitReached,
		},
		{
			name:        "identity expired sentinel",
			diagnostics: "libgourou: E_ADEPT_REQUEST_EXPIRED request no longer valid",
			want:        types.CategoryIdentityExpired,
		},
		{
			name:        "device limit takes priority over expiry",
			diagnostics: "E_ADEPT_REQUEST_EXPIRED then E_GOOGLE_DEVICE_LIMIT_REACHED",
			want:        types.CategoryDeviceLimitReached,
		},
		{
			name:        "unknown diagnostics",
			diagnostics: "segmentation fault (core dumped)",
			want:        types.CategoryUnclassified,
		},
		{
			name:        "empty diagnostics",
			diagnostics: "",
			want:        types.CategoryUnclassified,
		},
		{
			name:        "sentinel embedded mid-line",
			diagnostics: "2024-01-01 12:00:00 [fatal] code=E_GOOGLE_DEVICE_LIMIT_REACHED retry=no",
			want:        types.CategoryDeviceLimitReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.diagnostics))
		})
	}
}
