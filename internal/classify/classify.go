// Package classify maps the conversion tool's diagnostic stream to a closed
// set of known failure categories. Any new sentinel the external tool
// introduces requires an explicit addition here.
package classify

import (
	"strings"

	"acsm-bridge/internal/types"
)

// Sentinel tokens emitted by the external conversion tool on stderr.
const (
	deviceLimitSentinel     = "E_GOOGLE_DEVICE_LIMIT_REACHED"
	identityExpiredSentinel = "E_ADEPT_REQUEST_EXPIRED"
)

// Classify inspects captured diagnostics and returns the failure category.
// Device limit takes priority over identity expiry when both appear.
func Classify(diagnostics string) types.FailureCategory {
	if strings.Contains(diagnostics, deviceLimitSentinel) {
		return types.CategoryDeviceLimitReached
	}
	if strings.Contains(diagnostics, identityExpiredSentinel) {
		return types.CategoryIdentityExpired
	}
	return types.CategoryUnclassified
}
