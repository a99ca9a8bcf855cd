package identity

import (
	"os"
	"path/filepath"
)

// ArtifactNames is the fixed, ordered set of files making up a device
// identity. An identity is complete iff all three are present and
// non-empty; a partial set is never valid.
var ArtifactNames = []string{"activation.xml", "device.xml", "devicesalt"}

// Complete reports whether the directory holds a complete identity.
func Complete(dir string) bool {
	return len(Missing(dir)) == 0
}

// Missing returns the artifact names absent or empty in the directory.
func Missing(dir string) []string {
	var missing []string
	for _, name := range ArtifactNames {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	return missing
}

// Present returns the artifact names that exist non-empty in the directory.
func Present(dir string) []string {
	var present []string
	for _, name := range ArtifactNames {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Size() > 0 {
			present = append(present, name)
		}
	}
	return present
}
