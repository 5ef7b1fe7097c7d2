//go:build !windows

package daemon

import "github.com/google/renameio/v2"

// replaceFile atomically replaces path with data.
func replaceFile(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o644)
}
