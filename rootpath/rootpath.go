// Package rootpath joins filesystem paths against an optional alternate
// root, the way every component that opens a host path under --root needs
// to.
package rootpath

import "path/filepath"

// Join returns path prefixed with root, unless root is empty in which case
// path is returned unchanged. path is expected to be absolute, matching the
// declaration format's own requirement that uid_path/gid_path be absolute.
func Join(root, path string) string {
	if root == "" {
		return path
	}

	return filepath.Join(root, path)
}
