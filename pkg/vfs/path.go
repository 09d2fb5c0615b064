package vfs

import (
	"fmt"
	"path"
	"strings"

	"gokern/pkg/errno"
)

// MaxPathLength is the longest path a filesystem accepts, NUL excluded.
const MaxPathLength = 1023

// Clean normalizes p to an absolute slash-separated path without "."
// or ".." elements. ".." never climbs above the root.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	var out []string
	for _, comp := range strings.Split(p, "/") {
		switch comp {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, comp)
		}
	}
	return "/" + strings.Join(out, "/")
}

// IsAbs reports whether p starts at the root.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Base returns the last element of the path, or "" for the root.
func Base(p string) string {
	_, b := Split(p)
	return b
}

// Split splits a cleaned p into its parent directory and final element.
func Split(p string) (dir, base string) {
	p = Clean(p)
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// Join joins the elements into one cleaned absolute path.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Components returns the elements of a cleaned p, none for the root.
func Components(p string) []string {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// ValidatePath rejects paths no filesystem accepts.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path: %w", errno.EINVAL)
	}
	if len(p) > MaxPathLength {
		return fmt.Errorf("path %.32q...: %w", p, errno.ENAMETOOLONG)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path %q: %w", p, errno.EINVAL)
	}
	return nil
}

// SplitDevice splits "dev:rest" into its device name and the rest. A
// path without a device prefix, or with a '/' before the ':', has no
// device.
func SplitDevice(p string) (dev, rest string, ok bool) {
	i := strings.IndexByte(p, ':')
	if i <= 0 || strings.IndexByte(p[:i], '/') >= 0 {
		return "", p, false
	}
	return p[:i], p[i+1:], true
}
