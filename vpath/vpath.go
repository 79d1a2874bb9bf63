// Package vpath resolves the slash-separated paths used on the device.
//
// Device paths are always absolute, use "/" as the only separator and never
// carry a trailing separator except for the root itself. Resolution is purely
// lexical: it never touches storage and cannot fail.
package vpath

import (
	"path"
	"strings"
)

// Separator is the device path separator.
const Separator = "/"

// Root is the device root directory.
const Root = Separator

// Resolve maps the working directory cwd and a path token to a normalized
// absolute path. A token starting with the separator restarts from the root.
// ".." pops the last component (a no-op at the root), "." and empty segments are
// ignored, and anything else is appended.
func Resolve(cwd, token string) string {
	var segments []string
	if !strings.HasPrefix(token, Separator) {
		segments = appendSegments(segments, cwd)
	}
	segments = appendSegments(segments, token)
	return Separator + strings.Join(segments, Separator)
}

func appendSegments(segments []string, p string) []string {
	for _, seg := range strings.Split(p, Separator) {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}
	return segments
}

// Clean normalizes p as an absolute device path.
func Clean(p string) string {
	return Resolve(Root, p)
}

// Split returns the parent directory and the last component of p. The parent
// of a top-level entry is the root.
func Split(p string) (dir, base string) {
	i := strings.LastIndex(p, Separator)
	if i < 0 {
		return Root, p
	}
	dir, base = p[:i], p[i+1:]
	if dir == "" {
		dir = Root
	}
	return dir, base
}

// Join appends name to the directory dir without normalizing either.
func Join(dir, name string) string {
	if dir == Root || dir == "" {
		return Root + name
	}
	return dir + Separator + name
}

// Rel strips the leading separator, the form used in reconciliation replies.
func Rel(p string) string {
	return strings.TrimLeft(p, Separator)
}

// Within reports whether p equals prefix or is nested under it.
func Within(p, prefix string) bool {
	if p == prefix {
		return true
	}
	if prefix == Root {
		return strings.HasPrefix(p, Root)
	}
	return strings.HasPrefix(p, prefix+Separator)
}

// Match reports whether name matches the shell pattern, where '*' matches any
// run of characters and '?' a single character. A malformed pattern only
// matches itself.
func Match(name, pattern string) bool {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return name == pattern
	}
	return ok
}

// HasWildcard reports whether s contains a pattern metacharacter.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
