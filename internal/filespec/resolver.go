// Package filespec resolves file-bearing attribute values — semicolon
// separated paths, Perforce-style wildcards, and #Tag references — into
// concrete, ordered file sets.
package filespec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// TagLookup resolves a #TagName reference to the file set currently bound
// to that tag. Callers (the script reader during Requires binding, and the
// execution engine building its starting tag map) supply this.
type TagLookup func(tag string) ([]string, bool)

// Resolve evaluates a semicolon-separated file-spec string against root
// (the workspace root wildcards are anchored to) and returns the resulting
// ordered, de-duplicated file list. Items are evaluated left to right
// starting from the empty set; a leading '-' subtracts from the
// accumulated set instead of adding to it.
func Resolve(root, spec string, lookup TagLookup) ([]string, error) {
	set := newOrderedSet()
	for _, raw := range strings.Split(spec, ";") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		subtract := false
		if strings.HasPrefix(item, "-") {
			subtract = true
			item = strings.TrimSpace(item[1:])
		}
		files, err := resolveItem(root, item, lookup)
		if err != nil {
			return nil, err
		}
		if subtract {
			set.removeAll(files)
		} else {
			set.addAll(files)
		}
	}
	return set.slice(), nil
}

func resolveItem(root, item string, lookup TagLookup) ([]string, error) {
	switch {
	case strings.HasPrefix(item, "#"):
		tag := item[1:]
		if lookup == nil {
			return nil, fmt.Errorf("file-spec references tag %q but no tag set is available here", item)
		}
		files, ok := lookup(tag)
		if !ok {
			return nil, fmt.Errorf("unresolved tag reference %q", item)
		}
		return append([]string(nil), files...), nil
	case isWildcard(item):
		return resolveWildcard(root, item)
	default:
		return []string{normalizePath(root, item)}, nil
	}
}

func isWildcard(item string) bool {
	return strings.Contains(item, "...") || strings.ContainsAny(item, "*?")
}

func isAnchored(item string) bool {
	if filepath.IsAbs(item) {
		return true
	}
	// Drive-letter absolute path, e.g. "C:/foo" or "C:\foo".
	if len(item) >= 2 && item[1] == ':' {
		return true
	}
	return strings.HasPrefix(item, "/")
}

func normalizePath(root, item string) string {
	if isAnchored(item) {
		return filepath.Clean(item)
	}
	return filepath.Join(root, item)
}

// resolveWildcard expands a Perforce-style wildcard. "*" and "?" match
// within a single path segment, which doublestar already enforces. "..."
// matches any subpath including separators; doublestar only treats "**" as
// recursive when it occupies a whole path component, so "prefix...suffix"
// is translated to "prefix/**/*suffix" (doublestar's documented idiom for
// "prefix/**/b matches prefix/b" extends directly to a filename suffix).
func resolveWildcard(root, item string) ([]string, error) {
	base := root
	pattern := item
	if isAnchored(item) {
		base = "/"
		if len(item) >= 2 && item[1] == ':' {
			base = item[:2] + string(filepath.Separator)
			pattern = item[2:]
		} else {
			pattern = strings.TrimPrefix(item, "/")
		}
	}
	pattern = filepath.ToSlash(pattern)
	pattern = translateEllipsis(pattern)

	matches, err := doublestar.Glob(fsWrap(base), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid wildcard %q: %w", item, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(base, filepath.FromSlash(m)))
	}
	return out, nil
}

// translateEllipsis rewrites the first "..." occurrence in a slash-separated
// pattern into doublestar's "**" recursive form, joining it as its own path
// component regardless of what immediately follows in the source pattern.
func translateEllipsis(pattern string) string {
	idx := strings.Index(pattern, "...")
	if idx < 0 {
		return pattern
	}
	prefix := strings.TrimSuffix(pattern[:idx], "/")
	suffix := pattern[idx+3:]
	suffix = strings.TrimPrefix(suffix, "/")

	var out string
	switch {
	case prefix == "" && suffix == "":
		out = "**"
	case prefix == "":
		out = "**/*" + suffix
	case suffix == "":
		out = prefix + "/**"
	default:
		out = prefix + "/**/*" + suffix
	}
	return out
}
