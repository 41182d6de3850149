package drive

import (
	"path"
	"strings"
)

// blockedPattern is a parsed block-list pattern with its matching strategy.
type blockedPattern struct {
	pattern   string
	matchPath bool // true = match against the path inside the upload; false = basename only
}

// NameFilter rejects file names that match a block-list of glob patterns,
// ignoring case. Patterns without '/' match the basename only; patterns
// with '/' match the slash-separated path of a folder upload.
type NameFilter struct {
	patterns []blockedPattern
}

// NewNameFilter creates a NameFilter from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewNameFilter(rawPatterns []string) *NameFilter {
	var patterns []blockedPattern
	for _, raw := range rawPatterns {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if _, err := path.Match(raw, ""); err != nil {
			continue
		}
		patterns = append(patterns, blockedPattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &NameFilter{patterns: patterns}
}

// Blocked reports whether the file at p (a name or a relative path) is
// refused.
func (f *NameFilter) Blocked(p string) bool {
	if f == nil || len(f.patterns) == 0 || p == "" {
		return false
	}

	normalized := strings.ToLower(strings.Trim(normalizeSlashes(p), "/"))
	basename := path.Base(normalized)

	for _, bp := range f.patterns {
		target := basename
		if bp.matchPath {
			target = normalized
		}
		if ok, _ := path.Match(bp.pattern, target); ok {
			return true
		}
	}
	return false
}
