// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"path"
	"strings"
)

// MatchPattern matches a slash-separated name (a client name or an
// action) against a glob pattern:
//
//   - "maps/router" matches only itself
//   - "maps/*" matches "maps/router" but not "maps/hd/router"
//   - "maps/**" matches "maps/router" and "maps/hd/router"
//   - "**/router" matches "router" and "maps/hd/router"
//   - "maps/**/router" matches "maps/router" and "maps/hd/router"
//   - "**" matches everything
//
// "*" and "?" never cross a "/". Malformed patterns match nothing so a
// typo in a policy can never widen access.
func MatchPattern(pattern, name string) bool {
	if pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, name)
	}

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok && !strings.Contains(prefix, "**") {
		return matchGlob(prefix, name) || matchLeading(prefix, name)
	}
	if suffix, ok := strings.CutPrefix(pattern, "**/"); ok && !strings.Contains(suffix, "**") {
		return matchGlob(suffix, name) || matchTrailing(suffix, name)
	}
	if prefix, suffix, ok := strings.Cut(pattern, "/**/"); ok && !strings.Contains(suffix, "**") {
		if matchGlob(prefix+"/"+suffix, name) {
			return true
		}
		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(name, "/")
		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) &&
			matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/"))
	}

	// More than one "**" is not supported.
	return false
}

// MatchAnyPattern reports whether name matches any pattern. An empty
// pattern list matches nothing.
func MatchAnyPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, name) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

// matchLeading reports whether the first segments of name match
// pattern with at least one segment left over.
func matchLeading(pattern, name string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(name, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// matchTrailing reports whether the last segments of name match
// pattern with at least one segment before them.
func matchTrailing(pattern, name string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(name, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
