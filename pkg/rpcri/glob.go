// Package rpcri implements RI (Resource Identifier) matching: the
// glob-style path and method patterns used by subscriptions and
// access roles alike. The segment-by-segment walk below is grounded
// on pkg/minicli's patternTrie (trie.go) in the teacher repo, which
// matches a command line against a compiled pattern one item at a
// time -- generalized here from minicli's shell-token items to
// '/'-separated path segments, and from a compiled trie to a direct
// recursive walk since an RI is matched one-off rather than compiled
// once and reused across many inputs.
package rpcri

import "strings"

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// pathMatch reports whether path matches the glob pattern, where '*'
// matches exactly one path segment and '**' matches zero or more
// trailing segments (only meaningful as the pattern's last segment;
// an interior '**' is treated the same as matching any run of
// segments up to the point the remaining pattern can still match).
func pathMatch(pattern, path string) bool {
	return matchSegs(splitPath(pattern), splitPath(path))
}

func matchSegs(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	head := pat[0]
	if head == "**" {
		if len(pat) == 1 {
			return true
		}
		// Try consuming 0..len(path) segments with "**" and match the
		// rest of the pattern against what's left.
		for k := 0; k <= len(path); k++ {
			if matchSegs(pat[1:], path[k:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if head != "*" && head != path[0] {
		return false
	}
	return matchSegs(pat[1:], path[1:])
}

// methodMatch reports whether name matches a flat glob pattern, where
// '*' matches any run of characters (including none). Method and
// signal patterns have no hierarchy, so this is ordinary shell-glob
// matching rather than the segment walk above.
func methodMatch(pattern, name string) bool {
	return globMatch(pattern, name)
}

func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern == "*" {
		return true
	}
	return globMatchSegs(strings.Split(pattern, "*"), s, strings.Contains(pattern, "*"))
}

func globMatchSegs(parts []string, s string, hasStar bool) bool {
	if !hasStar {
		return parts[0] == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if parts[i] == "" {
			continue
		}
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	last := parts[len(parts)-1]
	return strings.HasSuffix(s, last) && len(s) >= len(last)
}
