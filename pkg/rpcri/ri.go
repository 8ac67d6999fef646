package rpcri

import (
	"fmt"
	"strings"
)

// RI is a subscription/role pattern: a path glob, a method glob, and
// a signal-name glob, written on the wire as "path:method:signal"
// with trailing parts defaulting to "*" when omitted (so a bare path
// like "a/**" means "any method, any signal under a").
type RI struct {
	Path   string
	Method string
	Signal string
}

// Parse splits a wire RI string into its three components. A bare
// "PATH:" (one colon, no signal part) leaves method defaulted to "*";
// "PATH::SIGNAL" (the double-colon form, a signal but no method)
// defaults method to "get" instead, per spec.md §4.4.
func Parse(s string) RI {
	parts := strings.SplitN(s, ":", 3)
	ri := RI{Path: parts[0], Method: "*", Signal: "*"}
	if len(parts) > 1 && parts[1] != "" {
		ri.Method = parts[1]
	} else if len(parts) > 2 {
		ri.Method = "get"
	}
	if len(parts) > 2 && parts[2] != "" {
		ri.Signal = parts[2]
	}
	return ri
}

// String renders ri back to its wire form, omitting trailing parts
// that are just the "match anything" default.
func (ri RI) String() string {
	if ri.Signal == "*" || ri.Signal == "" {
		if ri.Method == "*" || ri.Method == "" {
			return ri.Path
		}
		return fmt.Sprintf("%s:%s", ri.Path, ri.Method)
	}
	return fmt.Sprintf("%s:%s:%s", ri.Path, ri.Method, ri.Signal)
}

// MatchesPathMethod reports whether ri matches a (path, method) pair
// -- the form used for request/role access checks, which don't carry
// a signal name.
func (ri RI) MatchesPathMethod(path, method string) bool {
	return pathMatch(ri.Path, path) && methodMatch(ri.Method, method)
}

// MatchesSignal reports whether ri matches a (path, source, signal)
// triple -- the form used for subscription/signal-delivery matching,
// where "source" is the method the signal accompanies.
func (ri RI) MatchesSignal(path, source, signal string) bool {
	return pathMatch(ri.Path, path) && methodMatch(ri.Method, source) && methodMatch(ri.Signal, signal)
}

// PathMatch matches a bare path pattern/path pair, for callers that
// only care about the path component (e.g. tests exercising §8's
// path_match property directly).
func PathMatch(pattern, path string) bool {
	return pathMatch(pattern, path)
}

// PathIsSubpath reports whether path lies at or under prefix in the
// path tree (segment-wise, not a plain string prefix -- "ab" is not
// under "a").
func PathIsSubpath(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	pSegs := splitPath(prefix)
	cSegs := splitPath(path)
	if len(cSegs) < len(pSegs) {
		return false
	}
	for i, seg := range pSegs {
		if cSegs[i] != seg {
			return false
		}
	}
	return true
}

// RelativeTo computes the RI that applies below the path prefix, for
// forwarding a subscription across a mount boundary: the second
// return value is false iff no extension of prefix could ever match
// ri (in which case the subscription has nothing to forward there).
func RelativeTo(ri RI, prefix string) (RI, bool) {
	relPath, ok := relativePath(ri.Path, prefix)
	if !ok {
		return RI{}, false
	}
	return RI{Path: relPath, Method: ri.Method, Signal: ri.Signal}, true
}

// relativePath walks prefix one segment at a time against pattern,
// the way the original's __match does: a "**" segment only advances
// past itself once the *next* pattern segment matches the current
// prefix segment (i.e. "**" is tried as matching zero segments
// first); otherwise "**" consumes the current prefix segment and
// stays in place, ready to consume more. Short-circuiting on first
// sight of "**" (returning "**" outright) would discard any pattern
// tail that still has to match further down the path.
func relativePath(pattern, prefix string) (string, bool) {
	patSegs := splitPath(pattern)
	preSegs := splitPath(prefix)

	i := 0
	for _, seg := range preSegs {
		if i >= len(patSegs) {
			return "", false
		}
		p := patSegs[i]
		if p == "**" {
			if i+1 < len(patSegs) && (patSegs[i+1] == "*" || patSegs[i+1] == seg) {
				i += 2
			}
			continue
		}
		if p == "*" || p == seg {
			i++
			continue
		}
		return "", false
	}
	// Pattern fully consumed exactly at the end of prefix: nothing
	// strictly below prefix can still match, per §8's "relative_to(RI,
	// P) is Null iff no extension of P under P can match RI".
	if i >= len(patSegs) {
		return "", false
	}
	return strings.Join(patSegs[i:], "/"), true
}
