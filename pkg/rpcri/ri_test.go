package rpcri

import "testing"

func TestDoubleStarMatchesEverything(t *testing.T) {
	ri := Parse("**")
	if !ri.MatchesPathMethod("", "foo") {
		t.Fatalf("** should match root")
	}
	if !ri.MatchesPathMethod("a/b/c", "foo") {
		t.Fatalf("** should match any depth")
	}
}

func TestTrailingDoubleStarMatchesPrefixAndBelow(t *testing.T) {
	ri := Parse("a/**")
	if !ri.MatchesPathMethod("a", "m") {
		t.Fatalf("a/** should match a itself")
	}
	if !ri.MatchesPathMethod("a/b/c", "m") {
		t.Fatalf("a/** should match a/b/c")
	}
	if ri.MatchesPathMethod("b", "m") {
		t.Fatalf("a/** should not match b")
	}
}

func TestSingleStarMatchesOneSegment(t *testing.T) {
	if !PathMatch("*/b", "a/b") {
		t.Fatalf("*/b should match a/b")
	}
	if PathMatch("*/b", "a/b/c") {
		t.Fatalf("*/b should not match a/b/c")
	}
}

func TestSignalForwardingExample(t *testing.T) {
	ri := Parse("a/**:get:*chng")
	if !ri.MatchesSignal("a/b/c", "get", "chng") {
		t.Fatalf("expected match for a/b/c get chng")
	}
	if ri.MatchesSignal("a/b/c", "set", "chng") {
		t.Fatalf("source mismatch should not match")
	}
}

func TestRelativeToNullWhenNoExtensionCanMatch(t *testing.T) {
	ri := Parse("x/y")
	if _, ok := RelativeTo(ri, "z"); ok {
		t.Fatalf("expected no relative RI under an incompatible prefix")
	}
}

func TestRelativeToAbsorbsDoubleStar(t *testing.T) {
	ri := Parse("a/**")
	rel, ok := RelativeTo(ri, "a/b")
	if !ok || rel.Path != "**" {
		t.Fatalf("expected relative path '**', got %+v ok=%v", rel, ok)
	}
}

func TestRelativeToStripsLiteralPrefix(t *testing.T) {
	ri := Parse("a/b/c")
	rel, ok := RelativeTo(ri, "a/b")
	if !ok || rel.Path != "c" {
		t.Fatalf("expected relative path 'c', got %+v ok=%v", rel, ok)
	}
}

func TestParseDoubleColonDefaultsMethodToGet(t *testing.T) {
	ri := Parse("a/b::chng")
	if ri.Method != "get" || ri.Signal != "chng" {
		t.Fatalf("expected method=get signal=chng, got %+v", ri)
	}
}

func TestParseSingleColonStillDefaultsMethodToStar(t *testing.T) {
	ri := Parse("a/b:")
	if ri.Method != "*" || ri.Signal != "*" {
		t.Fatalf("expected method=* signal=*, got %+v", ri)
	}
}

func TestRelativeToNullOnExactMatchWithoutDoubleStar(t *testing.T) {
	ri := Parse("test/some:*")
	if _, ok := RelativeTo(ri, "test/some"); ok {
		t.Fatalf("exact prefix match without a trailing ** can't match anything below itself")
	}
}

func TestRelativeToDoubleStarNotInFinalPosition(t *testing.T) {
	ri := Parse("**/some/*:*")
	rel, ok := RelativeTo(ri, "test/it")
	if !ok || rel.Path != "**/some/*" {
		t.Fatalf("expected the pattern preserved unchanged, got %+v ok=%v", rel, ok)
	}
}

func TestPathIsSubpath(t *testing.T) {
	if !PathIsSubpath("a/b/c", "a/b") {
		t.Fatalf("a/b/c should be under a/b")
	}
	if PathIsSubpath("ab/c", "a") {
		t.Fatalf("ab should not be under a (segment-wise, not string-prefix)")
	}
}
