package access

import "testing"

func TestLevelOrdering(t *testing.T) {
	if !(Browse < Read && Read < Write && Write < Command && Command < Configure &&
		Configure < Service && Service < SuperService && SuperService < Devel && Devel < Admin) {
		t.Fatalf("access ladder is not strictly ordered")
	}
}

func TestParseLevelBothForms(t *testing.T) {
	for s, want := range byName {
		got, err := ParseLevel(s)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
	got, err := ParseLevel("24")
	if err != nil || got != Command {
		t.Fatalf("ParseLevel(\"24\") = %v, %v; want Command", got, err)
	}
}

func TestFirstMatchingGrantWins(t *testing.T) {
	r, err := NewRole("op", "a/**:rd", "a/b:wr")
	if err != nil {
		t.Fatalf("NewRole: %v", err)
	}
	lvl, ok := r.EffectiveLevel("a/b", "get")
	if !ok || lvl != Read {
		t.Fatalf("expected first matching grant (Read) to win, got %v ok=%v", lvl, ok)
	}
}

func TestAppAndBrokerAlwaysGrantBrowse(t *testing.T) {
	c := NewConfig()
	lvl, ok := c.EffectiveLevel(nil, ".app", "ping")
	if !ok || lvl != Browse {
		t.Fatalf("expected .app to grant at least Browse with no roles, got %v ok=%v", lvl, ok)
	}
}

func TestCurrentClientAlwaysGrantsRead(t *testing.T) {
	c := NewConfig()
	lvl, ok := c.EffectiveLevel(nil, ".broker/currentClient", "info")
	if !ok || lvl != Read {
		t.Fatalf("expected .broker/currentClient to grant at least Read, got %v ok=%v", lvl, ok)
	}
}

func TestNoMatchOutsideFloorPaths(t *testing.T) {
	c := NewConfig()
	if _, ok := c.EffectiveLevel(nil, "some/device", "set"); ok {
		t.Fatalf("expected no access without a matching role or floor path")
	}
}
