package cpon

import (
	"testing"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

func roundTrip(t *testing.T, v *shvdata.Value) *shvdata.Value {
	t.Helper()
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal %q: %v", b, err)
	}
	return out
}

func TestScalarRoundTrip(t *testing.T) {
	cases := []*shvdata.Value{
		shvdata.Null(),
		shvdata.Bool(true),
		shvdata.Bool(false),
		shvdata.Int64(0),
		shvdata.Int64(-63),
		shvdata.Int64(1 << 31),
		shvdata.UInt64(0),
		shvdata.UInt64(1<<53 - 1),
		shvdata.Double(3.25),
		shvdata.NewString("hello \"world\"\n"),
		shvdata.NewBlob([]byte{0, 1, 2, 0xff}),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !shvdata.Equal(v, got) {
			t.Fatalf("round-trip mismatch: %v vs %v", v, got)
		}
	}
}

func TestIntUIntDistinctInCpon(t *testing.T) {
	got := roundTrip(t, shvdata.UInt64(7))
	if shvdata.Equal(got, shvdata.Int64(7)) {
		t.Fatalf("UInt(7) must not equal Int(7) after round-trip")
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	// Cpon is a text format: a Decimal with a non-negative exponent
	// and an integral value canonicalizes to the same digit string as
	// an equivalent mantissa/exponent-0 pair, so exact round-trip is
	// asserted on the represented value rather than the raw pair.
	cases := []shvdata.Decimal{
		{Mantissa: 1234, Exponent: -2},
		{Mantissa: -1234, Exponent: -2},
		{Mantissa: 120, Exponent: 0},
		{Mantissa: 5, Exponent: 3},
	}
	for _, d := range cases {
		got := roundTrip(t, shvdata.NewDecimal(d.Mantissa, d.Exponent))
		if got.Kind != shvdata.KindDecimal {
			t.Fatalf("expected decimal kind for %+v, got %v", d, got.Kind)
		}
		if got.DecimalValue().Float64() != d.Float64() {
			t.Fatalf("decimal value mismatch: want %v got %v", d.Float64(), got.DecimalValue().Float64())
		}
	}
}

func TestHexAndBinaryLiterals(t *testing.T) {
	v, err := Unmarshal([]byte("0x1A"))
	if err != nil {
		t.Fatalf("unmarshal hex: %v", err)
	}
	if v.Int() != 26 {
		t.Fatalf("expected 26, got %d", v.Int())
	}

	v2, err := Unmarshal([]byte("0b101u"))
	if err != nil {
		t.Fatalf("unmarshal binary: %v", err)
	}
	if v2.Kind != shvdata.KindUInt || v2.UInt() != 5 {
		t.Fatalf("expected UInt(5), got %v %d", v2.Kind, v2.UInt())
	}
}

func TestListMapIMapRoundTrip(t *testing.T) {
	l := shvdata.NewList(shvdata.Int64(1), shvdata.NewString("x"), shvdata.Bool(true))
	if got := roundTrip(t, l); !shvdata.Equal(l, got) {
		t.Fatalf("list round-trip mismatch")
	}

	m := shvdata.NewMap(nil)
	m.SetMapKey("a", shvdata.Int64(1))
	m.SetMapKey("b", shvdata.NewString("two"))
	if got := roundTrip(t, m); !shvdata.Equal(m, got) {
		t.Fatalf("map round-trip mismatch")
	}

	im := shvdata.NewIMap(nil)
	im.SetIMapKey(1, shvdata.NewString("method"))
	im.SetIMapKey(-1, shvdata.Int64(42))
	if got := roundTrip(t, im); !shvdata.Equal(im, got) {
		t.Fatalf("imap round-trip mismatch")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	v := shvdata.Int64(42)
	meta := shvdata.NewMeta()
	meta.SetInt(1, shvdata.UInt64(1))
	meta.SetStr("tag", shvdata.NewString("x"))
	v = v.WithMeta(meta)

	got := roundTrip(t, v)
	if got.Meta.IsEmpty() {
		t.Fatalf("expected meta to survive round-trip")
	}
	if !shvdata.Equal(v, got) {
		t.Fatalf("meta-bearing value mismatch")
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	orig := shvdata.NewDateTime(shvdata.DateTime{MsecSinceEpoch: 123456789, OffsetQuarterHours: -4})
	got := roundTrip(t, orig)
	if !got.DateTimeValue().Equal(orig.DateTimeValue()) {
		t.Fatalf("datetime mismatch: %+v vs %+v", got.DateTimeValue(), orig.DateTimeValue())
	}
}

func TestMultilineIndentStillParses(t *testing.T) {
	v := shvdata.NewList(shvdata.Int64(1), shvdata.NewList(shvdata.Int64(2), shvdata.Int64(3)))
	b, err := MarshalIndent(v, "  ")
	if err != nil {
		t.Fatalf("marshal indent: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal indented: %v\n%s", err, b)
	}
	if !shvdata.Equal(v, got) {
		t.Fatalf("indented round-trip mismatch")
	}
}

func TestCommentsAndWhitespaceIgnored(t *testing.T) {
	src := `[1, // one
  2 /* two */, 3]`
	v, err := Unmarshal([]byte(src))
	if err != nil {
		t.Fatalf("unmarshal with comments: %v", err)
	}
	want := shvdata.NewList(shvdata.Int64(1), shvdata.Int64(2), shvdata.Int64(3))
	if !shvdata.Equal(v, want) {
		t.Fatalf("comment-bearing input mismatch: %v", v)
	}
}
