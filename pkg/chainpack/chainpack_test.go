package chainpack

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
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestIntBoundaries(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -63, 127, 128, 1<<31 - 1, 1 << 31, 1<<32 - 1, 1<<53 - 1, -(1<<53 - 1)}
	for _, n := range cases {
		got := roundTrip(t, shvdata.Int64(n))
		if got.Int() != n {
			t.Fatalf("Int64(%d) round-tripped as %d", n, got.Int())
		}
		if got.Kind != shvdata.KindInt {
			t.Fatalf("Int64(%d) round-tripped as kind %v", n, got.Kind)
		}
	}
}

func TestUIntBoundaries(t *testing.T) {
	cases := []uint64{0, 1, 63, 127, 128, 1<<32 - 1, 1<<53 - 1}
	for _, n := range cases {
		got := roundTrip(t, shvdata.UInt64(n))
		if got.UInt() != n {
			t.Fatalf("UInt64(%d) round-tripped as %d", n, got.UInt())
		}
		if got.Kind != shvdata.KindUInt {
			t.Fatalf("UInt64(%d) round-tripped as kind %v", n, got.Kind)
		}
	}
}

func TestIntUIntNotInterchangeable(t *testing.T) {
	got := roundTrip(t, shvdata.UInt64(7))
	if shvdata.Equal(got, shvdata.Int64(7)) {
		t.Fatalf("round-tripped UInt(7) must not equal Int(7)")
	}
}

func TestBoolNullDouble(t *testing.T) {
	if !roundTrip(t, shvdata.Bool(true)).Bool() {
		t.Fatalf("expected true")
	}
	if roundTrip(t, shvdata.Bool(false)).Bool() {
		t.Fatalf("expected false")
	}
	if !roundTrip(t, shvdata.Null()).IsNull() {
		t.Fatalf("expected null")
	}
	got := roundTrip(t, shvdata.Double(3.5))
	if got.Double() != 3.5 {
		t.Fatalf("expected 3.5, got %v", got.Double())
	}
}

func TestStringAndBlob(t *testing.T) {
	s := roundTrip(t, shvdata.NewString("hello, šv"))
	if s.String2() != "hello, šv" {
		t.Fatalf("string mismatch: %q", s.String2())
	}
	b := roundTrip(t, shvdata.NewBlob([]byte{0, 1, 2, 0xff}))
	if string(b.Blob()) != string([]byte{0, 1, 2, 0xff}) {
		t.Fatalf("blob mismatch: %v", b.Blob())
	}
}

func TestDecimal(t *testing.T) {
	d := roundTrip(t, shvdata.NewDecimal(-1234, -2))
	if d.DecimalValue().Mantissa != -1234 || d.DecimalValue().Exponent != -2 {
		t.Fatalf("decimal mismatch: %+v", d.DecimalValue())
	}
}

func TestListMapIMap(t *testing.T) {
	orig := shvdata.NewList(shvdata.Int64(1), shvdata.NewString("x"), shvdata.Bool(true))
	got := roundTrip(t, orig)
	if !shvdata.Equal(orig, got) {
		t.Fatalf("list round-trip mismatch")
	}

	m := shvdata.NewMap(nil)
	m.SetMapKey("a", shvdata.Int64(1))
	m.SetMapKey("b", shvdata.NewString("two"))
	gotM := roundTrip(t, m)
	if !shvdata.Equal(m, gotM) {
		t.Fatalf("map round-trip mismatch")
	}

	im := shvdata.NewIMap(nil)
	im.SetIMapKey(1, shvdata.NewString("method"))
	im.SetIMapKey(-1, shvdata.Int64(42))
	gotI := roundTrip(t, im)
	if !shvdata.Equal(im, gotI) {
		t.Fatalf("imap round-trip mismatch")
	}
}

func TestMetaRoundTrips(t *testing.T) {
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
		t.Fatalf("meta-bearing value round-trip mismatch")
	}
}

func TestDateTime(t *testing.T) {
	orig := shvdata.NewDateTime(shvdata.DateTime{MsecSinceEpoch: 123456789, OffsetQuarterHours: -4})
	got := roundTrip(t, orig)
	if !got.DateTimeValue().Equal(orig.DateTimeValue()) {
		t.Fatalf("datetime mismatch: %+v vs %+v", got.DateTimeValue(), orig.DateTimeValue())
	}

	neg := shvdata.NewDateTime(shvdata.DateTime{MsecSinceEpoch: -987654321, OffsetQuarterHours: 63})
	gotNeg := roundTrip(t, neg)
	if !gotNeg.DateTimeValue().Equal(neg.DateTimeValue()) {
		t.Fatalf("negative datetime mismatch: %+v vs %+v", gotNeg.DateTimeValue(), neg.DateTimeValue())
	}
}

func TestNestedContainers(t *testing.T) {
	inner := shvdata.NewMap(nil)
	inner.SetMapKey("n", shvdata.Int64(-5))
	outer := shvdata.NewList(inner, shvdata.NewList(shvdata.Bool(false), shvdata.Null()))

	got := roundTrip(t, outer)
	if !shvdata.Equal(outer, got) {
		t.Fatalf("nested container round-trip mismatch")
	}
}
