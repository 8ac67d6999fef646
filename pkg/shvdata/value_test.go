package shvdata

import "testing"

func TestIntUIntDistinct(t *testing.T) {
	i := Int64(7)
	u := UInt64(7)

	if Equal(i, u) {
		t.Fatalf("Int(7) must not equal UInt(7)")
	}
	if !Equal(Int64(7), Int64(7)) {
		t.Fatalf("Int(7) must equal Int(7)")
	}
}

func TestMetaParticipatesInEquality(t *testing.T) {
	a := Int64(1)
	b := Int64(1)

	if !Equal(a, b) {
		t.Fatalf("values without meta should be equal")
	}

	m := NewMeta()
	m.SetInt(1, NewString("tag"))
	a.Meta = m

	if Equal(a, b) {
		t.Fatalf("value with meta should not equal value without meta")
	}

	m2 := NewMeta()
	m2.SetInt(1, NewString("tag"))
	b.Meta = m2

	if !Equal(a, b) {
		t.Fatalf("values with equal meta should be equal")
	}
}

func TestNullAndBoolCarryMeta(t *testing.T) {
	n := Null()
	n.Meta = NewMeta()
	n.Meta.SetStr("x", Bool(true))

	if n.Meta.IsEmpty() {
		t.Fatalf("expected non-empty meta on null")
	}

	b := Bool(false)
	b.Meta = NewMeta()
	b.Meta.SetInt(1, Int64(3))
	if v, ok := b.Meta.GetInt(1); !ok || v.Int() != 3 {
		t.Fatalf("bool value should carry meta")
	}
}

func TestDecimalRoundtripsMantissaExponent(t *testing.T) {
	d := NewDecimal(1234, -2)
	if !Equal(d, NewDecimal(1234, -2)) {
		t.Fatalf("decimal equality should be mantissa/exponent based")
	}
	if Equal(d, NewDecimal(1234, -3)) {
		t.Fatalf("different exponents must not be equal even if float value close")
	}
}

func TestMapInsertionOrderPreserved(t *testing.T) {
	v := &Value{Kind: KindMap}
	v.SetMapKey("b", Int64(2))
	v.SetMapKey("a", Int64(1))
	v.SetMapKey("c", Int64(3))

	keys := v.MapKeys()
	want := []string{"b", "a", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, keys)
		}
	}
}

func TestListEquality(t *testing.T) {
	a := NewList(Int64(1), NewString("x"), NewList(Bool(true)))
	b := NewList(Int64(1), NewString("x"), NewList(Bool(true)))
	c := NewList(Int64(1), NewString("x"), NewList(Bool(false)))

	if !Equal(a, b) {
		t.Fatalf("expected equal nested lists")
	}
	if Equal(a, c) {
		t.Fatalf("expected unequal nested lists")
	}
}
