// Package shvdata implements the Silicon Heaven value model: a tagged
// union of scalar, container, and temporal values, each optionally
// carrying a Meta annotation map. Both the ChainPack and Cpon codecs
// (pkg/chainpack, pkg/cpon) produce and consume *Value.
package shvdata

import (
	"fmt"
	"math/big"
)

// Kind identifies which variant of the Value union is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUInt
	KindDouble
	KindDecimal
	KindBlob
	KindString
	KindDateTime
	KindList
	KindMap
	KindIMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindUInt:
		return "UInt"
	case KindDouble:
		return "Double"
	case KindDecimal:
		return "Decimal"
	case KindBlob:
		return "Blob"
	case KindString:
		return "String"
	case KindDateTime:
		return "DateTime"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindIMap:
		return "IMap"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Decimal is a base-10 fixed-point number: mantissa * 10^exponent.
type Decimal struct {
	Mantissa int64
	Exponent int
}

// Value is a tagged union over every SHV wire value. Only the field(s)
// matching Kind are meaningful. A *Value is used everywhere (rather
// than passing Value by value) so that Meta -- which every variant,
// including Null and Bool, may carry per spec -- can be attached
// without every call site paying for it.
type Value struct {
	Kind Kind
	Meta *Meta

	boolVal     bool
	intVal      int64
	uintVal     uint64
	doubleVal   float64
	decimalVal  Decimal
	blobVal     []byte
	stringVal   string
	dateTimeVal DateTime
	listVal     []*Value
	mapVal      map[string]*Value
	imapVal     map[int]*Value

	// mapKeyOrder/imapKeyOrder record insertion order for stable
	// re-encoding; spec.md notes order is not semantically significant
	// but round-tripping the same bytes twice should produce the same
	// bytes, which callers (and tests) rely on.
	mapKeyOrder  []string
	imapKeyOrder []int
}

// Null returns a new Null value without Meta; attach one with WithMeta.
func Null() *Value { return &Value{Kind: KindNull} }

func Bool(b bool) *Value { return &Value{Kind: KindBool, boolVal: b} }

func Int64(n int64) *Value { return &Value{Kind: KindInt, intVal: n} }

func UInt64(n uint64) *Value { return &Value{Kind: KindUInt, uintVal: n} }

func Double(f float64) *Value { return &Value{Kind: KindDouble, doubleVal: f} }

func NewDecimal(mantissa int64, exponent int) *Value {
	return &Value{Kind: KindDecimal, decimalVal: Decimal{mantissa, exponent}}
}

func NewBlob(b []byte) *Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Value{Kind: KindBlob, blobVal: cp}
}

func NewString(s string) *Value { return &Value{Kind: KindString, stringVal: s} }

func NewDateTime(dt DateTime) *Value { return &Value{Kind: KindDateTime, dateTimeVal: dt} }

func NewList(vs ...*Value) *Value {
	l := make([]*Value, len(vs))
	copy(l, vs)
	return &Value{Kind: KindList, listVal: l}
}

func NewMap(m map[string]*Value) *Value {
	v := &Value{Kind: KindMap, mapVal: make(map[string]*Value, len(m))}
	for k, val := range m {
		v.SetMapKey(k, val)
	}
	return v
}

func NewIMap(m map[int]*Value) *Value {
	v := &Value{Kind: KindIMap, imapVal: make(map[int]*Value, len(m))}
	for k, val := range m {
		v.SetIMapKey(k, val)
	}
	return v
}

func (v *Value) IsNull() bool { return v == nil || v.Kind == KindNull }

func (v *Value) Bool() bool { return v.boolVal }

func (v *Value) Int() int64 { return v.intVal }

func (v *Value) UInt() uint64 { return v.uintVal }

func (v *Value) Double() float64 { return v.doubleVal }

func (v *Value) DecimalValue() Decimal { return v.decimalVal }

// Float64 renders the Decimal as a float64, for display/diagnostics only
// -- wire round-trip goes through Mantissa/Exponent so precision is
// never lost.
func (d Decimal) Float64() float64 {
	r := new(big.Float).SetInt64(d.Mantissa)
	scale := new(big.Float).SetFloat64(pow10(d.Exponent))
	r.Mul(r, scale)
	f, _ := r.Float64()
	return f
}

func pow10(exp int) float64 {
	f := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			f *= 10
		}
		return f
	}
	for i := 0; i < -exp; i++ {
		f /= 10
	}
	return f
}

func (v *Value) Blob() []byte { return v.blobVal }

func (v *Value) String2() string { return v.stringVal }

func (v *Value) DateTimeValue() DateTime { return v.dateTimeVal }

func (v *Value) List() []*Value { return v.listVal }

func (v *Value) AppendList(item *Value) {
	v.listVal = append(v.listVal, item)
}

// Map returns the Map's entries as a Go map, which has no order;
// MapKeys gives the keys in insertion order.
func (v *Value) Map() map[string]*Value { return v.mapVal }

func (v *Value) MapKeys() []string {
	out := make([]string, len(v.mapKeyOrder))
	copy(out, v.mapKeyOrder)
	return out
}

func (v *Value) SetMapKey(k string, val *Value) {
	if v.mapVal == nil {
		v.mapVal = make(map[string]*Value)
	}
	if _, exists := v.mapVal[k]; !exists {
		v.mapKeyOrder = append(v.mapKeyOrder, k)
	}
	v.mapVal[k] = val
}

func (v *Value) IMap() map[int]*Value { return v.imapVal }

func (v *Value) IMapKeys() []int {
	out := make([]int, len(v.imapKeyOrder))
	copy(out, v.imapKeyOrder)
	return out
}

func (v *Value) SetIMapKey(k int, val *Value) {
	if v.imapVal == nil {
		v.imapVal = make(map[int]*Value)
	}
	if _, exists := v.imapVal[k]; !exists {
		v.imapKeyOrder = append(v.imapKeyOrder, k)
	}
	v.imapVal[k] = val
}

// WithMeta attaches m to v and returns v, for fluent construction at
// call sites like:
//
//	shvdata.Int64(7).WithMeta(shvdata.NewMeta())
func (v *Value) WithMeta(m *Meta) *Value {
	v.Meta = m
	return v
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.boolVal)
	case KindInt:
		return fmt.Sprintf("%d", v.intVal)
	case KindUInt:
		return fmt.Sprintf("%du", v.uintVal)
	case KindDouble:
		return fmt.Sprintf("%g", v.doubleVal)
	case KindDecimal:
		return fmt.Sprintf("%dd%d", v.decimalVal.Mantissa, v.decimalVal.Exponent)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.blobVal))
	case KindString:
		return fmt.Sprintf("%q", v.stringVal)
	case KindDateTime:
		return v.dateTimeVal.String()
	case KindList:
		return fmt.Sprintf("list(%d items)", len(v.listVal))
	case KindMap:
		return fmt.Sprintf("map(%d keys)", len(v.mapVal))
	case KindIMap:
		return fmt.Sprintf("imap(%d keys)", len(v.imapVal))
	default:
		return "?"
	}
}
