package cpon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// Encoder writes shvdata.Value trees as Cpon text.
type Encoder struct {
	indent string
}

// Marshal renders v as single-line Cpon.
func Marshal(v *shvdata.Value) ([]byte, error) {
	return MarshalIndent(v, "")
}

// MarshalIndent renders v as Cpon, using indent as the per-level
// indentation string (empty means always single-line).
func MarshalIndent(v *shvdata.Value, indent string) ([]byte, error) {
	var sb strings.Builder
	e := &Encoder{indent: indent}
	e.encode(&sb, v, 0)
	return []byte(sb.String()), nil
}

func isContainer(v *shvdata.Value) bool {
	switch v.Kind {
	case shvdata.KindList, shvdata.KindMap, shvdata.KindIMap:
		return true
	}
	return false
}

// fitsOneLine implements the ≤10-elements-none-a-container rule.
func (e *Encoder) fitsOneLine(v *shvdata.Value) bool {
	if e.indent == "" {
		return true
	}
	var n int
	switch v.Kind {
	case shvdata.KindList:
		n = len(v.List())
		for _, item := range v.List() {
			if isContainer(item) {
				return false
			}
		}
	case shvdata.KindMap:
		n = len(v.MapKeys())
		for _, k := range v.MapKeys() {
			if isContainer(v.Map()[k]) {
				return false
			}
		}
	case shvdata.KindIMap:
		n = len(v.IMapKeys())
		for _, k := range v.IMapKeys() {
			if isContainer(v.IMap()[k]) {
				return false
			}
		}
	}
	return n <= 10
}

func (e *Encoder) encode(sb *strings.Builder, v *shvdata.Value, depth int) {
	if v.Meta != nil && !v.Meta.IsEmpty() {
		sb.WriteByte('<')
		e.encodeMetaBody(sb, v.Meta, depth)
		sb.WriteByte('>')
	}
	e.encodeBare(sb, v, depth)
}

func (e *Encoder) encodeMetaBody(sb *strings.Builder, m *shvdata.Meta, depth int) {
	first := true
	for _, k := range m.IntKeys() {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(strconv.Itoa(k))
		sb.WriteByte(':')
		val, _ := m.GetInt(k)
		e.encode(sb, val, depth)
	}
	for _, k := range m.StrKeys() {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		writeQuotedString(sb, k)
		sb.WriteByte(':')
		val, _ := m.GetStr(k)
		e.encode(sb, val, depth)
	}
}

func (e *Encoder) encodeBare(sb *strings.Builder, v *shvdata.Value, depth int) {
	switch v.Kind {
	case shvdata.KindNull:
		sb.WriteString("null")
	case shvdata.KindBool:
		if v.Bool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case shvdata.KindInt:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))
	case shvdata.KindUInt:
		sb.WriteString(strconv.FormatUint(v.UInt(), 10))
		sb.WriteByte('u')
	case shvdata.KindDouble:
		// Always include an exponent, even if 0, so the literal can't
		// be confused with a Decimal on re-parse (both would
		// otherwise print as plain "N.NNN").
		sb.WriteString(strconv.FormatFloat(v.Double(), 'e', -1, 64))
	case shvdata.KindDecimal:
		sb.WriteString(formatDecimal(v.DecimalValue()))
	case shvdata.KindBlob:
		sb.WriteString(`x"`)
		for _, b := range v.Blob() {
			fmt.Fprintf(sb, "%02x", b)
		}
		sb.WriteByte('"')
	case shvdata.KindString:
		writeQuotedString(sb, v.String2())
	case shvdata.KindDateTime:
		sb.WriteString(`d"`)
		sb.WriteString(v.DateTimeValue().String())
		sb.WriteByte('"')
	case shvdata.KindList:
		e.encodeList(sb, v, depth)
	case shvdata.KindMap:
		e.encodeMap(sb, v, depth)
	case shvdata.KindIMap:
		e.encodeIMap(sb, v, depth)
	}
}

func (e *Encoder) newline(sb *strings.Builder, depth int) {
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat(e.indent, depth))
}

func (e *Encoder) encodeList(sb *strings.Builder, v *shvdata.Value, depth int) {
	sb.WriteByte('[')
	oneLine := e.fitsOneLine(v)
	items := v.List()
	for i, item := range items {
		if i > 0 {
			sb.WriteByte(',')
			if oneLine {
				sb.WriteByte(' ')
			}
		}
		if !oneLine {
			e.newline(sb, depth+1)
		}
		e.encode(sb, item, depth+1)
	}
	if !oneLine && len(items) > 0 {
		e.newline(sb, depth)
	}
	sb.WriteByte(']')
}

func (e *Encoder) encodeMap(sb *strings.Builder, v *shvdata.Value, depth int) {
	sb.WriteByte('{')
	oneLine := e.fitsOneLine(v)
	keys := v.MapKeys()
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
			if oneLine {
				sb.WriteByte(' ')
			}
		}
		if !oneLine {
			e.newline(sb, depth+1)
		}
		writeQuotedString(sb, k)
		sb.WriteByte(':')
		e.encode(sb, v.Map()[k], depth+1)
	}
	if !oneLine && len(keys) > 0 {
		e.newline(sb, depth)
	}
	sb.WriteByte('}')
}

func (e *Encoder) encodeIMap(sb *strings.Builder, v *shvdata.Value, depth int) {
	sb.WriteString("i{")
	oneLine := e.fitsOneLine(v)
	keys := v.IMapKeys()
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
			if oneLine {
				sb.WriteByte(' ')
			}
		}
		if !oneLine {
			e.newline(sb, depth+1)
		}
		sb.WriteString(strconv.Itoa(k))
		sb.WriteByte(':')
		e.encode(sb, v.IMap()[k], depth+1)
	}
	if !oneLine && len(keys) > 0 {
		e.newline(sb, depth)
	}
	sb.WriteByte('}')
}

func writeQuotedString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

// formatDecimal renders mantissa*10^exponent with an explicit decimal
// point, per Cpon's rule that any literal with a '.' parses back as
// Decimal rather than Int -- so the point is always present, even for
// an integral value (rendered with a trailing dot).
func formatDecimal(d shvdata.Decimal) string {
	neg := d.Mantissa < 0
	mag := d.Mantissa
	if neg {
		mag = -mag
	}
	digits := strconv.FormatUint(uint64(mag), 10)

	sign := ""
	if neg {
		sign = "-"
	}

	if d.Exponent >= 0 {
		return sign + digits + strings.Repeat("0", d.Exponent) + "."
	}

	frac := -d.Exponent
	if len(digits) <= frac {
		digits = strings.Repeat("0", frac-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-frac]
	fracPart := digits[len(digits)-frac:]
	return sign + intPart + "." + fracPart
}
