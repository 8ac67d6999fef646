package cpon

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// Decoder parses Cpon text into *shvdata.Value.
type Decoder struct {
	l *lexer
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{l: newLexer(r)}
}

// Unmarshal decodes a single Cpon value from b.
func Unmarshal(b []byte) (*shvdata.Value, error) {
	return NewDecoder(bytes.NewReader(b)).Decode()
}

// Decode reads one value, including an optional leading Meta prefix.
func (d *Decoder) Decode() (*shvdata.Value, error) {
	if err := d.l.skipSpace(); err != nil {
		return nil, err
	}
	r, err := d.l.peek()
	if err != nil {
		return nil, err
	}
	if r == '<' {
		d.l.next()
		meta, err := d.decodeMetaBody()
		if err != nil {
			return nil, err
		}
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		return v.WithMeta(meta), nil
	}
	return d.decodeValue()
}

func (d *Decoder) decodeMetaBody() (*shvdata.Meta, error) {
	m := shvdata.NewMeta()
	for {
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		r, err := d.l.peek()
		if err != nil {
			return nil, err
		}
		if r == '>' {
			d.l.next()
			return m, nil
		}
		if r == '"' {
			key, err := d.decodeQuotedString()
			if err != nil {
				return nil, err
			}
			if err := d.l.skipSpace(); err != nil {
				return nil, err
			}
			val, err := d.Decode()
			if err != nil {
				return nil, err
			}
			m.SetStr(key, val)
			continue
		}
		key, err := d.decodeIntToken()
		if err != nil {
			return nil, err
		}
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		m.SetInt(key, val)
	}
}

func (d *Decoder) decodeIntToken() (int, error) {
	tok, err := d.readNumberToken()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(tok, "u"), 0, 64)
	if err != nil {
		return 0, d.l.errf("bad meta key %q: %v", tok, err)
	}
	return int(n), nil
}

func (d *Decoder) decodeValue() (*shvdata.Value, error) {
	if err := d.l.skipSpace(); err != nil {
		return nil, err
	}
	r, err := d.l.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case r == 'n':
		return d.expectWord("null", shvdata.Null())
	case r == 't':
		return d.expectWord("true", shvdata.Bool(true))
	case r == 'f':
		return d.expectWord("false", shvdata.Bool(false))
	case r == '"':
		s, err := d.decodeQuotedString()
		if err != nil {
			return nil, err
		}
		return shvdata.NewString(s), nil
	case r == 'b':
		return d.decodeBlob(false)
	case r == 'x':
		return d.decodeBlob(true)
	case r == 'd':
		return d.decodeDateTime()
	case r == 'i':
		d.l.next()
		return d.decodeIMap()
	case r == '[':
		return d.decodeList()
	case r == '{':
		return d.decodeMap()
	case r == '-' || (r >= '0' && r <= '9'):
		return d.decodeNumber()
	}
	return nil, d.l.errf("unexpected character %q", r)
}

func (d *Decoder) expectWord(word string, v *shvdata.Value) (*shvdata.Value, error) {
	for _, want := range word {
		got, err := d.l.next()
		if err != nil || got != want {
			return nil, d.l.errf("expected %q", word)
		}
	}
	return v, nil
}

func (d *Decoder) decodeQuotedString() (string, error) {
	if _, err := d.l.next(); err != nil { // opening quote
		return "", err
	}
	var buf bytes.Buffer
	for {
		r, err := d.l.next()
		if err != nil {
			return "", d.l.errf("unterminated string")
		}
		if r == '"' {
			return buf.String(), nil
		}
		if r == '\\' {
			esc, err := d.l.next()
			if err != nil {
				return "", d.l.errf("unterminated escape")
			}
			switch esc {
			case 'n':
				buf.WriteByte('\n')
			case 't':
				buf.WriteByte('\t')
			case 'r':
				buf.WriteByte('\r')
			case '\\', '"':
				buf.WriteRune(esc)
			case 'x':
				hi, _ := d.l.next()
				lo, _ := d.l.next()
				n, err := strconv.ParseUint(string([]rune{hi, lo}), 16, 8)
				if err != nil {
					return "", d.l.errf("bad \\x escape")
				}
				buf.WriteByte(byte(n))
			default:
				buf.WriteRune(esc)
			}
			continue
		}
		buf.WriteRune(r)
	}
}

func (d *Decoder) decodeBlob(hex bool) (*shvdata.Value, error) {
	d.l.next() // 'b' or 'x'
	if hex {
		if _, err := d.l.next(); err != nil { // opening quote
			return nil, err
		}
		var hexDigits bytes.Buffer
		for {
			r, err := d.l.next()
			if err != nil {
				return nil, d.l.errf("unterminated hex blob")
			}
			if r == '"' {
				break
			}
			hexDigits.WriteRune(r)
		}
		raw, err := decodeHexString(hexDigits.String())
		if err != nil {
			return nil, d.l.errf("bad hex blob: %v", err)
		}
		return shvdata.NewBlob(raw), nil
	}
	s, err := d.decodeQuotedString()
	if err != nil {
		return nil, err
	}
	return shvdata.NewBlob([]byte(s)), nil
}

func decodeHexString(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		n, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, err
		}
		out[i] = byte(n)
	}
	return out, nil
}

func (d *Decoder) decodeDateTime() (*shvdata.Value, error) {
	d.l.next() // 'd'
	s, err := d.decodeQuotedString()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse("2006-01-02T15:04:05.000Z07:00", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, d.l.errf("bad date-time %q: %v", s, err)
		}
	}
	return shvdata.NewDateTime(shvdata.FromTime(t)), nil
}

func (d *Decoder) decodeList() (*shvdata.Value, error) {
	d.l.next() // '['
	v := shvdata.NewList()
	for {
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		r, err := d.l.peek()
		if err != nil {
			return nil, err
		}
		if r == ']' {
			d.l.next()
			return v, nil
		}
		item, err := d.Decode()
		if err != nil {
			return nil, err
		}
		v.AppendList(item)
	}
}

func (d *Decoder) decodeMap() (*shvdata.Value, error) {
	d.l.next() // '{'
	v := shvdata.NewMap(nil)
	for {
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		r, err := d.l.peek()
		if err != nil {
			return nil, err
		}
		if r == '}' {
			d.l.next()
			return v, nil
		}
		key, err := d.decodeQuotedString()
		if err != nil {
			return nil, err
		}
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		v.SetMapKey(key, val)
	}
}

func (d *Decoder) decodeIMap() (*shvdata.Value, error) {
	d.l.next() // '{'
	v := shvdata.NewIMap(nil)
	for {
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		r, err := d.l.peek()
		if err != nil {
			return nil, err
		}
		if r == '}' {
			d.l.next()
			return v, nil
		}
		key, err := d.decodeIntToken()
		if err != nil {
			return nil, err
		}
		if err := d.l.skipSpace(); err != nil {
			return nil, err
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		v.SetIMapKey(key, val)
	}
}

// readNumberToken consumes the run of characters that can make up a
// number literal: sign, digits, base prefixes, '.', exponent, 'u'
// suffix. The caller decides how to interpret it.
func (d *Decoder) readNumberToken() (string, error) {
	var buf bytes.Buffer
	r, err := d.l.peek()
	if err != nil {
		return "", err
	}
	if r == '-' {
		buf.WriteRune(r)
		d.l.next()
	}
	for {
		r, err := d.l.peek()
		if err != nil {
			break
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') ||
			r == 'x' || r == 'X' || r == 'b' || r == 'B' || r == '.' || r == 'e' || r == 'E' ||
			r == '+' || r == '-' || r == 'u' {
			buf.WriteRune(r)
			d.l.next()
			continue
		}
		break
	}
	return buf.String(), nil
}

func (d *Decoder) decodeNumber() (*shvdata.Value, error) {
	tok, err := d.readNumberToken()
	if err != nil {
		return nil, err
	}
	return parseNumberLiteral(tok)
}

func parseNumberLiteral(tok string) (*shvdata.Value, error) {
	neg := strings.HasPrefix(tok, "-")
	body := strings.TrimPrefix(tok, "-")

	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") ||
		strings.HasPrefix(body, "0b") || strings.HasPrefix(body, "0B") {
		isU := strings.HasSuffix(body, "u")
		body = strings.TrimSuffix(body, "u")
		n, err := strconv.ParseUint(body, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("cpon: bad integer literal %q: %w", tok, err)
		}
		if isU {
			return shvdata.UInt64(n), nil
		}
		if neg {
			return shvdata.Int64(-int64(n)), nil
		}
		return shvdata.Int64(int64(n)), nil
	}

	hasExp := strings.ContainsAny(body, "eE")
	hasDot := strings.Contains(body, ".")
	isU := strings.HasSuffix(body, "u")
	body = strings.TrimSuffix(body, "u")

	if !hasExp && !hasDot {
		n, err := strconv.ParseUint(body, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cpon: bad integer literal %q: %w", tok, err)
		}
		if isU {
			return shvdata.UInt64(n), nil
		}
		if neg {
			return shvdata.Int64(-int64(n)), nil
		}
		return shvdata.Int64(int64(n)), nil
	}

	// A literal carrying an exponent is a Double; a literal carrying
	// only a decimal point (no exponent) is a Decimal -- this is the
	// textual marker that keeps the two kinds distinguishable, since
	// both would otherwise print as plain "N.NNN".
	if hasExp {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("cpon: bad double literal %q: %w", tok, err)
		}
		if neg {
			f = -f
		}
		return shvdata.Double(f), nil
	}

	mantissa, exponent, err := parseDecimalLiteral(body)
	if err != nil {
		return nil, fmt.Errorf("cpon: bad decimal literal %q: %w", tok, err)
	}
	if neg {
		mantissa = -mantissa
	}
	return shvdata.NewDecimal(mantissa, exponent), nil
}

// parseDecimalLiteral splits a digit string of the form
// intPart[.fracPart][eE[+-]expPart] into a mantissa/exponent pair
// such that mantissa * 10^exponent == the literal's value.
func parseDecimalLiteral(body string) (int64, int, error) {
	mantissaStr := body
	expPart := 0
	if i := strings.IndexAny(body, "eE"); i >= 0 {
		mantissaStr = body[:i]
		e, err := strconv.Atoi(body[i+1:])
		if err != nil {
			return 0, 0, err
		}
		expPart = e
	}

	fracLen := 0
	digits := mantissaStr
	if i := strings.IndexByte(mantissaStr, '.'); i >= 0 {
		digits = mantissaStr[:i] + mantissaStr[i+1:]
		fracLen = len(mantissaStr) - i - 1
	}
	if digits == "" {
		digits = "0"
	}
	mantissa, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return mantissa, expPart - fracLen, nil
}
