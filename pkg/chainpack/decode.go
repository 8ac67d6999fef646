package chainpack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// ParseError reports a malformed ChainPack stream, pairing a byte
// offset with a human-readable message the way the teacher's lexers
// report position alongside a message.
type ParseError struct {
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("chainpack: offset %d: %s", e.Offset, e.Msg)
}

// Decoder reads ChainPack-encoded values from an underlying reader.
type Decoder struct {
	r      *bufio.Reader
	offset int64
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Unmarshal decodes a single value from b.
func Unmarshal(b []byte) (*shvdata.Value, error) {
	dec := NewDecoder(bytes.NewReader(b))
	return dec.Decode()
}

// Decode reads one value, including any leading meta map. Input that
// ends before the value's first byte is io.EOF; every other failure,
// truncated input included, is a *ParseError.
func (d *Decoder) Decode() (*shvdata.Value, error) {
	start := d.offset
	v, err := d.decodeValue()
	if err == nil {
		return v, nil
	}
	if _, ok := err.(*ParseError); ok || (err == io.EOF && d.offset == start) {
		return nil, err
	}
	return nil, &ParseError{Offset: d.offset, Msg: err.Error()}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	d.offset++
	return b, nil
}

func (d *Decoder) peekByte() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) errf(format string, args ...interface{}) error {
	return &ParseError{Offset: d.offset, Msg: fmt.Sprintf(format, args...)}
}

func (d *Decoder) decodeValue() (*shvdata.Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if tag == TagMetaMap {
		meta, err := d.decodeMeta()
		if err != nil {
			return nil, err
		}
		v, err := d.decodeBare()
		if err != nil {
			return nil, err
		}
		return v.WithMeta(meta), nil
	}
	return d.decodeBareTag(tag)
}

func (d *Decoder) decodeMeta() (*shvdata.Meta, error) {
	m := shvdata.NewMeta()
	for {
		tag, err := d.peekByte()
		if err != nil {
			return nil, err
		}
		if tag == TagTerm {
			d.readByte()
			return m, nil
		}
		if tag == TagString {
			d.readByte()
			key, err := d.decodeStringBody()
			if err != nil {
				return nil, err
			}
			val, err := d.decodeValue()
			if err != nil {
				return nil, err
			}
			m.SetStr(key, val)
			continue
		}
		key, err := d.decodeIntKey()
		if err != nil {
			return nil, err
		}
		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		m.SetInt(key, val)
	}
}

// decodeIntKey reads a bare int-like key (tiny UInt, TagUInt or
// TagInt), used for meta-map and IMap keys.
func (d *Decoder) decodeIntKey() (int, error) {
	tag, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case tag < 128:
		return int(tag), nil
	case tag == TagUInt:
		n, err := readUVarUint(d.r)
		if err != nil {
			return 0, err
		}
		return int(n), nil
	case tag == TagInt:
		mag, neg, err := readUVarSignedMag(d.r)
		if err != nil {
			return 0, err
		}
		if neg {
			return -int(mag), nil
		}
		return int(mag), nil
	}
	return 0, d.errf("expected int-like key, got tag 0x%02x", tag)
}

func (d *Decoder) decodeBare() (*shvdata.Value, error) {
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	return d.decodeBareTag(tag)
}

func (d *Decoder) decodeBareTag(tag byte) (*shvdata.Value, error) {
	switch {
	case tag < 128:
		return shvdata.UInt64(uint64(tag)), nil
	case tag == TagNull:
		return shvdata.Null(), nil
	case tag == TagTrue:
		return shvdata.Bool(true), nil
	case tag == TagFalse:
		return shvdata.Bool(false), nil
	case tag == TagUInt:
		n, err := readUVarUint(d.r)
		if err != nil {
			return nil, err
		}
		return shvdata.UInt64(n), nil
	case tag == TagInt:
		mag, neg, err := readUVarSignedMag(d.r)
		if err != nil {
			return nil, err
		}
		if neg {
			return shvdata.Int64(-int64(mag)), nil
		}
		return shvdata.Int64(int64(mag)), nil
	case tag == TagDouble:
		var buf [8]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		return shvdata.Double(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case tag == TagDecimal:
		return d.decodeDecimal()
	case tag == TagBlob:
		n, err := readUVarUint(d.r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}
		return shvdata.NewBlob(buf), nil
	case tag == TagString:
		s, err := d.decodeStringBody()
		if err != nil {
			return nil, err
		}
		return shvdata.NewString(s), nil
	case tag == TagDateTime:
		return d.decodeDateTime()
	case tag == TagList:
		return d.decodeList()
	case tag == TagMap:
		return d.decodeMap()
	case tag == TagIMap:
		return d.decodeIMap()
	}
	return nil, d.errf("unknown tag 0x%02x", tag)
}

func (d *Decoder) decodeStringBody() (string, error) {
	n, err := readUVarUint(d.r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *Decoder) decodeSignedSmall() (int, error) {
	mag, neg, err := readUVarSignedMag(d.r)
	if err != nil {
		return 0, err
	}
	if neg {
		return -int(mag), nil
	}
	return int(mag), nil
}

func (d *Decoder) decodeDecimal() (*shvdata.Value, error) {
	mag, neg, err := readUVarSignedMag(d.r)
	if err != nil {
		return nil, err
	}
	mantissa := int64(mag)
	if neg {
		mantissa = -mantissa
	}
	exp, err := d.decodeSignedSmall()
	if err != nil {
		return nil, err
	}
	return shvdata.NewDecimal(mantissa, exp), nil
}

func (d *Decoder) decodeDateTime() (*shvdata.Value, error) {
	mag, neg, err := readUVarSignedMag(d.r)
	if err != nil {
		return nil, err
	}
	shifted := int64(mag)
	if neg {
		shifted = -shifted
	}
	off7 := shifted & 0x7f
	if off7&0x40 != 0 {
		off7 -= 0x80
	}
	msec := shifted >> 7
	return shvdata.NewDateTime(shvdata.DateTime{MsecSinceEpoch: msec, OffsetQuarterHours: int(off7)}), nil
}

func (d *Decoder) decodeList() (*shvdata.Value, error) {
	v := shvdata.NewList()
	for {
		tag, err := d.peekByte()
		if err != nil {
			return nil, err
		}
		if tag == TagTerm {
			d.readByte()
			return v, nil
		}
		item, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		v.AppendList(item)
	}
}

func (d *Decoder) decodeMap() (*shvdata.Value, error) {
	v := shvdata.NewMap(nil)
	for {
		tag, err := d.peekByte()
		if err != nil {
			return nil, err
		}
		if tag == TagTerm {
			d.readByte()
			return v, nil
		}
		if tag != TagString {
			return nil, d.errf("map key must be a string, got tag 0x%02x", tag)
		}
		d.readByte()
		key, err := d.decodeStringBody()
		if err != nil {
			return nil, err
		}
		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		v.SetMapKey(key, val)
	}
}

func (d *Decoder) decodeIMap() (*shvdata.Value, error) {
	v := shvdata.NewIMap(nil)
	for {
		tag, err := d.peekByte()
		if err != nil {
			return nil, err
		}
		if tag == TagTerm {
			d.readByte()
			return v, nil
		}
		key, err := d.decodeIntKey()
		if err != nil {
			return nil, err
		}
		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		v.SetIMapKey(key, val)
	}
}
