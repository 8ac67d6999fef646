package chainpack

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// Encoder writes ChainPack-encoded values to an underlying writer.
// One Encoder wraps one io.Writer for the lifetime of a connection,
// the same shape internal/meshage and internal/minitunnel use for
// their gob.Encoders.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes v and flushes the underlying writer.
func (e *Encoder) Encode(v *shvdata.Value) error {
	if err := e.encodeValue(v); err != nil {
		return err
	}
	return e.w.Flush()
}

// Marshal encodes v into a standalone byte slice.
func Marshal(v *shvdata.Value) ([]byte, error) {
	var buf bufWriter
	enc := NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.b, nil
}

type bufWriter struct{ b []byte }

func (w *bufWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (e *Encoder) encodeValue(v *shvdata.Value) error {
	if v.Meta != nil && !v.Meta.IsEmpty() {
		if err := e.w.WriteByte(TagMetaMap); err != nil {
			return err
		}
		if err := e.encodeMeta(v.Meta); err != nil {
			return err
		}
	}
	return e.encodeBare(v)
}

func (e *Encoder) encodeMeta(m *shvdata.Meta) error {
	for _, k := range m.IntKeys() {
		if err := e.encodeUInt(uint64(k)); err != nil {
			return err
		}
		val, _ := m.GetInt(k)
		if err := e.encodeValue(val); err != nil {
			return err
		}
	}
	for _, k := range m.StrKeys() {
		if err := e.encodeString(k); err != nil {
			return err
		}
		val, _ := m.GetStr(k)
		if err := e.encodeValue(val); err != nil {
			return err
		}
	}
	return e.w.WriteByte(TagTerm)
}

func (e *Encoder) encodeBare(v *shvdata.Value) error {
	switch v.Kind {
	case shvdata.KindNull:
		return e.w.WriteByte(TagNull)
	case shvdata.KindBool:
		if v.Bool() {
			return e.w.WriteByte(TagTrue)
		}
		return e.w.WriteByte(TagFalse)
	case shvdata.KindInt:
		return e.encodeInt(v.Int())
	case shvdata.KindUInt:
		return e.encodeUInt(v.UInt())
	case shvdata.KindDouble:
		if err := e.w.WriteByte(TagDouble); err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Double()))
		_, err := e.w.Write(buf[:])
		return err
	case shvdata.KindDecimal:
		return e.encodeDecimal(v.DecimalValue())
	case shvdata.KindBlob:
		if err := e.w.WriteByte(TagBlob); err != nil {
			return err
		}
		b := v.Blob()
		if err := writeUVarUint(e.w, uint64(len(b))); err != nil {
			return err
		}
		_, err := e.w.Write(b)
		return err
	case shvdata.KindString:
		return e.encodeString(v.String2())
	case shvdata.KindDateTime:
		return e.encodeDateTime(v.DateTimeValue())
	case shvdata.KindList:
		if err := e.w.WriteByte(TagList); err != nil {
			return err
		}
		for _, item := range v.List() {
			if err := e.encodeValue(item); err != nil {
				return err
			}
		}
		return e.w.WriteByte(TagTerm)
	case shvdata.KindMap:
		if err := e.w.WriteByte(TagMap); err != nil {
			return err
		}
		for _, k := range v.MapKeys() {
			if err := e.encodeString(k); err != nil {
				return err
			}
			val, _ := v.Map()[k]
			if err := e.encodeValue(val); err != nil {
				return err
			}
		}
		return e.w.WriteByte(TagTerm)
	case shvdata.KindIMap:
		if err := e.w.WriteByte(TagIMap); err != nil {
			return err
		}
		for _, k := range v.IMapKeys() {
			if err := e.encodeInt(int64(k)); err != nil {
				return err
			}
			val, _ := v.IMap()[k]
			if err := e.encodeValue(val); err != nil {
				return err
			}
		}
		return e.w.WriteByte(TagTerm)
	}
	return &ParseError{Msg: "chainpack: encode: unknown kind"}
}

func (e *Encoder) encodeUInt(n uint64) error {
	if n < 128 {
		return e.w.WriteByte(byte(n))
	}
	if err := e.w.WriteByte(TagUInt); err != nil {
		return err
	}
	return writeUVarUint(e.w, n)
}

func (e *Encoder) encodeInt(n int64) error {
	if err := e.w.WriteByte(TagInt); err != nil {
		return err
	}
	if n < 0 {
		return writeUVarSignedMag(e.w, uint64(-n), true)
	}
	return writeUVarSignedMag(e.w, uint64(n), false)
}

func (e *Encoder) encodeSignedSmall(n int) error {
	if n < 0 {
		return writeUVarSignedMag(e.w, uint64(-n), true)
	}
	return writeUVarSignedMag(e.w, uint64(n), false)
}

func (e *Encoder) encodeDecimal(d shvdata.Decimal) error {
	if err := e.w.WriteByte(TagDecimal); err != nil {
		return err
	}
	if d.Mantissa < 0 {
		if err := writeUVarSignedMag(e.w, uint64(-d.Mantissa), true); err != nil {
			return err
		}
	} else {
		if err := writeUVarSignedMag(e.w, uint64(d.Mantissa), false); err != nil {
			return err
		}
	}
	return e.encodeSignedSmall(d.Exponent)
}

func (e *Encoder) encodeString(s string) error {
	if err := e.w.WriteByte(TagString); err != nil {
		return err
	}
	if err := writeUVarUint(e.w, uint64(len(s))); err != nil {
		return err
	}
	_, err := e.w.WriteString(s)
	return err
}

// encodeDateTime packs the epoch-millisecond offset and the
// quarter-hour zone offset into a single signed value: the low 7 bits
// carry the (two's complement) zone offset, the remaining high bits
// carry MsecSinceEpoch shifted left by 7. This keeps DateTime's wire
// form a single varint rather than two.
func (e *Encoder) encodeDateTime(d shvdata.DateTime) error {
	if err := e.w.WriteByte(TagDateTime); err != nil {
		return err
	}
	off7 := int64(d.OffsetQuarterHours) & 0x7f
	shifted := d.MsecSinceEpoch<<7 | off7
	if shifted < 0 {
		return writeUVarSignedMag(e.w, uint64(-shifted), true)
	}
	return writeUVarSignedMag(e.w, uint64(shifted), false)
}
