package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	stx = 0xA2
	etx = 0xA3
	atx = 0xA4
	esc = 0xAA
)

var escapeMap = map[byte]byte{
	stx: 0x02,
	etx: 0x03,
	atx: 0x04,
	esc: 0x0A,
}

var unescapeMap = map[byte]byte{
	0x02: stx,
	0x03: etx,
	0x04: atx,
	0x0A: esc,
}

// ErrAborted is returned by ReadFrame when an ATX byte aborted the
// frame currently being read.
var ErrAborted = errors.New("frame: aborted")

// SerialFramer implements the byte-stuffed Serial framing:
// STX <escaped payload> ETX [<escaped CRC32(escaped payload)>].
type SerialFramer struct {
	r   *bufio.Reader
	w   io.Writer
	crc bool
}

// NewSerialFramer wraps rw as a Serial-framed connection. When crc is
// true, every frame carries (and every read verifies) a CRC-32 of the
// escaped payload bytes.
func NewSerialFramer(r io.Reader, w io.Writer, crc bool) *SerialFramer {
	return &SerialFramer{r: bufio.NewReader(r), w: w, crc: crc}
}

func escapeByte(b byte) []byte {
	if mapped, ok := escapeMap[b]; ok {
		return []byte{esc, mapped}
	}
	return []byte{b}
}

func (f *SerialFramer) WriteFrame(payload []byte) error {
	var escaped []byte
	escaped = append(escaped, stx)
	var body []byte
	for _, b := range payload {
		body = append(body, escapeByte(b)...)
	}
	escaped = append(escaped, body...)
	escaped = append(escaped, etx)

	if f.crc {
		sum := crc32.ChecksumIEEE(body)
		var crcBytes [4]byte
		binary.BigEndian.PutUint32(crcBytes[:], sum)
		for _, b := range crcBytes {
			escaped = append(escaped, escapeByte(b)...)
		}
	}
	_, err := f.w.Write(escaped)
	return err
}

func (f *SerialFramer) WriteReset() error {
	return f.WriteFrame([]byte{resetByte})
}

// ReadFrame reads the next frame, silently discarding and retrying
// any frame whose CRC does not verify, per spec.
func (f *SerialFramer) ReadFrame() ([]byte, error) {
	for {
		if err := f.syncToSTX(); err != nil {
			return nil, err
		}
		escaped, payload, err := f.readUntilETX()
		if err != nil {
			return nil, err
		}
		if f.crc {
			crcBytes, err := f.readLogicalBytes(4)
			if err != nil {
				return nil, err
			}
			want := binary.BigEndian.Uint32(crcBytes)
			got := crc32.ChecksumIEEE(escaped)
			if want != got {
				continue // silently discard, try next frame
			}
		}
		if len(payload) == 1 && payload[0] == resetByte {
			return nil, ErrReset
		}
		return payload, nil
	}
}

func (f *SerialFramer) syncToSTX() error {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if b == stx {
			return nil
		}
	}
}

// readUntilETX returns (escapedBytes, unescapedPayload). escapedBytes
// is the literal wire bytes between STX and ETX, used as the CRC
// input per spec's "CRC32(escaped payload)".
func (f *SerialFramer) readUntilETX() ([]byte, []byte, error) {
	var escaped, payload []byte
	pendingEsc := false
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, nil, err
		}
		if pendingEsc {
			pendingEsc = false
			escaped = append(escaped, b)
			orig, ok := unescapeMap[b]
			if !ok {
				return nil, nil, errors.New("frame: bad escape sequence")
			}
			payload = append(payload, orig)
			continue
		}
		switch b {
		case esc:
			pendingEsc = true
			escaped = append(escaped, b)
		case etx:
			return escaped, payload, nil
		case atx:
			return nil, nil, ErrAborted
		default:
			escaped = append(escaped, b)
			payload = append(payload, b)
		}
	}
}

// readLogicalBytes reads n unescaped bytes (e.g. the CRC trailer),
// which are not delimited by ETX/STX.
func (f *SerialFramer) readLogicalBytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	pendingEsc := false
	for len(out) < n {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if pendingEsc {
			pendingEsc = false
			orig, ok := unescapeMap[b]
			if !ok {
				return nil, errors.New("frame: bad escape sequence")
			}
			out = append(out, orig)
			continue
		}
		if b == esc {
			pendingEsc = true
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
