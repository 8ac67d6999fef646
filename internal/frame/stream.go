package frame

import (
	"bufio"
	"io"

	"github.com/silicon-heaven/shvgo/pkg/chainpack"
)

// StreamFramer implements the length-prefixed Stream framing:
// <uvarint length><payload>. The one-byte payload 0x00 is Reset; a
// length of 0 is an ordinary empty frame.
type StreamFramer struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewStreamFramer wraps rw as a Stream-framed connection.
func NewStreamFramer(r io.Reader, w io.Writer) *StreamFramer {
	return &StreamFramer{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

func (f *StreamFramer) ReadFrame() ([]byte, error) {
	n, err := chainpack.ReadUVarUint(f.r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return nil, err
	}
	if len(buf) == 1 && buf[0] == resetByte {
		return nil, ErrReset
	}
	return buf, nil
}

func (f *StreamFramer) WriteFrame(payload []byte) error {
	if err := chainpack.WriteUVarUint(f.w, uint64(len(payload))); err != nil {
		return err
	}
	if _, err := f.w.Write(payload); err != nil {
		return err
	}
	return f.w.Flush()
}

func (f *StreamFramer) WriteReset() error {
	return f.WriteFrame([]byte{resetByte})
}
