// Package chainpack implements the compact binary ChainPack codec for
// the Silicon Heaven value model (pkg/shvdata), per spec.md §4.1.
//
// The encoder/decoder pairing mirrors how the teacher repo wraps every
// wire boundary in a stateful Encoder/Decoder over an io.Writer/Reader
// (gob.NewEncoder/gob.NewDecoder in internal/meshage and
// internal/minitunnel) -- ChainPack's tags are bespoke, so the
// encode/decode logic itself is new, but the streaming-codec shape is
// the same one used throughout the corpus.
package chainpack

// Tag bytes. Values 0..127 are reserved for packed tiny integers (see
// decode.go); 128..255 are explicit type tags.
const (
	TagNull         = 128
	TagUInt         = 129
	TagInt          = 130
	TagDouble       = 131
	TagBool         = 132
	TagBlob         = 133
	TagString       = 134
	_               = 135 // reserved (CString-adjacent legacy tag, unused)
	TagList         = 136
	TagMap          = 137
	TagIMap         = 138
	TagMetaMap      = 139
	TagDecimal      = 140
	TagDateTime     = 141
	TagCString      = 142
	TagFalse        = 253
	TagTrue         = 254
	TagTerm         = 255
)

// Tag bytes 0..127 pack a UInt value directly (no further bytes):
// tag N means UInt(N). Int never uses this packed form -- it always
// carries an explicit TagInt so a lone tag byte is never ambiguous
// between Int and UInt, preserving the value model's Int/UInt
// distinction at the wire level.
