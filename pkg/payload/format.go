// Package payload implements the embedded constants payload format used by
// compiled model artifacts.
//
// The payload is a single region appended to the hosting artifact at a
// 16 KiB-aligned offset:
//
//	[8B total region size LE] [8B magic LE] [raw constant bytes] [8B magic LE]
//
// The size field covers the whole region, header and trailer included. The
// trailing magic must equal the header magic; a mismatch means the weight
// data cannot be trusted. A 16-byte copy of the header (the "anchor") is
// embedded into the artifact body at build time so a running process can find
// the region without scanning the file.
package payload

import "encoding/binary"

const (
	// Magic identifies an anvil constants payload ("ANVILPAY" little-endian).
	Magic uint64 = 0x5941504c49564e41

	// OffsetAlignment is the required alignment of the payload region's
	// starting offset within the hosting artifact.
	OffsetAlignment = 16384

	// HeaderSize is the size of the region header (size field + magic).
	HeaderSize = 16

	// TrailerSize is the size of the trailing magic.
	TrailerSize = 8

	// FramingSize is the region overhead beyond the raw constant bytes.
	FramingSize = HeaderSize + TrailerSize
)

// Anchor is the in-artifact copy of the payload region header. Generated
// model code embeds these 16 bytes so the self-map locator knows the region
// size and expected magic before touching the file.
type Anchor struct {
	Size  uint64
	Magic uint64
}

// ParseAnchor decodes a 16-byte anchor blob.
func ParseAnchor(b []byte) (Anchor, error) {
	if len(b) < HeaderSize {
		return Anchor{}, ErrCorruptPayload
	}
	return Anchor{
		Size:  binary.LittleEndian.Uint64(b[0:8]),
		Magic: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// Encode returns the anchor as the 16 header bytes written at the start of
// the payload region.
func (a Anchor) Encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(b[0:8], a.Size)
	binary.LittleEndian.PutUint64(b[8:16], a.Magic)
	return b
}

func alignUp(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}
