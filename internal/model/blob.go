package model

import (
	"fmt"

	"github.com/samcharles93/anvil/internal/device"
)

// BlobAlignment is the alignment of each constant inside the device blob.
const BlobAlignment = 64

// computeLayout assigns every constant its byte offset inside a single
// contiguous device blob, rounding each size up to BlobAlignment, and
// returns the total blob size. Offsets are strictly increasing for non-empty
// constants and the computation is deterministic. Only meaningful on
// non-CPU targets; layout happens once, before any bytes are copied in.
func computeLayout(descriptors []Descriptor) (total uint64, offsets []uint64) {
	offsets = make([]uint64, len(descriptors))
	for i, d := range descriptors {
		size := d.DataSize
		if rem := size % BlobAlignment; rem != 0 {
			size += BlobAlignment - rem
		}
		offsets[i] = total
		total += size
	}
	return total, offsets
}

// blob is the scoped owner of the single device allocation holding all
// constants of one instance. It is freed exactly once: either on Close or by
// an explicit one-shot release to a caller taking over ownership.
type blob struct {
	buf      device.Buffer
	released bool
}

func allocBlob(api device.API, size uint64) (*blob, error) {
	buf, err := api.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("allocate constant blob (%d bytes): %w", size, err)
	}
	return &blob{buf: buf}, nil
}

// release hands the underlying allocation to the caller. After release the
// blob no longer frees anything.
func (b *blob) release() (device.Buffer, error) {
	if b.released {
		return nil, ErrBlobReleased
	}
	b.released = true
	buf := b.buf
	b.buf = nil
	return buf, nil
}

func (b *blob) close() error {
	if b.released || b.buf == nil {
		return nil
	}
	b.released = true
	buf := b.buf
	b.buf = nil
	return buf.Free()
}
