package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const writerPadBufSize = 4096

// Writer appends a constants payload region to a hosting artifact.
//
// Constant bytes are added in descriptor order; Finalise pads the artifact to
// the next 16 KiB boundary, writes the framed region, and returns the anchor
// to embed into the artifact body (or to hand to NewSelfMap directly).
type Writer struct {
	f      *os.File
	chunks [][]byte
	total  uint64
	closed bool
}

// NewWriter opens the artifact at path for appending.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return &Writer{f: f}, nil
}

// Add queues the raw bytes of one constant. Order of Add calls must match
// descriptor ordinal order.
func (w *Writer) Add(data []byte) error {
	if w.closed {
		return errors.New("payload: writer already finalised")
	}
	w.chunks = append(w.chunks, data)
	w.total += uint64(len(data))
	return nil
}

// Finalise writes the payload region and closes the artifact.
func (w *Writer) Finalise() (Anchor, error) {
	if w.closed {
		return Anchor{}, errors.New("payload: writer already finalised")
	}
	w.closed = true
	defer func() { _ = w.f.Close() }()

	end, err := w.f.Seek(0, io.SeekEnd)
	if err != nil {
		return Anchor{}, err
	}
	if err := w.pad(alignUp(uint64(end), OffsetAlignment) - uint64(end)); err != nil {
		return Anchor{}, err
	}

	anchor := Anchor{Size: w.total + FramingSize, Magic: Magic}
	if err := writeFull(w.f, anchor.Encode()); err != nil {
		return Anchor{}, err
	}
	for _, c := range w.chunks {
		if err := writeFull(w.f, c); err != nil {
			return Anchor{}, err
		}
	}
	trailer := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint64(trailer, anchor.Magic)
	if err := writeFull(w.f, trailer); err != nil {
		return Anchor{}, err
	}
	if err := w.f.Sync(); err != nil {
		return Anchor{}, err
	}
	return anchor, nil
}

func (w *Writer) pad(n uint64) error {
	buf := make([]byte, writerPadBufSize)
	for n > 0 {
		chunk := n
		if chunk > writerPadBufSize {
			chunk = writerPadBufSize
		}
		if err := writeFull(w.f, buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
