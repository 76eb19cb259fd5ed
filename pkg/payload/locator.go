package payload

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Locator resolves the raw constant bytes of an embedded payload. Bytes is
// idempotent and memoized; the returned slice stays valid until Close. A
// model cannot run without verified weight bytes, so every resolution
// failure is fatal to the caller.
type Locator interface {
	Bytes() ([]byte, error)
	Close() error
}

// Direct returns a locator over constants linked straight into the process
// image (in Go, a go:embed byte slice). No framing, no validation: the slice
// is the payload.
func Direct(data []byte) Locator {
	return &directLocator{data: data}
}

type directLocator struct {
	data   []byte
	closed bool
}

func (d *directLocator) Bytes() ([]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}
	return d.data, nil
}

func (d *directLocator) Close() error {
	d.data = nil
	d.closed = true
	return nil
}

// SelfMap locates the payload region appended to the hosting artifact at
// path. The anchor gives the region size and expected magic; the region's
// own header and trailer are checked against it. The mapping is created
// read-write private, same as the original constants (they may be mutated
// in place by weight updates), and the file descriptor is closed as soon as
// the mapping exists.
type SelfMap struct {
	Path   string
	Anchor Anchor

	m []byte
}

// NewSelfMap builds a self-map locator for the artifact at path. An empty
// path resolves to the current executable.
func NewSelfMap(path string, anchor Anchor) (*SelfMap, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve hosting artifact: %w", err)
		}
		path = exe
	}
	return &SelfMap{Path: path, Anchor: anchor}, nil
}

func (s *SelfMap) Bytes() ([]byte, error) {
	if s.m != nil {
		return s.data(), nil
	}
	if err := s.mapRegion(); err != nil {
		return nil, err
	}
	return s.data(), nil
}

func (s *SelfMap) data() []byte {
	return s.m[HeaderSize : len(s.m)-TrailerSize]
}

func (s *SelfMap) mapRegion() error {
	if s.Anchor.Size < FramingSize {
		return fmt.Errorf("%w: region size %d below framing minimum", ErrCorruptPayload, s.Anchor.Size)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open hosting artifact: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat hosting artifact: %w", err)
	}
	fileSize := uint64(st.Size())
	if fileSize < s.Anchor.Size {
		_ = f.Close()
		return fmt.Errorf("%w: artifact smaller than payload region", ErrCorruptPayload)
	}

	offset := fileSize - s.Anchor.Size
	if offset%OffsetAlignment != 0 {
		_ = f.Close()
		return fmt.Errorf("%w: offset %d", ErrMisaligned, offset)
	}

	m, err := unix.Mmap(
		int(f.Fd()),
		int64(offset),
		int(s.Anchor.Size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE,
	)
	// The mapping survives the descriptor.
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("mmap payload region: %w", err)
	}

	if err := s.verify(m); err != nil {
		_ = unix.Munmap(m)
		return err
	}
	s.m = m
	return nil
}

func (s *SelfMap) verify(m []byte) error {
	size := binary.LittleEndian.Uint64(m[0:8])
	magic := binary.LittleEndian.Uint64(m[8:16])
	if size != s.Anchor.Size {
		return fmt.Errorf("%w: region header size %d, anchor %d", ErrCorruptPayload, size, s.Anchor.Size)
	}
	if magic != s.Anchor.Magic {
		return fmt.Errorf("%w: region header magic %#x, anchor %#x", ErrBadMagic, magic, s.Anchor.Magic)
	}
	trailer := binary.LittleEndian.Uint64(m[len(m)-TrailerSize:])
	if trailer != magic {
		return fmt.Errorf("%w: trailing magic %#x, header %#x", ErrBadMagic, trailer, magic)
	}
	return nil
}

func (s *SelfMap) Close() error {
	if s.m == nil {
		return nil
	}
	m := s.m
	s.m = nil
	return unix.Munmap(m)
}
