package device

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Host returns a synchronous, in-process implementation of the capability
// set. It backs CPU targets and stands in for real drivers in tests: buffers
// are plain byte slices, copies complete before returning, and events
// resolve the moment they are recorded.
func Host() API {
	return hostAPI{}
}

type hostAPI struct{}

func (hostAPI) CurrentIndex() (int, error) { return 0, nil }

func (hostAPI) SetIndex(idx int) error {
	if idx != 0 {
		return fmt.Errorf("host device has no ordinal %d", idx)
	}
	return nil
}

func (hostAPI) Alloc(size uint64) (Buffer, error) {
	return &hostBuffer{data: make([]byte, size)}, nil
}

func (hostAPI) Copy(buf Buffer, off uint64, src []byte, _ Stream) error {
	hb, ok := buf.(*hostBuffer)
	if !ok {
		return errors.New("host copy into foreign buffer")
	}
	if hb.freed.Load() {
		return errors.New("host copy into freed buffer")
	}
	if off+uint64(len(src)) > uint64(len(hb.data)) {
		return fmt.Errorf("host copy out of range: off %d size %d buffer %d", off, len(src), len(hb.data))
	}
	copy(hb.data[off:], src)
	return nil
}

func (hostAPI) NewEvent() (Event, error) {
	return &hostEvent{}, nil
}

type hostBuffer struct {
	data  []byte
	freed atomic.Bool
}

func (b *hostBuffer) Size() uint64 { return uint64(len(b.data)) }

// Bytes exposes the backing storage so host tensor handles can reference it.
func (b *hostBuffer) Bytes() []byte { return b.data }

func (b *hostBuffer) Free() error {
	if b.freed.Swap(true) {
		return errors.New("host buffer double free")
	}
	b.data = nil
	return nil
}

// HostBytes returns the backing slice of a host buffer, or nil if the buffer
// came from another implementation.
func HostBytes(buf Buffer) []byte {
	if hb, ok := buf.(*hostBuffer); ok {
		return hb.data
	}
	return nil
}

type hostEvent struct {
	recorded  atomic.Bool
	completed atomic.Bool
	destroyed atomic.Bool
}

func (e *hostEvent) Record(stream Stream) error {
	if e.destroyed.Load() {
		return errors.New("record on destroyed event")
	}
	// Host work is synchronous: everything ahead of the event is done.
	_ = stream
	e.recorded.Store(true)
	e.completed.Store(true)
	return nil
}

func (e *hostEvent) Query() (bool, error) {
	if e.destroyed.Load() {
		return false, errors.New("query on destroyed event")
	}
	return e.completed.Load(), nil
}

func (e *hostEvent) Synchronize() error {
	if e.destroyed.Load() {
		return errors.New("synchronize on destroyed event")
	}
	return nil
}

func (e *hostEvent) Destroy() error {
	if e.destroyed.Swap(true) {
		return errors.New("event double destroy")
	}
	return nil
}

// HostStream is the trivial stream of the host implementation.
type HostStream struct{}

func (HostStream) Synchronize() error { return nil }
