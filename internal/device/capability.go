package device

// API is the driver capability set consumed by the runtime: allocation,
// host-to-device transfer, and completion events. Any error returned through
// it indicates a broken device context; the runtime surfaces such errors
// immediately and never retries.
type API interface {
	// CurrentIndex resolves the device ordinal active in this execution
	// context, used when the target string carried no index.
	CurrentIndex() (int, error)

	// SetIndex makes the given ordinal the current device.
	SetIndex(idx int) error

	// Alloc returns a single contiguous device allocation. It must be
	// released through the Buffer's Free, never any other path.
	Alloc(size uint64) (Buffer, error)

	// Copy transfers src into buf at byte offset off. The copy may be
	// asynchronous with respect to the calling goroutine when a stream is
	// given; passing a nil stream forces a synchronous transfer.
	Copy(buf Buffer, off uint64, src []byte, stream Stream) error

	// NewEvent creates a completion event. Callers own the event and must
	// Destroy it.
	NewEvent() (Event, error)
}

// Buffer is one device allocation.
type Buffer interface {
	Size() uint64
	Free() error
}

// Stream is an ordered work queue on a device.
type Stream interface {
	Synchronize() error
}

// Event marks a point in a stream's work queue.
type Event interface {
	// Record arms the event behind all work currently submitted to stream.
	Record(stream Stream) error
	// Query reports, without blocking, whether the recorded point has been
	// reached.
	Query() (bool, error)
	// Synchronize blocks until the recorded point has been reached.
	Synchronize() error
	Destroy() error
}

// Ref is a reference to constant storage: raw host memory for CPU targets
// (zero-copy into the payload mapping) or an offset into a device buffer.
type Ref struct {
	Host   []byte
	Buffer Buffer
	Offset uint64
}

// IsZero reports whether the ref points at nothing (zero-sized constant).
func (r Ref) IsZero() bool {
	return r.Host == nil && r.Buffer == nil
}
