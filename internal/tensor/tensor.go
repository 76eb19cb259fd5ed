// Package tensor defines the construction ABI the runtime uses to wrap raw
// constant storage in tensor handles. The runtime never looks inside a
// handle; the real ABI is supplied by the embedding process alongside the
// generated compute routine. A host-memory reference implementation is
// provided for CPU targets and tests.
package tensor

import (
	"errors"
	"fmt"

	"github.com/samcharles93/anvil/internal/device"
)

// DType is the ABI's element-type code. Opaque to the runtime.
type DType int32

// Layout is the ABI's memory-layout discriminator. Opaque to the runtime.
type Layout int32

// Handle is an opaque tensor owned by the ABI that created it.
type Handle any

// Spec carries the metadata the ABI needs to wrap raw storage in a handle.
type Spec struct {
	Shape         []int64
	Stride        []int64
	StorageOffset int64
	DType         DType
	Layout        Layout
	Opaque        []byte
	Device        device.Target
}

// Creator is the construction/destruction side of the tensor ABI.
type Creator interface {
	// FromRef wraps the referenced storage without copying it.
	FromRef(ref device.Ref, spec Spec) (Handle, error)
	Destroy(h Handle) error
}

// Host is a reference Creator over host memory.
type Host struct{}

// HostTensor is the handle type produced by the Host creator.
type HostTensor struct {
	Ref  device.Ref
	Spec Spec
}

// Bytes returns the tensor's backing bytes when they are host-resident.
func (t *HostTensor) Bytes() []byte {
	if t.Ref.Host != nil {
		return t.Ref.Host
	}
	if b := device.HostBytes(t.Ref.Buffer); b != nil {
		return b[t.Ref.Offset:]
	}
	return nil
}

func (Host) FromRef(ref device.Ref, spec Spec) (Handle, error) {
	if len(spec.Shape) != len(spec.Stride) {
		return nil, fmt.Errorf("tensor spec rank mismatch: %d dims, %d strides", len(spec.Shape), len(spec.Stride))
	}
	return &HostTensor{Ref: ref, Spec: spec}, nil
}

func (Host) Destroy(h Handle) error {
	if _, ok := h.(*HostTensor); !ok {
		return errors.New("destroy of foreign tensor handle")
	}
	return nil
}
