// Package model implements the runtime lifecycle of one ahead-of-time
// compiled model instance: materializing its constant tensors from the
// embedded payload into device- or host-resident storage, tracking
// asynchronous run completion, and supporting atomic weight swaps so a pool
// of instances can be reused without re-loading weights.
package model

import (
	"fmt"

	"github.com/samcharles93/anvil/internal/tensor"
)

// ConstantKind classifies a declared constant.
type ConstantKind uint8

const (
	KindUnknown ConstantKind = iota
	KindParameter
	KindBuffer
	KindTensorConstant
	KindFolded
)

func (k ConstantKind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindBuffer:
		return "buffer"
	case KindTensorConstant:
		return "tensor_constant"
	case KindFolded:
		return "folded"
	default:
		return "unknown"
	}
}

// ParseConstantKind is the inverse of ConstantKind.String.
func ParseConstantKind(s string) (ConstantKind, error) {
	switch s {
	case "parameter":
		return KindParameter, nil
	case "buffer":
		return KindBuffer, nil
	case "tensor_constant":
		return KindTensorConstant, nil
	case "folded":
		return KindFolded, nil
	case "unknown", "":
		return KindUnknown, nil
	default:
		return KindUnknown, fmt.Errorf("unknown constant kind %q", s)
	}
}

// Descriptor is the static per-constant record emitted by model codegen.
// Immutable after construction; descriptor ordinal i corresponds to slot i
// of the indexed constants array.
type Descriptor struct {
	Name          string
	Kind          ConstantKind
	Shape         []int64
	Stride        []int64
	DType         tensor.DType
	StorageOffset int64
	DataSize      uint64
	Layout        tensor.Layout
	Opaque        []byte
	OriginalFQN   string
	FromFolded    bool
}

// Rank returns the number of dimensions.
func (d *Descriptor) Rank() int { return len(d.Shape) }

// ParamInfo names one declared input or output.
type ParamInfo struct {
	Name string
}
