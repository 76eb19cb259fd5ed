// Package device defines the execution target of a model instance and the
// driver capability set the runtime consumes. The capability set is supplied
// by the embedding process (cgo CUDA wrappers, SYCL bindings, ...); the
// package ships a synchronous host implementation used for CPU targets and
// in tests.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the supported target classes.
type Kind int

const (
	CPU Kind = iota
	CUDA
	XPU
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case XPU:
		return "xpu"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var ErrInvalidTarget = errors.New("invalid device target")

// UnsetIndex marks a target whose ordinal was not given and must be resolved
// against the device current in the execution context.
const UnsetIndex = -1

// Target is a parsed device string. Once resolved the index is fixed for the
// lifetime of the owning instance.
type Target struct {
	Kind  Kind
	Index int
}

// ParseTarget parses a device string of the form kind[:index], where kind is
// one of cpu, cuda or xpu. Valid: "cpu", "cuda", "cuda:1", "xpu:0".
func ParseTarget(s string) (Target, error) {
	kindStr, idxStr, hasIdx := strings.Cut(s, ":")

	var kind Kind
	switch kindStr {
	case "cpu":
		kind = CPU
	case "cuda":
		kind = CUDA
	case "xpu":
		kind = XPU
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}

	idx := UnsetIndex
	if hasIdx {
		n, err := strconv.Atoi(idxStr)
		if err != nil || n < 0 || idxStr != strconv.Itoa(n) {
			return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
		}
		idx = n
	}
	return Target{Kind: kind, Index: idx}, nil
}

func (t Target) String() string {
	if t.Index == UnsetIndex {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s:%d", t.Kind, t.Index)
}

// OnDevice reports whether the target needs device-resident constant storage.
func (t Target) OnDevice() bool {
	return t.Kind != CPU
}
