package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/anvil/internal/device"
	"github.com/samcharles93/anvil/internal/logger"
	"github.com/samcharles93/anvil/internal/tensor"
	"github.com/samcharles93/anvil/pkg/payload"
)

// Executor is the opaque proxy-executor handle forwarded to the compute
// routine for out-of-line custom operations.
type Executor any

// ComputeRoutine is the externally generated per-model compute entry point.
// Run takes ownership of the input handles; it fills the output slots, whose
// handles transfer to the caller. RunConstFold computes folded constants and
// returns them as a name-to-handle map instead of writing declared outputs;
// initialization distinguishes first-time folding from re-folding after a
// weight swap.
type ComputeRoutine interface {
	Run(inputs, outputs []tensor.Handle, stream device.Stream, exec Executor) error
	RunConstFold(stream device.Stream, exec Executor, initialization bool) (map[string]tensor.Handle, error)
}

// Config carries the construction parameters of a model instance. Inputs,
// Outputs and Constants come from the codegen manifest; Routine, API,
// Creator and Locator are the external collaborators described in the
// package documentation.
type Config struct {
	Inputs    []string
	Outputs   []string
	Constants []Descriptor
	InSpec    string
	OutSpec   string

	// Device is the target string, kind[:index].
	Device string

	// KernelDir optionally points at auxiliary compiled kernels (cubins and
	// the like) for the generated routine.
	KernelDir string

	// ExternalWeights skips weight materialization at load time: the blob
	// layout is still computed, but constants are expected to be installed
	// by the caller through UpdateConstantsMap.
	ExternalWeights bool

	// SharedConstants optionally installs a constants map shared with other
	// instances. When nil the instance creates its own map.
	SharedConstants ConstantMap

	// SharedArray optionally installs a pre-built indexed array shared
	// across instances with identical constant layouts.
	SharedArray []tensor.Handle

	Routine ComputeRoutine
	API     device.API
	Creator tensor.Creator
	Locator payload.Locator
	Logger  logger.Logger
}

// Model is one reusable instance of a compiled model. It is not safe for
// concurrent use: the owning container must observe completion of a run
// before submitting the next one or touching the constant registry.
type Model struct {
	id      string
	inputs  []ParamInfo
	outputs []ParamInfo
	consts  []Descriptor
	inSpec  string
	outSpec string

	target          device.Target
	kernelDir       string
	externalWeights bool

	routine ComputeRoutine
	api     device.API
	creator tensor.Creator
	locator payload.Locator
	log     logger.Logger

	constantsMap ConstantMap
	constants    []tensor.Handle
	blob         *blob
	blobOffsets  []uint64
	loaded       bool

	// Completion signal: event on device targets, flag otherwise. The event
	// is created lazily on first run and reused for the instance's lifetime.
	runFinished     device.Event
	runFinishedFlag bool

	closed bool
}

// New constructs an instance with fixed counts and a resolved device.
// Configuration problems (malformed device string, missing collaborators)
// are fatal here; nothing device-side happens until LoadConstants.
func New(cfg Config) (*Model, error) {
	target, err := device.ParseTarget(cfg.Device)
	if err != nil {
		return nil, err
	}
	if cfg.Routine == nil {
		return nil, fmt.Errorf("model %q: no compute routine", cfg.Device)
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("model %q: no device capability set", cfg.Device)
	}
	if cfg.Creator == nil {
		return nil, fmt.Errorf("model %q: no tensor creator", cfg.Device)
	}
	if cfg.SharedArray != nil && len(cfg.SharedArray) != len(cfg.Constants) {
		return nil, fmt.Errorf("shared constants array has %d slots, want %d", len(cfg.SharedArray), len(cfg.Constants))
	}

	if target.OnDevice() {
		if target.Index == device.UnsetIndex {
			idx, err := cfg.API.CurrentIndex()
			if err != nil {
				return nil, fmt.Errorf("resolve current device index: %w", err)
			}
			target.Index = idx
		} else if err := cfg.API.SetIndex(target.Index); err != nil {
			return nil, fmt.Errorf("select device %s: %w", target, err)
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	id := uuid.NewString()

	m := &Model{
		id:              id,
		inputs:          paramInfos(cfg.Inputs),
		outputs:         paramInfos(cfg.Outputs),
		consts:          cfg.Constants,
		inSpec:          cfg.InSpec,
		outSpec:         cfg.OutSpec,
		target:          target,
		kernelDir:       cfg.KernelDir,
		externalWeights: cfg.ExternalWeights,
		routine:         cfg.Routine,
		api:             cfg.API,
		creator:         cfg.Creator,
		locator:         cfg.Locator,
		log:             log.With("instance", id, "device", target.String()),
		constantsMap:    cfg.SharedConstants,
		constants:       cfg.SharedArray,
	}
	return m, nil
}

func paramInfos(names []string) []ParamInfo {
	out := make([]ParamInfo, len(names))
	for i, n := range names {
		out[i] = ParamInfo{Name: n}
	}
	return out
}

// ID is the instance identifier used in logs and by owning containers.
func (m *Model) ID() string { return m.id }

// Device returns the resolved target; the index is fixed for the instance's
// lifetime.
func (m *Model) Device() device.Target { return m.target }

// KernelDir returns the auxiliary kernel directory, empty if unset.
func (m *Model) KernelDir() string { return m.kernelDir }

// Run submits one inference through the generated compute routine and arms
// the completion signal on the given stream. The call does not wait for
// device-side completion; poll IsFinished or block in WaitForCompletion.
// Submitting a new run before observing completion of the prior one is a
// caller contract violation.
func (m *Model) Run(inputs, outputs []tensor.Handle, stream device.Stream, exec Executor) error {
	if len(inputs) != len(m.inputs) {
		return fmt.Errorf("run: %d inputs, model declares %d", len(inputs), len(m.inputs))
	}
	if len(outputs) != len(m.outputs) {
		return fmt.Errorf("run: %d output slots, model declares %d", len(outputs), len(m.outputs))
	}
	if len(m.consts) > 0 && m.constants == nil {
		return ErrConstantsNotLoaded
	}
	if err := m.armCompletion(); err != nil {
		return err
	}
	if err := m.routine.Run(inputs, outputs, stream, exec); err != nil {
		return fmt.Errorf("compute routine: %w", err)
	}
	return m.recordCompletion(stream)
}

// RunConstFold invokes the constant-folding routine and returns the freshly
// computed constants by name. Completion tracking works exactly as in Run.
func (m *Model) RunConstFold(stream device.Stream, exec Executor, initialization bool) (map[string]tensor.Handle, error) {
	if len(m.consts) > 0 && m.constants == nil {
		return nil, ErrConstantsNotLoaded
	}
	if err := m.armCompletion(); err != nil {
		return nil, err
	}
	folded, err := m.routine.RunConstFold(stream, exec, initialization)
	if err != nil {
		return nil, fmt.Errorf("const-fold routine: %w", err)
	}
	if err := m.recordCompletion(stream); err != nil {
		return nil, err
	}
	return folded, nil
}

func (m *Model) armCompletion() error {
	if !m.target.OnDevice() {
		m.runFinishedFlag = false
		return nil
	}
	if m.runFinished == nil {
		ev, err := m.api.NewEvent()
		if err != nil {
			return fmt.Errorf("create completion event: %w", err)
		}
		m.runFinished = ev
	}
	return nil
}

func (m *Model) recordCompletion(stream device.Stream) error {
	if !m.target.OnDevice() {
		m.runFinishedFlag = true
		return nil
	}
	if err := m.runFinished.Record(stream); err != nil {
		return fmt.Errorf("record completion event: %w", err)
	}
	return nil
}

// IsFinished polls the completion signal without blocking. On event-based
// targets querying before any run is a usage error.
func (m *Model) IsFinished() (bool, error) {
	if !m.target.OnDevice() {
		return m.runFinishedFlag, nil
	}
	if m.runFinished == nil {
		return false, ErrNotRun
	}
	done, err := m.runFinished.Query()
	if err != nil {
		return false, fmt.Errorf("query completion event: %w", err)
	}
	return done, nil
}

// WaitForCompletion blocks until the most recently submitted run has
// finished. A no-op on synchronous targets, where completion is already
// known by the time Run returns.
func (m *Model) WaitForCompletion() error {
	if !m.target.OnDevice() {
		return nil
	}
	if m.runFinished == nil {
		return ErrNotRun
	}
	if err := m.runFinished.Synchronize(); err != nil {
		return fmt.Errorf("synchronize completion event: %w", err)
	}
	return nil
}

// ReleaseConstantBlob transfers ownership of the device blob to the caller,
// who becomes responsible for freeing it. Valid at most once; afterwards the
// instance no longer frees the blob on Close. Returns nil on CPU targets,
// which have no blob.
func (m *Model) ReleaseConstantBlob() (device.Buffer, error) {
	if m.blob == nil {
		return nil, nil
	}
	return m.blob.release()
}

// Close releases the instance's owned resources: the completion event, the
// constant blob (unless relinquished) and the payload mapping.
func (m *Model) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var first error
	if m.runFinished != nil {
		if err := m.runFinished.Destroy(); err != nil {
			m.log.Error("failed to destroy completion event", "error", err)
			first = err
		}
		m.runFinished = nil
	}
	if m.blob != nil {
		if err := m.blob.close(); err != nil && first == nil {
			first = err
		}
		m.blob = nil
	}
	if m.locator != nil {
		if err := m.locator.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
