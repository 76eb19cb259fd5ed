package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samcharles93/anvil/internal/device"
	"github.com/samcharles93/anvil/internal/tensor"
	"github.com/samcharles93/anvil/pkg/payload"
)

func mustAlloc(t *testing.T, size uint64) device.Buffer {
	t.Helper()
	buf, err := device.Host().Alloc(size)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	return buf
}

// fakeRoutine is a stand-in for the generated compute routine. It records
// invocations and snapshots the constants array the model would consult.
type fakeRoutine struct {
	model *Model

	runs      int
	folds     int
	lastInit  bool
	snapshots [][]tensor.Handle
	fold      map[string]tensor.Handle
	err       error
}

func (r *fakeRoutine) Run(inputs, outputs []tensor.Handle, stream device.Stream, exec Executor) error {
	r.runs++
	if r.model != nil {
		snap := make([]tensor.Handle, len(r.model.ConstantsArray()))
		copy(snap, r.model.ConstantsArray())
		r.snapshots = append(r.snapshots, snap)
	}
	for i := range outputs {
		outputs[i] = &tensor.HostTensor{}
	}
	return r.err
}

func (r *fakeRoutine) RunConstFold(stream device.Stream, exec Executor, initialization bool) (map[string]tensor.Handle, error) {
	r.folds++
	r.lastInit = initialization
	return r.fold, r.err
}

// testDescriptors declares a weight, a buffer and a folded constant backed
// by 64 and 32 payload bytes.
func testDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "linear.weight", Kind: KindParameter, Shape: []int64{4, 4}, Stride: []int64{4, 1}, DataSize: 64},
		{Name: "norm.running_mean", Kind: KindBuffer, Shape: []int64{8}, Stride: []int64{1}, DataSize: 32},
		{Name: "folded.scale", Kind: KindFolded, Shape: []int64{2}, Stride: []int64{1}, DataSize: 16, FromFolded: true},
	}
}

func testPayload() []byte {
	data := make([]byte, 96)
	for i := range data {
		data[i] = byte(i + 1)
	}
	return data
}

func newTestModel(t *testing.T, dev string, mutate func(*Config)) (*Model, *fakeRoutine) {
	t.Helper()

	routine := &fakeRoutine{}
	cfg := Config{
		Inputs:    []string{"x"},
		Outputs:   []string{"y"},
		Constants: testDescriptors(),
		Device:    dev,
		Routine:   routine,
		API:       device.Host(),
		Creator:   tensor.Host{},
		Locator:   payload.Direct(testPayload()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	routine.model = m
	t.Cleanup(func() { _ = m.Close() })
	return m, routine
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Device: "tpu", Routine: &fakeRoutine{}, API: device.Host(), Creator: tensor.Host{}})
	if !errors.Is(err, device.ErrInvalidTarget) {
		t.Fatalf("want ErrInvalidTarget, got %v", err)
	}
	_, err = New(Config{Device: "cpu", API: device.Host(), Creator: tensor.Host{}})
	if err == nil {
		t.Fatalf("missing routine must fail")
	}
	_, err = New(Config{Device: "cpu", Routine: &fakeRoutine{}, Creator: tensor.Host{}})
	if err == nil {
		t.Fatalf("missing capability set must fail")
	}
}

func TestDeviceIndexResolution(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cuda", nil)
	if got := m.Device(); got.Kind != device.CUDA || got.Index != 0 {
		t.Fatalf("unset index must resolve to current device, got %+v", got)
	}

	m2, _ := newTestModel(t, "cuda:0", nil)
	if got := m2.Device().Index; got != 0 {
		t.Fatalf("explicit index: got %d", got)
	}
}

func TestLoadConstantsCPUZeroCopy(t *testing.T) {
	t.Parallel()

	data := testPayload()
	m, _ := newTestModel(t, "cpu", func(cfg *Config) {
		cfg.Locator = payload.Direct(data)
	})
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	// Folded constant skipped entirely on CPU: no entry, unset array slot.
	if _, ok := m.ConstantsMap()["folded.scale"]; ok {
		t.Fatalf("cpu folded constant must not be materialized")
	}
	arr := m.ConstantsArray()
	if len(arr) != 3 {
		t.Fatalf("array slots: got %d want 3", len(arr))
	}
	if arr[2] != nil {
		t.Fatalf("folded slot must be unset")
	}

	// Non-folded constants alias the payload, no copy.
	w := arr[0].(*tensor.HostTensor)
	if &w.Ref.Host[0] != &data[0] {
		t.Fatalf("weight must point directly into the payload")
	}
	b := arr[1].(*tensor.HostTensor)
	if &b.Ref.Host[0] != &data[64] {
		t.Fatalf("buffer must start at read cursor 64")
	}
}

func TestLoadConstantsDeviceBlobCopy(t *testing.T) {
	t.Parallel()

	data := testPayload()
	m, _ := newTestModel(t, "cuda:0", func(cfg *Config) {
		cfg.Locator = payload.Direct(data)
	})
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	arr := m.ConstantsArray()
	w := arr[0].(*tensor.HostTensor)
	if w.Ref.Buffer == nil || w.Ref.Offset != 0 {
		t.Fatalf("weight must live at blob offset 0, got %+v", w.Ref)
	}
	b := arr[1].(*tensor.HostTensor)
	if b.Ref.Offset != 64 {
		t.Fatalf("buffer blob offset: got %d want 64", b.Ref.Offset)
	}

	blobBytes := device.HostBytes(w.Ref.Buffer)
	if blobBytes[0] != data[0] || blobBytes[63] != data[63] {
		t.Fatalf("weight bytes not copied into blob")
	}
	if blobBytes[64] != data[64] {
		t.Fatalf("buffer bytes not copied at its blob offset")
	}

	// Folded constant gets its blob slot but no payload bytes.
	f := arr[2].(*tensor.HostTensor)
	if f.Ref.Buffer == nil || f.Ref.Offset != 128 {
		t.Fatalf("folded constant blob offset: got %+v", f.Ref)
	}
	if _, ok := m.ConstantsMap()["folded.scale"]; !ok {
		t.Fatalf("device folded constant must be registered")
	}
}

func TestLoadConstantsExternalWeights(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cuda:0", func(cfg *Config) {
		cfg.ExternalWeights = true
		cfg.Locator = nil
	})
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}
	if m.ConstantsMap() != nil {
		t.Fatalf("external weights must not materialize constants")
	}
	if m.blob == nil {
		t.Fatalf("blob layout must still be computed for external weights")
	}
}

func TestLoadConstantsPayloadExhausted(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", func(cfg *Config) {
		cfg.Locator = payload.Direct(make([]byte, 16))
	})
	if err := m.LoadConstants(); err == nil {
		t.Fatalf("truncated payload must fail the load")
	}
}

func TestRunLifecycleCPU(t *testing.T) {
	t.Parallel()

	m, routine := newTestModel(t, "cpu", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	// Before any run the flag-based signal reads false without error.
	done, err := m.IsFinished()
	if err != nil {
		t.Fatalf("is finished before run: %v", err)
	}
	if done {
		t.Fatalf("no run submitted yet")
	}

	inputs := []tensor.Handle{&tensor.HostTensor{}}
	outputs := make([]tensor.Handle, 1)
	if err := m.Run(inputs, outputs, nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if routine.runs != 1 {
		t.Fatalf("routine invocations: got %d", routine.runs)
	}
	if outputs[0] == nil {
		t.Fatalf("output slot not filled")
	}

	if err := m.WaitForCompletion(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	done, err = m.IsFinished()
	if err != nil {
		t.Fatalf("is finished: %v", err)
	}
	if !done {
		t.Fatalf("wait then poll must report finished")
	}
}

func TestRunLifecycleEventTarget(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cuda:0", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	// Event targets: polling before any run is a usage error.
	if _, err := m.IsFinished(); !errors.Is(err, ErrNotRun) {
		t.Fatalf("want ErrNotRun, got %v", err)
	}
	if err := m.WaitForCompletion(); !errors.Is(err, ErrNotRun) {
		t.Fatalf("wait before run: want ErrNotRun, got %v", err)
	}

	inputs := []tensor.Handle{&tensor.HostTensor{}}
	outputs := make([]tensor.Handle, 1)
	if err := m.Run(inputs, outputs, device.HostStream{}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := m.WaitForCompletion(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	done, err := m.IsFinished()
	if err != nil {
		t.Fatalf("is finished after run: %v", err)
	}
	if !done {
		t.Fatalf("completed run must report finished")
	}

	// Re-running reuses the instance and its event.
	if err := m.Run(inputs, outputs, device.HostStream{}, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if done, _ := m.IsFinished(); !done {
		t.Fatalf("second run must complete")
	}
}

func TestRunCountMismatch(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", nil)
	if err := m.Run(nil, make([]tensor.Handle, 1), nil, nil); err == nil {
		t.Fatalf("input count mismatch must fail")
	}
	if err := m.Run([]tensor.Handle{&tensor.HostTensor{}}, nil, nil, nil); err == nil {
		t.Fatalf("output count mismatch must fail")
	}
}

func TestRunConstFold(t *testing.T) {
	t.Parallel()

	foldedHandle := &tensor.HostTensor{}
	m, routine := newTestModel(t, "cpu", nil)
	routine.fold = map[string]tensor.Handle{"folded.scale": foldedHandle}
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	folded, err := m.RunConstFold(nil, nil, true)
	if err != nil {
		t.Fatalf("run const fold: %v", err)
	}
	if !routine.lastInit {
		t.Fatalf("initialization flag not forwarded")
	}
	if folded["folded.scale"] != tensor.Handle(foldedHandle) {
		t.Fatalf("fold result not returned")
	}
	if done, _ := m.IsFinished(); !done {
		t.Fatalf("const fold must arm and complete the signal")
	}

	// Install the folded constant and confirm it lands at its ordinal.
	cm := m.ConstantsMap()
	cm["folded.scale"] = foldedHandle
	if err := m.UpdateConstantsMap(cm, true); err != nil {
		t.Fatalf("update constants map: %v", err)
	}
	if m.ConstantsArray()[2] != tensor.Handle(foldedHandle) {
		t.Fatalf("folded constant not at its ordinal after rebuild")
	}
}

func TestRoutineErrorPropagates(t *testing.T) {
	t.Parallel()

	m, routine := newTestModel(t, "cpu", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}
	routine.err = fmt.Errorf("kernel launch failed")
	err := m.Run([]tensor.Handle{&tensor.HostTensor{}}, make([]tensor.Handle, 1), nil, nil)
	if err == nil || !errors.Is(err, routine.err) {
		t.Fatalf("routine error must surface, got %v", err)
	}
}

func TestRunRequiresConstants(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", nil)
	err := m.Run([]tensor.Handle{&tensor.HostTensor{}}, make([]tensor.Handle, 1), nil, nil)
	if !errors.Is(err, ErrConstantsNotLoaded) {
		t.Fatalf("run before load: want ErrConstantsNotLoaded, got %v", err)
	}
	if _, err := m.RunConstFold(nil, nil, true); !errors.Is(err, ErrConstantsNotLoaded) {
		t.Fatalf("const fold before load: want ErrConstantsNotLoaded, got %v", err)
	}
}

func TestUpdateConstantsMapSwap(t *testing.T) {
	t.Parallel()

	m, routine := newTestModel(t, "cpu", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	inputs := []tensor.Handle{&tensor.HostTensor{}}
	outputs := make([]tensor.Handle, 1)
	if err := m.Run(inputs, outputs, nil, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	oldWeight := routine.snapshots[0][0]

	// Hot-swap: new map missing the buffer constant.
	newWeight := &tensor.HostTensor{}
	swap := ConstantMap{"linear.weight": newWeight}
	if err := m.UpdateConstantsMap(swap, true); err != nil {
		t.Fatalf("swap: %v", err)
	}

	arr := m.ConstantsArray()
	unset := 0
	for _, h := range arr {
		if h == nil {
			unset++
		}
	}
	// Buffer and folded names are both absent from the swapped-in map.
	if unset != 2 {
		t.Fatalf("unset slots after partial swap: got %d want 2", unset)
	}
	if arr[0] != tensor.Handle(newWeight) {
		t.Fatalf("swapped weight not installed at its ordinal")
	}

	if err := m.Run(inputs, outputs, nil, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if routine.snapshots[1][0] == oldWeight {
		t.Fatalf("second run observed stale weights")
	}
	if routine.snapshots[1][0] != tensor.Handle(newWeight) {
		t.Fatalf("second run must observe the swapped weights")
	}
}

func TestRebuildWithoutMapFails(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", nil)
	if err := m.UpdateConstantsMap(nil, true); !errors.Is(err, ErrNoConstantsMap) {
		t.Fatalf("want ErrNoConstantsMap, got %v", err)
	}
}

func TestUpdateConstantsArray(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", nil)

	if err := m.UpdateConstantsArray(make([]tensor.Handle, 1)); err == nil {
		t.Fatalf("wrong-sized array must be rejected")
	}

	shared := make([]tensor.Handle, 3)
	shared[0] = &tensor.HostTensor{}
	if err := m.UpdateConstantsArray(shared); err != nil {
		t.Fatalf("install array: %v", err)
	}
	if m.ConstantsArray()[0] != shared[0] {
		t.Fatalf("installed array not used")
	}
}

func TestReleaseConstantBlob(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cuda:0", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}

	buf, err := m.ReleaseConstantBlob()
	if err != nil {
		t.Fatalf("release blob: %v", err)
	}
	if buf == nil {
		t.Fatalf("expected a blob on a device target")
	}
	if _, err := m.ReleaseConstantBlob(); !errors.Is(err, ErrBlobReleased) {
		t.Fatalf("second release: want ErrBlobReleased, got %v", err)
	}

	// Close must not free the relinquished blob; the new owner does.
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := buf.Free(); err != nil {
		t.Fatalf("new owner free: %v", err)
	}
}

func TestReleaseConstantBlobCPU(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", nil)
	if err := m.LoadConstants(); err != nil {
		t.Fatalf("load constants: %v", err)
	}
	buf, err := m.ReleaseConstantBlob()
	if err != nil {
		t.Fatalf("release blob: %v", err)
	}
	if buf != nil {
		t.Fatalf("cpu target has no blob to release")
	}
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	m, _ := newTestModel(t, "cpu", func(cfg *Config) {
		cfg.InSpec = "((x,),{})"
		cfg.OutSpec = "(y,)"
		cfg.Constants[0].OriginalFQN = "model.linear.weight"
		cfg.Constants[0].Opaque = []byte{1, 2}
	})

	if m.NumInputs() != 1 || m.NumOutputs() != 1 || m.NumConstants() != 3 {
		t.Fatalf("counts wrong: %d/%d/%d", m.NumInputs(), m.NumOutputs(), m.NumConstants())
	}
	if m.InputName(0) != "x" || m.OutputName(0) != "y" {
		t.Fatalf("param names wrong")
	}
	if m.ConstantName(0) != "linear.weight" {
		t.Fatalf("constant name wrong")
	}
	if m.ConstantKind(2) != KindFolded || !m.ConstantFromFolded(2) {
		t.Fatalf("folded constant metadata wrong")
	}
	if m.ConstantRank(0) != 2 || m.ConstantDataSize(1) != 32 {
		t.Fatalf("shape metadata wrong")
	}
	if m.ConstantOriginalFQN(0) != "model.linear.weight" {
		t.Fatalf("original fqn wrong")
	}
	if len(m.ConstantOpaqueMetadata(0)) != 2 {
		t.Fatalf("opaque metadata wrong")
	}
	if m.InSpec() != "((x,),{})" || m.OutSpec() != "(y,)" {
		t.Fatalf("tree specs wrong")
	}
	if m.ID() == "" {
		t.Fatalf("instance id must be set")
	}
}
