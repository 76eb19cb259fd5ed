package model

import "github.com/samcharles93/anvil/internal/tensor"

// Read-only metadata accessors by ordinal, mirroring the codegen tables.
// Ordinals are bounds-checked by the slice accesses; an out-of-range ordinal
// is a caller bug and panics like any other bad index.

func (m *Model) NumInputs() int    { return len(m.inputs) }
func (m *Model) NumOutputs() int   { return len(m.outputs) }
func (m *Model) NumConstants() int { return len(m.consts) }

func (m *Model) InputName(i int) string  { return m.inputs[i].Name }
func (m *Model) OutputName(i int) string { return m.outputs[i].Name }

func (m *Model) ConstantName(i int) string            { return m.consts[i].Name }
func (m *Model) ConstantKind(i int) ConstantKind      { return m.consts[i].Kind }
func (m *Model) ConstantRank(i int) int               { return m.consts[i].Rank() }
func (m *Model) ConstantShape(i int) []int64          { return m.consts[i].Shape }
func (m *Model) ConstantStride(i int) []int64         { return m.consts[i].Stride }
func (m *Model) ConstantDType(i int) tensor.DType     { return m.consts[i].DType }
func (m *Model) ConstantLayout(i int) tensor.Layout   { return m.consts[i].Layout }
func (m *Model) ConstantOffset(i int) int64           { return m.consts[i].StorageOffset }
func (m *Model) ConstantDataSize(i int) uint64        { return m.consts[i].DataSize }
func (m *Model) ConstantOriginalFQN(i int) string     { return m.consts[i].OriginalFQN }
func (m *Model) ConstantOpaqueMetadata(i int) []byte  { return m.consts[i].Opaque }
func (m *Model) ConstantFromFolded(i int) bool        { return m.consts[i].FromFolded }

func (m *Model) InSpec() string  { return m.inSpec }
func (m *Model) OutSpec() string { return m.outSpec }
