package model

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/anvil/internal/tensor"
)

// Manifest is the JSON sidecar emitted by model codegen next to the compiled
// artifact. It declares the model's inputs, outputs and constant descriptors
// in ordinal order.
type Manifest struct {
	Inputs    []string           `json:"inputs"`
	Outputs   []string           `json:"outputs"`
	InSpec    string             `json:"in_spec,omitempty"`
	OutSpec   string             `json:"out_spec,omitempty"`
	Constants []ManifestConstant `json:"constants"`
}

// ManifestConstant is the serialized form of one Descriptor.
type ManifestConstant struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Shape       []int64 `json:"shape"`
	Stride      []int64 `json:"stride"`
	DType       int32   `json:"dtype"`
	Offset      int64   `json:"offset,omitempty"`
	DataSize    uint64  `json:"data_size"`
	Layout      int32   `json:"layout,omitempty"`
	Opaque      []byte  `json:"opaque_metadata,omitempty"`
	OriginalFQN string  `json:"original_fqn,omitempty"`
	FromFolded  bool    `json:"from_folded,omitempty"`
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model manifest: %w", err)
	}
	for i, c := range m.Constants {
		if c.Name == "" {
			return nil, fmt.Errorf("model manifest: constant %d has no name", i)
		}
		if _, err := ParseConstantKind(c.Kind); err != nil {
			return nil, fmt.Errorf("model manifest: constant %q: %w", c.Name, err)
		}
	}
	return &m, nil
}

// Encode serializes the manifest.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Descriptors converts the manifest's constant entries into descriptors in
// ordinal order.
func (m *Manifest) Descriptors() ([]Descriptor, error) {
	out := make([]Descriptor, len(m.Constants))
	for i, c := range m.Constants {
		kind, err := ParseConstantKind(c.Kind)
		if err != nil {
			return nil, err
		}
		out[i] = Descriptor{
			Name:          c.Name,
			Kind:          kind,
			Shape:         c.Shape,
			Stride:        c.Stride,
			DType:         tensor.DType(c.DType),
			StorageOffset: c.Offset,
			DataSize:      c.DataSize,
			Layout:        tensor.Layout(c.Layout),
			Opaque:        c.Opaque,
			OriginalFQN:   c.OriginalFQN,
			FromFolded:    c.FromFolded || kind == KindFolded,
		}
	}
	return out, nil
}
