package model

import (
	"fmt"

	"github.com/samcharles93/anvil/internal/device"
	"github.com/samcharles93/anvil/internal/tensor"
)

// LoadConstants materializes every declared constant into the registry.
//
// On non-CPU targets it first computes the blob layout and makes the single
// device allocation, so constant offsets are fixed before any byte moves.
// With ExternalWeights set it stops there: later-arriving constants know
// their offsets, the payload is never touched.
//
// Constants are then walked in ordinal order with a running read cursor over
// the payload. Folded constants occupy no payload bytes: on CPU they are
// skipped outright (their values already live where the fold left them), on
// device targets they get their blob slot but no copy. Everything else is
// referenced zero-copy on CPU, or copied payload-to-blob on device targets,
// and wrapped in a tensor handle through the creator ABI.
//
// There is no partial success: the first failure aborts the load.
func (m *Model) LoadConstants() error {
	if m.loaded {
		return fmt.Errorf("constants already loaded")
	}

	if m.target.OnDevice() {
		total, offsets := computeLayout(m.consts)
		m.blobOffsets = offsets
		b, err := allocBlob(m.api, total)
		if err != nil {
			return err
		}
		m.blob = b
		m.log.Debug("constant blob allocated", "bytes", total, "constants", len(m.consts))
	}
	if m.externalWeights {
		m.log.Debug("weights are external, skipping materialization")
		return nil
	}

	if m.locator == nil {
		return fmt.Errorf("load constants: no payload locator")
	}
	if _, err := m.locator.Bytes(); err != nil {
		return fmt.Errorf("locate constants payload: %w", err)
	}

	if m.constantsMap == nil {
		m.constantsMap = make(ConstantMap, len(m.consts))
	}

	var cursor uint64
	for i := range m.consts {
		d := &m.consts[i]
		if d.FromFolded && !m.target.OnDevice() {
			continue
		}

		var ref device.Ref
		if d.DataSize != 0 {
			r, err := m.constantRef(i, cursor)
			if err != nil {
				return fmt.Errorf("constant %q: %w", d.Name, err)
			}
			ref = r
		}
		if !d.FromFolded {
			cursor += d.DataSize
		}

		handle, err := m.creator.FromRef(ref, tensor.Spec{
			Shape:         d.Shape,
			Stride:        d.Stride,
			StorageOffset: d.StorageOffset,
			DType:         d.DType,
			Layout:        d.Layout,
			Opaque:        d.Opaque,
			Device:        m.target,
		})
		if err != nil {
			return fmt.Errorf("constant %q: create tensor handle: %w", d.Name, err)
		}
		m.constantsMap[d.Name] = handle
	}

	m.loaded = true
	m.log.Debug("constants loaded", "count", len(m.constantsMap), "payload_bytes", cursor)
	return m.rebuildConstantsArray()
}

// constantRef resolves the destination storage of constant i: a zero-copy
// slice of the payload on CPU, or the constant's slot in the device blob
// with the payload bytes copied in unless the constant was folded.
func (m *Model) constantRef(i int, cursor uint64) (device.Ref, error) {
	d := &m.consts[i]

	if !m.target.OnDevice() {
		if d.FromFolded {
			return device.Ref{}, fmt.Errorf("cpu target cannot skip copy for payload-backed constant")
		}
		data, err := m.payloadRange(cursor, d.DataSize)
		if err != nil {
			return device.Ref{}, err
		}
		return device.Ref{Host: data}, nil
	}

	ref := device.Ref{Buffer: m.blob.buf, Offset: m.blobOffsets[i]}
	if d.FromFolded {
		// Folded constants are produced by const-fold runs, not the payload.
		return ref, nil
	}
	src, err := m.payloadRange(cursor, d.DataSize)
	if err != nil {
		return device.Ref{}, err
	}
	if err := m.api.Copy(ref.Buffer, ref.Offset, src, nil); err != nil {
		return device.Ref{}, fmt.Errorf("copy to device blob: %w", err)
	}
	return ref, nil
}

func (m *Model) payloadRange(cursor, size uint64) ([]byte, error) {
	data, err := m.locator.Bytes()
	if err != nil {
		return nil, err
	}
	if cursor+size > uint64(len(data)) {
		return nil, fmt.Errorf("payload exhausted: need [%d, %d), have %d bytes", cursor, cursor+size, len(data))
	}
	return data[cursor : cursor+size], nil
}
