package model

import (
	"fmt"

	"github.com/samcharles93/anvil/internal/tensor"
)

// ConstantMap binds constant names to their currently installed tensor
// handles. It is a reference type: the same map may be shared by every
// instance serving one weight set, with the longest holder defining its
// lifetime. Swapping a shared map while any sharing instance has a run in
// flight is a caller contract violation; no internal locking is provided.
type ConstantMap map[string]tensor.Handle

// UpdateConstantsMap installs a replacement constants map (weight hot-swap).
// When rebuildArray is set the indexed array is rebuilt immediately;
// otherwise the caller must rebuild or install an array before the next run.
func (m *Model) UpdateConstantsMap(cm ConstantMap, rebuildArray bool) error {
	m.constantsMap = cm
	if rebuildArray {
		return m.rebuildConstantsArray()
	}
	return nil
}

// UpdateConstantsArray installs a pre-built indexed array directly, used by
// containers that build the array once and share it across instances with
// identical constant layouts.
func (m *Model) UpdateConstantsArray(arr []tensor.Handle) error {
	if len(arr) != len(m.consts) {
		return fmt.Errorf("constants array has %d slots, want %d", len(arr), len(m.consts))
	}
	m.constants = arr
	return nil
}

// ConstantsArray returns the ordinal-indexed constant handles consulted by
// the compute routine at run time. Slot i corresponds to descriptor i; a nil
// slot is unset.
func (m *Model) ConstantsArray() []tensor.Handle {
	return m.constants
}

// ConstantsMap returns the currently installed constants map.
func (m *Model) ConstantsMap() ConstantMap {
	return m.constantsMap
}

// rebuildConstantsArray re-resolves every descriptor name against the
// current map. Names missing from the map leave their ordinal unset (nil);
// completeness before running is the caller's responsibility.
func (m *Model) rebuildConstantsArray() error {
	if m.constantsMap == nil {
		return ErrNoConstantsMap
	}
	if m.constants == nil || len(m.constants) != len(m.consts) {
		m.constants = make([]tensor.Handle, len(m.consts))
	}
	for i, d := range m.consts {
		if h, ok := m.constantsMap[d.Name]; ok {
			m.constants[i] = h
		} else {
			m.constants[i] = nil
		}
	}
	return nil
}
