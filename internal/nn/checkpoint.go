package nn

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// weightEntry is the serialized form of one parameter.
type weightEntry struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// weightFile is the on-disk checkpoint format. Parameters are stored in
// module order and matched positionally on load, with name and shape
// validated.
type weightFile struct {
	Params []weightEntry `json:"params"`
}

// SaveWeights writes the module's parameters to a JSON file. Values
// round-trip bit-exactly, so a save/load cycle restores identical weights.
func SaveWeights(path string, m Module) error {
	params := m.Parameters()
	file := weightFile{Params: make([]weightEntry, len(params))}
	for i, p := range params {
		data := p.Tensor().Data()
		stored := make([]float64, len(data))
		copy(stored, data)
		file.Params[i] = weightEntry{
			Name:  p.Name(),
			Shape: p.Tensor().Shape().Clone(),
			Data:  stored,
		}
	}

	encoded, err := json.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return nil
}

// LoadWeights reads parameters from a JSON file into the module, in place.
// The file must hold the same parameters, in the same order and with the
// same shapes, as the module reports.
func LoadWeights(path string, m Module) error {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read weights: %w", err)
	}
	var file weightFile
	if err := json.Unmarshal(encoded, &file); err != nil {
		return fmt.Errorf("failed to decode weights: %w", err)
	}

	params := m.Parameters()
	if len(file.Params) != len(params) {
		return fmt.Errorf("weight count mismatch: file has %d, module has %d", len(file.Params), len(params))
	}
	for i, entry := range file.Params {
		p := params[i]
		if entry.Name != p.Name() {
			return fmt.Errorf("parameter %d: name mismatch: file %q, module %q", i, entry.Name, p.Name())
		}
		shape := tensor.Shape(entry.Shape)
		if !shape.Equal(p.Tensor().Shape()) {
			return fmt.Errorf("parameter %d (%s): shape mismatch: file %v, module %v", i, entry.Name, shape, p.Tensor().Shape())
		}
		if len(entry.Data) != len(p.Tensor().Data()) {
			return fmt.Errorf("parameter %d (%s): data length %d does not match shape %v", i, entry.Name, len(entry.Data), shape)
		}
		copy(p.Tensor().Data(), entry.Data)
	}
	return nil
}
