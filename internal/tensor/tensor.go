package tensor

import "fmt"

// Tensor couples a RawTensor with the backend that operates on it.
// All method operations dispatch through the backend, so a tensor built on
// an autodiff backend participates in gradient recording transparently.
type Tensor struct {
	raw     *RawTensor
	backend Backend
}

// New creates a Tensor from a RawTensor and backend.
func New(raw *RawTensor, b Backend) *Tensor {
	return &Tensor{raw: raw, backend: b}
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float64, shape Shape, b Backend) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	raw, err := NewRaw(shape, b.Device())
	if err != nil {
		return nil, err
	}
	copy(raw.Float64(), data)

	return New(raw, b), nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape, b Backend) *Tensor {
	raw, err := NewRaw(shape, b.Device())
	if err != nil {
		panic(fmt.Sprintf("zeros: %v", err))
	}
	return New(raw, b)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape, b Backend) *Tensor {
	t := Zeros(shape, b)
	data := t.raw.Float64()
	for i := range data {
		data[i] = 1
	}
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.raw.Shape()
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.raw.NumElements()
}

// Raw returns the underlying RawTensor.
// Used by backend implementations and the optimizer for low-level access.
func (t *Tensor) Raw() *RawTensor {
	return t.raw
}

// Backend returns the computation backend.
func (t *Tensor) Backend() Backend {
	return t.backend
}

// WithBackend returns a tensor sharing the same data but dispatching through
// a different backend. Used by distributed replicas: parameter data is shared
// across replicas while each replica records onto its own gradient tape.
func (t *Tensor) WithBackend(b Backend) *Tensor {
	return &Tensor{raw: t.raw, backend: b}
}

// Data returns the underlying float64 slice (zero-copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor) Data() []float64 {
	return t.raw.Float64()
}

// Item returns the value of a single-element tensor.
// Panics if the tensor holds more than one element.
func (t *Tensor) Item() float64 {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() only works for single-element tensors, got shape %v", t.Shape()))
	}
	return t.raw.Float64()[0]
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) At(indices ...int) float64 {
	return t.raw.Float64()[t.offsetOf(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) Set(value float64, indices ...int) {
	t.raw.Float64()[t.offsetOf(indices)] = value
}

func (t *Tensor) offsetOf(indices []int) int {
	if len(indices) != len(t.Shape()) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.Shape()), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape()[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape()[i]))
		}
		offset += idx * strides[i]
	}
	return offset
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{raw: t.raw.Clone(), backend: t.backend}
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v on %s", t.raw.Shape(), t.raw.Device())
}
