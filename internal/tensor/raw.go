package tensor

import "fmt"

// Device represents the compute device for tensor operations.
//
// Device placement is an explicit construction parameter threaded through
// backends and tensors; there is no process-wide device state.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// RawTensor is the low-level tensor representation: a dense, row-major
// float64 buffer with a shape. Everything in this module is float64; the
// loss algebra (Cholesky factors, log-determinants, trace terms) is too
// sensitive to accumulate in single precision.
type RawTensor struct {
	data   []float64
	shape  Shape
	stride []int
	device Device
}

// NewRaw creates a new RawTensor with the given shape.
// Memory is allocated and zero-initialized.
func NewRaw(shape Shape, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]float64, shape.NumElements()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		device: device,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Float64 returns the underlying data slice.
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (r *RawTensor) Float64() []float64 {
	return r.data
}

// Clone creates a deep copy of the RawTensor.
func (r *RawTensor) Clone() *RawTensor {
	clone := &RawTensor{
		data:   make([]float64, len(r.data)),
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		device: r.device,
	}
	copy(clone.data, r.data)
	return clone
}

// view returns a RawTensor sharing this tensor's buffer under a new shape.
// The new shape must hold the same number of elements.
func (r *RawTensor) view(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("view: shape %v incompatible with %d elements", shape, r.NumElements()))
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		device: r.device,
	}
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor%v on %s", r.shape, r.device)
}
