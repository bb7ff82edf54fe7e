// Package autodiff implements reverse-mode automatic differentiation using
// the decorator pattern.
//
// Backend wraps any tensor.Backend implementation and records every
// differentiable operation on a GradientTape during the forward pass. Walking
// the tape in reverse applies each operation's backward rule and accumulates
// gradients per tensor.
//
// Usage:
//
//	ad := autodiff.New(cpu.New())
//	ad.Tape().StartRecording()
//	// ... forward pass ...
//	grads := autodiff.Gradients(loss, ad)
package autodiff

import (
	"github.com/HwanGoh/uq-vae/internal/autodiff/ops"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Backend wraps a compute backend and records operations for backpropagation.
// It implements the tensor.Backend interface.
type Backend struct {
	inner tensor.Backend
	tape  *GradientTape
}

// New creates an autodiff Backend wrapping the given compute backend.
func New(inner tensor.Backend) *Backend {
	return &Backend{
		inner: inner,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control of recording.
func (b *Backend) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *Backend) Inner() tensor.Backend {
	return b.inner
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device of the wrapped backend.
func (b *Backend) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *Backend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddOp(x, y, result))
	}
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *Backend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSubOp(x, y, result))
	}
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *Backend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulOp(x, y, result))
	}
	return result
}

// Div performs element-wise division and records the operation.
func (b *Backend) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewDivOp(x, y, result))
	}
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *Backend) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMatMulOp(x, y, result))
	}
	return result
}

// Reshape changes the tensor shape and records the operation.
func (b *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReshapeOp(t, result))
	}
	return result
}

// Transpose transposes a 2-D tensor and records the operation.
func (b *Backend) Transpose(t *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Transpose(t)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTransposeOp(t, result))
	}
	return result
}

// MulScalar multiplies by a scalar and records the operation.
func (b *Backend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMulScalarOp(x, result, scalar))
	}
	return result
}

// AddScalar adds a scalar and records the operation.
func (b *Backend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewAddScalarOp(x, result))
	}
	return result
}

// Exp computes the element-wise exponential and records the operation.
func (b *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Exp(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewExpOp(x, result))
	}
	return result
}

// Log computes the element-wise natural logarithm and records the operation.
func (b *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Log(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewLogOp(x, result))
	}
	return result
}

// Sqrt computes the element-wise square root and records the operation.
func (b *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sqrt(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSqrtOp(x, result))
	}
	return result
}

// ReLU applies the rectified linear unit and records the operation.
func (b *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewReLUOp(x, result))
	}
	return result
}

// Sigmoid applies the logistic function and records the operation.
func (b *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sigmoid(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSigmoidOp(x, result))
	}
	return result
}

// Tanh applies the hyperbolic tangent and records the operation.
func (b *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Tanh(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTanhOp(x, result))
	}
	return result
}

// Sum computes the total sum and records the operation.
func (b *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumOp(x, result))
	}
	return result
}

// SumDim sums along one dimension and records the operation.
func (b *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	result := b.inner.SumDim(x, dim, keepDim)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewSumDimOp(x, result, dim))
	}
	return result
}

// Cat concatenates tensors along dimension 0 and records the operation.
func (b *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Cat(tensors, dim)
	if b.tape.IsRecording() {
		inputs := make([]*tensor.RawTensor, len(tensors))
		copy(inputs, tensors)
		b.tape.Record(ops.NewCatOp(inputs, result))
	}
	return result
}

// GatherCols selects columns of a 2-D tensor and records the operation.
func (b *Backend) GatherCols(x *tensor.RawTensor, indices []int) *tensor.RawTensor {
	result := b.inner.GatherCols(x, indices)
	if b.tape.IsRecording() {
		idx := make([]int, len(indices))
		copy(idx, indices)
		b.tape.Record(ops.NewGatherColsOp(x, result, idx))
	}
	return result
}

// TraceQuad computes per-example tr(Lᵀ·M·L) and records the operation.
// The weight matrix is treated as a constant.
func (b *Backend) TraceQuad(chol, m *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.TraceQuad(chol, m)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewTraceQuadOp(chol, m, result))
	}
	return result
}

// CholVecMul computes per-example L·v and records the operation.
func (b *Backend) CholVecMul(chol, v *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.CholVecMul(chol, v)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewCholVecMulOp(chol, v, result))
	}
	return result
}
