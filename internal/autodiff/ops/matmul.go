package ops

import "github.com/HwanGoh/uq-vae/internal/tensor"

// MatMulOp represents matrix multiplication: output = A @ B.
//
// Backward pass:
//   - grad_A = grad @ Bᵀ
//   - grad_B = Aᵀ @ grad
type MatMulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{inputs: []*tensor.RawTensor{a, b}, output: output}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA := backend.MatMul(outputGrad, backend.Transpose(b))
	gradB := backend.MatMul(backend.Transpose(a), outputGrad)
	return []*tensor.RawTensor{gradA, gradB}
}

// Inputs returns the input tensors [A, B].
func (op *MatMulOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the output tensor A @ B.
func (op *MatMulOp) Output() *tensor.RawTensor { return op.output }

// TransposeOp represents the 2-D transpose.
//
// Even though transpose is conceptually a view, the backend creates a new
// tensor; the operation must be recorded so gradients flow back to the
// original (e.g. a Linear layer's weight parameter).
type TransposeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewTransposeOp creates a new TransposeOp.
func NewTransposeOp(input, output *tensor.RawTensor) *TransposeOp {
	return &TransposeOp{input: input, output: output}
}

// Backward transposes the gradient back.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Transpose(outputGrad)}
}

// Inputs returns the input tensor.
func (op *TransposeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the transposed tensor.
func (op *TransposeOp) Output() *tensor.RawTensor { return op.output }

// ReshapeOp represents a reshape.
// The gradient is reshaped back to the input's shape.
type ReshapeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Backward reshapes the gradient back to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// Inputs returns the input tensor.
func (op *ReshapeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.RawTensor { return op.output }
