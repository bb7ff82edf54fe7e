package ops

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// CatOp represents concatenation of 2-D tensors along dimension 0.
// Backward: the gradient splits into contiguous row blocks, one per input.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor) *CatOp {
	return &CatOp{inputs: inputs, output: output}
}

// Backward slices the gradient into the row blocks of the inputs.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, len(op.inputs))
	src := outputGrad.Float64()
	offset := 0
	for i, in := range op.inputs {
		grad := zerosLike(in, backend)
		n := copy(grad.Float64(), src[offset:offset+in.Shape().NumElements()])
		offset += n
		grads[i] = grad
	}
	return grads
}

// Inputs returns the concatenated input tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the concatenated output tensor.
func (op *CatOp) Output() *tensor.RawTensor { return op.output }

// GatherColsOp represents column selection from a 2-D tensor.
// Backward: gradients scatter back into the selected columns; columns
// gathered more than once accumulate their gradients.
type GatherColsOp struct {
	unaryOp
	indices []int
}

// NewGatherColsOp creates a new GatherColsOp.
func NewGatherColsOp(input, output *tensor.RawTensor, indices []int) *GatherColsOp {
	return &GatherColsOp{unaryOp: unaryOp{input: input, output: output}, indices: indices}
}

// Backward scatters the gradient into the gathered columns.
func (op *GatherColsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inShape := op.input.Shape()
	if len(inShape) != 2 {
		panic(fmt.Sprintf("gathercols backward: expected 2D input, got %v", inShape))
	}
	rows, cols := inShape[0], inShape[1]

	grad := zerosLike(op.input, backend)
	g, dst := outputGrad.Float64(), grad.Float64()
	outCols := len(op.indices)
	for i := 0; i < rows; i++ {
		for j, col := range op.indices {
			dst[i*cols+col] += g[i*outCols+j]
		}
	}
	return []*tensor.RawTensor{grad}
}
