package ops

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// SumOp represents total reduction: y = Σ x, shape [1].
// Backward: the scalar gradient broadcasts to every input element.
type SumOp struct {
	unaryOp
}

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{unaryOp{input: input, output: output}}
}

// Backward spreads the scalar gradient across the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := zerosLike(op.input, backend)
	g := outputGrad.Float64()[0]
	dst := grad.Float64()
	for i := range dst {
		dst[i] = g
	}
	return []*tensor.RawTensor{grad}
}

// SumDimOp represents a sum along one dimension of a 2-D tensor.
// Backward: the gradient broadcasts back along the reduced dimension.
type SumDimOp struct {
	unaryOp
	dim int
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(input, output *tensor.RawTensor, dim int) *SumDimOp {
	return &SumDimOp{unaryOp: unaryOp{input: input, output: output}, dim: dim}
}

// Backward broadcasts the gradient along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inShape := op.input.Shape()
	if len(inShape) != 2 {
		panic(fmt.Sprintf("sumdim backward: expected 2D input, got %v", inShape))
	}
	rows, cols := inShape[0], inShape[1]

	grad := zerosLike(op.input, backend)
	g, dst := outputGrad.Float64(), grad.Float64()
	if op.dim == 0 {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = g[j]
			}
		}
	} else {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = g[i]
			}
		}
	}
	return []*tensor.RawTensor{grad}
}
