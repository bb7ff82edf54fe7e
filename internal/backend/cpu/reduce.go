package cpu

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Sum reduces the whole tensor to its total sum, shape [1].
func (cpu *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{1}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sum: %v", err))
	}
	total := 0.0
	for _, v := range x.Float64() {
		total += v
	}
	result.Float64()[0] = total
	return result
}

// SumDim sums a 2-D tensor along the given dimension.
//
// dim=0 sums over rows (result [1, cols] or [cols]); dim=1 sums over columns
// (result [rows, 1] or [rows]), depending on keepDim.
func (cpu *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("sumdim: expected 2D tensor, got %v", shape))
	}
	if dim != 0 && dim != 1 {
		panic(fmt.Sprintf("sumdim: invalid dimension %d", dim))
	}
	rows, cols := shape[0], shape[1]

	var outShape tensor.Shape
	switch {
	case dim == 0 && keepDim:
		outShape = tensor.Shape{1, cols}
	case dim == 0:
		outShape = tensor.Shape{cols}
	case keepDim:
		outShape = tensor.Shape{rows, 1}
	default:
		outShape = tensor.Shape{rows}
	}

	result, err := tensor.NewRaw(outShape, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sumdim: %v", err))
	}

	src, dst := x.Float64(), result.Float64()
	if dim == 0 {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[j] += src[i*cols+j]
			}
		}
	} else {
		for i := 0; i < rows; i++ {
			total := 0.0
			for j := 0; j < cols; j++ {
				total += src[i*cols+j]
			}
			dst[i] = total
		}
	}
	return result
}
