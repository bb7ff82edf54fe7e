package cpu

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Cat concatenates 2-D tensors along dimension 0.
// All inputs must share the trailing dimension.
func (cpu *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if dim != 0 {
		panic(fmt.Sprintf("cat: only dimension 0 supported, got %d", dim))
	}
	if len(tensors) == 0 {
		panic("cat: no tensors to concatenate")
	}

	cols := tensors[0].Shape()[1]
	rows := 0
	for _, t := range tensors {
		shape := t.Shape()
		if len(shape) != 2 || shape[1] != cols {
			panic(fmt.Sprintf("cat: incompatible shape %v, want [_, %d]", shape, cols))
		}
		rows += shape[0]
	}

	result, err := tensor.NewRaw(tensor.Shape{rows, cols}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cat: %v", err))
	}

	dst := result.Float64()
	offset := 0
	for _, t := range tensors {
		src := t.Float64()
		copy(dst[offset:offset+len(src)], src)
		offset += len(src)
	}
	return result
}

// GatherCols selects columns of a 2-D tensor in the given order.
// Output row n is [x[n, indices[0]], x[n, indices[1]], ...], preserving the
// input row order.
func (cpu *Backend) GatherCols(x *tensor.RawTensor, indices []int) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("gathercols: expected 2D tensor, got %v", shape))
	}
	rows, cols := shape[0], shape[1]
	for _, idx := range indices {
		if idx < 0 || idx >= cols {
			panic(fmt.Sprintf("gathercols: index %d out of bounds for %d columns", idx, cols))
		}
	}

	result, err := tensor.NewRaw(tensor.Shape{rows, len(indices)}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("gathercols: %v", err))
	}

	src, dst := x.Float64(), result.Float64()
	for i := 0; i < rows; i++ {
		for j, idx := range indices {
			dst[i*len(indices)+j] = src[i*cols+idx]
		}
	}
	return result
}
