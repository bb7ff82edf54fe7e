package cpu

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// MatMul performs 2-D matrix multiplication: (M, K) @ (K, N) → (M, N).
func (cpu *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v @ %v", aShape, bShape))
	}
	m, k := aShape[0], aShape[1]
	k2, n := bShape[0], bShape[1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: inner dimensions mismatch: %v @ %v", aShape, bShape))
	}

	result, err := tensor.NewRaw(tensor.Shape{m, n}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("matmul: %v", err))
	}

	aData, bData, out := a.Float64(), b.Float64(), result.Float64()
	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := aData[i*k+p]
			if av == 0 {
				continue
			}
			bRow := bData[p*n : (p+1)*n]
			oRow := out[i*n : (i+1)*n]
			for j, bv := range bRow {
				oRow[j] += av * bv
			}
		}
	}
	return result
}

// Transpose returns the 2-D transpose of t.
func (cpu *Backend) Transpose(t *tensor.RawTensor) *tensor.RawTensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("transpose: expected 2D tensor, got %v", shape))
	}
	rows, cols := shape[0], shape[1]

	result, err := tensor.NewRaw(tensor.Shape{cols, rows}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	src, dst := t.Float64(), result.Float64()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return result
}

// Reshape returns a tensor with copied data under a new shape.
// The new shape must hold the same number of elements.
func (cpu *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v to %v", t.Shape(), newShape))
	}
	result, err := tensor.NewRaw(newShape, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	copy(result.Float64(), t.Float64())
	return result
}
