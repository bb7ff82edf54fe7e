package cpu

import (
	"fmt"
	"math"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// cholDims validates a stacked Cholesky factor [batch, d*d] and returns
// (batch, d).
func cholDims(name string, chol *tensor.RawTensor) (int, int) {
	shape := chol.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("%s: expected 2D stacked factor, got %v", name, shape))
	}
	d := int(math.Round(math.Sqrt(float64(shape[1]))))
	if d*d != shape[1] {
		panic(fmt.Sprintf("%s: row length %d is not a perfect square", name, shape[1]))
	}
	return shape[0], d
}

// TraceQuad computes per-example tr(Lᵀ·M·L) for a stacked Cholesky factor
// [batch, d*d] and a fixed d×d matrix M; result [batch, 1].
//
// tr(LᵀML) = Σ_k colₖ(L)ᵀ · M · colₖ(L).
func (cpu *Backend) TraceQuad(chol, m *tensor.RawTensor) *tensor.RawTensor {
	batch, d := cholDims("tracequad", chol)
	mShape := m.Shape()
	if len(mShape) != 2 || mShape[0] != d || mShape[1] != d {
		panic(fmt.Sprintf("tracequad: weight matrix shape %v, want [%d, %d]", mShape, d, d))
	}

	result, err := tensor.NewRaw(tensor.Shape{batch, 1}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("tracequad: %v", err))
	}

	cholData, mData, out := chol.Float64(), m.Float64(), result.Float64()
	for n := 0; n < batch; n++ {
		l := cholData[n*d*d : (n+1)*d*d]
		total := 0.0
		for k := 0; k < d; k++ {
			// colₖᵀ M colₖ with row-major L: L[i][k] = l[i*d+k]
			for i := 0; i < d; i++ {
				li := l[i*d+k]
				if li == 0 {
					continue
				}
				for j := 0; j < d; j++ {
					total += li * mData[i*d+j] * l[j*d+k]
				}
			}
		}
		out[n] = total
	}
	return result
}

// CholVecMul computes per-example L·v for a stacked Cholesky factor
// [batch, d*d] and a batch of vectors [batch, d]; result [batch, d].
func (cpu *Backend) CholVecMul(chol, v *tensor.RawTensor) *tensor.RawTensor {
	batch, d := cholDims("cholvecmul", chol)
	vShape := v.Shape()
	if len(vShape) != 2 || vShape[0] != batch || vShape[1] != d {
		panic(fmt.Sprintf("cholvecmul: vector batch shape %v, want [%d, %d]", vShape, batch, d))
	}

	result, err := tensor.NewRaw(tensor.Shape{batch, d}, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("cholvecmul: %v", err))
	}

	cholData, vData, out := chol.Float64(), v.Float64(), result.Float64()
	for n := 0; n < batch; n++ {
		l := cholData[n*d*d : (n+1)*d*d]
		vec := vData[n*d : (n+1)*d]
		dst := out[n*d : (n+1)*d]
		for i := 0; i < d; i++ {
			total := 0.0
			for j := 0; j < d; j++ {
				total += l[i*d+j] * vec[j]
			}
			dst[i] = total
		}
	}
	return result
}
