package ops

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// TraceQuadOp represents the per-example quadratic trace y_n = tr(L_nᵀ·M·L_n)
// over a stacked factor [batch, d*d] and a fixed weight matrix M [d, d].
//
// d tr(Lᵀ·M·L)/dL = (M + Mᵀ)·L, so gradChol_n = g_n · (M + Mᵀ)·L_n.
// M is treated as a constant; no gradient flows to it.
type TraceQuadOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewTraceQuadOp creates a new TraceQuadOp.
func NewTraceQuadOp(chol, m, output *tensor.RawTensor) *TraceQuadOp {
	return &TraceQuadOp{inputs: []*tensor.RawTensor{chol, m}, output: output}
}

// Backward computes the factor gradient g_n · (M + Mᵀ)·L_n per example.
func (op *TraceQuadOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	chol, m := op.inputs[0], op.inputs[1]
	batch := chol.Shape()[0]
	d := m.Shape()[0]
	if chol.Shape()[1] != d*d {
		panic(fmt.Sprintf("tracequad backward: factor width %d does not match matrix size %d", chol.Shape()[1], d))
	}

	// Symmetrize once; the weight is shared across the batch.
	mData := m.Float64()
	sym := make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			sym[i*d+j] = mData[i*d+j] + mData[j*d+i]
		}
	}

	grad := zerosLike(chol, backend)
	g, cholData, dst := outputGrad.Float64(), chol.Float64(), grad.Float64()
	for n := 0; n < batch; n++ {
		l := cholData[n*d*d : (n+1)*d*d]
		out := dst[n*d*d : (n+1)*d*d]
		gn := g[n]
		for i := 0; i < d; i++ {
			for k := 0; k < d; k++ {
				s := sym[i*d+k]
				if s == 0 {
					continue
				}
				for j := 0; j < d; j++ {
					out[i*d+j] += gn * s * l[k*d+j]
				}
			}
		}
	}
	return []*tensor.RawTensor{grad, nil}
}

// Inputs returns the input tensors [chol, m].
func (op *TraceQuadOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the per-example trace tensor [batch, 1].
func (op *TraceQuadOp) Output() *tensor.RawTensor { return op.output }

// CholVecMulOp represents the per-example product y_n = L_n·v_n over a
// stacked factor [batch, d*d] and a batch of vectors [batch, d].
//
// gradChol_n = g_n·v_nᵀ and gradV_n = L_nᵀ·g_n.
type CholVecMulOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// NewCholVecMulOp creates a new CholVecMulOp.
func NewCholVecMulOp(chol, v, output *tensor.RawTensor) *CholVecMulOp {
	return &CholVecMulOp{inputs: []*tensor.RawTensor{chol, v}, output: output}
}

// Backward computes the outer-product factor gradient and the transposed
// vector gradient per example.
func (op *CholVecMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	chol, v := op.inputs[0], op.inputs[1]
	batch := v.Shape()[0]
	d := v.Shape()[1]

	gradChol := zerosLike(chol, backend)
	gradV := zerosLike(v, backend)
	g := outputGrad.Float64()
	cholData, vData := chol.Float64(), v.Float64()
	dstChol, dstV := gradChol.Float64(), gradV.Float64()
	for n := 0; n < batch; n++ {
		l := cholData[n*d*d : (n+1)*d*d]
		gn := g[n*d : (n+1)*d]
		vn := vData[n*d : (n+1)*d]
		outChol := dstChol[n*d*d : (n+1)*d*d]
		outV := dstV[n*d : (n+1)*d]
		for i := 0; i < d; i++ {
			gi := gn[i]
			for j := 0; j < d; j++ {
				outChol[i*d+j] = gi * vn[j]
				outV[j] += l[i*d+j] * gi
			}
		}
	}
	return []*tensor.RawTensor{gradChol, gradV}
}

// Inputs returns the input tensors [chol, v].
func (op *CholVecMulOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the per-example product tensor [batch, d].
func (op *CholVecMulOp) Output() *tensor.RawTensor { return op.output }
